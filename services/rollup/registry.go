// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package rollup

import (
	"context"
	"fmt"
	"sync"

	"github.com/AleutianAI/iac-rollup/services/rollup/graph"
)

// GraphSource supplies the per-repository scan graphs a rollup execution
// merges. Implementations return ErrScanNotFound when no graph exists for
// the pair.
type GraphSource interface {
	LoadGraph(ctx context.Context, repoID, scanID string) (*graph.Graph, error)
}

// ScanGraph is the ingestion payload for one repository scan.
type ScanGraph struct {
	RepositoryID string       `json:"repositoryId" binding:"required"`
	ScanID       string       `json:"scanId" binding:"required"`
	Nodes        []graph.Node `json:"nodes" binding:"required,min=1"`
	Edges        []graph.Edge `json:"edges"`
}

// BuildGraph converts an ingestion payload into a frozen graph. Node
// RepoID/ScanID fields are stamped from the payload envelope.
func BuildGraph(sg *ScanGraph) (*graph.Graph, error) {
	g := graph.NewGraph()
	for i := range sg.Nodes {
		node := sg.Nodes[i]
		node.RepoID = sg.RepositoryID
		node.ScanID = sg.ScanID
		if err := g.AddNode(&node); err != nil {
			return nil, fmt.Errorf("node %s: %w", node.ID, err)
		}
	}
	for _, e := range sg.Edges {
		if err := g.AddEdge(e.ID, e.SourceID, e.TargetID); err != nil {
			return nil, fmt.Errorf("edge %s: %w", e.ID, err)
		}
	}
	g.Freeze()
	return g, nil
}

// GraphRegistry is an in-memory GraphSource fed by the ingestion
// endpoint. A re-ingested (repository, scan) pair replaces the previous
// graph wholesale.
//
// # Thread Safety
//
// Safe for concurrent use. Stored graphs are frozen and read-only.
type GraphRegistry struct {
	mu     sync.RWMutex
	graphs map[string]*graph.Graph
}

// NewGraphRegistry creates an empty registry.
func NewGraphRegistry() *GraphRegistry {
	return &GraphRegistry{graphs: make(map[string]*graph.Graph)}
}

func scanKey(repoID, scanID string) string {
	return repoID + "\x00" + scanID
}

// Register stores a frozen graph for a (repository, scan) pair.
func (r *GraphRegistry) Register(repoID, scanID string, g *graph.Graph) error {
	if !g.IsFrozen() {
		return fmt.Errorf("graph for %s/%s is not frozen", repoID, scanID)
	}
	r.mu.Lock()
	r.graphs[scanKey(repoID, scanID)] = g
	r.mu.Unlock()
	return nil
}

// LoadGraph returns the registered graph for a (repository, scan) pair.
func (r *GraphRegistry) LoadGraph(_ context.Context, repoID, scanID string) (*graph.Graph, error) {
	r.mu.RLock()
	g, ok := r.graphs[scanKey(repoID, scanID)]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: repository %s scan %s", ErrScanNotFound, repoID, scanID)
	}
	return g, nil
}

// Len returns the number of registered scan graphs.
func (r *GraphRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.graphs)
}
