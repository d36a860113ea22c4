// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package merge

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/iac-rollup/services/rollup/graph"
)

// buildOutput synthesizes MergedNodes from the final clusters, builds the
// merged graph with re-pointed deduplicated edges, and computes stats.
func (e *Engine) buildOutput(
	ctx context.Context,
	input *Input,
	sources []sourceNode,
	index map[string]int32,
	uf *unionFind,
	clusters map[int32]*clusterInfo,
	stats *Stats,
) (*Output, error) {
	now := time.Now().UTC()

	// Group source indices by set root, keeping only real clusters.
	members := make(map[int32][]int32)
	for i := range sources {
		root := uf.find(int32(i))
		if uf.setSize(root) >= 2 {
			members[root] = append(members[root], int32(i))
		}
	}

	// Deterministic cluster iteration: by the smallest member node ID.
	roots := make([]int32, 0, len(members))
	for root := range members {
		sort.Slice(members[root], func(a, b int) bool {
			return sources[members[root][a]].node.ID < sources[members[root][b]].node.ID
		})
		roots = append(roots, root)
	}
	sort.Slice(roots, func(a, b int) bool {
		return sources[members[roots[a]][0]].node.ID < sources[members[roots[b]][0]].node.ID
	})

	output := &Output{
		MergedNodes:    make([]MergedNode, 0, len(roots)),
		UnmatchedNodes: make([]*graph.Node, 0),
		NodeOwner:      make(map[string]string, len(sources)),
		NodeRepos:      make(map[string][]string),
		Stats:          *stats,
	}

	for _, rg := range input.Graphs {
		output.Stats.NodesBeforeMerge += rg.Graph.NodeCount()
		output.Stats.EdgesBeforeMerge += rg.Graph.EdgeCount()
	}

	for _, root := range roots {
		mn := e.synthesize(sources, members[root], clusters[root], now)
		for _, m := range members[root] {
			output.NodeOwner[sources[m].node.ID] = mn.ID
		}
		output.MergedNodes = append(output.MergedNodes, mn)
	}

	for i := range sources {
		node := sources[i].node
		if _, merged := output.NodeOwner[node.ID]; !merged {
			output.NodeOwner[node.ID] = node.ID
			output.UnmatchedNodes = append(output.UnmatchedNodes, node)
		}
	}

	output.Stats.NodesAfterMerge = len(output.MergedNodes) + len(output.UnmatchedNodes)

	if err := e.buildMergedGraph(ctx, input, sources, index, output); err != nil {
		return nil, err
	}

	return output, nil
}

// synthesize builds one MergedNode from a sorted cluster membership.
func (e *Engine) synthesize(sources []sourceNode, cluster []int32, info *clusterInfo, now time.Time) MergedNode {
	mn := MergedNode{
		ID:            uuid.NewString(),
		SourceNodeIDs: make([]string, 0, len(cluster)),
		Locations:     make([]graph.Location, 0, len(cluster)),
		Metadata:      make(map[string]any),
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	repoSet := make(map[string]bool)
	for _, m := range cluster {
		src := sources[m]
		mn.SourceNodeIDs = append(mn.SourceNodeIDs, src.node.ID)
		mn.Locations = append(mn.Locations, src.node.Location)
		repoSet[src.repoID] = true
		if mn.NodeType == "" {
			mn.NodeType = src.node.Type
		}
	}

	mn.SourceRepoIDs = make([]string, 0, len(repoSet))
	for repo := range repoSet {
		mn.SourceRepoIDs = append(mn.SourceRepoIDs, repo)
	}
	sort.Strings(mn.SourceRepoIDs)
	mn.SourceCount = len(mn.SourceNodeIDs)

	if info != nil {
		mn.MatchStrategy = info.bestStrategy
		mn.MatchConfidence = info.minConfidence
		mn.MatchCount = info.matchCount
	}

	// Canonical name from the highest-confidence source; fall back to the
	// first member for clusters forced together without info.
	mn.CanonicalName = sources[cluster[0]].node.Name
	if info != nil && info.bestNodeID != "" {
		for _, m := range cluster {
			if sources[m].node.ID == info.bestNodeID {
				mn.CanonicalName = sources[m].node.Name
				break
			}
		}
	}

	// Shallow metadata merge, higher-confidence donor last so it wins key
	// conflicts. Within equal standing, the sorted membership order keeps
	// the result deterministic.
	donors := make([]int32, len(cluster))
	copy(donors, cluster)
	if info != nil && info.bestNodeID != "" {
		sort.SliceStable(donors, func(a, b int) bool {
			// The best node sorts last.
			return sources[donors[b]].node.ID == info.bestNodeID &&
				sources[donors[a]].node.ID != info.bestNodeID
		})
	}
	for _, m := range donors {
		for k, v := range sources[m].node.Metadata {
			mn.Metadata[k] = v
		}
	}

	return mn
}

// buildMergedGraph re-points every source edge at its owning merged-graph
// node, deduplicates, tags cross-repo edges, and applies the
// preserveEdgeTypes filter.
func (e *Engine) buildMergedGraph(
	ctx context.Context,
	input *Input,
	sources []sourceNode,
	index map[string]int32,
	output *Output,
) error {
	mg := graph.NewGraph()

	// Repo sets per merged-graph node ID, for cross-repo tagging.
	nodeRepos := make(map[string]map[string]bool)
	nodeTypes := make(map[string]string)

	for i := range output.MergedNodes {
		mn := &output.MergedNodes[i]
		repos := make(map[string]bool, len(mn.SourceRepoIDs))
		for _, r := range mn.SourceRepoIDs {
			repos[r] = true
		}
		nodeRepos[mn.ID] = repos
		nodeTypes[mn.ID] = mn.NodeType
		output.NodeRepos[mn.ID] = append([]string(nil), mn.SourceRepoIDs...)

		node := &graph.Node{
			ID:       mn.ID,
			Type:     mn.NodeType,
			Name:     mn.CanonicalName,
			Metadata: mn.Metadata,
		}
		if len(mn.SourceRepoIDs) == 1 {
			node.RepoID = mn.SourceRepoIDs[0]
		}
		if err := mg.AddNode(node); err != nil {
			return fmt.Errorf("merged graph: %w", err)
		}
	}

	for _, node := range output.UnmatchedNodes {
		repoID := sources[index[node.ID]].repoID
		nodeRepos[node.ID] = map[string]bool{repoID: true}
		nodeTypes[node.ID] = node.Type
		output.NodeRepos[node.ID] = []string{repoID}
		if err := mg.AddNode(node); err != nil {
			return fmt.Errorf("merged graph: %w", err)
		}
	}

	type resolvedEdge struct {
		src, dst  string
		crossRepo bool
	}

	seen := make(map[string]bool)
	edges := make([]resolvedEdge, 0)
	processed := 0

	for _, rg := range input.Graphs {
		for _, edge := range rg.Graph.Edges() {
			processed++
			if processed%compareContextCheckInterval == 0 {
				if err := ctx.Err(); err != nil {
					return err
				}
			}

			src := output.NodeOwner[edge.SourceID]
			dst := output.NodeOwner[edge.TargetID]

			// Both endpoints collapsed into one merged node: the
			// dependency became internal, not a self-loop.
			if src == dst {
				continue
			}

			key := src + "\x00" + dst
			if seen[key] {
				continue
			}
			seen[key] = true

			crossRepo := !equalRepoSets(nodeRepos[src], nodeRepos[dst])
			if crossRepo && !edgePreserved(&input.Options, nodeTypes[src], nodeTypes[dst]) {
				continue
			}

			edges = append(edges, resolvedEdge{src: src, dst: dst, crossRepo: crossRepo})
		}
	}

	for i, re := range edges {
		id := fmt.Sprintf("edge:%d:%s->%s", i, re.src, re.dst)
		if err := mg.AddEdge(id, re.src, re.dst); err != nil {
			return fmt.Errorf("merged graph: %w", err)
		}
		if re.crossRepo {
			mg.MarkCrossRepo(id)
			output.Stats.CrossRepoEdges++
		}
	}

	mg.Freeze()
	output.Graph = mg
	output.Edges = mg.Edges()
	output.Stats.EdgesAfterMerge = len(output.Edges)

	return nil
}

// equalRepoSets reports whether two repo sets are identical. An edge whose
// endpoints originate from different repository sets is cross-repo.
func equalRepoSets(a, b map[string]bool) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if !b[k] {
			return false
		}
	}
	return true
}

// edgePreserved applies the preserveEdgeTypes filter to a cross-repo edge.
func edgePreserved(opts *Options, srcType, dstType string) bool {
	if len(opts.PreserveEdgeTypes) == 0 {
		return true
	}
	for _, t := range opts.PreserveEdgeTypes {
		if t == srcType || t == dstType {
			return true
		}
	}
	return false
}

