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
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/iac-rollup/services/rollup/impact"
	"github.com/AleutianAI/iac-rollup/services/rollup/store"
)

// Handlers is the thin JSON layer over the Service. Handlers bind and
// validate the request, call one service method, and map errors to
// status codes; they hold no business logic.
type Handlers struct {
	service *Service
	logger  *slog.Logger
}

// NewHandlers creates the HTTP handlers.
func NewHandlers(service *Service, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{service: service, logger: logger}
}

// writeError maps service errors onto HTTP status codes.
func (h *Handlers) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, ErrScanNotFound), errors.Is(err, ErrExecutionNotReady):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, store.ErrVersionConflict), errors.Is(err, store.ErrInvalidTransition), errors.Is(err, store.ErrAlreadyExists):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, ErrInvalidRequest):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		h.logger.Error("request failed", slog.String("path", c.FullPath()), slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// queryInt reads an integer query parameter with a default.
func queryInt(c *gin.Context, name string, def int) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": name + " must be an integer"})
		return 0, false
	}
	return v, true
}

// Health reports liveness.
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// IngestScan registers one repository scan graph.
func (h *Handlers) IngestScan(c *gin.Context) {
	var sg ScanGraph
	if err := c.ShouldBindJSON(&sg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.service.RegisterScan(&sg); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"repositoryId": sg.RepositoryID,
		"scanId":       sg.ScanID,
		"nodes":        len(sg.Nodes),
		"edges":        len(sg.Edges),
	})
}

// CreateRollup persists a new rollup configuration.
func (h *Handlers) CreateRollup(c *gin.Context) {
	var r store.Rollup
	if err := c.ShouldBindJSON(&r); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.service.CreateRollup(c.Request.Context(), &r); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, &r)
}

// GetRollup returns one rollup.
func (h *Handlers) GetRollup(c *gin.Context) {
	r, err := h.service.GetRollup(c.Request.Context(), c.Param("rollupId"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	if r == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "rollup not found"})
		return
	}
	c.JSON(http.StatusOK, r)
}

// ListRollups pages through rollups.
func (h *Handlers) ListRollups(c *gin.Context) {
	offset, ok := queryInt(c, "offset", 0)
	if !ok {
		return
	}
	limit, ok := queryInt(c, "limit", 0)
	if !ok {
		return
	}
	rollups, err := h.service.ListRollups(c.Request.Context(), offset, limit)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rollups": rollups, "count": len(rollups)})
}

// UpdateRollup applies an optimistic-concurrency update. The body must
// carry the version the caller read.
func (h *Handlers) UpdateRollup(c *gin.Context) {
	var r store.Rollup
	if err := c.ShouldBindJSON(&r); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	r.ID = c.Param("rollupId")
	if err := h.service.UpdateRollup(c.Request.Context(), &r); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, &r)
}

// DeleteRollup removes a rollup and its executions.
func (h *Handlers) DeleteRollup(c *gin.Context) {
	if err := h.service.DeleteRollup(c.Request.Context(), c.Param("rollupId")); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

// executeRequest is the body of an execute call: one scan per configured
// repository, aligned by index.
type executeRequest struct {
	ScanIDs []string `json:"scanIds" binding:"required,min=1"`
}

// ExecuteRollup runs a rollup against a set of scans.
func (h *Handlers) ExecuteRollup(c *gin.Context) {
	var req executeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	exec, err := h.service.ExecuteRollup(c.Request.Context(), c.Param("rollupId"), req.ScanIDs)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, exec)
}

// GetExecution returns one execution.
func (h *Handlers) GetExecution(c *gin.Context) {
	exec, err := h.service.GetExecution(c.Request.Context(), c.Param("rollupId"), c.Param("executionId"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	if exec == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "execution not found"})
		return
	}
	c.JSON(http.StatusOK, exec)
}

// ListExecutions returns a rollup's executions, newest first.
func (h *Handlers) ListExecutions(c *gin.Context) {
	execs, err := h.service.ListExecutions(c.Request.Context(), c.Param("rollupId"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"executions": execs, "count": len(execs)})
}

// CancelExecution cancels a pending or running execution.
func (h *Handlers) CancelExecution(c *gin.Context) {
	err := h.service.CancelExecution(c.Request.Context(), c.Param("rollupId"), c.Param("executionId"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cancelling"})
}

// ListMergedNodes pages through an execution's merged nodes.
func (h *Handlers) ListMergedNodes(c *gin.Context) {
	offset, ok := queryInt(c, "offset", 0)
	if !ok {
		return
	}
	limit, ok := queryInt(c, "limit", 0)
	if !ok {
		return
	}
	nodes, err := h.service.ListMergedNodes(c.Request.Context(), c.Param("executionId"), offset, limit)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"mergedNodes": nodes, "count": len(nodes)})
}

// Cycles returns the merged graph's dependency cycles.
func (h *Handlers) Cycles(c *gin.Context) {
	cycles, err := h.service.Cycles(c.Request.Context(), c.Param("executionId"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cycles": cycles, "count": len(cycles)})
}

// TopologicalSort returns a dependency ordering of the merged graph.
// The variant query parameter selects "kahn" (default) or "dfs".
func (h *Handlers) TopologicalSort(c *gin.Context) {
	result, err := h.service.TopologicalSort(c.Request.Context(), c.Param("executionId"), c.Query("variant"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// ShortestPath returns one shortest path between two merged nodes.
func (h *Handlers) ShortestPath(c *gin.Context) {
	from, to := c.Query("from"), c.Query("to")
	if from == "" || to == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "from and to are required"})
		return
	}
	result, err := h.service.ShortestPath(c.Request.Context(), c.Param("executionId"), from, to)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// AllPaths enumerates bounded paths between two merged nodes.
func (h *Handlers) AllPaths(c *gin.Context) {
	from, to := c.Query("from"), c.Query("to")
	if from == "" || to == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "from and to are required"})
		return
	}
	maxDepth, ok := queryInt(c, "maxDepth", 0)
	if !ok {
		return
	}
	maxPaths, ok := queryInt(c, "maxPaths", 0)
	if !ok {
		return
	}
	result, err := h.service.AllPaths(c.Request.Context(), c.Param("executionId"), from, to, maxDepth, maxPaths)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// Downstream returns nodes reachable from a merged node.
func (h *Handlers) Downstream(c *gin.Context) {
	maxDepth, ok := queryInt(c, "maxDepth", 0)
	if !ok {
		return
	}
	nodes, err := h.service.Downstream(c.Request.Context(), c.Param("executionId"), c.Param("nodeId"), maxDepth)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"nodes": nodes, "count": len(nodes)})
}

// Upstream returns nodes that reach a merged node.
func (h *Handlers) Upstream(c *gin.Context) {
	maxDepth, ok := queryInt(c, "maxDepth", 0)
	if !ok {
		return
	}
	nodes, err := h.service.Upstream(c.Request.Context(), c.Param("executionId"), c.Param("nodeId"), maxDepth)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"nodes": nodes, "count": len(nodes)})
}

// ArticulationPoints returns the merged graph's single points of failure.
func (h *Handlers) ArticulationPoints(c *gin.Context) {
	result, err := h.service.ArticulationPoints(c.Request.Context(), c.Param("executionId"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// Degrees returns degree and density metrics for the merged graph.
func (h *Handlers) Degrees(c *gin.Context) {
	metrics, err := h.service.Degrees(c.Param("executionId"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, metrics)
}

// BlastRadius analyzes change impact for a set of seed nodes.
func (h *Handlers) BlastRadius(c *gin.Context) {
	var query impact.Query
	if err := c.ShouldBindJSON(&query); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	response, err := h.service.BlastRadius(c.Request.Context(), c.Param("executionId"), &query)
	if err != nil {
		if errors.Is(err, impact.ErrNoSeeds) || errors.Is(err, impact.ErrUnknownSeed) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, response)
}

// CachedBlastRadius returns a previously computed blast-radius response
// for an equivalent query. The body is JSON null when nothing is cached.
func (h *Handlers) CachedBlastRadius(c *gin.Context) {
	var query impact.Query
	if err := c.ShouldBindJSON(&query); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	response, err := h.service.GetCachedBlastRadius(c.Request.Context(), c.Param("executionId"), &query)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, response)
}

// CacheStats returns the result cache counters.
func (h *Handlers) CacheStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.service.CacheStats())
}
