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

import "github.com/gin-gonic/gin"

// RegisterRoutes mounts the rollup API under rg.
func RegisterRoutes(rg *gin.RouterGroup, h *Handlers) {
	rg.GET("/health", h.Health)
	rg.POST("/graphs", h.IngestScan)
	rg.GET("/cache/stats", h.CacheStats)

	rollups := rg.Group("/rollups")
	{
		rollups.POST("", h.CreateRollup)
		rollups.GET("", h.ListRollups)
		rollups.GET("/:rollupId", h.GetRollup)
		rollups.PUT("/:rollupId", h.UpdateRollup)
		rollups.DELETE("/:rollupId", h.DeleteRollup)

		rollups.POST("/:rollupId/executions", h.ExecuteRollup)
		rollups.GET("/:rollupId/executions", h.ListExecutions)
		rollups.GET("/:rollupId/executions/:executionId", h.GetExecution)
		rollups.POST("/:rollupId/executions/:executionId/cancel", h.CancelExecution)
	}

	executions := rg.Group("/executions/:executionId")
	{
		executions.GET("/nodes", h.ListMergedNodes)

		analysis := executions.Group("/analysis")
		{
			analysis.GET("/cycles", h.Cycles)
			analysis.GET("/topology", h.TopologicalSort)
			analysis.GET("/paths/shortest", h.ShortestPath)
			analysis.GET("/paths", h.AllPaths)
			analysis.GET("/downstream/:nodeId", h.Downstream)
			analysis.GET("/upstream/:nodeId", h.Upstream)
			analysis.GET("/articulation", h.ArticulationPoints)
			analysis.GET("/degrees", h.Degrees)
			analysis.POST("/impact", h.BlastRadius)
			analysis.POST("/impact/cached", h.CachedBlastRadius)
		}
	}
}
