// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestQueryMetricsRecordResultCount(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	otel.SetMeterProvider(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))

	// a reaches b and c, so the query yields two results.
	g := buildTestGraph(t, []string{"a", "b", "c"},
		[][2]string{{"a", "b"}, {"a", "c"}})
	distances, err := g.FindReachableNodes(context.Background(), "a")
	if err != nil {
		t.Fatalf("FindReachableNodes: %v", err)
	}
	if len(distances) != 2 {
		t.Fatalf("got %d reachable nodes, want 2", len(distances))
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}

	var hist *metricdata.Histogram[int64]
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			if m.Name == "graph_query_results" {
				h, ok := m.Data.(metricdata.Histogram[int64])
				if !ok {
					t.Fatalf("graph_query_results data type = %T, want Histogram[int64]", m.Data)
				}
				hist = &h
			}
		}
	}
	if hist == nil {
		t.Fatal("graph_query_results was not exported")
	}

	var count uint64
	var sum int64
	for _, dp := range hist.DataPoints {
		count += dp.Count
		sum += dp.Sum
	}
	if count != 1 || sum != 2 {
		t.Errorf("recorded count = %d, sum = %d; want one observation of 2", count, sum)
	}
}
