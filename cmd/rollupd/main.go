// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command rollupd serves the cross-repository IaC rollup API.
//
// It ingests per-repository dependency scan graphs, merges them into a
// deduplicated cross-repository graph, and exposes graph analyses
// (cycles, ordering, paths, reachability, blast radius) over HTTP.
//
// # Usage
//
//	# Build
//	go build -o rollupd ./cmd/rollupd
//
//	# Run with defaults (persistent storage under ./data/rollup)
//	./rollupd serve
//
//	# Run with a config file
//	./rollupd serve --config rollupd.yaml
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:   "rollupd",
		Short: "Cross-repository IaC dependency rollup service",
		Long: "rollupd merges infrastructure-as-code dependency graphs scanned from\n" +
			"multiple repositories into one deduplicated cross-repository graph and\n" +
			"serves dependency analyses over it.",
		SilenceUsage: true,
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the rollup HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), configPath)
		},
	}
	serveCmd.Flags().StringVarP(&configPath, "config", "c", "", "path to YAML config file")

	rootCmd.AddCommand(serveCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
