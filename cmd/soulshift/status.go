// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Soulshift Contributors

package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/I1SSAACC/Soulshift/internal/config"
)

// ServerStatus holds the probe result for a running server.
type ServerStatus struct {
	Addr    string `json:"addr"`
	Running bool   `json:"running"`
	Ready   bool   `json:"ready"`
	Error   string `json:"error,omitempty"`
}

// statusConfig holds configuration for the status command.
type statusConfig struct {
	addr       string
	jsonOutput bool
}

// newStatusCmd creates the status subcommand.
func newStatusCmd() *cobra.Command {
	cfg := &statusConfig{}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show status of a running Soulshift server",
		Long:  `Probe the observability endpoints of a running server and report its health.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd, cfg)
		},
	}

	cmd.Flags().StringVar(&cfg.addr, "addr", config.DefaultObservabilityAddr, "observability address to probe")
	cmd.Flags().BoolVar(&cfg.jsonOutput, "json", false, "output status as JSON")

	return cmd
}

func runStatus(cmd *cobra.Command, cfg *statusConfig) error {
	status := probeServer(cfg.addr)

	if cfg.jsonOutput {
		out, err := json.MarshalIndent(status, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to format JSON: %w", err)
		}
		cmd.Println(string(out))
		return nil
	}

	switch {
	case !status.Running:
		cmd.Printf("soulshift: not running (%s)\n", status.Error)
	case !status.Ready:
		cmd.Printf("soulshift: running at %s, not ready\n", status.Addr)
	default:
		cmd.Printf("soulshift: running at %s, ready\n", status.Addr)
	}
	return nil
}

// probeServer checks the liveness and readiness endpoints.
func probeServer(addr string) ServerStatus {
	status := ServerStatus{Addr: addr}
	client := &http.Client{Timeout: 3 * time.Second}

	resp, err := client.Get(fmt.Sprintf("http://%s/healthz/liveness", addr))
	if err != nil {
		status.Error = err.Error()
		return status
	}
	_ = resp.Body.Close()
	status.Running = resp.StatusCode == http.StatusOK

	resp, err = client.Get(fmt.Sprintf("http://%s/healthz/readiness", addr))
	if err != nil {
		return status
	}
	_ = resp.Body.Close()
	status.Ready = resp.StatusCode == http.StatusOK

	return status
}
