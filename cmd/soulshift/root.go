// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Soulshift Contributors

package main

import (
	"github.com/spf13/cobra"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the Soulshift CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "soulshift",
		Short: "Soulshift - game account and session backend",
		Long: `Soulshift is the account and session backend for the Soulshift game:
registration, login, device-bound auto-login, bearer-token re-login and
player profiles, persisted as JSON files.`,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path")

	cmd.AddCommand(newServerCmd())
	cmd.AddCommand(newStatusCmd())

	return cmd
}
