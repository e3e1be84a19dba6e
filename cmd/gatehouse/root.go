// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package main

import (
	"github.com/spf13/cobra"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the Gatehouse CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gatehouse",
		Short: "Gatehouse - identity and session token service",
		Long: `Gatehouse registers accounts, authenticates users, and issues
signed bearer tokens. Uniqueness of emails and usernames is enforced by
the PostgreSQL storage layer; tokens are HS256 JWTs scoped to a fixed
issuer and audience.`,
	}

	// Global flag for config file path
	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path")

	// Add subcommands
	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())

	return cmd
}
