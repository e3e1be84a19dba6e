// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package main

import (
	"os"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/gatehouse/gatehouse/internal/store"
)

// NewMigrateCmd creates the migrate subcommand.
func NewMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage database schema migrations",
		Long:  `Apply, roll back, or inspect schema migrations against the PostgreSQL database.`,
		RunE:  runMigrateUp,
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			RunE:  runMigrateUp,
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back all migrations (destructive)",
			RunE:  runMigrateDown,
		},
		&cobra.Command{
			Use:   "version",
			Short: "Show the current migration version",
			RunE:  runMigrateVersion,
		},
		newMigrateForceCmd(),
	)

	return cmd
}

func newMigrateForceCmd() *cobra.Command {
	var version int
	cmd := &cobra.Command{
		Use:   "force",
		Short: "Set the migration version without running migrations",
		Long:  `Set the recorded migration version after manually repairing a dirty database.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cmd, func(m *store.Migrator) error {
				return m.Force(version)
			})
		},
	}
	cmd.Flags().IntVar(&version, "version", 0, "migration version to record")
	_ = cmd.MarkFlagRequired("version") //nolint:errcheck // flag exists
	return cmd
}

func runMigrateUp(cmd *cobra.Command, _ []string) error {
	return withMigrator(cmd, func(m *store.Migrator) error {
		cmd.Println("Running migrations...")
		if err := m.Up(); err != nil {
			return err
		}
		cmd.Println("Migrations completed successfully")
		return nil
	})
}

func runMigrateDown(cmd *cobra.Command, _ []string) error {
	return withMigrator(cmd, func(m *store.Migrator) error {
		cmd.Println("Rolling back migrations...")
		if err := m.Down(); err != nil {
			return err
		}
		cmd.Println("Rollback completed successfully")
		return nil
	})
}

func runMigrateVersion(cmd *cobra.Command, _ []string) error {
	return withMigrator(cmd, func(m *store.Migrator) error {
		version, dirty, err := m.Version()
		if err != nil {
			return err
		}
		if dirty {
			cmd.Printf("version %d (dirty)\n", version)
			return nil
		}
		cmd.Printf("version %d\n", version)
		return nil
	})
}

func withMigrator(cmd *cobra.Command, fn func(*store.Migrator) error) error {
	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		return oops.Code("CONFIG_INVALID").Errorf("DATABASE_URL environment variable is required")
	}

	m, err := store.NewMigrator(databaseURL)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := m.Close(); closeErr != nil {
			cmd.PrintErrln("warning: closing migrator:", closeErr)
		}
	}()

	return fn(m)
}
