package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/gray-logic-ota/migrations"
)

func newMigrateCmd(load configLoader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return fmt.Errorf("migrate requires a subcommand: up|down|status")
		},
	}

	up := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := load()
			if err != nil {
				return err
			}
			db, err := openDatabase(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := db.Migrate(cmd.Context(), migrations.Source()); err != nil {
				return fmt.Errorf("running migrations: %w", err)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return err
		},
	}

	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back the most recent migration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := load()
			if err != nil {
				return err
			}
			db, err := openDatabase(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := db.MigrateDown(cmd.Context(), migrations.Source()); err != nil {
				return fmt.Errorf("rolling back migration: %w", err)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), "latest migration rolled back")
			return err
		},
	}

	status := &cobra.Command{
		Use:   "status",
		Short: "List applied and pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := load()
			if err != nil {
				return err
			}
			db, err := openDatabase(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			applied, pending, err := db.MigrationStatus(cmd.Context(), migrations.Source())
			if err != nil {
				return fmt.Errorf("reading migration status: %w", err)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0) //nolint:mnd // column layout
			fmt.Fprintln(tw, "VERSION\tSTATE\tAPPLIED AT")
			for _, m := range applied {
				fmt.Fprintf(tw, "%s\tapplied\t%s\n", m.Version, m.AppliedAt.Format(time.RFC3339))
			}
			for _, m := range pending {
				fmt.Fprintf(tw, "%s\tpending\t%s\n", m.Version, m.Name)
			}
			return tw.Flush()
		},
	}

	cmd.AddCommand(up, down, status)
	return cmd
}
