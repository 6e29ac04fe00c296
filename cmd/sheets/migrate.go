package main

import (
	"fmt"
	"log/slog"
	"strconv"

	"github.com/freekieb7/sheets/internal/config"
	"github.com/freekieb7/sheets/internal/database/migrations"
	"github.com/freekieb7/sheets/internal/logger"

	"github.com/spf13/cobra"
)

func newMigrateCommand(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the PostgreSQL schema.",
	}

	var upSteps, downSteps int
	up := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(root, func(mg *migrations.Migrator) error { return mg.Up(upSteps) })
		},
	}
	up.Flags().IntVar(&upSteps, "steps", 0, "number of migrations to apply, 0 applies all")

	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(root, func(mg *migrations.Migrator) error { return mg.Down(downSteps) })
		},
	}
	down.Flags().IntVar(&downSteps, "steps", 1, "number of migrations to roll back")

	status := &cobra.Command{
		Use:   "status",
		Short: "Show the current schema version.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(root, func(mg *migrations.Migrator) error {
				s, err := mg.Status()
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "version: %d\ndirty: %t\n", s.Version, s.Dirty)
				return nil
			})
		},
	}

	force := &cobra.Command{
		Use:   "force VERSION",
		Short: "Set the schema version without running migrations.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			version, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid version %q", args[0])
			}
			return withMigrator(root, func(mg *migrations.Migrator) error { return mg.Force(version) })
		},
	}

	cmd.AddCommand(up, down, status, force)
	return cmd
}

func withMigrator(root *rootOptions, fn func(mg *migrations.Migrator) error) error {
	cfg, err := config.Load(root.configPath)
	if err != nil {
		return err
	}
	if cfg.Database.Driver != "postgres" {
		return fmt.Errorf("migrations need database.driver=postgres, got %q", cfg.Database.Driver)
	}
	return migrate(cfg.Database.URL, logger.New(cfg), fn)
}

func migrate(dsn string, log *slog.Logger, fn func(mg *migrations.Migrator) error) error {
	mg, err := migrations.New(dsn, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := mg.Close(); err != nil {
			log.Error("Failed to close migrator", "error", err)
		}
	}()
	return fn(mg)
}
