package main

import (
	"database/sql"
	"fmt"

	"github.com/spf13/cobra"

	"focustown/backend/internal/config"
	"focustown/backend/internal/db"
)

func openDatabase() (*sql.DB, string, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, "", fmt.Errorf("load config: %w", err)
	}
	if dbPath != "" {
		cfg.DBPath = dbPath
	}
	if migrationsDir != "" {
		cfg.MigrationsDir = migrationsDir
	}

	database, err := db.OpenSQLite(cfg.DBPath)
	if err != nil {
		return nil, "", fmt.Errorf("open database: %w", err)
	}
	return database, cfg.MigrationsDir, nil
}

func runUp(cmd *cobra.Command, _ []string) error {
	database, dir, err := openDatabase()
	if err != nil {
		return err
	}
	defer database.Close()

	applied, err := db.RunMigrations(database, dir)
	if err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "migrations applied successfully (%d new)\n", applied)
	return nil
}

func runStatus(cmd *cobra.Command, _ []string) error {
	database, dir, err := openDatabase()
	if err != nil {
		return err
	}
	defer database.Close()

	statuses, err := db.MigrationStatus(database, dir)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for _, st := range statuses {
		mark := "pending"
		if st.Applied {
			mark = "applied"
		}
		fmt.Fprintf(out, "%-8s %s\n", mark, st.Name)
	}
	return nil
}
