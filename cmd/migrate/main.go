// Package main implements the migrate CLI for the FocusTown ledger database.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var (
	dbPath        string
	migrationsDir string
)

var rootCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending SQL migrations to the FocusTown database",
	Args:  cobra.NoArgs,
	RunE:  runUp,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "List migrations and whether each has been applied",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Database path (defaults to DB_PATH)")
	rootCmd.PersistentFlags().StringVar(&migrationsDir, "dir", "", "Migrations directory (defaults to MIGRATIONS_DIR)")
}
