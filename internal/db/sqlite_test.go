package db

import (
	"os"
	"path/filepath"
	"testing"
)

func TestRunMigrationsIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	migrations := filepath.Join(dir, "migrations")
	if err := os.MkdirAll(migrations, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(migrations, "001_init.sql"), []byte(`CREATE TABLE spots (id TEXT PRIMARY KEY);`), 0o644); err != nil {
		t.Fatalf("write migration: %v", err)
	}
	if err := os.WriteFile(filepath.Join(migrations, "README.md"), []byte("not sql"), 0o644); err != nil {
		t.Fatalf("write readme: %v", err)
	}

	database, err := OpenSQLite(filepath.Join(dir, "data", "test.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	defer database.Close()

	applied, err := RunMigrations(database, migrations)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if applied != 1 {
		t.Fatalf("expected 1 applied migration, got %d", applied)
	}

	applied, err = RunMigrations(database, migrations)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if applied != 0 {
		t.Fatalf("expected no migrations on second run, got %d", applied)
	}

	statuses, err := MigrationStatus(database, migrations)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if len(statuses) != 1 || statuses[0].Name != "001_init.sql" || !statuses[0].Applied {
		t.Fatalf("unexpected status: %+v", statuses)
	}

	if _, err := database.Exec(`INSERT INTO spots (id) VALUES ('window-1')`); err != nil {
		t.Fatalf("insert into migrated table: %v", err)
	}
}
