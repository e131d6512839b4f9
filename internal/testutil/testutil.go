// Package testutil provides a migrated SQLite database and manifest
// fixtures for package tests.
package testutil

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/pkgindex/registry/internal/store"
)

// OpenDB opens a file backed SQLite database in a temp dir and applies all
// migrations. The database is closed when the test ends.
func OpenDB(t testing.TB) *sql.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "registry.db")
	dsn := fmt.Sprintf("file:%s?_txlock=immediate&_busy_timeout=5000&_foreign_keys=on", path)

	ctx := context.Background()
	db, err := store.Open(ctx, store.Config{Driver: store.DriverSQLite, URL: dsn, MaxOpenConns: 8, MaxIdleConns: 8})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	migrations, err := store.Migrations()
	if err != nil {
		t.Fatalf("failed to load migrations: %v", err)
	}
	if _, err := store.NewRunner(db, zap.NewNop()).MigrateUp(ctx, migrations); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return db
}

// Manifest returns a valid DESCRIPTION manifest for name and version.
// Extra lines are appended verbatim.
func Manifest(name, version string, extra ...string) string {
	lines := []string{
		"Package: " + name,
		"Type: Package",
		"Title: The " + name + " package",
		"Version: " + version,
		"Date: 2014-06-15",
		"Author: Winston Chang <winston@rstudio.com>, Hadley Wickham",
		"Maintainer: Winston Chang <winston@rstudio.com>",
		"Description: Tools for " + name + ".",
		"License: GPL-2",
	}
	lines = append(lines, extra...)
	return strings.Join(lines, "\n") + "\n"
}

// CountRows returns the number of rows in table
func CountRows(t testing.TB, db *sql.DB, table string) int {
	t.Helper()
	var n int
	if err := db.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&n); err != nil {
		t.Fatalf("failed to count %s: %v", table, err)
	}
	return n
}
