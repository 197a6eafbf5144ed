// Package testing provides testing utilities and helpers for the fundsync project.
package testing

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/aristath/fundsync/internal/database"
)

// NewTestDB creates a temporary file-backed SQLite database with the fund data
// schema applied. The database is closed and removed when the test ends.
func NewTestDB(t *testing.T) *database.DB {
	t.Helper()

	// A file (not :memory:) so every pooled connection sees the same data.
	path := filepath.Join(t.TempDir(), "fundsync_test.db")

	db, err := database.New(database.Config{
		Driver: database.DialectSQLite,
		DSN:    path,
		Name:   "test",
	})
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}

	if err := db.Migrate(context.Background()); err != nil {
		_ = db.Close()
		t.Fatalf("Failed to migrate test database: %v", err)
	}

	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Logf("Warning: Failed to close test database: %v", err)
		}
		_ = os.Remove(path)
	})

	return db
}
