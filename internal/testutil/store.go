package testutil

import (
	"database/sql"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/hlop3z/relmap/internal/store/sqlstore"
)

// SetupSQLiteStore creates a store over a fresh in-memory SQLite database.
// The database is closed when the test completes.
func SetupSQLiteStore(t *testing.T, opts ...sqlstore.Option) *sqlstore.Store {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("failed to open sqlite connection: %v", err)
	}
	// Each connection to :memory: opens its own database.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		t.Fatalf("failed to ping sqlite: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})

	return sqlstore.New(db, sqlstore.SQLite(), opts...)
}
