package sqlstore

import (
	"database/sql"
	"strings"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/hlop3z/relmap/internal/alerr"
)

// Open connects to the database behind url and returns a Store that owns the
// connection. The dialect is detected from the URL.
func Open(url string, opts ...Option) (*Store, error) {
	name := DetectDialect(url)

	var (
		d          Dialect
		driverName string
		dsn        string
	)
	switch name {
	case "postgres":
		d, driverName, dsn = Postgres(), "postgres", url
	case "sqlite":
		d, driverName, dsn = SQLite(), "sqlite", convertSQLiteURL(url)
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, alerr.Wrap(alerr.ErrConnection, err, "failed to open database").With("dialect", name)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, alerr.Wrap(alerr.ErrConnection, err, "failed to connect to database").With("dialect", name)
	}
	if name == "sqlite" && strings.Contains(dsn, ":memory:") {
		// Every new connection to :memory: is a fresh empty database.
		db.SetMaxOpenConns(1)
	}

	s := New(db, d, opts...)
	s.owned = true
	return s, nil
}

// DetectDialect determines the SQL dialect from a connection URL.
func DetectDialect(url string) string {
	url = strings.ToLower(url)

	switch {
	case strings.HasPrefix(url, "postgres://"),
		strings.HasPrefix(url, "postgresql://"):
		return "postgres"

	case strings.HasPrefix(url, "sqlite://"),
		strings.HasPrefix(url, "sqlite3://"),
		strings.HasPrefix(url, "file:"),
		url == ":memory:":
		return "sqlite"

	case strings.HasSuffix(url, ".db"),
		strings.HasSuffix(url, ".sqlite"),
		strings.HasSuffix(url, ".sqlite3"):
		return "sqlite"
	}

	return "postgres"
}

// convertSQLiteURL converts a sqlite:// URL to a file path, or returns the path as-is.
func convertSQLiteURL(url string) string {
	url = strings.TrimPrefix(url, "sqlite://")
	url = strings.TrimPrefix(url, "sqlite3://")
	url = strings.TrimPrefix(url, "file:")
	return url
}
