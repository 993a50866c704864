// Package connect opens the store.Store backend named by a connection URL.
package connect

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/hlop3z/relmap/internal/alerr"
	"github.com/hlop3z/relmap/internal/store"
	"github.com/hlop3z/relmap/internal/store/mongostore"
	"github.com/hlop3z/relmap/internal/store/sqlstore"
)

// Options controls how a store is opened.
type Options struct {
	// Database selects the MongoDB database. Ignored by SQL backends.
	Database string
	Logger   *zap.Logger
}

// Backend names the store implementation a URL selects.
func Backend(url string) string {
	lower := strings.ToLower(url)
	if strings.HasPrefix(lower, "mongodb://") || strings.HasPrefix(lower, "mongodb+srv://") {
		return "mongodb"
	}
	return sqlstore.DetectDialect(url)
}

// Open connects to url.
//
//   - mongodb:// and mongodb+srv:// open MongoDB
//   - postgres:// and postgresql:// open PostgreSQL
//   - sqlite://, file:, *.db, *.sqlite and :memory: open SQLite
func Open(ctx context.Context, url string, opts Options) (store.Store, error) {
	if strings.TrimSpace(url) == "" {
		return nil, alerr.New(alerr.ErrConfig, "database url is required").
			WithHelp("set database_url in relmap.yaml or RELMAP_DATABASE_URL")
	}

	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	backend := Backend(url)
	log.Debug("opening store", zap.String("backend", backend), zap.String("url", RedactURL(url)))

	switch backend {
	case "mongodb":
		return mongostore.Open(ctx, url, opts.Database, mongostore.WithLogger(log))
	case "postgres", "sqlite":
		return sqlstore.Open(url, sqlstore.WithLogger(log))
	}
	return nil, alerr.New(alerr.ErrUnsupportedDriver, "unsupported database").With("backend", backend)
}

// RedactURL removes sensitive information from a database URL for logging.
func RedactURL(url string) string {
	// Pattern: ://user:password@
	start := strings.Index(url, "://")
	if start == -1 {
		return url
	}
	start += 3

	end := strings.LastIndex(url[start:], "@")
	if end == -1 {
		return url
	}
	end += start

	credentials := url[start:end]
	if colonIdx := strings.Index(credentials, ":"); colonIdx != -1 {
		user := credentials[:colonIdx]
		return url[:start] + user + ":***@" + url[end+1:]
	}

	return url
}
