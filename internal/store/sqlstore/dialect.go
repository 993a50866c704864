package sqlstore

import (
	"fmt"
	"strings"
)

// Dialect defines the SQL fragments that differ between engines.
// Implementations exist for PostgreSQL and SQLite.
type Dialect interface {
	// Name returns the dialect name (postgres, sqlite).
	Name() string

	// QuoteIdent quotes a table or index name.
	// PostgreSQL/SQLite: "name"
	QuoteIdent(name string) string

	// Placeholder returns a text parameter placeholder (1-based).
	// PostgreSQL: $1
	// SQLite: ?
	Placeholder(index int) string

	// JSONPlaceholder returns a placeholder for a parameter compared against
	// or stored as JSON.
	// PostgreSQL: $1::jsonb
	// SQLite: ?
	JSONPlaceholder(index int) string

	// DocumentType is the column type holding documents.
	// PostgreSQL: JSONB
	// SQLite: TEXT
	DocumentType() string

	// FieldExpr extracts a top-level field of the document as JSON.
	// PostgreSQL: doc -> 'field'
	// SQLite: doc -> '$."field"'
	FieldExpr(field string) string

	// ListTablesSQL returns a query yielding table names.
	ListTablesSQL() string

	// ListIndexesSQL returns a query yielding physical index names of the
	// table bound to the first placeholder.
	ListIndexesSQL() string
}

// quoteIdent double-quotes an identifier, escaping embedded quotes.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// physicalIndexName scopes an index name to its table; both engines keep index
// names in a schema-wide namespace.
func physicalIndexName(table, index string) string {
	return table + "__" + index
}

// logicalIndexName reverses physicalIndexName, reporting false for indexes
// relmap did not create.
func logicalIndexName(table, physical string) (string, bool) {
	prefix := table + "__"
	if !strings.HasPrefix(physical, prefix) {
		return "", false
	}
	return strings.TrimPrefix(physical, prefix), true
}

func createTableSQL(d Dialect, table string) string {
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (pk TEXT PRIMARY KEY, doc %s NOT NULL)",
		d.QuoteIdent(table), d.DocumentType())
}

func createIndexSQL(d Dialect, table, index string, fields []string) string {
	exprs := make([]string, len(fields))
	for i, f := range fields {
		exprs[i] = "(" + d.FieldExpr(f) + ")"
	}
	return fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)",
		d.QuoteIdent(physicalIndexName(table, index)), d.QuoteIdent(table), strings.Join(exprs, ", "))
}
