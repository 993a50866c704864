package sqlstore

// sqlite implements the Dialect interface for SQLite.
// Documents are stored as JSON text; the -> operator returns the JSON text
// of a field, which is what index expressions and lookups compare.
type sqlite struct{}

// SQLite returns the SQLite dialect implementation.
func SQLite() Dialect {
	return &sqlite{}
}

func (d *sqlite) Name() string {
	return "sqlite"
}

func (d *sqlite) QuoteIdent(name string) string {
	return quoteIdent(name)
}

func (d *sqlite) Placeholder(index int) string {
	return "?"
}

func (d *sqlite) JSONPlaceholder(index int) string {
	return "?"
}

func (d *sqlite) DocumentType() string {
	return "TEXT"
}

func (d *sqlite) FieldExpr(field string) string {
	// Field names are validated identifiers, so they never contain quotes.
	return `doc -> '$."` + field + `"'`
}

func (d *sqlite) ListTablesSQL() string {
	return `SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`
}

func (d *sqlite) ListIndexesSQL() string {
	// Automatic indexes (primary key) have a NULL sql column.
	return `SELECT name FROM sqlite_master WHERE type = 'index' AND tbl_name = ? AND sql IS NOT NULL ORDER BY name`
}
