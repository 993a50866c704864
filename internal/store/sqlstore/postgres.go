package sqlstore

import "strconv"

// postgres implements the Dialect interface for PostgreSQL.
// Documents are stored as JSONB; jsonb equality makes lookups independent of
// the textual form of numbers and strings.
type postgres struct{}

// Postgres returns the PostgreSQL dialect implementation.
func Postgres() Dialect {
	return &postgres{}
}

func (d *postgres) Name() string {
	return "postgres"
}

func (d *postgres) QuoteIdent(name string) string {
	return quoteIdent(name)
}

func (d *postgres) Placeholder(index int) string {
	return "$" + strconv.Itoa(index)
}

func (d *postgres) JSONPlaceholder(index int) string {
	return "$" + strconv.Itoa(index) + "::jsonb"
}

func (d *postgres) DocumentType() string {
	return "JSONB"
}

func (d *postgres) FieldExpr(field string) string {
	return "doc -> '" + field + "'"
}

func (d *postgres) ListTablesSQL() string {
	return `SELECT tablename FROM pg_tables WHERE schemaname = current_schema() ORDER BY tablename`
}

func (d *postgres) ListIndexesSQL() string {
	return `SELECT indexname FROM pg_indexes WHERE schemaname = current_schema() AND tablename = $1 ORDER BY indexname`
}
