package relmap

import (
	"go.uber.org/zap"

	"github.com/hlop3z/relmap/internal/rql"
	"github.com/hlop3z/relmap/internal/schema"
	"github.com/hlop3z/relmap/internal/store"
)

// DefaultPrimaryKey is the primary key field of tables that do not name one.
const DefaultPrimaryKey = "id"

// TableOptions declares a table.
type TableOptions struct {
	// Name is the physical table name. Required.
	Name string

	// PrimaryKey names the primary key field. Default: "id".
	PrimaryKey string

	// Schema returns the field descriptors. Required. Evaluated once.
	Schema func() schema.Schema

	// Relations returns the named relations. Evaluated once, on first use.
	Relations func() Relations

	// Indexes declares compound indexes: name -> ordered fields.
	Indexes map[string][]string

	// Logger receives debug output. If nil, the environment's logger is used.
	Logger *zap.Logger
}

// Relations maps relation names to relations.
type Relations map[string]Relation

// QueryOptions customizes a relation query.
type QueryOptions struct {
	// Apply transforms the related selection before it is coerced, for
	// example to filter, order or limit it.
	Apply func(rql.Term) rql.Term
}

func (o QueryOptions) apply(q rql.Term) rql.Term {
	if o.Apply == nil {
		return q
	}
	return o.Apply(q)
}

// InsertOptions customizes Table.Insert.
type InsertOptions struct {
	Conflict store.Conflict
}

// ForeignKeyOptions customizes Table.ForeignKey.
type ForeignKeyOptions struct {
	// Field is the referenced field. Default: the primary key.
	Field string

	// ManyToMany produces a required, non-null key for join tables. Otherwise
	// the key is nullable and defaults to null.
	ManyToMany bool
}
