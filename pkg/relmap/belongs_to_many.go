package relmap

import (
	"slices"

	"github.com/hlop3z/relmap/internal/alerr"
	"github.com/hlop3z/relmap/internal/rql"
)

// ManyOption configures BelongsToMany.
type ManyOption func(*belongsToMany)

// WithIndex names the compound index of the join table over
// (links[0].Left.Field, links[1].Left.Field). Without it, a matching compound
// index is looked up among the join table's declared indexes; when none
// exists, edges are found by scanning the first link's field index.
func WithIndex(name string) ManyOption {
	return func(r *belongsToMany) {
		r.index = name
		r.explicit = true
	}
}

// BelongsToMany relates rows through a join table. links[0] joins the join
// table to the owning table and links[1] joins it to the target table; both
// links have the join table on their left side.
func BelongsToMany(links []*Link, opts ...ManyOption) Relation {
	r := &belongsToMany{links: links}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type belongsToMany struct {
	links    []*Link
	index    string
	explicit bool
}

func (r *belongsToMany) relation() {}

func (r *belongsToMany) Kind() Kind { return KindBelongsToMany }

func (r *belongsToMany) Target() *Table {
	if len(r.links) != 2 || r.links[1] == nil {
		return nil
	}
	return r.links[1].Right.Table
}

func (r *belongsToMany) Err() error {
	if len(r.links) != 2 {
		return alerr.Newf(alerr.ErrInvalidRelation, "%s takes exactly two links, got %d", KindBelongsToMany, len(r.links))
	}
	for _, l := range r.links {
		if err := l.Err(); err != nil {
			return err
		}
	}
	own, other := r.links[0], r.links[1]
	if own.Left.Table != other.Left.Table {
		return alerr.Newf(alerr.ErrInvalidRelation, "links use different join tables %q and %q",
			own.Left.Table.name, other.Left.Table.name).
			WithHelp("both links must start at the join table")
	}
	if own.Left.Field == other.Left.Field {
		return alerr.Newf(alerr.ErrInvalidRelation, "links share the join field %q", own.Left.Field)
	}
	if r.explicit {
		if !slices.Equal(own.Left.Table.indexes[r.index], r.edgeFields()) {
			return alerr.Newf(alerr.ErrInvalidRelation, "join table has no compound index %q over %v", r.index, r.edgeFields()).
				WithTable(own.Left.Table.name)
		}
	}
	return nil
}

func (r *belongsToMany) join() *Table { return r.links[0].Left.Table }

func (r *belongsToMany) edgeFields() []string {
	return []string{r.links[0].Left.Field, r.links[1].Left.Field}
}

// edgeIndex returns the compound index over the edge fields, or "".
func (r *belongsToMany) edgeIndex() string {
	if r.explicit {
		return r.index
	}
	join := r.join()
	for _, name := range sortedKeys(join.indexes) {
		if slices.Equal(join.indexes[name], r.edgeFields()) {
			return name
		}
	}
	return ""
}

// EdgeIndex returns the compound index rel uses to find join rows, or "" when
// rel is not a valid BelongsToMany relation or has no such index.
func EdgeIndex(rel Relation) string {
	r, ok := rel.(*belongsToMany)
	if !ok || r.Err() != nil {
		return ""
	}
	return r.edgeIndex()
}

// Query applies opts to the join rows, so the transform can filter, order or
// page edges before the target rows are fetched.
func (r *belongsToMany) Query(row rql.Term, opts QueryOptions) rql.Term {
	own, other := r.links[0], r.links[1]
	target := other.Right

	return row.Field(own.Right.Field).Do(func(key rql.Term) rql.Term {
		edges := r.join().Query().GetAll(own.Left.Field, key).HasFields(other.Left.Field)
		ids := opts.apply(edges).Map(func(edge rql.Term) rql.Term { return edge.Field(other.Left.Field) }).CoerceToArray()

		related := ids.Do(func(ids rql.Term) rql.Term {
			q := target.Table.Query().GetAllArgs(target.Field, ids)
			return rql.Branch(ids.Count().Gt(0), q, rql.EmptyArray())
		})
		return rql.Branch(key, related, rql.EmptyArray())
	})
}

func (r *belongsToMany) Coerce(q rql.Term) rql.Term {
	return q.CoerceToArray()
}

// edges selects the join rows between one and others.
func (r *belongsToMany) edges(one any, others []any) rql.Term {
	join := r.join().Query()
	fields := r.edgeFields()

	if idx := r.edgeIndex(); idx != "" {
		keys := make([]any, len(others))
		for i, o := range others {
			keys[i] = []any{one, o}
		}
		return join.GetAll(idx, keys...)
	}

	q := join.GetAll(fields[0], one)
	if len(others) == 1 {
		return q.FilterEq(fields[1], others[0])
	}
	return q.Filter(func(edge rql.Term) rql.Term {
		return rql.Expr(others).Contains(edge.Field(fields[1]))
	})
}

// Create inserts one join row per pair that is not already linked.
func (r *belongsToMany) Create(one any, others ...any) (rql.Term, error) {
	if err := r.Err(); err != nil {
		return rql.Term{}, err
	}
	if len(others) == 0 {
		return rql.Term{}, needOthers(KindBelongsToMany)
	}
	others = distinct(others)

	fields := r.edgeFields()
	writes := make([]rql.Term, len(others))
	for i, other := range others {
		insert, err := r.join().Insert(map[string]any{fields[0]: one, fields[1]: other}, InsertOptions{})
		if err != nil {
			return rql.Term{}, err
		}
		writes[i] = rql.Branch(r.edges(one, []any{other}).Count().Gt(0), rql.NoWrite(), insert)
	}
	return rql.Batch(writes...), nil
}

func (r *belongsToMany) Remove(one any, others ...any) (rql.Term, error) {
	if err := r.Err(); err != nil {
		return rql.Term{}, err
	}
	if len(others) == 0 {
		return r.join().Query().GetAll(r.edgeFields()[0], one).Delete(), nil
	}
	return r.edges(one, distinct(others)).Delete(), nil
}

func (r *belongsToMany) Has(one any, others ...any) (rql.Term, error) {
	if err := r.Err(); err != nil {
		return rql.Term{}, err
	}
	if len(others) == 0 {
		return r.join().Query().GetAll(r.edgeFields()[0], one).Count().Gt(0), nil
	}
	// Each pair is tested on its own: repeated join rows for one pair must
	// not stand in for another.
	others = distinct(others)
	linked := make([]any, len(others))
	for i, other := range others {
		linked[i] = r.edges(one, []any{other}).Count().Gt(0)
	}
	return rql.And(linked...), nil
}
