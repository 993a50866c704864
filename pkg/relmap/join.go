package relmap

import (
	"github.com/hlop3z/relmap/internal/rql"
)

// WithJoin embeds related rows into every row of q, under the relation's name.
// q may select one row, null, or a sequence of rows; a null row stays null.
// Every relation named in inc, at any depth, is resolved before the term is
// built, so an unknown relation fails here and never at run time.
func (t *Table) WithJoin(q rql.Term, inc Include) (rql.Term, error) {
	embed, err := t.compile(inc)
	if err != nil {
		return rql.Term{}, err
	}
	return embed(q), nil
}

// compile turns inc into a function that adds the embeddings to a term.
func (t *Table) compile(inc Include) (func(rql.Term) rql.Term, error) {
	var steps []func(rql.Term) rql.Term
	for _, name := range sortedKeys(inc) {
		var (
			opts     QueryOptions
			children Include
		)
		switch e := inc[name].(type) {
		case nil, Skip:
			continue
		case Leaf:
			opts = e.Options
		case Nested:
			opts, children = e.Options, e.Children
		}

		rel, err := t.Relation(name)
		if err != nil {
			return nil, err
		}
		steps = append(steps, func(q rql.Term) rql.Term {
			return q.Merge(func(row rql.Term) rql.Term {
				return rql.Expr(map[string]any{name: rel.Coerce(rel.Query(row, opts))})
			})
		})

		if len(children) == 0 {
			continue
		}
		nested, err := rel.Target().compile(children)
		if err != nil {
			return nil, annotate(err, t.name, name)
		}
		steps = append(steps, func(q rql.Term) rql.Term {
			return q.Merge(func(row rql.Term) rql.Term {
				return rql.Expr(map[string]any{name: nested(row.Field(name))})
			})
		})
	}

	return func(q rql.Term) rql.Term {
		for _, step := range steps {
			q = step(q)
		}
		return q
	}, nil
}

// GetRelated returns the rows related to pk through the named relation, in
// the relation's shape. entry may be nil, which is Leaf{}.
func (t *Table) GetRelated(pk any, name string, entry Entry) (rql.Term, error) {
	if entry == nil {
		entry = Leaf{}
	}
	q, err := t.WithJoin(t.Get(pk), Include{name: entry})
	if err != nil {
		return rql.Term{}, err
	}
	return q.Field(name), nil
}

// QueryRelated returns the candidate rows related to pk, before the
// relation's shape is applied.
func (t *Table) QueryRelated(pk any, name string, opts QueryOptions) (rql.Term, error) {
	rel, err := t.Relation(name)
	if err != nil {
		return rql.Term{}, err
	}
	return rel.Query(t.Get(pk), opts), nil
}

// CreateRelation links pk to others through the named relation.
func (t *Table) CreateRelation(name string, pk any, others ...any) (rql.Term, error) {
	rel, err := t.Relation(name)
	if err != nil {
		return rql.Term{}, err
	}
	q, err := rel.Create(pk, flatten(others)...)
	return q, annotate(err, t.name, name)
}

// RemoveRelation unlinks pk from others through the named relation.
func (t *Table) RemoveRelation(name string, pk any, others ...any) (rql.Term, error) {
	rel, err := t.Relation(name)
	if err != nil {
		return rql.Term{}, err
	}
	q, err := rel.Remove(pk, flatten(others)...)
	return q, annotate(err, t.name, name)
}

// HasRelation reports whether pk is linked to others through the named
// relation.
func (t *Table) HasRelation(name string, pk any, others ...any) (rql.Term, error) {
	rel, err := t.Relation(name)
	if err != nil {
		return rql.Term{}, err
	}
	q, err := rel.Has(pk, flatten(others)...)
	return q, annotate(err, t.name, name)
}

// flatten expands a single slice argument into its elements.
func flatten(others []any) []any {
	if len(others) != 1 {
		return others
	}
	if ks, many := keys(others[0]); many {
		return ks
	}
	return others
}
