package relmap

import (
	"slices"

	"github.com/hlop3z/relmap/internal/alerr"
	"github.com/hlop3z/relmap/internal/rql"
	"github.com/hlop3z/relmap/internal/store"
)

// Kind names the cardinality of a relation.
type Kind string

// Relation kinds.
const (
	KindHasOne        Kind = "hasOne"
	KindBelongsTo     Kind = "belongsTo"
	KindHasMany       Kind = "hasMany"
	KindBelongsToMany Kind = "belongsToMany"
)

// Many reports whether the relation resolves to a list.
func (k Kind) Many() bool {
	return k == KindHasMany || k == KindBelongsToMany
}

// Relation resolves the rows of a target table related to a row of the
// owning table.
//
// The owning table is the one whose Relations thunk declares the relation.
// One is a primary key of the owning table and others are primary keys of the
// target table.
type Relation interface {
	Kind() Kind
	Target() *Table

	// Query selects the related rows of row. A row whose key is null
	// selects an empty list without querying the store.
	Query(row rql.Term, opts QueryOptions) rql.Term

	// Coerce turns the result of Query into the relation's shape: an object
	// or null, or a list. Coerce is idempotent.
	Coerce(q rql.Term) rql.Term

	Create(one any, others ...any) (rql.Term, error)
	Remove(one any, others ...any) (rql.Term, error)
	Has(one any, others ...any) (rql.Term, error)

	// Err reports a declaration problem. A relation with an error cannot be
	// queried.
	Err() error

	relation()
}

// HasOne relates a row to the single row of link.Left.Table whose
// link.Left.Field holds the row's link.Right.Field.
func HasOne(link *Link) Relation {
	return &direct{kind: KindHasOne, link: link}
}

// HasMany is HasOne resolving to every matching row.
func HasMany(link *Link) Relation {
	return &direct{kind: KindHasMany, link: link}
}

// BelongsTo relates a row holding link.Left.Field to the row of
// link.Right.Table with that value in link.Right.Field.
func BelongsTo(link *Link) Relation {
	return &direct{kind: KindBelongsTo, link: link}
}

// direct implements the relation kinds that resolve through a single link.
type direct struct {
	kind Kind
	link *Link
}

func (r *direct) relation() {}

func (r *direct) Kind() Kind { return r.kind }

func (r *direct) Err() error { return r.link.Err() }

func (r *direct) Target() *Table {
	if r.link == nil {
		return nil
	}
	if r.kind == KindBelongsTo {
		return r.link.Right.Table
	}
	return r.link.Left.Table
}

func (r *direct) Query(row rql.Term, opts QueryOptions) rql.Term {
	l := r.link
	key, lookup := row.Field(l.Right.Field), l.Left
	if r.kind == KindBelongsTo {
		key, lookup = row.Field(l.Left.Field), l.Right
	}
	return key.Do(func(k rql.Term) rql.Term {
		q := lookup.Table.Query().GetAll(lookup.Field, k)
		return rql.Branch(k, opts.apply(q), rql.EmptyArray())
	})
}

func (r *direct) Coerce(q rql.Term) rql.Term {
	if r.kind.Many() {
		return q.CoerceToArray()
	}
	return coerceOne(q)
}

func (r *direct) Create(one any, others ...any) (rql.Term, error) {
	if err := r.Err(); err != nil {
		return rql.Term{}, err
	}
	l := r.link

	if r.kind == KindBelongsTo {
		other, err := single(others)
		if err != nil {
			return rql.Term{}, err
		}
		return l.Right.Table.Get(other).Field(l.Right.Field).Do(func(key rql.Term) rql.Term {
			return rql.Branch(key, l.Left.Table.set(l.Left.Table.Get(one), l.Left.Field, key), skipped())
		}), nil
	}

	others = distinct(others)
	if len(others) == 0 {
		return rql.Term{}, needOthers(r.kind)
	}
	// A missing owner, or one without a value in the linked field, has
	// nothing to link to.
	return l.Right.Table.Get(one).Field(l.Right.Field).Do(func(key rql.Term) rql.Term {
		writes := make([]rql.Term, len(others))
		for i, other := range others {
			writes[i] = l.Left.Table.set(l.Left.Table.Get(other), l.Left.Field, key)
		}
		return rql.Branch(key, rql.Batch(writes...), skipped())
	}), nil
}

// Remove clears the link field. For HasOne and HasMany, others limits the
// rows unlinked; without others every linked row is unlinked. Rows that are
// not linked to one are left alone.
func (r *direct) Remove(one any, others ...any) (rql.Term, error) {
	if err := r.Err(); err != nil {
		return rql.Term{}, err
	}
	l := r.link

	if r.kind == KindBelongsTo {
		if len(others) == 0 {
			return l.Left.Table.set(l.Left.Table.Get(one), l.Left.Field, rql.Null()), nil
		}
		other, err := single(others)
		if err != nil {
			return rql.Term{}, err
		}
		return l.Right.Table.Get(other).Field(l.Right.Field).Do(func(key rql.Term) rql.Term {
			linked := l.Left.Table.Query().GetAll(l.Left.Table.pk, one).
				HasFields(l.Left.Field).
				FilterEq(l.Left.Field, key)
			return rql.Branch(key, l.Left.Table.set(linked, l.Left.Field, rql.Null()), skipped())
		}), nil
	}

	others = distinct(others)
	return l.Right.Table.Get(one).Field(l.Right.Field).Do(func(key rql.Term) rql.Term {
		return rql.Branch(key, l.Left.Table.set(r.linked(key, others), l.Left.Field, rql.Null()), skipped())
	}), nil
}

// Has reports whether one is linked to every row of others. For HasOne and
// HasMany, no others asks whether one is linked to anything.
func (r *direct) Has(one any, others ...any) (rql.Term, error) {
	if err := r.Err(); err != nil {
		return rql.Term{}, err
	}
	l := r.link

	if r.kind == KindBelongsTo {
		other, err := single(others)
		if err != nil {
			return rql.Term{}, err
		}
		return l.Right.Table.Get(other).Do(func(target rql.Term) rql.Term {
			return l.Left.Table.Get(one).Do(func(row rql.Term) rql.Term {
				return rql.And(target, row.HasFields(l.Left.Field), row.Field(l.Left.Field).Eq(target.Field(l.Right.Field)))
			})
		}), nil
	}

	others = distinct(others)
	want := max(len(others), 1)
	return l.Right.Table.Get(one).Field(l.Right.Field).Do(func(key rql.Term) rql.Term {
		return rql.Branch(key, r.linked(key, others).Count().Ge(want), false)
	}), nil
}

// linked selects the rows of the left table whose link field holds key,
// restricted to others when given. key must not be null.
func (r *direct) linked(key rql.Term, others []any) rql.Term {
	l := r.link
	if len(others) == 0 {
		return l.Left.Table.Query().GetAll(l.Left.Field, key)
	}
	return l.Left.Table.Query().GetAll(l.Left.Table.pk, others...).
		HasFields(l.Left.Field).
		FilterEq(l.Left.Field, key)
}

// set writes v into field of every row of sel, refreshing updatedAt when the
// table declares it.
func (t *Table) set(sel rql.Term, field string, v rql.Term) rql.Term {
	patch := map[string]any{field: v}
	if t.HasField("updatedAt") {
		patch["updatedAt"] = rql.Now()
	}
	return sel.Update(patch)
}

// coerceOne picks the first row of a sequence, or null. Objects and null pass
// through unchanged.
func coerceOne(q rql.Term) rql.Term {
	return q.Do(func(v rql.Term) rql.Term {
		typ := v.TypeOf()
		return rql.Branch(
			rql.Or(typ.Eq("OBJECT"), typ.Eq("SELECTION<OBJECT>"), typ.Eq("NULL")),
			v,
			v.Nth(0).Default(nil),
		)
	})
}

func skipped() rql.Term {
	return rql.Expr(store.WriteResult{Skipped: 1})
}

// distinct drops repeated keys, keeping the first occurrence.
func distinct(keys []any) []any {
	out := make([]any, 0, len(keys))
	for _, k := range keys {
		if !slices.ContainsFunc(out, func(seen any) bool { return store.Equal(seen, k) }) {
			out = append(out, k)
		}
	}
	return out
}

func single(others []any) (any, error) {
	if len(others) != 1 {
		return nil, alerr.Newf(alerr.ErrInvalidRelation, "%s takes exactly one related key, got %d", KindBelongsTo, len(others))
	}
	return others[0], nil
}

func needOthers(kind Kind) error {
	return alerr.Newf(alerr.ErrInvalidRelation, "%s needs at least one related key", kind)
}
