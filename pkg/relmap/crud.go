package relmap

import (
	"fmt"
	"reflect"
	"slices"

	"github.com/hlop3z/relmap/internal/alerr"
	"github.com/hlop3z/relmap/internal/rql"
	"github.com/hlop3z/relmap/internal/store"
)

// Get selects the row with the given primary key, or null.
func (t *Table) Get(pk any) rql.Term {
	return t.Query().Get(pk)
}

// Insert validates data, a document or a list of documents, and returns a
// term that checks unique fields before inserting. A unique violation makes
// the term fail with ErrUniqueConflict and nothing is written.
func (t *Table) Insert(data any, opts InsertOptions) (rql.Term, error) {
	docs, err := documents(data)
	if err != nil {
		return rql.Term{}, annotate(err, t.name, "")
	}

	rows := make([]any, len(docs))
	var checks []rql.Term
	for i, doc := range docs {
		row, err := t.Attempt(doc)
		if err != nil {
			return rql.Term{}, err
		}
		rows[i] = row

		var own []any
		if pk, ok := row[t.pk]; ok {
			own = []any{pk}
		}
		checks = append(checks, t.uniqueChecks(row, own)...)
	}
	if err := t.uniqueInBatch(rows); err != nil {
		return rql.Term{}, err
	}

	return guard(checks, t.Query().Insert(rows, opts.Conflict)), nil
}

// Update merges patch into the row with primary key pk, or into every row when
// pk is a slice. Plain patch values are validated against the schema; rql.Term
// values are evaluated against the store. updatedAt is refreshed when the
// schema declares it and the patch does not set it.
func (t *Table) Update(pk any, patch map[string]any) (rql.Term, error) {
	pks, many := keys(pk)

	plain := make(map[string]any, len(patch))
	computed := make(map[string]any)
	for k, v := range patch {
		switch v.(type) {
		case rql.Term, *rql.Term:
			if err := t.AssertField(k); err != nil {
				return rql.Term{}, err
			}
			computed[k] = v
		default:
			plain[k] = v
		}
	}
	valid, err := t.Schema().AttemptPatch(plain)
	if err != nil {
		return rql.Term{}, annotate(err, t.name, "")
	}
	if _, ok := valid[t.pk]; ok {
		return rql.Term{}, alerr.New(alerr.ErrValidation, "primary key cannot be updated").
			WithTable(t.name).WithField(t.pk)
	}

	checks := t.uniqueChecks(valid, pks)
	if many && len(pks) > 1 && len(checks) > 0 {
		return rql.Term{}, alerr.New(alerr.ErrUniqueConflict, "cannot set a unique field on more than one row").
			WithTable(t.name)
	}

	for k, v := range computed {
		valid[k] = v
	}
	if _, ok := valid["updatedAt"]; !ok && t.HasField("updatedAt") {
		valid["updatedAt"] = rql.Now()
	}

	sel := t.Get(pk)
	if many {
		sel = t.Query().GetAll(t.pk, pks...)
	}
	return guard(checks, sel.Update(valid)), nil
}

// Delete removes the row with primary key pk, or every row when pk is a slice.
func (t *Table) Delete(pk any) rql.Term {
	if pks, many := keys(pk); many {
		return t.Query().GetAll(t.pk, pks...).Delete()
	}
	return t.Get(pk).Delete()
}

// uniqueInBatch fails when two rows of one insert share a unique value. The
// store checks only see rows written before the insert runs.
func (t *Table) uniqueInBatch(rows []any) error {
	if len(rows) < 2 {
		return nil
	}
	for _, field := range t.MetaFields("unique") {
		if field == t.pk {
			continue
		}
		var seen []any
		for _, row := range rows {
			v, ok := row.(map[string]any)[field]
			if !ok || v == nil {
				continue
			}
			if slices.ContainsFunc(seen, func(s any) bool { return store.Equal(s, v) }) {
				return alerr.Newf(alerr.ErrUniqueConflict, "%q field is unique in %q table; { %q: %v } appears twice in the insert", field, t.name, field, v).
					WithTable(t.name).WithField(field)
			}
			seen = append(seen, v)
		}
	}
	return nil
}

// uniqueChecks returns one term per unique field set in data. Each fails with
// ErrUniqueConflict when another row, not listed in exclude, holds the value.
func (t *Table) uniqueChecks(data map[string]any, exclude []any) []rql.Term {
	var checks []rql.Term
	for _, field := range t.MetaFields("unique") {
		v, ok := data[field]
		if !ok || v == nil || field == t.pk {
			continue
		}
		q := t.Query().GetAll(field, v)
		if len(exclude) > 0 {
			q = q.Filter(func(row rql.Term) rql.Term {
				return rql.Expr(exclude).Contains(row.Field(t.pk)).Not()
			})
		}
		msg := fmt.Sprintf("%q field is unique in %q table; { %q: %v } already exists", field, t.name, field, v)
		checks = append(checks, rql.Branch(q.Count().Gt(0), rql.Error(alerr.ErrUniqueConflict, msg), nil))
	}
	return checks
}

// guard evaluates every check, in order, before write.
func guard(checks []rql.Term, write rql.Term) rql.Term {
	if len(checks) == 0 {
		return write
	}
	return rql.Expr(checks).Do(func(rql.Term) rql.Term { return write })
}

func documents(data any) ([]map[string]any, error) {
	switch d := data.(type) {
	case map[string]any:
		return []map[string]any{d}, nil
	case []map[string]any:
		return d, nil
	case []any:
		out := make([]map[string]any, len(d))
		for i, el := range d {
			m, ok := el.(map[string]any)
			if !ok {
				return nil, alerr.Newf(alerr.ErrValidation, "document %d is %T, want an object", i, el)
			}
			out[i] = m
		}
		return out, nil
	}
	return nil, alerr.Newf(alerr.ErrValidation, "cannot insert %T; want an object or a list of objects", data)
}

// keys reports whether pk is a list of keys and returns its elements.
func keys(pk any) ([]any, bool) {
	switch k := pk.(type) {
	case []any:
		return k, true
	case []string:
		out := make([]any, len(k))
		for i, s := range k {
			out[i] = s
		}
		return out, true
	case nil, string:
		return []any{pk}, false
	}
	rv := reflect.ValueOf(pk)
	if rv.Kind() != reflect.Slice {
		return []any{pk}, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}
