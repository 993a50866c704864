package rql

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/hlop3z/relmap/internal/alerr"
	"github.com/hlop3z/relmap/internal/store"
)

// evaluator runs one term tree against a session.
type evaluator struct {
	ctx context.Context
	s   *Session
}

// sequence is the element view of an array or a row stream. ref is set when
// the elements are rows that can still be written.
type sequence struct {
	elems []any
	ref   *store.TableRef
}

func (q sequence) rebuild(elems []any) any {
	if q.ref == nil {
		return elems
	}
	rows := make([]store.Document, len(elems))
	for i, el := range elems {
		rows[i], _ = el.(map[string]any)
	}
	return streamSel{ref: *q.ref, rows: rows}
}

func queryErr(t Term, format string, args ...any) *alerr.Error {
	return alerr.Newf(alerr.ErrQuery, format, args...).With("term", opNames[t.op])
}

func nonExistence(msg string) *alerr.Error {
	return alerr.New(alerr.ErrNonExistence, msg)
}

// seq returns the elements of a sequence value. ok is false for values that
// are not sequences.
func (e *evaluator) seq(v any) (sequence, bool, error) {
	switch x := v.(type) {
	case tableSel:
		rows, err := e.s.store.Scan(e.ctx, x.ref)
		if err != nil {
			return sequence{}, false, err
		}
		ref := x.ref
		return sequence{elems: docsToAny(rows), ref: &ref}, true, nil
	case streamSel:
		ref := x.ref
		return sequence{elems: docsToAny(x.rows), ref: &ref}, true, nil
	case []any:
		return sequence{elems: x}, true, nil
	}
	return sequence{}, false, nil
}

func docsToAny(rows []store.Document) []any {
	out := make([]any, len(rows))
	for i, r := range rows {
		out[i] = r
	}
	return out
}

// plain converts a runtime value into a document value, materializing
// selections.
func (e *evaluator) plain(v any) (any, error) {
	switch x := v.(type) {
	case singleSel:
		if x.row == nil {
			return nil, nil
		}
		return x.row, nil
	case streamSel:
		return docsToAny(x.rows), nil
	case tableSel:
		q, _, err := e.seq(x)
		if err != nil {
			return nil, err
		}
		return q.elems, nil
	}
	return v, nil
}

func (e *evaluator) evalPlain(t Term) (any, error) {
	v, err := e.eval(t)
	if err != nil {
		return nil, err
	}
	return e.plain(v)
}

func (e *evaluator) evalTable(t Term) (tableSel, error) {
	v, err := e.eval(t)
	if err != nil {
		return tableSel{}, err
	}
	tbl, ok := v.(tableSel)
	if !ok {
		return tableSel{}, queryErr(t, "expected TABLE, got %s", typeName(v))
	}
	return tbl, nil
}

func (e *evaluator) evalInt(t Term) (int, error) {
	v, err := e.evalPlain(t)
	if err != nil {
		return 0, err
	}
	f, ok := v.(float64)
	if !ok || f != float64(int(f)) {
		return 0, queryErr(t, "expected integer, got %s", typeName(v))
	}
	return int(f), nil
}

func (e *evaluator) call(fn Func, arg any) (any, error) {
	if fn == nil {
		return nil, alerr.New(alerr.EInternalError, "nil function in term")
	}
	return e.eval(fn(bound(arg)))
}

func (e *evaluator) eval(t Term) (any, error) {
	if err := e.ctx.Err(); err != nil {
		return nil, err
	}

	switch t.op {
	case opDatum, opBound:
		return t.datum, nil

	case opObject:
		out := make(map[string]any, len(t.fields))
		for k, f := range t.fields {
			v, err := e.evalPlain(f)
			if err != nil {
				return nil, err
			}
			out[k] = v
		}
		return out, nil

	case opArray:
		out := make([]any, len(t.args))
		for i, a := range t.args {
			v, err := e.evalPlain(a)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil

	case opTable:
		return tableSel{ref: t.ref}, nil

	case opGet:
		tbl, err := e.evalTable(t.args[0])
		if err != nil {
			return nil, err
		}
		key, err := e.evalPlain(t.args[1])
		if err != nil {
			return nil, err
		}
		row, err := e.s.store.Get(e.ctx, tbl.ref, key)
		if err != nil {
			return nil, err
		}
		return singleSel{ref: tbl.ref, row: row}, nil

	case opGetAll, opGetAllArgs:
		return e.getAll(t)

	case opField:
		return e.field(t)

	case opHasFields:
		return e.hasFields(t)

	case opFilter:
		return e.filter(t)

	case opMap:
		return e.mapTerm(t)

	case opMerge:
		return e.merge(t)

	case opNth:
		return e.nth(t)

	case opDefault:
		v, err := e.eval(t.args[0])
		if err != nil {
			if !alerr.Is(err, alerr.ErrNonExistence) {
				return nil, err
			}
			return e.eval(t.args[1])
		}
		if sel, ok := v.(singleSel); v == nil || (ok && sel.row == nil) {
			return e.eval(t.args[1])
		}
		return v, nil

	case opCoerceToArray:
		v, err := e.eval(t.args[0])
		if err != nil || v == nil {
			return nil, err
		}
		q, ok, err := e.seq(v)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, queryErr(t, "cannot coerce %s to ARRAY", typeName(v))
		}
		return slices.Clone(q.elems), nil

	case opTypeOf:
		v, err := e.eval(t.args[0])
		if err != nil {
			return nil, err
		}
		if sel, ok := v.(singleSel); ok && sel.row == nil {
			return "NULL", nil
		}
		return typeName(v), nil

	case opCount:
		v, err := e.eval(t.args[0])
		if err != nil {
			return nil, err
		}
		q, ok, err := e.seq(v)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, queryErr(t, "cannot count %s", typeName(v))
		}
		return float64(len(q.elems)), nil

	case opEq, opNe, opGt, opGe, opLt, opLe:
		return e.comparison(t)

	case opAnd:
		for _, a := range t.args {
			v, err := e.evalPlain(a)
			if err != nil {
				return nil, err
			}
			if !truthy(v) {
				return false, nil
			}
		}
		return true, nil

	case opOr:
		for _, a := range t.args {
			v, err := e.evalPlain(a)
			if err != nil {
				return nil, err
			}
			if truthy(v) {
				return true, nil
			}
		}
		return false, nil

	case opNot:
		v, err := e.evalPlain(t.args[0])
		if err != nil {
			return nil, err
		}
		return !truthy(v), nil

	case opContains:
		v, err := e.eval(t.args[0])
		if err != nil {
			return nil, err
		}
		q, ok, err := e.seq(v)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, queryErr(t, "cannot search %s", typeName(v))
		}
		needle, err := e.evalPlain(t.args[1])
		if err != nil {
			return nil, err
		}
		return slices.ContainsFunc(q.elems, func(el any) bool { return store.Equal(el, needle) }), nil

	case opBranch:
		cond, err := e.evalPlain(t.args[0])
		if err != nil {
			return nil, err
		}
		if truthy(cond) {
			return e.eval(t.args[1])
		}
		return e.eval(t.args[2])

	case opDo:
		v, err := e.eval(t.args[0])
		if err != nil {
			return nil, err
		}
		return e.call(t.fn, v)

	case opOrderBy:
		return e.orderBy(t)

	case opLimit, opSkip:
		return e.slice(t)

	case opInsert:
		return e.insert(t)

	case opUpdate:
		return e.update(t)

	case opDelete:
		return e.delete(t)

	case opError:
		msg, _ := t.datum.(string)
		return nil, alerr.New(t.opts.code, msg)

	case opNow:
		return e.s.timestamp(), nil

	case opBatch:
		var total store.WriteResult
		for _, a := range t.args {
			v, err := e.eval(a)
			if err != nil {
				return nil, err
			}
			res, ok := v.(store.WriteResult)
			if !ok {
				return nil, queryErr(t, "expected WRITE_RESULT, got %s", typeName(v))
			}
			total.Add(res)
		}
		return total, nil

	case opTableList:
		names, err := e.s.store.TableList(e.ctx)
		if err != nil {
			return nil, err
		}
		return stringsToAny(names), nil

	case opTableCreate:
		names, err := e.s.store.TableList(e.ctx)
		if err != nil {
			return nil, err
		}
		if slices.Contains(names, t.ref.Name) {
			return map[string]any{"tables_created": 0.0}, nil
		}
		if err := e.s.store.TableCreate(e.ctx, t.ref); err != nil {
			return nil, err
		}
		return map[string]any{"tables_created": 1.0}, nil

	case opIndexList:
		tbl, err := e.evalTable(t.args[0])
		if err != nil {
			return nil, err
		}
		names, err := e.s.store.IndexList(e.ctx, tbl.ref)
		if err != nil {
			return nil, err
		}
		return stringsToAny(names), nil

	case opIndexCreate:
		tbl, err := e.evalTable(t.args[0])
		if err != nil {
			return nil, err
		}
		fields := t.names
		if len(fields) == 0 {
			fields = []string{t.opts.index}
		}
		existing, err := e.s.store.IndexList(e.ctx, tbl.ref)
		if err != nil {
			return nil, err
		}
		if slices.Contains(existing, t.opts.index) {
			return map[string]any{"created": 0.0}, nil
		}
		index := store.IndexRef{Name: t.opts.index, Fields: slices.Clone(fields)}
		if err := e.s.store.IndexCreate(e.ctx, tbl.ref, index); err != nil {
			return nil, err
		}
		return map[string]any{"created": 1.0}, nil

	case opIndexWait:
		tbl, err := e.evalTable(t.args[0])
		if err != nil {
			return nil, err
		}
		names := t.names
		if len(names) == 0 {
			if names, err = e.s.store.IndexList(e.ctx, tbl.ref); err != nil {
				return nil, err
			}
		}
		out := make([]any, 0, len(names))
		for _, n := range names {
			if err := e.s.store.IndexWait(e.ctx, tbl.ref, n); err != nil {
				return nil, err
			}
			out = append(out, map[string]any{"index": n, "ready": true})
		}
		return out, nil
	}

	return nil, alerr.Newf(alerr.EInternalError, "unknown term %d", t.op)
}

func stringsToAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

// -----------------------------------------------------------------------------
// Selections
// -----------------------------------------------------------------------------

func (e *evaluator) getAll(t Term) (any, error) {
	tbl, err := e.evalTable(t.args[0])
	if err != nil {
		return nil, err
	}

	var keys []any
	if t.op == opGetAllArgs {
		v, err := e.evalPlain(t.args[1])
		if err != nil {
			return nil, err
		}
		switch x := v.(type) {
		case nil:
		case []any:
			keys = x
		default:
			return nil, queryErr(t, "expected ARRAY of keys, got %s", typeName(v))
		}
	} else {
		for _, a := range t.args[1:] {
			k, err := e.evalPlain(a)
			if err != nil {
				return nil, err
			}
			keys = append(keys, k)
		}
	}

	index := t.opts.index
	if index == "" {
		index = tbl.ref.PrimaryKey
	}

	if index == tbl.ref.PrimaryKey {
		var rows []store.Document
		for _, k := range keys {
			if k == nil {
				continue
			}
			row, err := e.s.store.Get(e.ctx, tbl.ref, k)
			if err != nil {
				return nil, err
			}
			if row != nil {
				rows = append(rows, row)
			}
		}
		return streamSel{ref: tbl.ref, rows: rows}, nil
	}

	rows, err := e.s.store.GetAll(e.ctx, tbl.ref, tbl.ref.Index(index), keys)
	if err != nil {
		return nil, err
	}
	return streamSel{ref: tbl.ref, rows: rows}, nil
}

func (e *evaluator) filter(t Term) (any, error) {
	v, err := e.eval(t.args[0])
	if err != nil {
		return nil, err
	}
	q, ok, err := e.seq(v)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, queryErr(t, "cannot filter %s", typeName(v))
	}

	var pattern map[string]any
	if t.fn == nil {
		p, err := e.evalPlain(t.args[1])
		if err != nil {
			return nil, err
		}
		if pattern, ok = p.(map[string]any); !ok {
			return nil, queryErr(t, "filter predicate must be OBJECT or FUNCTION, got %s", typeName(p))
		}
	}

	kept := make([]any, 0, len(q.elems))
	for _, el := range q.elems {
		if pattern != nil {
			if doc, ok := el.(map[string]any); ok && matches(doc, pattern) {
				kept = append(kept, el)
			}
			continue
		}
		res, err := e.call(t.fn, el)
		if err != nil {
			return nil, err
		}
		if p, err := e.plain(res); err != nil {
			return nil, err
		} else if truthy(p) {
			kept = append(kept, el)
		}
	}
	return q.rebuild(kept), nil
}

func (e *evaluator) hasFields(t Term) (any, error) {
	v, err := e.eval(t.args[0])
	if err != nil {
		return nil, err
	}
	switch x := v.(type) {
	case nil:
		return false, nil
	case singleSel:
		return x.row != nil && hasFields(x.row, t.names), nil
	case map[string]any:
		return hasFields(x, t.names), nil
	}

	q, ok, err := e.seq(v)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, queryErr(t, "cannot test fields of %s", typeName(v))
	}
	kept := make([]any, 0, len(q.elems))
	for _, el := range q.elems {
		if doc, ok := el.(map[string]any); ok && hasFields(doc, t.names) {
			kept = append(kept, el)
		}
	}
	return q.rebuild(kept), nil
}

func (e *evaluator) orderBy(t Term) (any, error) {
	v, err := e.eval(t.args[0])
	if err != nil {
		return nil, err
	}
	q, ok, err := e.seq(v)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, queryErr(t, "cannot order %s", typeName(v))
	}

	field := t.names[0]
	sorted := slices.Clone(q.elems)
	slices.SortStableFunc(sorted, func(a, b any) int {
		c := compare(fieldOf(a, field), fieldOf(b, field))
		if t.opts.desc {
			return -c
		}
		return c
	})
	return q.rebuild(sorted), nil
}

func fieldOf(v any, name string) any {
	if doc, ok := v.(map[string]any); ok {
		return doc[name]
	}
	return nil
}

func (e *evaluator) slice(t Term) (any, error) {
	v, err := e.eval(t.args[0])
	if err != nil {
		return nil, err
	}
	q, ok, err := e.seq(v)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, queryErr(t, "cannot slice %s", typeName(v))
	}
	n, err := e.evalInt(t.args[1])
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, queryErr(t, "expected non-negative count, got %d", n)
	}
	n = min(n, len(q.elems))
	if t.op == opLimit {
		return q.rebuild(slices.Clone(q.elems[:n])), nil
	}
	return q.rebuild(slices.Clone(q.elems[n:])), nil
}

// -----------------------------------------------------------------------------
// Transformations
// -----------------------------------------------------------------------------

func (e *evaluator) field(t Term) (any, error) {
	v, err := e.eval(t.args[0])
	if err != nil {
		return nil, err
	}
	name := t.names[0]

	switch x := v.(type) {
	case nil:
		return nil, nil
	case singleSel:
		if x.row == nil {
			return nil, nil
		}
		return x.row[name], nil
	case map[string]any:
		return x[name], nil
	}

	q, ok, err := e.seq(v)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, queryErr(t, "cannot read field `%s` of %s", name, typeName(v))
	}
	out := make([]any, 0, len(q.elems))
	for _, el := range q.elems {
		if doc, ok := el.(map[string]any); ok {
			if fv, present := doc[name]; present {
				out = append(out, fv)
			}
		}
	}
	return out, nil
}

func (e *evaluator) mapTerm(t Term) (any, error) {
	v, err := e.eval(t.args[0])
	if err != nil {
		return nil, err
	}
	q, ok, err := e.seq(v)
	if err != nil {
		return nil, err
	}
	if !ok {
		p, err := e.plain(v)
		if err != nil {
			return nil, err
		}
		res, err := e.call(t.fn, p)
		if err != nil {
			return nil, err
		}
		return e.plain(res)
	}

	out := make([]any, len(q.elems))
	for i, el := range q.elems {
		res, err := e.call(t.fn, el)
		if err != nil {
			return nil, err
		}
		if out[i], err = e.plain(res); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (e *evaluator) merge(t Term) (any, error) {
	v, err := e.eval(t.args[0])
	if err != nil {
		return nil, err
	}
	if p, err := e.plain(v); err != nil {
		return nil, err
	} else if p == nil {
		return nil, nil
	}

	one := func(el any) (any, error) {
		base, ok := el.(map[string]any)
		if el == nil {
			return nil, nil
		}
		if !ok {
			return nil, queryErr(t, "cannot merge into %s", typeName(el))
		}
		var patch any
		if t.fn != nil {
			patch, err = e.call(t.fn, base)
		} else {
			patch, err = e.eval(t.args[1])
		}
		if err != nil {
			return nil, err
		}
		if patch, err = e.plain(patch); err != nil {
			return nil, err
		}
		switch pm := patch.(type) {
		case nil:
			return maps.Clone(base), nil
		case map[string]any:
			return store.Merge(base, pm), nil
		}
		return nil, queryErr(t, "cannot merge %s into OBJECT", typeName(patch))
	}

	switch x := v.(type) {
	case singleSel:
		return one(x.row)
	case map[string]any:
		return one(x)
	}

	q, ok, err := e.seq(v)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, queryErr(t, "cannot merge into %s", typeName(v))
	}
	out := make([]any, len(q.elems))
	for i, el := range q.elems {
		if out[i], err = one(el); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (e *evaluator) nth(t Term) (any, error) {
	v, err := e.eval(t.args[0])
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, nonExistence("cannot index into null")
	}
	q, ok, err := e.seq(v)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, queryErr(t, "cannot index into %s", typeName(v))
	}
	i, err := e.evalInt(t.args[1])
	if err != nil {
		return nil, err
	}
	if i < 0 {
		i += len(q.elems)
	}
	if i < 0 || i >= len(q.elems) {
		return nil, nonExistence(fmt.Sprintf("index out of bounds: %d", i))
	}
	el := q.elems[i]
	if q.ref != nil {
		doc, _ := el.(map[string]any)
		return singleSel{ref: *q.ref, row: doc}, nil
	}
	return el, nil
}

func (e *evaluator) comparison(t Term) (any, error) {
	a, err := e.evalPlain(t.args[0])
	if err != nil {
		return nil, err
	}
	b, err := e.evalPlain(t.args[1])
	if err != nil {
		return nil, err
	}

	switch t.op {
	case opEq:
		return store.Equal(a, b), nil
	case opNe:
		return !store.Equal(a, b), nil
	}

	c := compare(a, b)
	switch t.op {
	case opGt:
		return c > 0, nil
	case opGe:
		return c >= 0, nil
	case opLt:
		return c < 0, nil
	}
	return c <= 0, nil
}

// -----------------------------------------------------------------------------
// Writes
// -----------------------------------------------------------------------------

func (e *evaluator) insert(t Term) (any, error) {
	tbl, err := e.evalTable(t.args[0])
	if err != nil {
		return nil, err
	}
	v, err := e.evalPlain(t.args[1])
	if err != nil {
		return nil, err
	}

	var docs []store.Document
	switch x := v.(type) {
	case map[string]any:
		docs = []store.Document{x}
	case []any:
		for _, el := range x {
			doc, ok := el.(map[string]any)
			if !ok {
				return nil, queryErr(t, "expected OBJECT to insert, got %s", typeName(el))
			}
			docs = append(docs, doc)
		}
	default:
		return nil, queryErr(t, "expected OBJECT or ARRAY to insert, got %s", typeName(v))
	}

	var total store.WriteResult
	for _, doc := range docs {
		res, err := e.s.store.Insert(e.ctx, tbl.ref, doc, t.opts.conflict)
		if err != nil {
			return nil, err
		}
		total.Add(res)
	}
	return total, nil
}

// selected returns the rows a write applies to. A nil row stands for a
// primary-key selection that matched nothing.
func (e *evaluator) selected(t Term) (store.TableRef, []store.Document, error) {
	v, err := e.eval(t.args[0])
	if err != nil {
		return store.TableRef{}, nil, err
	}
	switch x := v.(type) {
	case singleSel:
		return x.ref, []store.Document{x.row}, nil
	case streamSel:
		return x.ref, x.rows, nil
	case tableSel:
		rows, err := e.s.store.Scan(e.ctx, x.ref)
		return x.ref, rows, err
	}
	return store.TableRef{}, nil, queryErr(t, "expected a selection to write, got %s", typeName(v))
}

func (e *evaluator) update(t Term) (any, error) {
	ref, rows, err := e.selected(t)
	if err != nil {
		return nil, err
	}

	var res store.WriteResult
	for _, row := range rows {
		if row == nil {
			res.Skipped++
			continue
		}

		var patch any
		if t.fn != nil {
			patch, err = e.call(t.fn, singleSel{ref: ref, row: row})
		} else {
			patch, err = e.eval(t.args[1])
		}
		if err != nil {
			return nil, err
		}
		if patch, err = e.plain(patch); err != nil {
			return nil, err
		}

		pm, ok := patch.(map[string]any)
		if !ok {
			if patch == nil {
				res.Skipped++
				continue
			}
			return nil, queryErr(t, "expected OBJECT patch, got %s", typeName(patch))
		}

		next := store.Merge(row, pm)
		if !store.Equal(next[ref.PrimaryKey], row[ref.PrimaryKey]) {
			res.Add(store.WriteResult{
				Errors:     1,
				FirstError: fmt.Sprintf("primary key `%s` cannot be changed", ref.PrimaryKey),
			})
			continue
		}
		if store.Equal(next, row) {
			res.Unchanged++
			continue
		}
		if err := e.s.store.Replace(e.ctx, ref, next); err != nil {
			return nil, err
		}
		res.Replaced++
	}
	return res, nil
}

func (e *evaluator) delete(t Term) (any, error) {
	ref, rows, err := e.selected(t)
	if err != nil {
		return nil, err
	}

	var res store.WriteResult
	for _, row := range rows {
		if row == nil {
			res.Skipped++
			continue
		}
		if err := e.s.store.Delete(e.ctx, ref, row[ref.PrimaryKey]); err != nil {
			return nil, err
		}
		res.Deleted++
	}
	return res, nil
}
