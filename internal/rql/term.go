// Package rql is a small composable query language over store.Store.
//
// A Term describes a computation without performing it. Terms are immutable
// values: every method returns a new Term and leaves its receiver untouched,
// so partial queries can be shared and extended freely. Nothing touches the
// store until Run is called with a Session.
//
//	users := rql.Table(store.TableRef{Name: "user", PrimaryKey: "id"})
//	q := users.GetAll("teamId", "t1").OrderBy("name").Limit(10)
//	rows, err := rql.RunDocuments(ctx, sess, q)
//
// Values follow a document model: null, booleans, float64 numbers, strings,
// arrays and objects. Selections produced by Table, Get and GetAll stay
// writable through Update and Delete until they are transformed into plain
// values by Map, Merge or CoerceToArray.
package rql

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/hlop3z/relmap/internal/alerr"
	"github.com/hlop3z/relmap/internal/store"
)

// Func builds a term from a bound argument, usually the current row.
type Func func(Term) Term

type op int

const (
	opDatum op = iota
	opBound
	opObject
	opArray
	opTable
	opGet
	opGetAll
	opGetAllArgs
	opField
	opHasFields
	opFilter
	opMap
	opMerge
	opNth
	opDefault
	opCoerceToArray
	opCount
	opTypeOf
	opEq
	opNe
	opGt
	opGe
	opLt
	opLe
	opAnd
	opOr
	opNot
	opContains
	opBranch
	opDo
	opOrderBy
	opLimit
	opSkip
	opInsert
	opUpdate
	opDelete
	opError
	opNow
	opBatch
	opTableList
	opTableCreate
	opIndexList
	opIndexCreate
	opIndexWait
)

var opNames = map[op]string{
	opDatum: "datum", opBound: "var", opObject: "object", opArray: "array",
	opTable: "table", opGet: "get", opGetAll: "getAll", opGetAllArgs: "getAll",
	opField: "field", opHasFields: "hasFields", opFilter: "filter", opMap: "map",
	opMerge: "merge", opNth: "nth", opDefault: "default", opCoerceToArray: "coerceToArray",
	opCount: "count", opTypeOf: "typeOf", opEq: "eq", opNe: "ne", opGt: "gt", opGe: "ge", opLt: "lt", opLe: "le",
	opAnd: "and", opOr: "or", opNot: "not", opContains: "contains", opBranch: "branch",
	opDo: "do", opOrderBy: "orderBy", opLimit: "limit", opSkip: "skip",
	opInsert: "insert", opUpdate: "update", opDelete: "delete", opError: "error",
	opNow: "now", opBatch: "batch", opTableList: "tableList", opTableCreate: "tableCreate",
	opIndexList: "indexList", opIndexCreate: "indexCreate", opIndexWait: "indexWait",
}

// Term is a lazily evaluated expression.
type Term struct {
	op     op
	args   []Term
	datum  any
	fields map[string]Term
	fn     Func
	ref    store.TableRef
	names  []string
	opts   termOptions
}

type termOptions struct {
	index    string
	desc     bool
	conflict store.Conflict
	code     alerr.Code
}

// -----------------------------------------------------------------------------
// Constructors
// -----------------------------------------------------------------------------

// Expr converts a Go value into a term. Maps and slices may contain terms at
// any depth; they are evaluated when the enclosing term runs.
func Expr(v any) Term {
	switch x := v.(type) {
	case Term:
		return x
	case *Term:
		return *x
	case map[string]Term:
		fields := make(map[string]Term, len(x))
		maps.Copy(fields, x)
		return Term{op: opObject, fields: fields}
	case map[string]any:
		if !containsTerm(x) {
			return Term{op: opDatum, datum: store.Normalize(x)}
		}
		fields := make(map[string]Term, len(x))
		for k, e := range x {
			fields[k] = Expr(e)
		}
		return Term{op: opObject, fields: fields}
	case []Term:
		return Term{op: opArray, args: slices.Clone(x)}
	case []any:
		if !containsTerm(x) {
			return Term{op: opDatum, datum: store.Normalize(x)}
		}
		args := make([]Term, len(x))
		for i, e := range x {
			args[i] = Expr(e)
		}
		return Term{op: opArray, args: args}
	case store.WriteResult:
		return Term{op: opDatum, datum: x}
	}
	return Term{op: opDatum, datum: store.Normalize(v)}
}

func containsTerm(v any) bool {
	switch x := v.(type) {
	case Term, *Term, map[string]Term, []Term:
		return true
	case map[string]any:
		for _, e := range x {
			if containsTerm(e) {
				return true
			}
		}
	case []any:
		for _, e := range x {
			if containsTerm(e) {
				return true
			}
		}
	}
	return false
}

// Null is the null literal.
func Null() Term {
	return Term{op: opDatum}
}

// EmptyArray is the [] literal.
func EmptyArray() Term {
	return Term{op: opDatum, datum: []any{}}
}

// NoWrite evaluates to an empty write result.
func NoWrite() Term {
	return Term{op: opDatum, datum: store.WriteResult{}}
}

// Table selects every row of a table.
func Table(ref store.TableRef) Term {
	return Term{op: opTable, ref: ref}
}

// Branch evaluates then when cond is truthy and otherwise else. Only false
// and null are falsy. The arm not taken is never evaluated.
func Branch(cond, then, otherwise any) Term {
	return Term{op: opBranch, args: []Term{Expr(cond), Expr(then), Expr(otherwise)}}
}

// Error fails the query with a structured error when evaluated.
func Error(code alerr.Code, msg string) Term {
	return Term{op: opError, datum: msg, opts: termOptions{code: code}}
}

// Now evaluates to the session clock as an RFC 3339 timestamp.
func Now() Term {
	return Term{op: opNow}
}

// Batch runs write terms in order and sums their results. Evaluation stops at
// the first error.
func Batch(writes ...Term) Term {
	return Term{op: opBatch, args: slices.Clone(writes)}
}

// And is true when every term is truthy. Evaluation stops at the first falsy
// term; And() is true.
func And(terms ...any) Term {
	return Term{op: opAnd, args: exprs(terms)}
}

// Or is true when any term is truthy. Evaluation stops at the first truthy
// term; Or() is false.
func Or(terms ...any) Term {
	return Term{op: opOr, args: exprs(terms)}
}

// TableList lists the tables of the store.
func TableList() Term {
	return Term{op: opTableList}
}

// TableCreate creates the table unless it exists.
func TableCreate(ref store.TableRef) Term {
	return Term{op: opTableCreate, ref: ref}
}

func exprs(vs []any) []Term {
	out := make([]Term, len(vs))
	for i, v := range vs {
		out[i] = Expr(v)
	}
	return out
}

func bound(v any) Term {
	return Term{op: opBound, datum: v}
}

func (t Term) chain(o op, args ...Term) Term {
	return Term{op: o, args: append([]Term{t}, args...)}
}

// -----------------------------------------------------------------------------
// Selections
// -----------------------------------------------------------------------------

// Get selects the row with the given primary key, or null.
func (t Term) Get(key any) Term {
	return t.chain(opGet, Expr(key))
}

// GetAll selects the rows whose index value equals any of keys. Keys for a
// compound index are arrays with one value per indexed field. Null keys match
// nothing.
func (t Term) GetAll(index string, keys ...any) Term {
	n := t.chain(opGetAll, exprs(keys)...)
	n.opts.index = index
	return n
}

// GetAllArgs is GetAll with the key list computed by a term.
func (t Term) GetAllArgs(index string, keys Term) Term {
	n := t.chain(opGetAllArgs, keys)
	n.opts.index = index
	return n
}

// Filter keeps rows for which pred is truthy. pred is a Func over the row, or
// an object whose fields must all equal the row's.
func (t Term) Filter(pred any) Term {
	n := t.chain(opFilter)
	switch p := pred.(type) {
	case Func:
		n.fn = p
	case func(Term) Term:
		n.fn = p
	default:
		n.args = append(n.args, Expr(p))
	}
	return n
}

// FilterEq keeps rows whose field equals value.
func (t Term) FilterEq(field string, value any) Term {
	return t.Filter(Func(func(row Term) Term {
		return row.Field(field).Eq(value)
	}))
}

// HasFields keeps rows, or tests a single value, for the presence of non-null
// fields.
func (t Term) HasFields(names ...string) Term {
	n := t.chain(opHasFields)
	n.names = slices.Clone(names)
	return n
}

// OrderBy sorts rows ascending by field.
func (t Term) OrderBy(field string) Term {
	n := t.chain(opOrderBy)
	n.names = []string{field}
	return n
}

// OrderByDesc sorts rows descending by field.
func (t Term) OrderByDesc(field string) Term {
	n := t.OrderBy(field)
	n.opts.desc = true
	return n
}

// Limit keeps the first n rows.
func (t Term) Limit(n int) Term {
	return t.chain(opLimit, Expr(n))
}

// Skip drops the first n rows.
func (t Term) Skip(n int) Term {
	return t.chain(opSkip, Expr(n))
}

// -----------------------------------------------------------------------------
// Transformations
// -----------------------------------------------------------------------------

// Field reads a field of an object, or of every object of a sequence. Absent
// fields and null objects yield null.
func (t Term) Field(name string) Term {
	n := t.chain(opField)
	n.names = []string{name}
	return n
}

// Map applies fn to every element of a sequence, or to a single value.
func (t Term) Map(fn Func) Term {
	n := t.chain(opMap)
	n.fn = fn
	return n
}

// Merge shallowly merges an object into the value, or into every element of
// a sequence. v is an object, a term or a Func over the row. Merging into null
// yields null.
func (t Term) Merge(v any) Term {
	n := t.chain(opMerge)
	switch f := v.(type) {
	case Func:
		n.fn = f
	case func(Term) Term:
		n.fn = f
	default:
		n.args = append(n.args, Expr(f))
	}
	return n
}

// Nth selects the i-th element of a sequence. Out of range indexes fail with
// ErrNonExistence, which Default absorbs.
func (t Term) Nth(i int) Term {
	return t.chain(opNth, Expr(i))
}

// Default replaces null, and non-existence errors, with v.
func (t Term) Default(v any) Term {
	return t.chain(opDefault, Expr(v))
}

// CoerceToArray materializes a sequence. Null stays null.
func (t Term) CoerceToArray() Term {
	return t.chain(opCoerceToArray)
}

// Count counts the elements of a sequence.
func (t Term) Count() Term {
	return t.chain(opCount)
}

// TypeOf names the type of the value: NULL, BOOL, NUMBER, STRING, ARRAY,
// OBJECT, TABLE, SELECTION<OBJECT> or SELECTION<STREAM>. A missing row
// selected by Get is NULL.
func (t Term) TypeOf() Term {
	return t.chain(opTypeOf)
}

// Do binds the value of t and evaluates fn on it.
func (t Term) Do(fn Func) Term {
	n := t.chain(opDo)
	n.fn = fn
	return n
}

// -----------------------------------------------------------------------------
// Predicates
// -----------------------------------------------------------------------------

func (t Term) Eq(v any) Term       { return t.chain(opEq, Expr(v)) }
func (t Term) Ne(v any) Term       { return t.chain(opNe, Expr(v)) }
func (t Term) Gt(v any) Term       { return t.chain(opGt, Expr(v)) }
func (t Term) Ge(v any) Term       { return t.chain(opGe, Expr(v)) }
func (t Term) Lt(v any) Term       { return t.chain(opLt, Expr(v)) }
func (t Term) Le(v any) Term       { return t.chain(opLe, Expr(v)) }
func (t Term) Not() Term           { return t.chain(opNot) }
func (t Term) Contains(v any) Term { return t.chain(opContains, Expr(v)) }

// And is And(t, other...).
func (t Term) And(other ...any) Term {
	return Term{op: opAnd, args: append([]Term{t}, exprs(other)...)}
}

// Or is Or(t, other...).
func (t Term) Or(other ...any) Term {
	return Term{op: opOr, args: append([]Term{t}, exprs(other)...)}
}

// -----------------------------------------------------------------------------
// Writes
// -----------------------------------------------------------------------------

// Insert writes one document, or an array of documents, into a table.
func (t Term) Insert(docs any, conflict store.Conflict) Term {
	n := t.chain(opInsert, Expr(docs))
	n.opts.conflict = conflict
	return n
}

// Update merges a patch into every selected row. patch is an object, a term
// or a Func over the row.
func (t Term) Update(patch any) Term {
	n := t.chain(opUpdate)
	switch f := patch.(type) {
	case Func:
		n.fn = f
	case func(Term) Term:
		n.fn = f
	default:
		n.args = append(n.args, Expr(f))
	}
	return n
}

// Delete removes every selected row.
func (t Term) Delete() Term {
	return t.chain(opDelete)
}

// -----------------------------------------------------------------------------
// Administration
// -----------------------------------------------------------------------------

// IndexList lists the secondary indexes of a table.
func (t Term) IndexList() Term {
	return t.chain(opIndexList)
}

// IndexCreate creates a secondary index over fields, or over the field of the
// same name when none are given.
func (t Term) IndexCreate(name string, fields ...string) Term {
	n := t.chain(opIndexCreate)
	n.opts.index = name
	n.names = slices.Clone(fields)
	return n
}

// IndexWait waits for the named indexes to be ready.
func (t Term) IndexWait(names ...string) Term {
	n := t.chain(opIndexWait)
	n.names = slices.Clone(names)
	return n
}

// -----------------------------------------------------------------------------
// Rendering
// -----------------------------------------------------------------------------

// String renders the term for logs.
func (t Term) String() string {
	var b strings.Builder
	t.render(&b)
	return b.String()
}

func (t Term) render(b *strings.Builder) {
	switch t.op {
	case opDatum, opBound:
		fmt.Fprintf(b, "%v", t.datum)
		return
	case opObject:
		keys := slices.Sorted(maps.Keys(t.fields))
		b.WriteString("{")
		for i, k := range keys {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(k + ": ")
			t.fields[k].render(b)
		}
		b.WriteString("}")
		return
	case opTable:
		fmt.Fprintf(b, "table(%q)", t.ref.Name)
		return
	case opTableCreate:
		fmt.Fprintf(b, "tableCreate(%q)", t.ref.Name)
		return
	}

	args := t.args
	if len(args) > 0 && t.op != opArray && t.op != opBranch && t.op != opAnd && t.op != opOr && t.op != opBatch {
		args[0].render(b)
		b.WriteString(".")
		args = args[1:]
	}
	b.WriteString(opNames[t.op])
	b.WriteString("(")
	parts := 0
	sep := func() {
		if parts > 0 {
			b.WriteString(", ")
		}
		parts++
	}
	for _, a := range args {
		sep()
		a.render(b)
	}
	for _, n := range t.names {
		sep()
		fmt.Fprintf(b, "%q", n)
	}
	if t.opts.index != "" {
		sep()
		fmt.Fprintf(b, "index=%q", t.opts.index)
	}
	if t.fn != nil {
		sep()
		b.WriteString("func")
	}
	if t.op == opError {
		sep()
		fmt.Fprintf(b, "%s: %v", t.opts.code, t.datum)
	}
	b.WriteString(")")
}
