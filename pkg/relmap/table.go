package relmap

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/hlop3z/relmap/internal/alerr"
	"github.com/hlop3z/relmap/internal/rql"
	"github.com/hlop3z/relmap/internal/schema"
	"github.com/hlop3z/relmap/internal/store"
)

// Table is a physical table with a schema and named relations.
// A Table is safe for concurrent use once created.
type Table struct {
	name    string
	pk      string
	indexes map[string][]string
	log     *zap.Logger

	schema    func() schema.Schema
	relations func() (Relations, error)
}

// NewTable validates opts and returns the table. Schema and relation thunks
// are not evaluated; see Check.
func NewTable(opts TableOptions) (*Table, error) {
	if err := schema.ValidateIdentifier(opts.Name); err != nil {
		return nil, err
	}
	if opts.Schema == nil {
		return nil, alerr.New(alerr.ErrTableInvalid, "table schema is required").
			WithTable(opts.Name)
	}

	pk := opts.PrimaryKey
	if pk == "" {
		pk = DefaultPrimaryKey
	}
	if err := schema.ValidateIdentifier(pk); err != nil {
		return nil, alerr.Wrap(alerr.ErrTableInvalid, err, "invalid primary key").WithTable(opts.Name)
	}

	indexes := make(map[string][]string, len(opts.Indexes))
	for name, fields := range opts.Indexes {
		if err := schema.ValidateIdentifier(name); err != nil {
			return nil, alerr.Wrap(alerr.ErrTableInvalid, err, "invalid index name").WithTable(opts.Name)
		}
		if len(fields) < 2 {
			return nil, alerr.Newf(alerr.ErrTableInvalid, "compound index %q needs at least two fields", name).
				WithTable(opts.Name)
		}
		indexes[name] = slices.Clone(fields)
	}

	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	t := &Table{
		name:    opts.Name,
		pk:      pk,
		indexes: indexes,
		log:     log.With(zap.String("table", opts.Name)),
		schema:  sync.OnceValue(opts.Schema),
	}
	t.relations = sync.OnceValues(func() (Relations, error) {
		if opts.Relations == nil {
			return Relations{}, nil
		}
		rels := opts.Relations()
		for name, rel := range rels {
			if err := schema.ValidateIdentifier(name); err != nil {
				return nil, alerr.Wrap(alerr.ErrInvalidRelation, err, "invalid relation name").
					WithTable(t.name)
			}
			if rel == nil {
				return nil, alerr.New(alerr.ErrInvalidRelation, "relation is nil").
					WithTable(t.name).WithRelation(name)
			}
		}
		return rels, nil
	})
	return t, nil
}

// Name returns the physical table name.
func (t *Table) Name() string { return t.name }

// PrimaryKey returns the primary key field.
func (t *Table) PrimaryKey() string { return t.pk }

// Schema returns the table's field descriptors.
func (t *Table) Schema() schema.Schema { return t.schema() }

// Indexes returns a copy of the declared compound indexes.
func (t *Table) Indexes() map[string][]string {
	out := make(map[string][]string, len(t.indexes))
	for k, v := range t.indexes {
		out[k] = slices.Clone(v)
	}
	return out
}

// Ref describes the table to the store.
func (t *Table) Ref() store.TableRef {
	return store.TableRef{Name: t.name, PrimaryKey: t.pk, Compound: t.Indexes()}
}

// Query returns a term selecting the whole table.
func (t *Table) Query() rql.Term {
	return rql.Table(t.Ref())
}

func (t *Table) String() string {
	return fmt.Sprintf("table(%s)", t.name)
}

// Check evaluates the schema and relation declarations and reports every
// inconsistency found.
func (t *Table) Check() error {
	errs := []error{t.checkSchema()}

	rels, err := t.relations()
	if err != nil {
		return errors.Join(append(errs, err)...)
	}
	for _, name := range t.RelationNames() {
		if err := rels[name].Err(); err != nil {
			errs = append(errs, annotate(err, t.name, name))
		}
	}
	return errors.Join(errs...)
}

func (t *Table) checkSchema() error {
	s := t.Schema()
	if len(s) == 0 {
		return alerr.New(alerr.ErrTableInvalid, "table schema is empty").WithTable(t.name)
	}

	var errs []error
	for _, name := range s.Names() {
		if err := schema.ValidateIdentifier(name); err != nil {
			errs = append(errs, alerr.Wrap(alerr.ErrTableInvalid, err, "invalid field name").
				WithTable(t.name).WithField(name))
		}
	}
	if !s.Has(t.pk) {
		errs = append(errs, alerr.Newf(alerr.ErrTableInvalid, "primary key %q is not in the schema", t.pk).
			WithTable(t.name).WithField(t.pk))
	}
	for _, idx := range sortedKeys(t.indexes) {
		if s.Has(idx) {
			errs = append(errs, alerr.Newf(alerr.ErrTableInvalid, "compound index %q shadows a field", idx).
				WithTable(t.name))
		}
		for _, f := range t.indexes[idx] {
			if !s.Has(f) {
				errs = append(errs, alerr.Newf(alerr.ErrTableInvalid, "compound index %q references unknown field %q", idx, f).
					WithTable(t.name).WithField(f).
					WithHelp(alerr.SuggestSimilar(f, s.Names())))
			}
		}
	}
	return errors.Join(errs...)
}

// -----------------------------------------------------------------------------
// Data
// -----------------------------------------------------------------------------

// Validate reports whether data satisfies the schema.
func (t *Table) Validate(data map[string]any) bool {
	return t.Schema().Validate(data)
}

// Attempt validates data and returns it with defaults applied.
func (t *Table) Attempt(data map[string]any) (map[string]any, error) {
	out, err := t.Schema().Attempt(data)
	if err != nil {
		return nil, annotate(err, t.name, "")
	}
	return out, nil
}

// Create is Attempt for a new row.
func (t *Table) Create(data map[string]any) (map[string]any, error) {
	return t.Attempt(data)
}

// -----------------------------------------------------------------------------
// Fields
// -----------------------------------------------------------------------------

// Field returns the descriptor of a declared field.
func (t *Table) Field(name string) (schema.Field, error) {
	s := t.Schema()
	f, ok := s[name]
	if !ok {
		return schema.Field{}, alerr.Newf(alerr.ErrUnknownField, "field %q is not declared", name).
			WithTable(t.name).WithField(name).
			WithHelp(alerr.SuggestSimilar(name, s.Names()))
	}
	return f, nil
}

// HasField reports whether the schema declares the field.
func (t *Table) HasField(name string) bool {
	return t.Schema().Has(name)
}

// AssertField fails with ErrUnknownField if the field is not declared.
func (t *Table) AssertField(name string) error {
	_, err := t.Field(name)
	return err
}

// MetaFields returns the sorted names of fields flagged "index" or "unique".
func (t *Table) MetaFields(key string) []string {
	return t.Schema().MetaFields(key)
}

// IsIndexed reports whether name is usable as a GetAll index: the primary
// key, an indexed field or a compound index.
func (t *Table) IsIndexed(name string) bool {
	if name == t.pk {
		return true
	}
	if _, ok := t.indexes[name]; ok {
		return true
	}
	f, ok := t.Schema()[name]
	return ok && f.IsIndexed()
}

// ForeignKey returns a descriptor for a field referencing this table. The
// referenced field's type and length carry over; its default and unique flag
// do not. The result is always indexed.
func (t *Table) ForeignKey(opts ForeignKeyOptions) schema.Field {
	name := opts.Field
	if name == "" {
		name = t.pk
	}
	f, ok := t.Schema()[name]
	if !ok {
		f = schema.Any()
	}
	return ForeignKeyFrom(f, t.name, name, opts.ManyToMany)
}

// ForeignKeyFrom derives the descriptor of a field referencing table.field
// from ref, the descriptor of the referenced field. It does not evaluate any
// schema, so it is safe while the referenced table's schema is being built.
func ForeignKeyFrom(ref schema.Field, table, field string, manyToMany bool) schema.Field {
	f := ref.NoDefault().Indexed()
	f.Unique = false
	f.Required = false
	f.Nullable = false
	f.Description = fmt.Sprintf("references %s.%s", table, field)

	if manyToMany {
		return f.MarkRequired()
	}
	return f.AllowNull().Default(nil)
}

// -----------------------------------------------------------------------------
// Relations
// -----------------------------------------------------------------------------

// Relation returns the named relation.
func (t *Table) Relation(name string) (Relation, error) {
	rels, err := t.relations()
	if err != nil {
		return nil, err
	}
	rel, ok := rels[name]
	if !ok {
		return nil, alerr.Newf(alerr.ErrUnknownRelation, "relation %q is not declared", name).
			WithTable(t.name).WithRelation(name).
			WithHelp(alerr.SuggestSimilar(name, t.RelationNames()))
	}
	if err := rel.Err(); err != nil {
		return nil, annotate(err, t.name, name)
	}
	return rel, nil
}

// RelationNames returns the sorted relation names.
func (t *Table) RelationNames() []string {
	rels, err := t.relations()
	if err != nil {
		return nil
	}
	return sortedKeys(rels)
}

// ResolvePath follows a dotted relation path ("author.team") and returns the
// table it ends on.
func (t *Table) ResolvePath(path string) (*Table, error) {
	cur := t
	for _, name := range strings.Split(path, ".") {
		rel, err := cur.Relation(name)
		if err != nil {
			return nil, err
		}
		cur = rel.Target()
	}
	return cur, nil
}

// annotate adds table and relation context to relmap errors.
func annotate(err error, table, relation string) error {
	var ae *alerr.Error
	if !errors.As(err, &ae) || ae != err {
		return err
	}
	ctx := ae.GetContext()
	_, hasTable := ctx["table"]
	_, hasRelation := ctx["relation"]
	if (hasTable || table == "") && (hasRelation || relation == "") {
		return err
	}
	ae = ae.Clone()
	if !hasTable && table != "" {
		ae.WithTable(table)
	}
	if !hasRelation && relation != "" {
		ae.WithRelation(relation)
	}
	return ae
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
