// Package declfile loads table and relation declarations from YAML into a
// relmap Environment.
//
// A declaration file maps table names to their fields, compound indexes and
// relations:
//
//	tables:
//	  user:
//	    fields:
//	      name: {type: string, required: true}
//	      email: {type: string, unique: true}
//	    relations:
//	      posts: {kind: has_many, table: post, field: userId}
//	  post:
//	    fields:
//	      title: string
//	      userId: {references: user}
//	    relations:
//	      author: {kind: belongs_to, table: user, field: userId}
//
// Every table gets the id, createdAt and updatedAt fields unless it sets
// base: false. Tables are declared in file order.
package declfile

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/hlop3z/relmap/internal/alerr"
	"github.com/hlop3z/relmap/internal/schema"
	"github.com/hlop3z/relmap/pkg/relmap"
)

// Relation kinds as written in declaration files.
const (
	KindHasOne        = "has_one"
	KindHasMany       = "has_many"
	KindBelongsTo     = "belongs_to"
	KindBelongsToMany = "belongs_to_many"
)

var kinds = []string{KindHasOne, KindHasMany, KindBelongsTo, KindBelongsToMany}

// File is a decoded declaration file.
type File struct {
	Name   string
	Tables []Table
}

// Table declares one table.
type Table struct {
	Name       string
	PrimaryKey string
	Base       bool
	Fields     []Field
	Indexes    map[string][]string
	Relations  []Relation

	pos position
}

// Field declares one schema field. A field with References is a foreign key
// and takes its type from the referenced field.
type Field struct {
	Name        string
	Type        schema.Type
	Required    bool
	Nullable    bool
	Index       bool
	Unique      bool
	Max         int
	OneOf       []string
	Default     any
	HasDefault  bool
	Description string

	References string // referenced table
	RefField   string // referenced field, the primary key when empty
	ManyToMany bool

	pos position
}

// Relation declares one relation. Field is the foreign key field: on the
// target table for has_one and has_many, on the declaring table for
// belongs_to. belongs_to_many names the join table in Through and the join
// table's two foreign key fields in Fields, owner side first.
type Relation struct {
	Name    string
	Kind    string
	Table   string
	Field   string
	Index   string
	Through string
	Fields  []string

	pos position
}

type position struct{ line, column int }

// Load reads and builds the declaration file at path.
func Load(path string, opts ...relmap.EnvOption) (*relmap.Environment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, alerr.Wrap(alerr.ErrConfig, err, "cannot read declaration file").With("file", path)
	}
	f, err := Decode(path, data)
	if err != nil {
		return nil, err
	}
	return f.Build(opts...)
}

// Decode parses a declaration file. name is used in error locations.
func Decode(name string, data []byte) (*File, error) {
	d := &decoder{name: name, lines: strings.Split(string(data), "\n")}
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, alerr.Wrap(alerr.ErrConfig, err, "cannot parse declaration file").With("file", name)
	}

	f := &File{Name: name}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return f, nil
	}
	pairs, err := d.mapping(doc.Content[0], "declaration file")
	if err != nil {
		return nil, err
	}
	for _, p := range pairs {
		if p.key.Value != "tables" {
			return nil, d.unknownKey(p.key, "tables")
		}
		tables, err := d.mapping(p.value, "tables")
		if err != nil {
			return nil, err
		}
		for _, tp := range tables {
			t, err := d.table(tp.key, tp.value)
			if err != nil {
				return nil, err
			}
			f.Tables = append(f.Tables, t)
		}
	}
	return f, nil
}

// -----------------------------------------------------------------------------
// Decoding
// -----------------------------------------------------------------------------

type decoder struct {
	name  string
	lines []string
}

type pair struct{ key, value *yaml.Node }

// errAt returns an ErrConfig error located at n.
func (d *decoder) errAt(n *yaml.Node, format string, args ...any) *alerr.Error {
	e := alerr.Newf(alerr.ErrConfig, format, args...).WithLocation(d.name, n.Line, n.Column)
	if n.Line > 0 && n.Line <= len(d.lines) {
		e.WithSource(strings.TrimRight(d.lines[n.Line-1], "\r"))
	}
	return e
}

func (d *decoder) unknownKey(key *yaml.Node, allowed ...string) *alerr.Error {
	return d.errAt(key, "unknown key %q", key.Value).
		WithHelp(alerr.SuggestSimilar(key.Value, allowed))
}

// mapping returns the key/value pairs of n in order. A null node is an empty
// mapping.
func (d *decoder) mapping(n *yaml.Node, what string) ([]pair, error) {
	if n.Kind == yaml.ScalarNode && n.Tag == "!!null" {
		return nil, nil
	}
	if n.Kind != yaml.MappingNode {
		return nil, d.errAt(n, "%s must be a mapping", what)
	}
	seen := make(map[string]bool, len(n.Content)/2)
	pairs := make([]pair, 0, len(n.Content)/2)
	for i := 0; i+1 < len(n.Content); i += 2 {
		key := n.Content[i]
		if seen[key.Value] {
			return nil, d.errAt(key, "duplicate key %q in %s", key.Value, what)
		}
		seen[key.Value] = true
		pairs = append(pairs, pair{key, n.Content[i+1]})
	}
	return pairs, nil
}

func (d *decoder) scalar(n *yaml.Node, what string, v any) error {
	if n.Kind != yaml.ScalarNode {
		return d.errAt(n, "%s must be a scalar", what)
	}
	if err := n.Decode(v); err != nil {
		return d.errAt(n, "invalid %s: %v", what, err)
	}
	return nil
}

func (d *decoder) strings(n *yaml.Node, what string) ([]string, error) {
	if n.Kind != yaml.SequenceNode {
		return nil, d.errAt(n, "%s must be a list", what)
	}
	out := make([]string, len(n.Content))
	for i, el := range n.Content {
		if err := d.scalar(el, what, &out[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (d *decoder) table(key, n *yaml.Node) (Table, error) {
	t := Table{Name: key.Value, Base: true, pos: position{key.Line, key.Column}}
	pairs, err := d.mapping(n, "table "+t.Name)
	if err != nil {
		return t, err
	}
	for _, p := range pairs {
		switch p.key.Value {
		case "primary_key":
			err = d.scalar(p.value, "primary_key", &t.PrimaryKey)
		case "base":
			err = d.scalar(p.value, "base", &t.Base)
		case "fields":
			t.Fields, err = d.fields(p.value)
		case "indexes":
			t.Indexes, err = d.indexes(p.value)
		case "relations":
			t.Relations, err = d.relations(p.value)
		default:
			err = d.unknownKey(p.key, "primary_key", "base", "fields", "indexes", "relations")
		}
		if err != nil {
			return t, err
		}
	}
	return t, nil
}

func (d *decoder) fields(n *yaml.Node) ([]Field, error) {
	pairs, err := d.mapping(n, "fields")
	if err != nil {
		return nil, err
	}
	out := make([]Field, 0, len(pairs))
	for _, p := range pairs {
		f, err := d.field(p.key, p.value)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}

// field decodes a field mapping, or a bare type name such as "string".
func (d *decoder) field(key, n *yaml.Node) (Field, error) {
	f := Field{Name: key.Value, Type: schema.TypeAny, pos: position{key.Line, key.Column}}
	if n.Kind == yaml.ScalarNode {
		var typ string
		if err := d.scalar(n, "field type", &typ); err != nil {
			return f, err
		}
		err := d.setType(&f, n, typ)
		return f, err
	}

	pairs, err := d.mapping(n, "field "+f.Name)
	if err != nil {
		return f, err
	}
	for _, p := range pairs {
		v := p.value
		switch p.key.Value {
		case "type":
			var typ string
			if err = d.scalar(v, "type", &typ); err == nil {
				err = d.setType(&f, v, typ)
			}
		case "required":
			err = d.scalar(v, "required", &f.Required)
		case "nullable":
			err = d.scalar(v, "nullable", &f.Nullable)
		case "index":
			err = d.scalar(v, "index", &f.Index)
		case "unique":
			err = d.scalar(v, "unique", &f.Unique)
		case "max":
			err = d.scalar(v, "max", &f.Max)
		case "one_of":
			f.OneOf, err = d.strings(v, "one_of")
		case "default":
			f.HasDefault = true
			err = v.Decode(&f.Default)
		case "description":
			err = d.scalar(v, "description", &f.Description)
		case "references":
			err = d.scalar(v, "references", &f.References)
		case "field":
			err = d.scalar(v, "field", &f.RefField)
		case "many_to_many":
			err = d.scalar(v, "many_to_many", &f.ManyToMany)
		default:
			err = d.unknownKey(p.key, "type", "required", "nullable", "index", "unique", "max",
				"one_of", "default", "description", "references", "field", "many_to_many")
		}
		if err != nil {
			return f, err
		}
	}
	if f.References == "" && (f.RefField != "" || f.ManyToMany) {
		return f, d.errAt(key, "field %q sets field or many_to_many without references", f.Name)
	}
	return f, nil
}

func (d *decoder) setType(f *Field, n *yaml.Node, typ string) error {
	t := schema.Type(typ)
	if !schema.ValidTypes[t] {
		names := make([]string, 0, len(schema.ValidTypes))
		for vt := range schema.ValidTypes {
			names = append(names, string(vt))
		}
		return d.errAt(n, "unknown field type %q", typ).WithHelp(alerr.SuggestSimilar(typ, names))
	}
	f.Type = t
	return nil
}

func (d *decoder) indexes(n *yaml.Node) (map[string][]string, error) {
	pairs, err := d.mapping(n, "indexes")
	if err != nil {
		return nil, err
	}
	out := make(map[string][]string, len(pairs))
	for _, p := range pairs {
		fields, err := d.strings(p.value, "index "+p.key.Value)
		if err != nil {
			return nil, err
		}
		out[p.key.Value] = fields
	}
	return out, nil
}

func (d *decoder) relations(n *yaml.Node) ([]Relation, error) {
	pairs, err := d.mapping(n, "relations")
	if err != nil {
		return nil, err
	}
	out := make([]Relation, 0, len(pairs))
	for _, p := range pairs {
		r := Relation{Name: p.key.Value, pos: position{p.key.Line, p.key.Column}}
		rp, err := d.mapping(p.value, "relation "+r.Name)
		if err != nil {
			return nil, err
		}
		for _, q := range rp {
			v := q.value
			switch q.key.Value {
			case "kind":
				err = d.scalar(v, "kind", &r.Kind)
			case "table":
				err = d.scalar(v, "table", &r.Table)
			case "field":
				err = d.scalar(v, "field", &r.Field)
			case "index":
				err = d.scalar(v, "index", &r.Index)
			case "through":
				err = d.scalar(v, "through", &r.Through)
			case "fields":
				r.Fields, err = d.strings(v, "fields")
			default:
				err = d.unknownKey(q.key, "kind", "table", "field", "index", "through", "fields")
			}
			if err != nil {
				return nil, err
			}
		}
		if err := d.checkRelation(p.key, r); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func (d *decoder) checkRelation(key *yaml.Node, r Relation) error {
	switch r.Kind {
	case KindHasOne, KindHasMany, KindBelongsTo:
		if r.Table == "" || r.Field == "" {
			return d.errAt(key, "relation %q needs table and field", r.Name)
		}
	case KindBelongsToMany:
		if r.Table == "" || r.Through == "" || len(r.Fields) != 2 {
			return d.errAt(key, "relation %q needs table, through and two fields", r.Name)
		}
	case "":
		return d.errAt(key, "relation %q has no kind", r.Name).
			WithHelp("kind is one of " + strings.Join(kinds, ", "))
	default:
		return d.errAt(key, "relation %q has unknown kind %q", r.Name, r.Kind).
			WithHelp(alerr.SuggestSimilar(r.Kind, kinds))
	}
	return nil
}

// -----------------------------------------------------------------------------
// Building
// -----------------------------------------------------------------------------

// Build declares every table of f in a new environment and validates it.
// References to undeclared tables or fields are reported with their location.
func (f *File) Build(opts ...relmap.EnvOption) (*relmap.Environment, error) {
	decls := make(map[string]*Table, len(f.Tables))
	for i := range f.Tables {
		decls[f.Tables[i].Name] = &f.Tables[i]
	}
	if err := f.resolve(decls); err != nil {
		return nil, err
	}

	env := relmap.NewEnvironment(opts...)
	for _, t := range f.Tables {
		_, err := env.CreateTable(relmap.TableOptions{
			Name:       t.Name,
			PrimaryKey: t.PrimaryKey,
			Indexes:    t.Indexes,
			Schema:     func() schema.Schema { return t.schema(decls) },
			Relations:  func() relmap.Relations { return t.relations(env) },
		})
		if err != nil {
			return nil, f.locate(t.pos, err)
		}
	}
	if err := env.Validate(); err != nil {
		return nil, err
	}
	return env, nil
}

// resolve checks that every table a field or relation names is declared, and
// that foreign keys do not reference each other in a cycle.
func (f *File) resolve(decls map[string]*Table) error {
	names := make([]string, 0, len(decls))
	for _, t := range f.Tables {
		names = append(names, t.Name)
	}
	unknown := func(pos position, name string) error {
		return f.at(pos, alerr.Newf(alerr.ErrConfig, "table %q is not declared", name).
			WithHelp(alerr.SuggestSimilar(name, names)))
	}

	for _, t := range f.Tables {
		for _, fd := range t.Fields {
			if fd.References == "" {
				continue
			}
			if decls[fd.References] == nil {
				return unknown(fd.pos, fd.References)
			}
			if _, err := refField(decls, t.Name, fd, nil); err != nil {
				return f.at(fd.pos, err)
			}
		}
		for _, r := range t.Relations {
			for _, name := range []string{r.Table, r.Through} {
				if name != "" && decls[name] == nil {
					return unknown(r.pos, name)
				}
			}
		}
	}
	return nil
}

// refField returns the descriptor fd references, following foreign keys to
// their origin.
func refField(decls map[string]*Table, table string, fd Field, seen []string) (schema.Field, error) {
	key := table + "." + fd.Name
	for _, s := range seen {
		if s == key {
			return schema.Field{}, alerr.Newf(alerr.ErrConfig, "foreign keys form a cycle: %s",
				strings.Join(append(seen, key), " -> "))
		}
	}
	target := decls[fd.References]
	if target == nil {
		return schema.Field{}, alerr.Newf(alerr.ErrConfig, "table %q is not declared", fd.References)
	}
	name := fd.RefField
	if name == "" {
		name = target.pk()
	}

	for _, other := range target.Fields {
		if other.Name != name {
			continue
		}
		if other.References == "" {
			return other.descriptor(), nil
		}
		ref, err := refField(decls, target.Name, other, append(seen, key))
		if err != nil {
			return schema.Field{}, err
		}
		return relmap.ForeignKeyFrom(ref, other.References, other.refName(decls), other.ManyToMany), nil
	}
	if target.Base {
		if base, ok := schema.Base()[name]; ok {
			return base, nil
		}
	}
	return schema.Field{}, alerr.Newf(alerr.ErrConfig, "%s references unknown field %s.%s", key, target.Name, name)
}

func (t *Table) pk() string {
	if t.PrimaryKey != "" {
		return t.PrimaryKey
	}
	return relmap.DefaultPrimaryKey
}

func (fd Field) refName(decls map[string]*Table) string {
	if fd.RefField != "" {
		return fd.RefField
	}
	return decls[fd.References].pk()
}

// descriptor builds the schema field of a plain declaration.
func (fd Field) descriptor() schema.Field {
	f := schema.New(fd.Type)
	f.Required = fd.Required
	f.Nullable = fd.Nullable
	f.Index = fd.Index
	f.Unique = fd.Unique
	f.MaxLength = fd.Max
	if len(fd.OneOf) > 0 {
		f = f.OneOf(fd.OneOf...)
	}
	if fd.HasDefault {
		f = f.Default(fd.Default)
	}
	if fd.Description != "" {
		f = f.Describe(fd.Description)
	}
	return f
}

func (t Table) schema(decls map[string]*Table) schema.Schema {
	s := schema.Schema{}
	if t.Base {
		s = schema.Base()
	}
	for _, fd := range t.Fields {
		if fd.References == "" {
			s[fd.Name] = fd.descriptor()
			continue
		}
		// resolve has already rejected broken references.
		ref, _ := refField(decls, t.Name, fd, nil)
		f := relmap.ForeignKeyFrom(ref, fd.References, fd.refName(decls), fd.ManyToMany)
		if fd.Required {
			f = f.MarkRequired()
		}
		if fd.Description != "" {
			f = f.Describe(fd.Description)
		}
		s[fd.Name] = f
	}
	return s
}

func (t Table) relations(env *relmap.Environment) relmap.Relations {
	if len(t.Relations) == 0 {
		return nil
	}
	self, _ := env.GetTable(t.Name)
	rels := make(relmap.Relations, len(t.Relations))
	for _, r := range t.Relations {
		target, _ := env.GetTable(r.Table)
		var index []string
		if r.Index != "" {
			index = []string{r.Index}
		}

		switch r.Kind {
		case KindHasOne:
			rels[r.Name] = relmap.HasOne(self.LinkedBy(target, r.Field, index...))
		case KindHasMany:
			rels[r.Name] = relmap.HasMany(self.LinkedBy(target, r.Field, index...))
		case KindBelongsTo:
			rels[r.Name] = relmap.BelongsTo(self.LinkTo(target, r.Field, index...))
		case KindBelongsToMany:
			join, _ := env.GetTable(r.Through)
			var opts []relmap.ManyOption
			if r.Index != "" {
				opts = append(opts, relmap.WithIndex(r.Index))
			}
			rels[r.Name] = relmap.BelongsToMany([]*relmap.Link{
				join.LinkTo(self, r.Fields[0]),
				join.LinkTo(target, r.Fields[1]),
			}, opts...)
		}
	}
	return rels
}

// at adds the location pos to err.
func (f *File) at(pos position, err error) error {
	ae, ok := err.(*alerr.Error)
	if !ok {
		return err
	}
	return ae.Clone().WithLocation(f.Name, pos.line, pos.column)
}

// locate wraps a table declaration error with its location.
func (f *File) locate(pos position, err error) error {
	return f.at(pos, alerr.Wrap(alerr.ErrConfig, err, fmt.Sprintf("invalid table declaration at line %d", pos.line)))
}
