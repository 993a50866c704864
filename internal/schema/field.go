// Package schema provides field descriptors and document validation for relmap tables.
// A Schema maps field names to Field descriptors; Attempt applies defaults,
// coerces values and rejects documents that violate the descriptors.
package schema

import (
	"regexp"
	"time"

	"github.com/google/uuid"

	"github.com/hlop3z/relmap/internal/alerr"
)

// Type is the value type a field accepts.
type Type string

// Supported field types.
const (
	TypeAny     Type = "any"
	TypeString  Type = "string"
	TypeNumber  Type = "number"
	TypeInteger Type = "integer"
	TypeBoolean Type = "boolean"
	TypeTime    Type = "time"
	TypeObject  Type = "object"
	TypeArray   Type = "array"
)

// ValidTypes is the set of accepted type names, used when decoding declaration files.
var ValidTypes = map[Type]bool{
	TypeAny:     true,
	TypeString:  true,
	TypeNumber:  true,
	TypeInteger: true,
	TypeBoolean: true,
	TypeTime:    true,
	TypeObject:  true,
	TypeArray:   true,
}

// Field describes a single document field.
// Fields are values: every builder method returns a modified copy, so one
// descriptor can be derived from another without mutating the original.
type Field struct {
	Type        Type
	Required    bool
	Nullable    bool
	MaxLength   int      // 0 means unbounded; strings only
	Enum        []string // allowed values; strings only
	Index       bool     // maintain a secondary index on this field
	Unique      bool     // reject duplicate values; implies an index
	Description string

	def     any
	defFunc func() any
	hasDef  bool
}

// New returns a descriptor for the given type.
func New(t Type) Field {
	return Field{Type: t}
}

// String returns a string field descriptor.
func String() Field { return New(TypeString) }

// Number returns a float field descriptor.
func Number() Field { return New(TypeNumber) }

// Integer returns a whole-number field descriptor.
func Integer() Field { return New(TypeInteger) }

// Boolean returns a boolean field descriptor.
func Boolean() Field { return New(TypeBoolean) }

// Time returns a timestamp field descriptor. Values are stored as RFC 3339 strings.
func Time() Field { return New(TypeTime) }

// Object returns a nested object field descriptor.
func Object() Field { return New(TypeObject) }

// Array returns an array field descriptor.
func Array() Field { return New(TypeArray) }

// Any returns a descriptor that accepts any value.
func Any() Field { return New(TypeAny) }

// MarkRequired rejects documents that omit the field.
func (f Field) MarkRequired() Field {
	f.Required = true
	return f
}

// AllowNull accepts an explicit null value.
func (f Field) AllowNull() Field {
	f.Nullable = true
	return f
}

// Max bounds the length of a string field.
func (f Field) Max(n int) Field {
	f.MaxLength = n
	return f
}

// OneOf restricts a string field to the given values.
func (f Field) OneOf(values ...string) Field {
	f.Enum = append([]string(nil), values...)
	return f
}

// Indexed marks the field for a secondary index.
func (f Field) Indexed() Field {
	f.Index = true
	return f
}

// MarkUnique marks the field as unique. Unique fields are indexed.
func (f Field) MarkUnique() Field {
	f.Unique = true
	return f
}

// Describe attaches documentation to the field.
func (f Field) Describe(desc string) Field {
	f.Description = desc
	return f
}

// Default sets a static default applied when the field is absent.
func (f Field) Default(v any) Field {
	f.def, f.defFunc, f.hasDef = v, nil, true
	return f
}

// DefaultFunc sets a generated default applied when the field is absent.
func (f Field) DefaultFunc(fn func() any) Field {
	f.def, f.defFunc, f.hasDef = nil, fn, true
	return f
}

// NoDefault removes any configured default.
func (f Field) NoDefault() Field {
	f.def, f.defFunc, f.hasDef = nil, nil, false
	return f
}

// HasDefault reports whether a default is configured.
func (f Field) HasDefault() bool {
	return f.hasDef
}

// DefaultValue returns the default for a missing field.
func (f Field) DefaultValue() any {
	if f.defFunc != nil {
		return f.defFunc()
	}
	return f.def
}

// HasMeta reports whether the field carries the named metadata flag
// ("index" or "unique").
func (f Field) HasMeta(key string) bool {
	switch key {
	case "index":
		return f.Index
	case "unique":
		return f.Unique
	}
	return false
}

// IsIndexed reports whether the field needs a secondary index.
func (f Field) IsIndexed() bool {
	return f.Index || f.Unique
}

// identifierPattern matches field and table names that are safe to embed in
// JSON paths and quoted identifiers of every store.
var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidateIdentifier checks a table, field or index name.
func ValidateIdentifier(name string) error {
	if !identifierPattern.MatchString(name) {
		return alerr.Newf(alerr.ErrInvalidIdentifier,
			"invalid identifier %q; must match [A-Za-z_][A-Za-z0-9_]*", name)
	}
	return nil
}

// NewID generates a primary key value.
func NewID() any {
	return uuid.NewString()
}

// Now returns the current time in the stored timestamp format.
func Now() any {
	return FormatTime(time.Now())
}

// FormatTime renders t in the stored timestamp format.
func FormatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// Base returns the fields present in every table by convention:
// id (uuid primary key), createdAt and updatedAt.
func Base() Schema {
	return Schema{
		"id":        String().Max(36).DefaultFunc(NewID).Indexed().Describe("primary key"),
		"createdAt": Time().DefaultFunc(Now).Indexed().Describe("time of creation"),
		"updatedAt": Time().DefaultFunc(Now).Indexed().Describe("time of last update"),
	}
}
