package schema

import (
	"fmt"
	"math"
	"slices"
	"time"
	"unicode/utf8"

	"github.com/hlop3z/relmap/internal/alerr"
)

// Schema maps field names to descriptors.
type Schema map[string]Field

// With returns a new schema holding s plus extra; extra wins on conflicts.
func (s Schema) With(extra Schema) Schema {
	out := make(Schema, len(s)+len(extra))
	for k, v := range s {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

// Has reports whether the schema declares the field.
func (s Schema) Has(name string) bool {
	_, ok := s[name]
	return ok
}

// Names returns the declared field names in sorted order.
func (s Schema) Names() []string {
	names := make([]string, 0, len(s))
	for k := range s {
		names = append(names, k)
	}
	slices.Sort(names)
	return names
}

// MetaFields returns the sorted names of fields carrying the metadata flag.
func (s Schema) MetaFields(key string) []string {
	var out []string
	for _, name := range s.Names() {
		if s[name].HasMeta(key) {
			out = append(out, name)
		}
	}
	return out
}

// Validate reports whether data satisfies the schema.
func (s Schema) Validate(data map[string]any) bool {
	_, err := s.Attempt(data)
	return err == nil
}

// Attempt validates data, applies defaults for absent fields and returns the
// coerced copy. The input map is not modified.
func (s Schema) Attempt(data map[string]any) (map[string]any, error) {
	if err := s.rejectUnknown(data); err != nil {
		return nil, err
	}

	out := make(map[string]any, len(s))
	for _, name := range s.Names() {
		f := s[name]
		v, present := data[name]
		if !present {
			if f.HasDefault() {
				v, present = f.DefaultValue(), true
			} else if f.Required {
				return nil, alerr.New(alerr.ErrValidation, fmt.Sprintf("%q is required", name)).
					WithField(name)
			}
		}
		if !present {
			continue
		}
		cv, err := f.coerce(name, v)
		if err != nil {
			return nil, err
		}
		out[name] = cv
	}
	return out, nil
}

// AttemptPatch validates the fields present in a partial update.
// Defaults and required checks do not apply.
func (s Schema) AttemptPatch(patch map[string]any) (map[string]any, error) {
	if err := s.rejectUnknown(patch); err != nil {
		return nil, err
	}

	out := make(map[string]any, len(patch))
	for name, v := range patch {
		cv, err := s[name].coerce(name, v)
		if err != nil {
			return nil, err
		}
		out[name] = cv
	}
	return out, nil
}

func (s Schema) rejectUnknown(data map[string]any) error {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	for _, k := range keys {
		if !s.Has(k) {
			return alerr.New(alerr.ErrValidation, fmt.Sprintf("%q is not allowed", k)).
				WithField(k).
				WithHelp(alerr.SuggestSimilar(k, s.Names()))
		}
	}
	return nil
}

func (f Field) coerce(name string, v any) (any, error) {
	if v == nil {
		if f.Nullable {
			return nil, nil
		}
		return nil, invalid(name, "must not be null")
	}

	switch f.Type {
	case TypeAny, "":
		return v, nil

	case TypeString:
		s, ok := v.(string)
		if !ok {
			return nil, invalid(name, "must be a string")
		}
		if f.MaxLength > 0 && utf8.RuneCountInString(s) > f.MaxLength {
			return nil, invalid(name, fmt.Sprintf("length must be at most %d", f.MaxLength))
		}
		if len(f.Enum) > 0 && !slices.Contains(f.Enum, s) {
			return nil, invalid(name, fmt.Sprintf("must be one of %v", f.Enum))
		}
		return s, nil

	case TypeNumber:
		n, ok := toFloat(v)
		if !ok {
			return nil, invalid(name, "must be a number")
		}
		return n, nil

	case TypeInteger:
		n, ok := toFloat(v)
		if !ok || n != math.Trunc(n) {
			return nil, invalid(name, "must be an integer")
		}
		return n, nil

	case TypeBoolean:
		b, ok := v.(bool)
		if !ok {
			return nil, invalid(name, "must be a boolean")
		}
		return b, nil

	case TypeTime:
		switch t := v.(type) {
		case time.Time:
			return FormatTime(t), nil
		case string:
			parsed, err := time.Parse(time.RFC3339Nano, t)
			if err != nil {
				return nil, invalid(name, "must be an RFC 3339 timestamp")
			}
			return FormatTime(parsed), nil
		}
		return nil, invalid(name, "must be a timestamp")

	case TypeObject:
		m, ok := v.(map[string]any)
		if !ok {
			return nil, invalid(name, "must be an object")
		}
		return m, nil

	case TypeArray:
		switch a := v.(type) {
		case []any:
			return a, nil
		case []string:
			out := make([]any, len(a))
			for i, s := range a {
				out[i] = s
			}
			return out, nil
		}
		return nil, invalid(name, "must be an array")
	}

	return nil, alerr.Newf(alerr.EInternalError, "unknown field type %q", f.Type).WithField(name)
}

func invalid(name, reason string) *alerr.Error {
	return alerr.New(alerr.ErrValidation, fmt.Sprintf("%q %s", name, reason)).WithField(name)
}

// toFloat converts any Go numeric value to float64, the number representation
// every store returns.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}
