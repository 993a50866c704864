package store

import (
	"bytes"
	"encoding/json"
	"maps"
	"reflect"
	"time"
)

// Normalize converts a Go value into the JSON-like form documents use:
// numbers become float64, slices become []any, maps become map[string]any
// and time.Time becomes an RFC 3339 string.
func Normalize(v any) any {
	switch x := v.(type) {
	case nil, string, bool, float64:
		return x
	case int:
		return float64(x)
	case int8:
		return float64(x)
	case int16:
		return float64(x)
	case int32:
		return float64(x)
	case int64:
		return float64(x)
	case uint:
		return float64(x)
	case uint8:
		return float64(x)
	case uint16:
		return float64(x)
	case uint32:
		return float64(x)
	case uint64:
		return float64(x)
	case float32:
		return float64(x)
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return x.String()
		}
		return f
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = Normalize(e)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = Normalize(e)
		}
		return out
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = Normalize(rv.Index(i).Interface())
		}
		return out
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return v
		}
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out[iter.Key().String()] = Normalize(iter.Value().Interface())
		}
		return out
	}
	return v
}

// EncodeKey renders a key or indexed value as canonical JSON text. SQL stores
// compare index values in this form.
func EncodeKey(v any) (string, error) {
	b, err := marshal(Normalize(v))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// EncodeDocument renders a document as JSON.
func EncodeDocument(doc Document) ([]byte, error) {
	return marshal(Normalize(doc))
}

// marshal encodes without HTML escaping so stored documents and lookup keys
// share one textual form.
func marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// DecodeDocument parses a stored JSON document.
func DecodeDocument(raw []byte) (Document, error) {
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// Merge returns base with patch applied on top. Neither input is modified.
func Merge(base, patch Document) Document {
	out := maps.Clone(base)
	if out == nil {
		out = make(Document, len(patch))
	}
	for k, v := range patch {
		out[k] = v
	}
	return out
}

// Equal reports whether two normalized values are deeply equal.
func Equal(a, b any) bool {
	return reflect.DeepEqual(Normalize(a), Normalize(b))
}
