package rql

import (
	"cmp"
	"fmt"
	"maps"
	"slices"

	"github.com/hlop3z/relmap/internal/store"
)

// tableSel is an unmaterialized table. It is scanned only when a term needs
// its rows.
type tableSel struct {
	ref store.TableRef
}

// singleSel is the row, possibly missing, selected by primary key.
type singleSel struct {
	ref store.TableRef
	row store.Document
}

// streamSel is a writable sequence of rows of one table.
type streamSel struct {
	ref  store.TableRef
	rows []store.Document
}

func truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case singleSel:
		return x.row != nil
	}
	return true
}

func typeName(v any) string {
	switch v.(type) {
	case nil:
		return "NULL"
	case bool:
		return "BOOL"
	case float64:
		return "NUMBER"
	case string:
		return "STRING"
	case []any:
		return "ARRAY"
	case map[string]any:
		return "OBJECT"
	case tableSel:
		return "TABLE"
	case singleSel:
		return "SELECTION<OBJECT>"
	case streamSel:
		return "SELECTION<STREAM>"
	case store.WriteResult:
		return "WRITE_RESULT"
	}
	return fmt.Sprintf("%T", v)
}

// rank orders values of different types: null < bool < number < string <
// array < object.
func rank(v any) int {
	switch v.(type) {
	case nil:
		return 0
	case bool:
		return 1
	case float64:
		return 2
	case string:
		return 3
	case []any:
		return 4
	case map[string]any:
		return 5
	}
	return 6
}

func compare(a, b any) int {
	if ra, rb := rank(a), rank(b); ra != rb {
		return cmp.Compare(ra, rb)
	}
	switch x := a.(type) {
	case bool:
		y := b.(bool)
		switch {
		case x == y:
			return 0
		case !x:
			return -1
		}
		return 1
	case float64:
		return cmp.Compare(x, b.(float64))
	case string:
		return cmp.Compare(x, b.(string))
	case []any:
		y := b.([]any)
		for i := 0; i < len(x) && i < len(y); i++ {
			if c := compare(x[i], y[i]); c != 0 {
				return c
			}
		}
		return cmp.Compare(len(x), len(y))
	case map[string]any:
		y := b.(map[string]any)
		kx := slices.Sorted(maps.Keys(x))
		ky := slices.Sorted(maps.Keys(y))
		if c := slices.Compare(kx, ky); c != 0 {
			return c
		}
		for _, k := range kx {
			if c := compare(x[k], y[k]); c != 0 {
				return c
			}
		}
	}
	return 0
}

// hasFields reports whether doc carries every name with a non-null value.
func hasFields(doc map[string]any, names []string) bool {
	for _, n := range names {
		if v, ok := doc[n]; !ok || v == nil {
			return false
		}
	}
	return true
}

// matches reports whether doc equals pattern on every pattern field.
func matches(doc, pattern map[string]any) bool {
	for k, want := range pattern {
		got, ok := doc[k]
		if !ok || !store.Equal(got, want) {
			return false
		}
	}
	return true
}
