package store

import (
	"testing"
	"time"
)

func TestTableRef_Index(t *testing.T) {
	ref := TableRef{
		Name:       "following",
		PrimaryKey: "id",
		Compound:   map[string][]string{"following": {"followerId", "followeeId"}},
	}

	single := ref.Index("followerId")
	if single.IsCompound() || len(single.Fields) != 1 || single.Fields[0] != "followerId" {
		t.Errorf("Index(followerId) = %+v", single)
	}

	compound := ref.Index("following")
	if !compound.IsCompound() || compound.Fields[1] != "followeeId" {
		t.Errorf("Index(following) = %+v", compound)
	}

	compound.Fields[0] = "mutated"
	if ref.Compound["following"][0] != "followerId" {
		t.Error("Index() must return a copy of the field list")
	}
}

func TestParseConflict(t *testing.T) {
	tests := []struct {
		in   string
		want Conflict
		ok   bool
	}{
		{"", ConflictError, true},
		{"error", ConflictError, true},
		{"replace", ConflictReplace, true},
		{"update", ConflictUpdate, true},
		{"upsert", ConflictError, false},
	}
	for _, tt := range tests {
		got, ok := ParseConflict(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("ParseConflict(%q) = %v, %v; want %v, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestWriteResult_Add(t *testing.T) {
	var w WriteResult
	w.Add(WriteResult{Inserted: 1})
	w.Add(WriteResult{Errors: 1, FirstError: "first"})
	w.Add(WriteResult{Errors: 1, FirstError: "second", Deleted: 2})

	if w.Inserted != 1 || w.Errors != 2 || w.Deleted != 2 || w.FirstError != "first" {
		t.Errorf("WriteResult = %+v", w)
	}

	m := w.Map()
	if m["inserted"] != float64(1) || m["first_error"] != "first" {
		t.Errorf("Map() = %v", m)
	}
}

func TestNormalize(t *testing.T) {
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	got := Normalize(map[string]any{
		"n":    7,
		"tags": []string{"a", "b"},
		"at":   at,
		"meta": map[string]int{"x": 1},
	}).(map[string]any)

	if got["n"] != float64(7) {
		t.Errorf("n = %#v", got["n"])
	}
	if tags, ok := got["tags"].([]any); !ok || tags[1] != "b" {
		t.Errorf("tags = %#v", got["tags"])
	}
	if got["at"] != "2024-01-02T03:04:05Z" {
		t.Errorf("at = %#v", got["at"])
	}
	if meta, ok := got["meta"].(map[string]any); !ok || meta["x"] != float64(1) {
		t.Errorf("meta = %#v", got["meta"])
	}
}

func TestEncodeKey(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{"abc", `"abc"`},
		{1, `1`},
		{1.0, `1`},
		{int64(42), `42`},
		{true, `true`},
		{[]any{"a", 2}, `["a",2]`},
	}
	for _, tt := range tests {
		got, err := EncodeKey(tt.in)
		if err != nil {
			t.Fatalf("EncodeKey(%v) error = %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("EncodeKey(%v) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestDocumentRoundTrip(t *testing.T) {
	raw, err := EncodeDocument(Document{"id": "a", "n": 2})
	if err != nil {
		t.Fatal(err)
	}
	doc, err := DecodeDocument(raw)
	if err != nil {
		t.Fatal(err)
	}
	if !Equal(doc, Document{"id": "a", "n": 2}) {
		t.Errorf("round trip = %v", doc)
	}
}

func TestMerge(t *testing.T) {
	base := Document{"id": "a", "name": "x"}
	got := Merge(base, Document{"name": "y", "age": 3})

	if got["name"] != "y" || got["age"] != 3 || got["id"] != "a" {
		t.Errorf("Merge() = %v", got)
	}
	if base["name"] != "x" {
		t.Error("Merge() must not modify base")
	}
	if Merge(nil, Document{"a": 1})["a"] != 1 {
		t.Error("Merge(nil, patch) should return patch fields")
	}
}
