package cli

import (
	"bytes"
	"strings"
	"testing"
)

func TestTable(t *testing.T) {
	tbl := NewTable("TABLE", "PK", "RELATIONS")
	tbl.AddRow("user", "id", "posts, profile")
	tbl.AddRow("post_tag", "id")
	tbl.AddRow("x", "y", "z", "dropped")

	lines := strings.Split(strings.TrimSuffix(tbl.String(), "\n"), "\n")
	want := []string{
		"TABLE     PK  RELATIONS",
		"────────  ──  ──────────────",
		"user      id  posts, profile",
		"post_tag  id  ",
		"x         y   z",
	}
	if len(lines) != len(want) {
		t.Fatalf("got %d lines:\n%s", len(lines), tbl)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, lines[i], want[i])
		}
	}
	if tbl.Len() != 3 {
		t.Errorf("Len() = %d", tbl.Len())
	}
	if NewTable().String() != "" {
		t.Error("headerless table rendered")
	}
}

func TestFormatCount(t *testing.T) {
	tests := []struct {
		n    int
		want string
	}{
		{0, "0 tables"},
		{1, "1 table"},
		{4, "4 tables"},
	}
	for _, tt := range tests {
		if got := FormatCount(tt.n, "table", "tables"); got != tt.want {
			t.Errorf("FormatCount(%d) = %q, want %q", tt.n, got, tt.want)
		}
	}
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteJSON(&buf, map[string]any{"id": "u1", "bio": "<b>"}); err != nil {
		t.Fatal(err)
	}
	want := "{\n  \"bio\": \"<b>\",\n  \"id\": \"u1\"\n}\n"
	if buf.String() != want {
		t.Errorf("WriteJSON() = %q, want %q", buf.String(), want)
	}
	if got := KeyValue("url", "sqlite://x"); got != "url: sqlite://x" {
		t.Errorf("KeyValue() = %q", got)
	}
}
