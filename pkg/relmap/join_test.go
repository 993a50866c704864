package relmap_test

import (
	"slices"
	"testing"

	"github.com/hlop3z/relmap/internal/alerr"
	"github.com/hlop3z/relmap/internal/rql"
	"github.com/hlop3z/relmap/internal/store"
	"github.com/hlop3z/relmap/internal/store/storetest"
	"github.com/hlop3z/relmap/internal/testutil"
	"github.com/hlop3z/relmap/pkg/relmap"
)

func nestedBaz() relmap.Include {
	return relmap.Include{"bar": relmap.Nested{Children: relmap.Include{"baz": relmap.Leaf{}}}}
}

func TestWithJoin_Nested(t *testing.T) {
	f := setup(t)

	got := f.doc(testutil.Result(f.foo.WithJoin(f.foo.Get("f1"), nestedBaz())).Must(t))
	bar, ok := got["bar"].(store.Document)
	if !ok || bar["id"] != "b1" {
		t.Fatalf("f1.bar = %#v", got["bar"])
	}
	baz, ok := bar["baz"].(store.Document)
	if !ok || baz["id"] != "z1" {
		t.Errorf("f1.bar.baz = %#v", bar["baz"])
	}

	got = f.doc(testutil.Result(f.foo.WithJoin(f.foo.Get("f2"), nestedBaz())).Must(t))
	if v, ok := got["bar"]; !ok || v != nil {
		t.Errorf("f2.bar = %#v, want an explicit nil", v)
	}
}

func TestWithJoin_NullBase(t *testing.T) {
	f := setup(t)

	q := testutil.Result(f.foo.WithJoin(f.foo.Get("missing"), nestedBaz())).Must(t)
	if got := f.doc(q); got != nil {
		t.Errorf("missing row with join = %v, want nil", got)
	}
}

func TestWithJoin_Stream(t *testing.T) {
	f := setup(t)

	q := testutil.Result(f.foo.WithJoin(f.foo.Query().OrderBy("id"), nestedBaz())).Must(t)
	rows := f.docs(q)
	if got := storetest.IDs(rows); !slices.Equal(got, []string{"f1", "f2"}) {
		t.Fatalf("rows = %v", got)
	}
	for _, row := range rows {
		switch row["id"] {
		case "f1":
			if bar, _ := row["bar"].(store.Document); bar == nil || bar["baz"] == nil {
				t.Errorf("f1 = %v", row)
			}
		case "f2":
			if row["bar"] != nil {
				t.Errorf("f2 = %v", row)
			}
		}
	}

	q = testutil.Result(f.user.WithJoin(f.user.Query(), relmap.Include{"posts": relmap.Leaf{}})).Must(t)
	for _, row := range f.docs(q) {
		want := []string{}
		if row["id"] == "u1" {
			want = []string{"p1", "p2"}
		}
		if got := ids(row["posts"]); !slices.Equal(got, want) {
			t.Errorf("%v.posts = %v, want %v", row["id"], got, want)
		}
	}
}

func TestWithJoin_SeveralRelations(t *testing.T) {
	f := setup(t)
	f.write(f.user.CreateRelation("following", "u1", "u2"))

	inc := relmap.Include{
		"profile":   relmap.Leaf{},
		"posts":     relmap.Nested{Children: relmap.Include{"author": relmap.Leaf{}}},
		"following": relmap.Leaf{},
		"followers": relmap.Skip{},
	}
	got := f.doc(testutil.Result(f.user.WithJoin(f.user.Get("u1"), inc)).Must(t))

	if p, _ := got["profile"].(store.Document); p == nil || p["id"] != "pr1" {
		t.Errorf("profile = %v", got["profile"])
	}
	if _, ok := got["followers"]; ok {
		t.Error("skipped relation was embedded")
	}
	if !slices.Equal(ids(got["following"]), []string{"u2"}) {
		t.Errorf("following = %v", got["following"])
	}
	posts, _ := got["posts"].([]any)
	if len(posts) != 2 {
		t.Fatalf("posts = %v", got["posts"])
	}
	for _, p := range posts {
		author, _ := p.(store.Document)["author"].(store.Document)
		if author == nil || author["id"] != "u1" {
			t.Errorf("post author = %v", author)
		}
	}
}

func TestWithJoin_Errors(t *testing.T) {
	w := newWorld(t)

	tests := []struct {
		name string
		inc  relmap.Include
		code alerr.Code
	}{
		{"unknown", relmap.Include{"nope": relmap.Leaf{}}, alerr.ErrUnknownRelation},
		{"unknown nested", relmap.Include{"bar": relmap.Nested{Children: relmap.Include{"nope": relmap.Leaf{}}}}, alerr.ErrUnknownRelation},
		{"skipped unknown", relmap.Include{"nope": relmap.Skip{}}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := w.foo.WithJoin(w.foo.Get("f1"), tt.inc)
			if tt.code == "" {
				testutil.AssertNoError(t, err)
				return
			}
			testutil.AssertError(t, err, tt.code)
		})
	}
}

func TestWithJoin_ParsedInclude(t *testing.T) {
	f := setup(t)

	inc := testutil.Result(relmap.ParseInclude(map[string]any{
		"posts": map[string]any{
			"_apply": func(q rql.Term) rql.Term { return q.OrderBy("rank").Limit(1) },
			"author": true,
		},
		"profile": false,
	})).Must(t)
	got := f.doc(testutil.Result(f.user.WithJoin(f.user.Get("u1"), inc)).Must(t))

	posts, _ := got["posts"].([]any)
	if len(posts) != 1 {
		t.Fatalf("posts = %v", got["posts"])
	}
	post := posts[0].(store.Document)
	if post["id"] != "p2" || post["author"] == nil {
		t.Errorf("post = %v", post)
	}
	if _, ok := got["profile"]; ok {
		t.Error("profile was embedded")
	}

	paths := testutil.Result(relmap.ParsePaths("bar.baz")).Must(t)
	got = f.doc(testutil.Result(f.foo.WithJoin(f.foo.Get("f1"), paths)).Must(t))
	if bar, _ := got["bar"].(store.Document); bar == nil || bar["baz"] == nil {
		t.Errorf("f1 via paths = %v", got)
	}
}
