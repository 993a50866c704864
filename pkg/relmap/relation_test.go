package relmap_test

import (
	"context"
	"errors"
	"reflect"
	"slices"
	"testing"

	"github.com/hlop3z/relmap/internal/alerr"
	"github.com/hlop3z/relmap/internal/rql"
	"github.com/hlop3z/relmap/internal/schema"
	"github.com/hlop3z/relmap/internal/store/storetest"
	"github.com/hlop3z/relmap/internal/testutil"
	"github.com/hlop3z/relmap/pkg/relmap"
)

func TestRelation_Kinds(t *testing.T) {
	w := newWorld(t)

	tests := []struct {
		table  *relmap.Table
		name   string
		kind   relmap.Kind
		target *relmap.Table
	}{
		{w.user, "profile", relmap.KindHasOne, w.profile},
		{w.user, "posts", relmap.KindHasMany, w.post},
		{w.user, "following", relmap.KindBelongsToMany, w.user},
		{w.post, "author", relmap.KindBelongsTo, w.user},
		{w.post, "tags", relmap.KindBelongsToMany, w.tag},
	}
	for _, tt := range tests {
		t.Run(tt.table.Name()+"."+tt.name, func(t *testing.T) {
			rel := testutil.Result(tt.table.Relation(tt.name)).Must(t)
			if rel.Kind() != tt.kind {
				t.Errorf("Kind() = %s, want %s", rel.Kind(), tt.kind)
			}
			if rel.Target() != tt.target {
				t.Errorf("Target() = %s, want %s", rel.Target(), tt.target)
			}
			if rel.Kind().Many() != (tt.kind == relmap.KindHasMany || tt.kind == relmap.KindBelongsToMany) {
				t.Errorf("Many() = %v", rel.Kind().Many())
			}
		})
	}
}

func TestRelation_NullShortCircuit(t *testing.T) {
	f := setup(t)
	row := rql.Expr(map[string]any{"id": nil, "userId": nil})

	tests := []struct {
		table   *relmap.Table
		rel     string
		related string
		want    any
	}{
		{f.post, "author", "user", nil},
		{f.user, "profile", "profile", nil},
		{f.user, "posts", "post", []any{}},
		{f.user, "following", "following", []any{}},
		{f.post, "tags", "post_tag", []any{}},
	}
	for _, tt := range tests {
		t.Run(tt.table.Name()+"."+tt.rel, func(t *testing.T) {
			rel := testutil.Result(tt.table.Relation(tt.rel)).Must(t)

			f.store.Reset()
			got := testutil.Result(rel.Coerce(rel.Query(row, relmap.QueryOptions{})).Run(f.ctx, f.sess)).Must(t)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("related rows of a null key = %#v, want %#v", got, tt.want)
			}
			if n := f.store.Reads(tt.related); n != 0 {
				t.Errorf("%d reads of %s, want none", n, tt.related)
			}
		})
	}

	t.Run("stored null key", func(t *testing.T) {
		f.store.Reset()
		q := testutil.Result(f.post.GetRelated("p3", "author", nil)).Must(t)
		if got := testutil.Result(q.Run(f.ctx, f.sess)).Must(t); got != nil {
			t.Errorf("author of p3 = %v, want nil", got)
		}
		if n := f.store.Reads("user"); n != 0 {
			t.Errorf("%d reads of user, want none", n)
		}
	})
}

func TestRelation_GetRelated(t *testing.T) {
	f := setup(t)

	author := testutil.Result(f.post.GetRelated("p1", "author", nil)).Must(t)
	if got := f.doc(author); got["name"] != "ann" {
		t.Errorf("author = %v, want ann", got)
	}

	profile := testutil.Result(f.user.GetRelated("u1", "profile", nil)).Must(t)
	if got := f.doc(profile); got["id"] != "pr1" {
		t.Errorf("profile = %v, want pr1", got)
	}

	none := testutil.Result(f.user.GetRelated("u2", "profile", nil)).Must(t)
	if got := f.doc(none); got != nil {
		t.Errorf("profile of u2 = %v, want nil", got)
	}

	posts := testutil.Result(f.user.GetRelated("u1", "posts", nil)).Must(t)
	if got := storetest.IDs(f.docs(posts)); !slices.Equal(got, []string{"p1", "p2"}) {
		t.Errorf("posts = %v", got)
	}
}

func TestRelation_Apply(t *testing.T) {
	f := setup(t)

	byRank := relmap.Leaf{Options: relmap.QueryOptions{Apply: func(q rql.Term) rql.Term {
		return q.OrderBy("rank").Limit(1)
	}}}
	q := testutil.Result(f.user.GetRelated("u1", "posts", byRank)).Must(t)
	got := f.docs(q)
	if len(got) != 1 || got[0]["id"] != "p2" {
		t.Errorf("posts ordered by rank, limited = %v, want [p2]", got)
	}

	// The transform also picks which row a single-row relation keeps.
	first := relmap.Leaf{Options: relmap.QueryOptions{Apply: func(q rql.Term) rql.Term {
		return q.FilterEq("bio", "none")
	}}}
	q = testutil.Result(f.user.GetRelated("u1", "profile", first)).Must(t)
	if got := f.doc(q); got != nil {
		t.Errorf("filtered profile = %v, want nil", got)
	}
}

func TestRelation_CoerceIdempotent(t *testing.T) {
	f := setup(t)

	for _, tc := range []struct {
		table *relmap.Table
		pk    string
		name  string
	}{
		{f.user, "u1", "profile"},
		{f.user, "u2", "profile"},
		{f.post, "p1", "author"},
		{f.post, "p3", "author"},
		{f.user, "u1", "posts"},
	} {
		rel := testutil.Result(tc.table.Relation(tc.name)).Must(t)
		query := rel.Query(tc.table.Get(tc.pk), relmap.QueryOptions{})

		once := testutil.Result(rel.Coerce(query).Run(f.ctx, f.sess)).Must(t)
		twice := testutil.Result(rel.Coerce(rel.Coerce(query)).Run(f.ctx, f.sess)).Must(t)
		if !reflect.DeepEqual(once, twice) {
			t.Errorf("%s.%s(%s): coerce once = %v, twice = %v", tc.table.Name(), tc.name, tc.pk, once, twice)
		}
	}
}

func TestRelation_QueryRelated(t *testing.T) {
	f := setup(t)

	q := testutil.Result(f.user.QueryRelated("u1", "profile", relmap.QueryOptions{})).Must(t)
	got := f.docs(q)
	if len(got) != 1 || got[0]["id"] != "pr1" {
		t.Errorf("QueryRelated() = %v, want a one-row list", got)
	}

	_, err := f.user.QueryRelated("u1", "profiles", relmap.QueryOptions{})
	testutil.AssertError(t, err, alerr.ErrUnknownRelation)
}

func TestRelation_UnknownRelation(t *testing.T) {
	w := newWorld(t)

	_, err := w.user.Relation("folowers")
	testutil.AssertError(t, err, alerr.ErrUnknownRelation)

	var ae *alerr.Error
	if !errors.As(err, &ae) {
		t.Fatalf("error %T is not *alerr.Error", err)
	}
	if ae.GetContext()["relation"] != "folowers" || ae.GetContext()["table"] != "user" {
		t.Errorf("context = %v", ae.GetContext())
	}
	if len(ae.Helps()) == 0 {
		t.Error("missing suggestion")
	}

	for _, call := range []func() (rql.Term, error){
		func() (rql.Term, error) { return w.user.GetRelated("u1", "nope", nil) },
		func() (rql.Term, error) { return w.user.CreateRelation("nope", "u1", "u2") },
		func() (rql.Term, error) { return w.user.RemoveRelation("nope", "u1", "u2") },
		func() (rql.Term, error) { return w.user.HasRelation("nope", "u1", "u2") },
	} {
		_, err := call()
		testutil.AssertError(t, err, alerr.ErrUnknownRelation)
	}
}

func TestTable_ResolvePath(t *testing.T) {
	w := newWorld(t)

	tests := []struct {
		path string
		want *relmap.Table
	}{
		{"posts", w.post},
		{"posts.author", w.user},
		{"posts.author.following", w.user},
		{"bar.baz", w.baz},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			from := w.user
			if tt.path == "bar.baz" {
				from = w.foo
			}
			got := testutil.Result(from.ResolvePath(tt.path)).Must(t)
			if got != tt.want {
				t.Errorf("ResolvePath(%q) = %v, want %v", tt.path, got, tt.want)
			}
		})
	}

	_, err := w.user.ResolvePath("posts.writer")
	testutil.AssertError(t, err, alerr.ErrUnknownRelation)
}

func TestRelation_HasOne(t *testing.T) {
	f := setup(t)
	f.insert(f.profile, map[string]any{"id": "pr2", "bio": "spare"})

	if f.has(f.user.HasRelation("profile", "u2", "pr2")) {
		t.Fatal("u2 has pr2 before linking")
	}

	res := f.write(f.user.CreateRelation("profile", "u2", "pr2"))
	if res.Replaced != 1 {
		t.Fatalf("CreateRelation() = %+v", res)
	}
	if !f.has(f.user.HasRelation("profile", "u2", "pr2")) {
		t.Error("u2 does not have pr2 after linking")
	}
	if f.has(f.user.HasRelation("profile", "u1", "pr2")) {
		t.Error("u1 has pr2")
	}
	row := f.doc(f.profile.Get("pr2"))
	if row["userId"] != "u2" || row["updatedAt"] != "2024-05-01T11:00:00Z" {
		t.Errorf("linked row = %v", row)
	}

	// Removing from the wrong owner leaves the row alone.
	res = f.write(f.user.RemoveRelation("profile", "u1", "pr2"))
	if res.Replaced != 0 {
		t.Errorf("RemoveRelation(u1) = %+v", res)
	}

	res = f.write(f.user.RemoveRelation("profile", "u2", "pr2"))
	if res.Replaced != 1 {
		t.Errorf("RemoveRelation(u2) = %+v", res)
	}
	if f.has(f.user.HasRelation("profile", "u2", "pr2")) {
		t.Error("u2 has pr2 after unlinking")
	}
	row = f.doc(f.profile.Get("pr2"))
	if v, ok := row["userId"]; !ok || v != nil {
		t.Errorf("unlinked row userId = %v, %v", v, ok)
	}
}

func TestRelation_HasOneMissingOwner(t *testing.T) {
	f := setup(t)
	f.insert(f.profile, map[string]any{"id": "pr2"})

	res := f.write(f.user.CreateRelation("profile", "nope", "pr2"))
	if res.Skipped != 1 || res.Replaced != 0 {
		t.Errorf("CreateRelation(missing owner) = %+v", res)
	}
	if f.has(f.user.HasRelation("profile", "nope", "pr2")) {
		t.Error("missing owner has a relation")
	}

	// A row that never had the field set is not related, even to a row whose
	// key is null.
	if f.has(f.post.HasRelation("author", "p3", "u1")) {
		t.Error("p3 has an author")
	}
}

// TestRelation_NonKeyLink links badges to accounts through a nullable unique
// handle instead of the primary key. An account without a handle is linked to
// nothing, not to every badge whose handle is null.
func TestRelation_NonKeyLink(t *testing.T) {
	env := relmap.NewEnvironment()
	var account, badge *relmap.Table
	account = env.MustCreateTable(relmap.TableOptions{
		Name: "account",
		Schema: func() schema.Schema {
			return schema.Base().With(schema.Schema{"handle": schema.String().AllowNull().MarkUnique()})
		},
		Relations: func() relmap.Relations {
			return relmap.Relations{
				"badge":  relmap.HasOne(account.LinkedBy(badge, "handle", "handle")),
				"badges": relmap.HasMany(account.LinkedBy(badge, "handle", "handle")),
			}
		},
	})
	badge = env.MustCreateTable(relmap.TableOptions{
		Name: "badge",
		Schema: func() schema.Schema {
			return schema.Base().With(schema.Schema{
				"handle": account.ForeignKey(relmap.ForeignKeyOptions{Field: "handle"}),
			})
		},
	})

	ctx := context.Background()
	sess := rql.NewSession(testutil.SetupSQLiteStore(t))
	testutil.Must(t, env.Validate())
	testutil.Must(t, env.Sync(ctx, sess))

	f := &fixture{t: t, ctx: ctx, sess: sess}
	f.insert(account, map[string]any{"id": "a1"}, map[string]any{"id": "a2", "handle": "h2"})
	f.insert(badge, map[string]any{"id": "bd1"}, map[string]any{"id": "bd2", "handle": "h2"})

	for _, name := range []string{"badge", "badges"} {
		if f.has(account.HasRelation(name, "a1", "bd1")) {
			t.Errorf("%s: a1 without a handle has bd1", name)
		}
		if f.has(account.HasRelation(name, "a1")) {
			t.Errorf("%s: a1 without a handle has a badge", name)
		}
		if !f.has(account.HasRelation(name, "a2", "bd2")) {
			t.Errorf("%s: a2 does not have bd2", name)
		}
	}

	res := f.write(account.CreateRelation("badges", "a1", "bd1"))
	if res.Skipped != 1 || res.Replaced != 0 {
		t.Errorf("CreateRelation(owner without handle) = %+v", res)
	}
	res = f.write(account.RemoveRelation("badges", "a1"))
	if res.Skipped != 1 || res.Replaced != 0 {
		t.Errorf("RemoveRelation(owner without handle) = %+v", res)
	}

	f.write(account.CreateRelation("badges", "a2", "bd1"))
	if got := f.doc(badge.Get("bd1"))["handle"]; got != "h2" {
		t.Errorf("bd1.handle = %v, want h2", got)
	}
	if !f.has(account.HasRelation("badges", "a2", "bd1", "bd2")) {
		t.Error("a2 does not have bd1 and bd2")
	}
}

func TestRelation_HasMany(t *testing.T) {
	f := setup(t)

	if !f.has(f.user.HasRelation("posts", "u1", "p1", "p2")) {
		t.Error("u1 does not have p1 and p2")
	}
	if !f.has(f.user.HasRelation("posts", "u1")) {
		t.Error("u1 has no posts")
	}
	if f.has(f.user.HasRelation("posts", "u1", "p1", "p3")) {
		t.Error("u1 has p3")
	}

	res := f.write(f.user.CreateRelation("posts", "u2", []string{"p2", "p3"}))
	if res.Replaced != 2 {
		t.Fatalf("CreateRelation() = %+v", res)
	}
	q := testutil.Result(f.user.GetRelated("u2", "posts", nil)).Must(t)
	if got := storetest.IDs(f.docs(q)); !slices.Equal(got, []string{"p2", "p3"}) {
		t.Errorf("u2 posts = %v", got)
	}

	res = f.write(f.user.RemoveRelation("posts", "u2"))
	if res.Replaced != 2 {
		t.Errorf("RemoveRelation(all) = %+v", res)
	}
	if f.has(f.user.HasRelation("posts", "u2")) {
		t.Error("u2 still has posts")
	}

	_, err := f.user.CreateRelation("posts", "u2")
	testutil.AssertError(t, err, alerr.ErrInvalidRelation)
}

func TestRelation_BelongsTo(t *testing.T) {
	f := setup(t)

	if !f.has(f.post.HasRelation("author", "p1", "u1")) {
		t.Error("p1 is not by u1")
	}
	if f.has(f.post.HasRelation("author", "p1", "u2")) {
		t.Error("p1 is by u2")
	}

	res := f.write(f.post.CreateRelation("author", "p3", "u3"))
	if res.Replaced != 1 {
		t.Fatalf("CreateRelation() = %+v", res)
	}
	q := testutil.Result(f.post.GetRelated("p3", "author", nil)).Must(t)
	if got := f.doc(q); got["id"] != "u3" {
		t.Errorf("author of p3 = %v", got)
	}

	res = f.write(f.post.RemoveRelation("author", "p3", "u1"))
	if res.Replaced != 0 {
		t.Errorf("RemoveRelation(wrong author) = %+v", res)
	}
	res = f.write(f.post.RemoveRelation("author", "p3"))
	if res.Replaced != 1 {
		t.Errorf("RemoveRelation() = %+v", res)
	}
	if f.has(f.post.HasRelation("author", "p3", "u3")) {
		t.Error("p3 still by u3")
	}

	res = f.write(f.post.CreateRelation("author", "p3", "nope"))
	if res.Skipped != 1 {
		t.Errorf("CreateRelation(missing target) = %+v", res)
	}

	_, err := f.post.CreateRelation("author", "p3", "u1", "u2")
	testutil.AssertError(t, err, alerr.ErrInvalidRelation)
	_, err = f.post.HasRelation("author", "p3")
	testutil.AssertError(t, err, alerr.ErrInvalidRelation)
}

func TestRelation_DeclarationErrors(t *testing.T) {
	env := relmap.NewEnvironment()
	var a, b *relmap.Table
	a = env.MustCreateTable(relmap.TableOptions{
		Name:   "a",
		Schema: func() schema.Schema { return schema.Base().With(schema.Schema{"bId": schema.String()}) },
		Relations: func() relmap.Relations {
			return relmap.Relations{
				"bad_field":   relmap.BelongsTo(a.LinkTo(b, "missing")),
				"not_indexed": relmap.BelongsTo(a.LinkTo(b, "bId", "label")),
				"one_link":    relmap.BelongsToMany([]*relmap.Link{a.LinkTo(b, "bId")}),
				"nil_link":    relmap.HasOne(nil),
				"mixed_join": relmap.BelongsToMany([]*relmap.Link{
					a.LinkTo(b, "bId"), b.LinkTo(a, "aId"),
				}),
				"bad_index": relmap.BelongsToMany([]*relmap.Link{
					b.LinkTo(a, "aId"), b.LinkTo(a, "otherId"),
				}, relmap.WithIndex("missing")),
				"ok": relmap.BelongsTo(a.LinkTo(b, "bId")),
			}
		},
	})
	b = env.MustCreateTable(relmap.TableOptions{
		Name: "b",
		Schema: func() schema.Schema {
			return schema.Base().With(schema.Schema{
				"label":   schema.String(),
				"aId":     schema.String().Indexed(),
				"otherId": schema.String().Indexed(),
			})
		},
	})

	for name, code := range map[string]alerr.Code{
		"bad_field":   alerr.ErrInvalidLink,
		"not_indexed": alerr.ErrInvalidLink,
		"one_link":    alerr.ErrInvalidRelation,
		"nil_link":    alerr.ErrInvalidLink,
		"mixed_join":  alerr.ErrInvalidRelation,
		"bad_index":   alerr.ErrInvalidRelation,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := a.Relation(name)
			testutil.AssertError(t, err, code)
			_, err = a.WithJoin(a.Get("x"), relmap.Include{name: relmap.Leaf{}})
			testutil.AssertError(t, err, code)
		})
	}

	testutil.AssertNoError(t, b.Check())
	if err := a.Check(); err == nil {
		t.Error("Check() = nil, want joined relation errors")
	}
	if _, err := a.Relation("ok"); err != nil {
		t.Errorf("Relation(ok) error = %v", err)
	}
}
