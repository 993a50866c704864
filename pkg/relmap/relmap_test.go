package relmap_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/hlop3z/relmap/internal/rql"
	"github.com/hlop3z/relmap/internal/schema"
	"github.com/hlop3z/relmap/internal/store"
	"github.com/hlop3z/relmap/internal/store/storetest"
	"github.com/hlop3z/relmap/internal/testutil"
	"github.com/hlop3z/relmap/pkg/relmap"
)

var clock = time.Date(2024, 5, 1, 11, 0, 0, 0, time.UTC)

// world is a small social schema:
//
//	user    hasOne profile, hasMany post, belongsToMany user (following/followers)
//	post    belongsTo user (author), belongsToMany tag (no compound index)
//	foo -> bar -> baz through hasOne
type world struct {
	env                            *relmap.Environment
	user, following, profile, post *relmap.Table
	tag, postTag, foo, bar, baz    *relmap.Table
}

func newWorld(t *testing.T) *world {
	t.Helper()
	w := &world{env: relmap.NewEnvironment()}
	env := w.env

	w.user = env.MustCreateTable(relmap.TableOptions{
		Name: "user",
		Schema: func() schema.Schema {
			return schema.Base().With(schema.Schema{
				"name":  schema.String().MarkRequired(),
				"email": schema.String().MarkUnique(),
			})
		},
		Relations: func() relmap.Relations {
			return relmap.Relations{
				"profile": relmap.HasOne(w.user.LinkedBy(w.profile, "userId")),
				"posts":   relmap.HasMany(w.user.LinkedBy(w.post, "userId")),
				"following": relmap.BelongsToMany([]*relmap.Link{
					w.following.LinkTo(w.user, "followerId"),
					w.following.LinkTo(w.user, "followeeId"),
				}, relmap.WithIndex("followerId_followeeId")),
				"followers": relmap.BelongsToMany([]*relmap.Link{
					w.following.LinkTo(w.user, "followeeId"),
					w.following.LinkTo(w.user, "followerId"),
				}),
			}
		},
	})

	w.following = env.MustCreateTable(relmap.TableOptions{
		Name: "following",
		Schema: func() schema.Schema {
			fk := w.user.ForeignKey(relmap.ForeignKeyOptions{ManyToMany: true})
			return schema.Base().With(schema.Schema{"followerId": fk, "followeeId": fk})
		},
		Indexes: map[string][]string{
			"followerId_followeeId": {"followerId", "followeeId"},
			"followeeId_followerId": {"followeeId", "followerId"},
		},
	})

	w.profile = env.MustCreateTable(relmap.TableOptions{
		Name: "profile",
		Schema: func() schema.Schema {
			return schema.Base().With(schema.Schema{
				"bio":    schema.String(),
				"userId": w.user.ForeignKey(relmap.ForeignKeyOptions{}),
			})
		},
	})

	w.post = env.MustCreateTable(relmap.TableOptions{
		Name: "post",
		Schema: func() schema.Schema {
			return schema.Base().With(schema.Schema{
				"title":  schema.String(),
				"rank":   schema.Integer(),
				"userId": w.user.ForeignKey(relmap.ForeignKeyOptions{}),
			})
		},
		Relations: func() relmap.Relations {
			return relmap.Relations{
				"author": relmap.BelongsTo(w.post.LinkTo(w.user, "userId")),
				"tags": relmap.BelongsToMany([]*relmap.Link{
					w.postTag.LinkTo(w.post, "postId"),
					w.postTag.LinkTo(w.tag, "tagId"),
				}),
			}
		},
	})

	w.tag = env.MustCreateTable(relmap.TableOptions{
		Name:   "tag",
		Schema: func() schema.Schema { return schema.Base().With(schema.Schema{"label": schema.String()}) },
	})

	w.postTag = env.MustCreateTable(relmap.TableOptions{
		Name: "post_tag",
		Schema: func() schema.Schema {
			return schema.Base().With(schema.Schema{
				"postId": w.post.ForeignKey(relmap.ForeignKeyOptions{ManyToMany: true}),
				"tagId":  w.tag.ForeignKey(relmap.ForeignKeyOptions{ManyToMany: true}),
			})
		},
	})

	w.foo = env.MustCreateTable(relmap.TableOptions{
		Name:   "foo",
		Schema: func() schema.Schema { return schema.Base() },
		Relations: func() relmap.Relations {
			return relmap.Relations{"bar": relmap.HasOne(w.foo.LinkedBy(w.bar, "fooId"))}
		},
	})

	w.bar = env.MustCreateTable(relmap.TableOptions{
		Name: "bar",
		Schema: func() schema.Schema {
			return schema.Base().With(schema.Schema{"fooId": w.foo.ForeignKey(relmap.ForeignKeyOptions{})})
		},
		Relations: func() relmap.Relations {
			return relmap.Relations{
				"foo": relmap.BelongsTo(w.bar.LinkTo(w.foo, "fooId")),
				"baz": relmap.HasOne(w.bar.LinkedBy(w.baz, "barId")),
			}
		},
	})

	w.baz = env.MustCreateTable(relmap.TableOptions{
		Name: "baz",
		Schema: func() schema.Schema {
			return schema.Base().With(schema.Schema{"barId": w.bar.ForeignKey(relmap.ForeignKeyOptions{})})
		},
	})

	return w
}

// countingStore records reads per table.
type countingStore struct {
	store.Store
	mu    sync.Mutex
	reads map[string]int
}

func (c *countingStore) count(table string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reads[table]++
}

func (c *countingStore) Get(ctx context.Context, t store.TableRef, key any) (store.Document, error) {
	c.count(t.Name)
	return c.Store.Get(ctx, t, key)
}

func (c *countingStore) GetAll(ctx context.Context, t store.TableRef, i store.IndexRef, keys []any) ([]store.Document, error) {
	c.count(t.Name)
	return c.Store.GetAll(ctx, t, i, keys)
}

func (c *countingStore) Reads(table string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reads[table]
}

func (c *countingStore) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reads = map[string]int{}
}

type fixture struct {
	*world
	t     *testing.T
	ctx   context.Context
	sess  *rql.Session
	store *countingStore
}

// setup syncs a fresh world into an in-memory store and seeds it:
//
//	users u1 ann, u2 bob, u3 cat; profile pr1 of u1
//	posts p1, p2 by u1, p3 without author
//	foo f1 <- bar b1 <- baz z1; foo f2 without bar
func setup(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		world: newWorld(t),
		t:     t,
		ctx:   context.Background(),
		store: &countingStore{Store: testutil.SetupSQLiteStore(t), reads: map[string]int{}},
	}
	f.sess = rql.NewSession(f.store, rql.WithClock(func() time.Time { return clock }))
	testutil.Must(t, f.env.Validate())
	testutil.Must(t, f.env.Sync(f.ctx, f.sess))

	f.insert(f.user,
		map[string]any{"id": "u1", "name": "ann", "email": "ann@example.com"},
		map[string]any{"id": "u2", "name": "bob"},
		map[string]any{"id": "u3", "name": "cat"},
	)
	f.insert(f.profile, map[string]any{"id": "pr1", "bio": "hi", "userId": "u1"})
	f.insert(f.post,
		map[string]any{"id": "p1", "title": "first", "rank": 2, "userId": "u1"},
		map[string]any{"id": "p2", "title": "second", "rank": 1, "userId": "u1"},
		map[string]any{"id": "p3", "title": "orphan", "rank": 3},
	)
	f.insert(f.tag,
		map[string]any{"id": "t1", "label": "go"},
		map[string]any{"id": "t2", "label": "db"},
	)
	f.insert(f.foo, map[string]any{"id": "f1"}, map[string]any{"id": "f2"})
	f.insert(f.bar, map[string]any{"id": "b1", "fooId": "f1"})
	f.insert(f.baz, map[string]any{"id": "z1", "barId": "b1"})

	f.store.Reset()
	return f
}

// The helpers below fail f.t; call them from the test goroutine only.

func (f *fixture) insert(table *relmap.Table, docs ...map[string]any) {
	t := f.t
	t.Helper()
	q := testutil.Result(table.Insert(docs, relmap.InsertOptions{})).Must(t)
	res := testutil.Result(rql.RunWrite(f.ctx, f.sess, q)).Must(t)
	if res.Inserted != len(docs) {
		t.Fatalf("insert into %s = %+v", table.Name(), res)
	}
}

func (f *fixture) doc(q rql.Term) store.Document {
	t := f.t
	t.Helper()
	return testutil.Result(rql.RunDocument(f.ctx, f.sess, q)).Must(t)
}

func (f *fixture) docs(q rql.Term) []store.Document {
	t := f.t
	t.Helper()
	return testutil.Result(rql.RunDocuments(f.ctx, f.sess, q)).Must(t)
}

func (f *fixture) write(q rql.Term, err error) store.WriteResult {
	t := f.t
	t.Helper()
	testutil.Must(t, err)
	return testutil.Result(rql.RunWrite(f.ctx, f.sess, q)).Must(t)
}

func (f *fixture) has(q rql.Term, err error) bool {
	t := f.t
	t.Helper()
	testutil.Must(t, err)
	return testutil.Result(rql.RunBool(f.ctx, f.sess, q)).Must(t)
}

// ids returns the sorted ids of a list of documents held in a document field.
func ids(v any) []string {
	list, _ := v.([]any)
	docs := make([]store.Document, 0, len(list))
	for _, el := range list {
		if d, ok := el.(map[string]any); ok {
			docs = append(docs, d)
		}
	}
	return storetest.IDs(docs)
}
