// Package storetest holds a conformance suite every store.Store backend must
// pass.
package storetest

import (
	"context"
	"slices"
	"testing"

	"github.com/hlop3z/relmap/internal/store"
)

// Run exercises s. The store must start empty.
func Run(t *testing.T, s store.Store) {
	t.Helper()
	ctx := context.Background()

	ref := store.TableRef{
		Name:       "sub",
		PrimaryKey: "id",
		Compound:   map[string][]string{"userId_topicId": {"userId", "topicId"}},
	}

	t.Run("schema", func(t *testing.T) {
		for range 2 {
			if err := s.TableCreate(ctx, ref); err != nil {
				t.Fatalf("TableCreate() error = %v", err)
			}
			for _, name := range []string{"userId", "userId_topicId"} {
				if err := s.IndexCreate(ctx, ref, ref.Index(name)); err != nil {
					t.Fatalf("IndexCreate(%s) error = %v", name, err)
				}
				if err := s.IndexWait(ctx, ref, name); err != nil {
					t.Fatalf("IndexWait(%s) error = %v", name, err)
				}
			}
		}

		tables, err := s.TableList(ctx)
		if err != nil {
			t.Fatalf("TableList() error = %v", err)
		}
		if !slices.Contains(tables, "sub") {
			t.Errorf("TableList() = %v, missing sub", tables)
		}

		indexes, err := s.IndexList(ctx, ref)
		if err != nil {
			t.Fatalf("IndexList() error = %v", err)
		}
		if !slices.Equal(indexes, []string{"userId", "userId_topicId"}) {
			t.Errorf("IndexList() = %v", indexes)
		}
	})

	t.Run("writes", func(t *testing.T) {
		rows := []store.Document{
			{"id": "s1", "userId": "u1", "topicId": "t1", "level": 1},
			{"id": "s2", "userId": "u1", "topicId": "t2", "level": 2},
			{"id": "s3", "userId": "u2", "topicId": "t1", "level": 3},
		}
		for _, row := range rows {
			res, err := s.Insert(ctx, ref, row, store.ConflictError)
			if err != nil {
				t.Fatalf("Insert() error = %v", err)
			}
			if res.Inserted != 1 {
				t.Fatalf("Insert() = %+v", res)
			}
		}

		res, err := s.Insert(ctx, ref, rows[0], store.ConflictError)
		if err != nil {
			t.Fatalf("duplicate Insert() error = %v", err)
		}
		if res.Errors != 1 {
			t.Errorf("duplicate Insert() = %+v, want one error", res)
		}

		res, err = s.Insert(ctx, ref, store.Document{"id": "s2", "level": 5}, store.ConflictUpdate)
		if err != nil {
			t.Fatalf("update Insert() error = %v", err)
		}
		if res.Replaced != 1 {
			t.Errorf("update Insert() = %+v, want one replace", res)
		}
	})

	t.Run("reads", func(t *testing.T) {
		doc, err := s.Get(ctx, ref, "s2")
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		want := store.Document{"id": "s2", "userId": "u1", "topicId": "t2", "level": 5.0}
		if !store.Equal(doc, want) {
			t.Errorf("Get() = %v, want %v", doc, want)
		}

		missing, err := s.Get(ctx, ref, "nope")
		if err != nil || missing != nil {
			t.Errorf("Get(missing) = %v, %v", missing, err)
		}

		docs, err := s.GetAll(ctx, ref, ref.Index("userId"), []any{"u1", nil})
		if err != nil {
			t.Fatalf("GetAll() error = %v", err)
		}
		if got := IDs(docs); !slices.Equal(got, []string{"s1", "s2"}) {
			t.Errorf("GetAll(userId) = %v", got)
		}

		docs, err = s.GetAll(ctx, ref, ref.Index("userId_topicId"), []any{[]any{"u2", "t1"}})
		if err != nil {
			t.Fatalf("GetAll() error = %v", err)
		}
		if got := IDs(docs); !slices.Equal(got, []string{"s3"}) {
			t.Errorf("GetAll(userId_topicId) = %v", got)
		}
	})

	t.Run("delete", func(t *testing.T) {
		if err := s.Delete(ctx, ref, "s1"); err != nil {
			t.Fatalf("Delete() error = %v", err)
		}
		docs, err := s.Scan(ctx, ref)
		if err != nil {
			t.Fatalf("Scan() error = %v", err)
		}
		if got := IDs(docs); !slices.Equal(got, []string{"s2", "s3"}) {
			t.Errorf("Scan() = %v", got)
		}
	})
}

// IDs returns the sorted id fields of docs.
func IDs(docs []store.Document) []string {
	out := make([]string, 0, len(docs))
	for _, d := range docs {
		if id, ok := d["id"].(string); ok {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return out
}
