// Package store defines the physical document engine relmap runs against.
// A Store keeps one collection of JSON-like documents per table, keyed by the
// table's primary key, and maintains named secondary indexes over one or more
// document fields. Query composition happens in package rql; implementations
// only provide the primitive reads and writes listed on Store.
package store

import (
	"context"
	"slices"
)

// Document is a single stored row.
type Document = map[string]any

// TableRef identifies a table together with the layout the store needs to
// resolve keys and indexes.
type TableRef struct {
	Name       string
	PrimaryKey string
	// Compound maps compound index names to their ordered fields.
	Compound map[string][]string
}

// Index resolves an index name. Names without a compound declaration denote a
// single-field index over the field of the same name.
func (t TableRef) Index(name string) IndexRef {
	if fields, ok := t.Compound[name]; ok {
		return IndexRef{Name: name, Fields: slices.Clone(fields)}
	}
	return IndexRef{Name: name, Fields: []string{name}}
}

// IndexRef is a named secondary index.
type IndexRef struct {
	Name   string
	Fields []string
}

// IsCompound reports whether lookups on this index take array keys.
func (i IndexRef) IsCompound() bool {
	return len(i.Fields) > 1
}

// Conflict selects how Insert treats an existing primary key.
type Conflict int

const (
	// ConflictError records a write error and leaves the stored row untouched.
	ConflictError Conflict = iota
	// ConflictReplace overwrites the stored row.
	ConflictReplace
	// ConflictUpdate merges the new fields into the stored row.
	ConflictUpdate
)

// ParseConflict maps the textual conflict policy to a Conflict.
func ParseConflict(s string) (Conflict, bool) {
	switch s {
	case "", "error":
		return ConflictError, true
	case "replace":
		return ConflictReplace, true
	case "update":
		return ConflictUpdate, true
	}
	return ConflictError, false
}

// WriteResult summarizes a write. Field names follow the document-engine
// convention so results can be embedded in query output as-is.
type WriteResult struct {
	Inserted   int    `json:"inserted"`
	Replaced   int    `json:"replaced"`
	Unchanged  int    `json:"unchanged"`
	Skipped    int    `json:"skipped"`
	Deleted    int    `json:"deleted"`
	Errors     int    `json:"errors"`
	FirstError string `json:"first_error,omitempty"`
}

// Add accumulates other into w.
func (w *WriteResult) Add(other WriteResult) {
	w.Inserted += other.Inserted
	w.Replaced += other.Replaced
	w.Unchanged += other.Unchanged
	w.Skipped += other.Skipped
	w.Deleted += other.Deleted
	w.Errors += other.Errors
	if w.FirstError == "" {
		w.FirstError = other.FirstError
	}
}

// Map renders the result as a document.
func (w WriteResult) Map() Document {
	m := Document{
		"inserted":  float64(w.Inserted),
		"replaced":  float64(w.Replaced),
		"unchanged": float64(w.Unchanged),
		"skipped":   float64(w.Skipped),
		"deleted":   float64(w.Deleted),
		"errors":    float64(w.Errors),
	}
	if w.FirstError != "" {
		m["first_error"] = w.FirstError
	}
	return m
}

// Store is a document engine with secondary indexes.
//
// Get returns a nil Document without error when the key is absent.
// GetAll returns every row whose index value equals one of keys; for a
// compound index each key is a []any with one element per index field.
// Row order is unspecified.
type Store interface {
	// Dialect names the engine ("sqlite", "postgres", "mongodb").
	Dialect() string

	TableList(ctx context.Context) ([]string, error)
	TableCreate(ctx context.Context, table TableRef) error

	IndexList(ctx context.Context, table TableRef) ([]string, error)
	IndexCreate(ctx context.Context, table TableRef, index IndexRef) error
	// IndexWait blocks until the index is ready for lookups.
	IndexWait(ctx context.Context, table TableRef, name string) error

	Get(ctx context.Context, table TableRef, key any) (Document, error)
	GetAll(ctx context.Context, table TableRef, index IndexRef, keys []any) ([]Document, error)
	Scan(ctx context.Context, table TableRef) ([]Document, error)

	Insert(ctx context.Context, table TableRef, doc Document, conflict Conflict) (WriteResult, error)
	// Replace overwrites the row with doc's primary key.
	Replace(ctx context.Context, table TableRef, doc Document) error
	Delete(ctx context.Context, table TableRef, key any) error

	Close() error
}
