// Package sqlstore implements store.Store on SQL databases that can index
// JSON expressions. Each table holds (pk, doc) rows: pk is the canonical JSON
// text of the primary key and doc the whole document. Secondary indexes are
// expression indexes over document fields.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/hlop3z/relmap/internal/alerr"
	"github.com/hlop3z/relmap/internal/store"
)

// Store is a store.Store backed by database/sql.
type Store struct {
	db      *sql.DB
	dialect Dialect
	log     *zap.Logger
	owned   bool
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for statement tracing.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.log = l
		}
	}
}

// New wraps an open database. Close does not close db.
func New(db *sql.DB, d Dialect, opts ...Option) *Store {
	s := &Store{db: db, dialect: d, log: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DB returns the underlying database handle.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Dialect returns the dialect name.
func (s *Store) Dialect() string {
	return s.dialect.Name()
}

// Close closes the database if the Store opened it.
func (s *Store) Close() error {
	if !s.owned {
		return nil
	}
	return s.db.Close()
}

func (s *Store) exec(ctx context.Context, op, table, query string, args ...any) (sql.Result, error) {
	s.log.Debug("exec", zap.String("op", op), zap.String("table", table), zap.String("sql", query))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, alerr.WrapEngine(err, op, table).With("sql", query)
	}
	return res, nil
}

func (s *Store) queryStrings(ctx context.Context, op, table, query string, args ...any) ([]string, error) {
	s.log.Debug("query", zap.String("op", op), zap.String("table", table), zap.String("sql", query))
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, alerr.WrapEngine(err, op, table).With("sql", query)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, alerr.WrapEngine(err, op, table)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, alerr.WrapEngine(err, op, table)
	}
	return out, nil
}

func (s *Store) queryDocuments(ctx context.Context, op, table, query string, args ...any) ([]store.Document, error) {
	s.log.Debug("query", zap.String("op", op), zap.String("table", table), zap.String("sql", query))
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, alerr.WrapEngine(err, op, table).With("sql", query)
	}
	defer rows.Close()

	var out []store.Document
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, alerr.WrapEngine(err, op, table)
		}
		doc, err := store.DecodeDocument(raw)
		if err != nil {
			return nil, alerr.WrapEngine(err, "decode document", table)
		}
		out = append(out, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, alerr.WrapEngine(err, op, table)
	}
	return out, nil
}

// -----------------------------------------------------------------------------
// Tables and indexes
// -----------------------------------------------------------------------------

func (s *Store) TableList(ctx context.Context) ([]string, error) {
	return s.queryStrings(ctx, "list tables", "", s.dialect.ListTablesSQL())
}

func (s *Store) TableCreate(ctx context.Context, table store.TableRef) error {
	_, err := s.exec(ctx, "create table", table.Name, createTableSQL(s.dialect, table.Name))
	return err
}

func (s *Store) IndexList(ctx context.Context, table store.TableRef) ([]string, error) {
	physical, err := s.queryStrings(ctx, "list indexes", table.Name, s.dialect.ListIndexesSQL(), table.Name)
	if err != nil {
		return nil, err
	}

	var out []string
	for _, p := range physical {
		if name, ok := logicalIndexName(table.Name, p); ok {
			out = append(out, name)
		}
	}
	return out, nil
}

func (s *Store) IndexCreate(ctx context.Context, table store.TableRef, index store.IndexRef) error {
	if len(index.Fields) == 0 {
		return alerr.New(alerr.ErrQuery, "index must have at least one field").
			WithTable(table.Name).
			With("index", index.Name)
	}
	_, err := s.exec(ctx, "create index", table.Name, createIndexSQL(s.dialect, table.Name, index.Name, index.Fields))
	return err
}

// IndexWait returns immediately: SQL indexes are built synchronously by
// CREATE INDEX.
func (s *Store) IndexWait(ctx context.Context, table store.TableRef, name string) error {
	return ctx.Err()
}

// -----------------------------------------------------------------------------
// Reads
// -----------------------------------------------------------------------------

func (s *Store) Get(ctx context.Context, table store.TableRef, key any) (store.Document, error) {
	if key == nil {
		return nil, nil
	}
	pk, err := store.EncodeKey(key)
	if err != nil {
		return nil, alerr.Wrap(alerr.ErrQuery, err, "primary key is not encodable").WithTable(table.Name)
	}

	q := fmt.Sprintf("SELECT doc FROM %s WHERE pk = %s", s.dialect.QuoteIdent(table.Name), s.dialect.Placeholder(1))
	docs, err := s.queryDocuments(ctx, "get", table.Name, q, pk)
	if err != nil || len(docs) == 0 {
		return nil, err
	}
	return docs[0], nil
}

func (s *Store) GetAll(ctx context.Context, table store.TableRef, index store.IndexRef, keys []any) ([]store.Document, error) {
	where, args, err := s.indexPredicate(index, keys)
	if err != nil {
		return nil, alerr.Wrap(alerr.ErrQuery, err, "invalid index lookup").
			WithTable(table.Name).
			With("index", index.Name)
	}
	if where == "" {
		return nil, nil
	}

	q := fmt.Sprintf("SELECT doc FROM %s WHERE %s", s.dialect.QuoteIdent(table.Name), where)
	return s.queryDocuments(ctx, "get all", table.Name, q, args...)
}

// indexPredicate builds the WHERE clause matching any of keys. Null keys, and
// compound keys with a null component, match nothing and are dropped. An empty
// clause means no key can match.
func (s *Store) indexPredicate(index store.IndexRef, keys []any) (string, []any, error) {
	var (
		args    []any
		clauses []string
	)
	param := func(v any) (string, error) {
		enc, err := store.EncodeKey(v)
		if err != nil {
			return "", err
		}
		args = append(args, enc)
		return s.dialect.JSONPlaceholder(len(args)), nil
	}

	if !index.IsCompound() {
		expr := s.dialect.FieldExpr(index.Fields[0])
		for _, k := range keys {
			if k == nil {
				continue
			}
			p, err := param(k)
			if err != nil {
				return "", nil, err
			}
			clauses = append(clauses, p)
		}
		if len(clauses) == 0 {
			return "", nil, nil
		}
		return expr + " IN (" + strings.Join(clauses, ", ") + ")", args, nil
	}

	for _, k := range keys {
		parts, ok := store.Normalize(k).([]any)
		if !ok || len(parts) != len(index.Fields) {
			return "", nil, fmt.Errorf("compound index %q expects keys of %d values, got %v", index.Name, len(index.Fields), k)
		}
		if containsNil(parts) {
			continue
		}
		conds := make([]string, len(parts))
		for i, part := range parts {
			p, err := param(part)
			if err != nil {
				return "", nil, err
			}
			conds[i] = s.dialect.FieldExpr(index.Fields[i]) + " = " + p
		}
		clauses = append(clauses, "("+strings.Join(conds, " AND ")+")")
	}
	if len(clauses) == 0 {
		return "", nil, nil
	}
	return strings.Join(clauses, " OR "), args, nil
}

func containsNil(vs []any) bool {
	for _, v := range vs {
		if v == nil {
			return true
		}
	}
	return false
}

func (s *Store) Scan(ctx context.Context, table store.TableRef) ([]store.Document, error) {
	q := "SELECT doc FROM " + s.dialect.QuoteIdent(table.Name)
	return s.queryDocuments(ctx, "scan", table.Name, q)
}

// -----------------------------------------------------------------------------
// Writes
// -----------------------------------------------------------------------------

func (s *Store) Insert(ctx context.Context, table store.TableRef, doc store.Document, conflict store.Conflict) (store.WriteResult, error) {
	key, ok := doc[table.PrimaryKey]
	if !ok || key == nil {
		return store.WriteResult{
			Errors:     1,
			FirstError: fmt.Sprintf("document is missing primary key `%s`", table.PrimaryKey),
		}, nil
	}

	existing, err := s.Get(ctx, table, key)
	if err != nil {
		return store.WriteResult{}, err
	}

	if existing == nil {
		pk, raw, err := encodeRow(key, doc)
		if err != nil {
			return store.WriteResult{}, alerr.Wrap(alerr.ErrQuery, err, "document is not encodable").WithTable(table.Name)
		}
		q := fmt.Sprintf("INSERT INTO %s (pk, doc) VALUES (%s, %s)",
			s.dialect.QuoteIdent(table.Name), s.dialect.Placeholder(1), s.dialect.JSONPlaceholder(2))
		if _, err := s.exec(ctx, "insert", table.Name, q, pk, raw); err != nil {
			return store.WriteResult{}, err
		}
		return store.WriteResult{Inserted: 1}, nil
	}

	var next store.Document
	switch conflict {
	case store.ConflictReplace:
		next = doc
	case store.ConflictUpdate:
		next = store.Merge(existing, doc)
	default:
		enc, _ := store.EncodeKey(key)
		return store.WriteResult{
			Errors:     1,
			FirstError: fmt.Sprintf("duplicate primary key `%s`: %s", table.PrimaryKey, enc),
		}, nil
	}

	if store.Equal(existing, next) {
		return store.WriteResult{Unchanged: 1}, nil
	}
	if err := s.Replace(ctx, table, next); err != nil {
		return store.WriteResult{}, err
	}
	return store.WriteResult{Replaced: 1}, nil
}

func (s *Store) Replace(ctx context.Context, table store.TableRef, doc store.Document) error {
	pk, raw, err := encodeRow(doc[table.PrimaryKey], doc)
	if err != nil {
		return alerr.Wrap(alerr.ErrQuery, err, "document is not encodable").WithTable(table.Name)
	}
	q := fmt.Sprintf("UPDATE %s SET doc = %s WHERE pk = %s",
		s.dialect.QuoteIdent(table.Name), s.dialect.JSONPlaceholder(1), s.dialect.Placeholder(2))
	_, err = s.exec(ctx, "replace", table.Name, q, raw, pk)
	return err
}

func (s *Store) Delete(ctx context.Context, table store.TableRef, key any) error {
	pk, err := store.EncodeKey(key)
	if err != nil {
		return alerr.Wrap(alerr.ErrQuery, err, "primary key is not encodable").WithTable(table.Name)
	}
	q := fmt.Sprintf("DELETE FROM %s WHERE pk = %s", s.dialect.QuoteIdent(table.Name), s.dialect.Placeholder(1))
	_, err = s.exec(ctx, "delete", table.Name, q, pk)
	return err
}

func encodeRow(key any, doc store.Document) (string, string, error) {
	pk, err := store.EncodeKey(key)
	if err != nil {
		return "", "", err
	}
	raw, err := store.EncodeDocument(doc)
	if err != nil {
		return "", "", err
	}
	return pk, string(raw), nil
}

var _ store.Store = (*Store)(nil)
