// Package mongostore implements store.Store on MongoDB. Each table is a
// collection whose _id holds the primary key; secondary indexes are named
// collection indexes over document fields.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/hlop3z/relmap/internal/alerr"
	"github.com/hlop3z/relmap/internal/store"
)

// DefaultDatabase is used when the connection URL names no database.
const DefaultDatabase = "relmap"

// Store is a store.Store backed by a MongoDB database.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
	log    *zap.Logger
	owned  bool
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for operation tracing.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.log = l
		}
	}
}

// New wraps a connected client. Close does not disconnect it.
func New(client *mongo.Client, database string, opts ...Option) *Store {
	s := &Store{client: client, db: client.Database(database), log: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open connects to the MongoDB deployment at url and uses database, or the
// database named in the URL, or DefaultDatabase.
func Open(ctx context.Context, url, database string, opts ...Option) (*Store, error) {
	clientOpts := options.Client().ApplyURI(url)
	if err := clientOpts.Validate(); err != nil {
		return nil, alerr.Wrap(alerr.ErrConnection, err, "invalid mongodb url")
	}

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, alerr.Wrap(alerr.ErrConnection, err, "failed to open mongodb client")
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, alerr.Wrap(alerr.ErrConnection, err, "failed to connect to mongodb")
	}

	if database == "" {
		database = databaseFromURL(url)
	}
	s := New(client, database, opts...)
	s.owned = true
	return s, nil
}

// Database returns the underlying database handle.
func (s *Store) Database() *mongo.Database {
	return s.db
}

func (s *Store) Dialect() string {
	return "mongodb"
}

func (s *Store) Close() error {
	if !s.owned {
		return nil
	}
	return s.client.Disconnect(context.Background())
}

func (s *Store) trace(op, table string, fields ...zap.Field) {
	s.log.Debug(op, append([]zap.Field{zap.String("table", table)}, fields...)...)
}

// -----------------------------------------------------------------------------
// Tables and indexes
// -----------------------------------------------------------------------------

func (s *Store) TableList(ctx context.Context) ([]string, error) {
	names, err := s.db.ListCollectionNames(ctx, bson.D{})
	if err != nil {
		return nil, alerr.WrapEngine(err, "list tables", "")
	}
	slices.Sort(names)
	return names, nil
}

func (s *Store) TableCreate(ctx context.Context, table store.TableRef) error {
	s.trace("create table", table.Name)
	names, err := s.TableList(ctx)
	if err != nil {
		return err
	}
	if slices.Contains(names, table.Name) {
		return nil
	}
	if err := s.db.CreateCollection(ctx, table.Name); err != nil {
		var cmdErr mongo.CommandError
		if errors.As(err, &cmdErr) && cmdErr.Name == "NamespaceExists" {
			return nil
		}
		return alerr.WrapEngine(err, "create table", table.Name)
	}
	return nil
}

func (s *Store) IndexList(ctx context.Context, table store.TableRef) ([]string, error) {
	cur, err := s.db.Collection(table.Name).Indexes().List(ctx)
	if err != nil {
		return nil, alerr.WrapEngine(err, "list indexes", table.Name)
	}
	var specs []bson.M
	if err := cur.All(ctx, &specs); err != nil {
		return nil, alerr.WrapEngine(err, "list indexes", table.Name)
	}

	var out []string
	for _, spec := range specs {
		name, _ := spec["name"].(string)
		if name == "" || name == "_id_" {
			continue
		}
		out = append(out, name)
	}
	slices.Sort(out)
	return out, nil
}

func (s *Store) IndexCreate(ctx context.Context, table store.TableRef, index store.IndexRef) error {
	if len(index.Fields) == 0 {
		return alerr.New(alerr.ErrQuery, "index must have at least one field").
			WithTable(table.Name).
			With("index", index.Name)
	}
	s.trace("create index", table.Name, zap.String("index", index.Name), zap.Strings("fields", index.Fields))

	keys := bson.D{}
	for _, f := range index.Fields {
		keys = append(keys, bson.E{Key: f, Value: 1})
	}
	model := mongo.IndexModel{Keys: keys, Options: options.Index().SetName(index.Name)}
	if _, err := s.db.Collection(table.Name).Indexes().CreateOne(ctx, model); err != nil {
		return alerr.WrapEngine(err, "create index", table.Name).With("index", index.Name)
	}
	return nil
}

// IndexWait returns once the index is listed. Index builds on MongoDB commit
// before createIndexes returns.
func (s *Store) IndexWait(ctx context.Context, table store.TableRef, name string) error {
	names, err := s.IndexList(ctx, table)
	if err != nil {
		return err
	}
	if !slices.Contains(names, name) {
		return alerr.New(alerr.ErrQuery, "index does not exist").
			WithTable(table.Name).
			With("index", name)
	}
	return nil
}

// -----------------------------------------------------------------------------
// Reads
// -----------------------------------------------------------------------------

func (s *Store) Get(ctx context.Context, table store.TableRef, key any) (store.Document, error) {
	if key == nil {
		return nil, nil
	}
	s.trace("get", table.Name)

	var raw bson.M
	err := s.db.Collection(table.Name).FindOne(ctx, bson.M{"_id": store.Normalize(key)}).Decode(&raw)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, alerr.WrapEngine(err, "get", table.Name)
	}
	return fromBSON(raw, table.PrimaryKey), nil
}

func (s *Store) GetAll(ctx context.Context, table store.TableRef, index store.IndexRef, keys []any) ([]store.Document, error) {
	filter, err := indexFilter(index, keys)
	if err != nil {
		return nil, alerr.Wrap(alerr.ErrQuery, err, "invalid index lookup").
			WithTable(table.Name).
			With("index", index.Name)
	}
	if filter == nil {
		return nil, nil
	}
	s.trace("get all", table.Name, zap.String("index", index.Name), zap.Int("keys", len(keys)))
	return s.find(ctx, table, filter)
}

func (s *Store) Scan(ctx context.Context, table store.TableRef) ([]store.Document, error) {
	s.trace("scan", table.Name)
	return s.find(ctx, table, bson.D{})
}

func (s *Store) find(ctx context.Context, table store.TableRef, filter any) ([]store.Document, error) {
	cur, err := s.db.Collection(table.Name).Find(ctx, filter)
	if err != nil {
		return nil, alerr.WrapEngine(err, "find", table.Name)
	}
	var raws []bson.M
	if err := cur.All(ctx, &raws); err != nil {
		return nil, alerr.WrapEngine(err, "find", table.Name)
	}

	out := make([]store.Document, len(raws))
	for i, raw := range raws {
		out[i] = fromBSON(raw, table.PrimaryKey)
	}
	return out, nil
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
		s.trace("insert", table.Name)
		if _, err := s.db.Collection(table.Name).InsertOne(ctx, toBSON(doc, table.PrimaryKey)); err != nil {
			if mongo.IsDuplicateKeyError(err) {
				return store.WriteResult{Errors: 1, FirstError: err.Error()}, nil
			}
			return store.WriteResult{}, alerr.WrapEngine(err, "insert", table.Name)
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
	s.trace("replace", table.Name)
	filter := bson.M{"_id": store.Normalize(doc[table.PrimaryKey])}
	if _, err := s.db.Collection(table.Name).ReplaceOne(ctx, filter, toBSON(doc, table.PrimaryKey)); err != nil {
		return alerr.WrapEngine(err, "replace", table.Name)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, table store.TableRef, key any) error {
	s.trace("delete", table.Name)
	if _, err := s.db.Collection(table.Name).DeleteOne(ctx, bson.M{"_id": store.Normalize(key)}); err != nil {
		return alerr.WrapEngine(err, "delete", table.Name)
	}
	return nil
}

var _ store.Store = (*Store)(nil)
