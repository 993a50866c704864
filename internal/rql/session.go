package rql

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/hlop3z/relmap/internal/alerr"
	"github.com/hlop3z/relmap/internal/store"
)

// Session executes terms against a store. A Session holds no per-query state
// and may be shared by concurrent callers.
type Session struct {
	store store.Store
	log   *zap.Logger
	clock func() time.Time
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the logger used to trace executed terms at debug level.
func WithLogger(l *zap.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.log = l
		}
	}
}

// WithClock replaces the clock Now reads.
func WithClock(clock func() time.Time) Option {
	return func(s *Session) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// NewSession returns a session over st.
func NewSession(st store.Store, opts ...Option) *Session {
	s := &Session{store: st, log: zap.NewNop(), clock: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Store returns the store the session runs against.
func (s *Session) Store() store.Store {
	return s.store
}

// Close closes the underlying store.
func (s *Session) Close() error {
	return s.store.Close()
}

func (s *Session) timestamp() string {
	return s.clock().UTC().Format(time.RFC3339Nano)
}

// Run evaluates the term. Selections are returned as documents (a row, nil,
// or a []any of rows); writes return a store.WriteResult.
func (t Term) Run(ctx context.Context, s *Session) (any, error) {
	s.log.Debug("run", zap.Stringer("term", t))

	e := &evaluator{ctx: ctx, s: s}
	v, err := e.eval(t)
	if err != nil {
		return nil, err
	}
	return e.plain(v)
}

// RunDocument runs t and expects an object or null.
func RunDocument(ctx context.Context, s *Session, t Term) (store.Document, error) {
	v, err := t.Run(ctx, s)
	if err != nil {
		return nil, err
	}
	switch x := v.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		return x, nil
	}
	return nil, resultErr("OBJECT", v)
}

// RunDocuments runs t and expects a sequence of objects. Null yields an empty
// slice.
func RunDocuments(ctx context.Context, s *Session, t Term) ([]store.Document, error) {
	v, err := t.Run(ctx, s)
	if err != nil {
		return nil, err
	}
	switch x := v.(type) {
	case nil:
		return []store.Document{}, nil
	case []any:
		out := make([]store.Document, 0, len(x))
		for _, el := range x {
			doc, ok := el.(map[string]any)
			if !ok {
				return nil, resultErr("ARRAY of OBJECT", v)
			}
			out = append(out, doc)
		}
		return out, nil
	}
	return nil, resultErr("ARRAY", v)
}

// RunBool runs t and expects a boolean.
func RunBool(ctx context.Context, s *Session, t Term) (bool, error) {
	v, err := t.Run(ctx, s)
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, resultErr("BOOL", v)
	}
	return b, nil
}

// RunWrite runs t and expects a write result.
func RunWrite(ctx context.Context, s *Session, t Term) (store.WriteResult, error) {
	v, err := t.Run(ctx, s)
	if err != nil {
		return store.WriteResult{}, err
	}
	res, ok := v.(store.WriteResult)
	if !ok {
		return store.WriteResult{}, resultErr("WRITE_RESULT", v)
	}
	return res, nil
}

// RunCount runs t and expects a number.
func RunCount(ctx context.Context, s *Session, t Term) (int, error) {
	v, err := t.Run(ctx, s)
	if err != nil {
		return 0, err
	}
	f, ok := v.(float64)
	if !ok {
		return 0, resultErr("NUMBER", v)
	}
	return int(f), nil
}

func resultErr(want string, got any) *alerr.Error {
	return alerr.Newf(alerr.ErrQuery, "expected %s result, got %s", want, typeName(got))
}
