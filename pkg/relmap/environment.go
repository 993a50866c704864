package relmap

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/hlop3z/relmap/internal/registry"
	"github.com/hlop3z/relmap/internal/rql"
)

// Environment holds the tables of one application. Tables look each other up
// through it; there is no process-wide registry.
type Environment struct {
	tables *registry.Registry[*Table]
	log    *zap.Logger
}

// EnvOption configures an Environment.
type EnvOption func(*Environment)

// WithLogger sets the logger tables created by the environment inherit.
func WithLogger(l *zap.Logger) EnvOption {
	return func(e *Environment) {
		if l != nil {
			e.log = l
		}
	}
}

// NewEnvironment returns an empty environment.
func NewEnvironment(opts ...EnvOption) *Environment {
	e := &Environment{
		tables: registry.New[*Table]("table"),
		log:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CreateTable declares a table. If a table with the same name exists, it is
// returned unchanged and opts are ignored.
func (e *Environment) CreateTable(opts TableOptions) (*Table, error) {
	if t, ok := e.tables.Get(opts.Name); ok {
		e.log.Debug("table already declared", zap.String("table", opts.Name))
		return t, nil
	}

	if opts.Logger == nil {
		opts.Logger = e.log
	}
	t, err := NewTable(opts)
	if err != nil {
		return nil, err
	}
	if err := e.tables.Register(t.name, t); err != nil {
		if existing, ok := e.tables.Get(t.name); ok {
			return existing, nil
		}
		return nil, err
	}
	e.log.Debug("table declared", zap.String("table", t.name))
	return t, nil
}

// MustCreateTable is CreateTable that panics on error, for package-level
// declarations.
func (e *Environment) MustCreateTable(opts TableOptions) *Table {
	t, err := e.CreateTable(opts)
	if err != nil {
		panic(err)
	}
	return t
}

// GetTable returns the named table, or ErrTableNotFound.
func (e *Environment) GetTable(name string) (*Table, error) {
	return e.tables.Resolve(name)
}

// HasTable reports whether the table is declared.
func (e *Environment) HasTable(name string) bool {
	return e.tables.Has(name)
}

// Tables returns the tables in declaration order.
func (e *Environment) Tables() []*Table {
	return e.tables.Values()
}

// Validate checks every table and joins the errors.
func (e *Environment) Validate() error {
	var errs []error
	for _, t := range e.Tables() {
		if err := t.Check(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Sync syncs every table, one at a time, in declaration order.
func (e *Environment) Sync(ctx context.Context, sess *rql.Session) error {
	for _, t := range e.Tables() {
		if err := t.Sync(ctx, sess); err != nil {
			return err
		}
	}
	return nil
}
