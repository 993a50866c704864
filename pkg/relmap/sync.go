package relmap

import (
	"context"

	"go.uber.org/zap"

	"github.com/hlop3z/relmap/internal/rql"
)

// SyncTerms returns the terms that bring the physical table in line with the
// declaration, in execution order: create the table if missing, then create
// and wait for every field index and compound index. Each term is idempotent.
func (t *Table) SyncTerms() ([]rql.Term, error) {
	if err := t.checkSchema(); err != nil {
		return nil, err
	}

	terms := []rql.Term{
		rql.Branch(rql.TableList().Contains(t.name).Not(), rql.TableCreate(t.Ref()), nil),
	}
	for _, idx := range t.indexNames() {
		q := t.Query()
		terms = append(terms,
			rql.Branch(q.IndexList().Contains(idx).Not(), q.IndexCreate(idx, t.indexes[idx]...), nil),
			q.IndexWait(idx),
		)
	}
	return terms, nil
}

// Sync runs SyncTerms one at a time.
func (t *Table) Sync(ctx context.Context, sess *rql.Session) error {
	terms, err := t.SyncTerms()
	if err != nil {
		return err
	}
	for _, term := range terms {
		if _, err := term.Run(ctx, sess); err != nil {
			return annotate(err, t.name, "")
		}
	}
	t.log.Debug("table synced", zap.Strings("indexes", t.indexNames()))
	return nil
}

// indexNames lists the secondary indexes the table needs: indexed fields,
// then unique fields, then compound indexes. The primary key is excluded.
func (t *Table) indexNames() []string {
	seen := map[string]bool{t.pk: true}
	var names []string
	add := func(name string) {
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	for _, f := range t.MetaFields("index") {
		add(f)
	}
	for _, f := range t.MetaFields("unique") {
		add(f)
	}
	for _, idx := range sortedKeys(t.indexes) {
		add(idx)
	}
	return names
}
