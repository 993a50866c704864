package relmap

import (
	"fmt"

	"github.com/hlop3z/relmap/internal/alerr"
)

// Endpoint is one side of a Link.
type Endpoint struct {
	Table *Table
	Field string
}

func (e Endpoint) String() string {
	if e.Table == nil {
		return "<nil>." + e.Field
	}
	return e.Table.name + "." + e.Field
}

// Link pairs a field of one table with a field of another. The right field is
// the referenced side and must be the primary key or an indexed field.
//
// A Link is created eagerly but its fields are checked against the schemas
// lazily, so links can be built inside relation thunks that refer to tables
// whose schemas are not evaluated yet.
type Link struct {
	Left  Endpoint
	Right Endpoint
}

// NewLink returns the link after checking both endpoints.
func NewLink(left, right Endpoint) (*Link, error) {
	l := &Link{Left: left, Right: right}
	if err := l.Err(); err != nil {
		return nil, err
	}
	return l, nil
}

// Err reports why the link is unusable, or nil.
func (l *Link) Err() error {
	if l == nil {
		return alerr.New(alerr.ErrInvalidLink, "link is nil")
	}
	for _, ep := range []Endpoint{l.Left, l.Right} {
		if ep.Table == nil {
			return alerr.Newf(alerr.ErrInvalidLink, "link endpoint %s has no table", ep)
		}
		if err := ep.Table.AssertField(ep.Field); err != nil {
			return alerr.Wrapf(alerr.ErrInvalidLink, err, "link endpoint %s is not a declared field", ep).
				WithTable(ep.Table.name).WithField(ep.Field)
		}
	}
	if !l.Right.Table.IsIndexed(l.Right.Field) {
		return alerr.Newf(alerr.ErrInvalidLink, "link target %s is not indexed", l.Right).
			WithTable(l.Right.Table.name).WithField(l.Right.Field).
			WithHelp(fmt.Sprintf("mark %s as indexed or link to %s.%s", l.Right, l.Right.Table.name, l.Right.Table.pk))
	}
	return nil
}

func (l *Link) String() string {
	return fmt.Sprintf("%s -> %s", l.Left, l.Right)
}

// LinkTo links field of t to index of target. index defaults to the target's
// primary key.
func (t *Table) LinkTo(target *Table, field string, index ...string) *Link {
	right := ""
	if target != nil {
		right = target.pk
	}
	if len(index) > 0 && index[0] != "" {
		right = index[0]
	}
	return &Link{Left: Endpoint{Table: t, Field: field}, Right: Endpoint{Table: target, Field: right}}
}

// LinkedBy links field of target to index of t, the reverse of LinkTo.
func (t *Table) LinkedBy(target *Table, field string, index ...string) *Link {
	if target == nil {
		return &Link{Left: Endpoint{Field: field}, Right: Endpoint{Table: t, Field: t.pk}}
	}
	return target.LinkTo(t, field, index...)
}
