package relmap

import (
	"strings"

	"github.com/hlop3z/relmap/internal/alerr"
	"github.com/hlop3z/relmap/internal/rql"
	"github.com/hlop3z/relmap/internal/schema"
)

// Include selects the relations WithJoin embeds, by relation name.
type Include map[string]Entry

// Entry says whether and how a relation is embedded. It is one of Skip, Leaf
// or Nested.
type Entry interface {
	entry()
}

// Skip leaves the relation out.
type Skip struct{}

// Leaf embeds the relation without nested relations.
type Leaf struct {
	Options QueryOptions
}

// Nested embeds the relation and the Children relations of the related rows.
type Nested struct {
	Options  QueryOptions
	Children Include
}

func (Skip) entry()   {}
func (Leaf) entry()   {}
func (Nested) entry() {}

// DirectivePrefix marks the keys of an include map that configure the
// relation itself rather than naming a nested relation.
const DirectivePrefix = "_"

// ParseInclude converts a loosely typed inclusion map, as decoded from JSON or
// built inline, into an Include. Values are true (Leaf), false or nil (Skip),
// or a map whose "_apply" key holds a func(rql.Term) rql.Term and whose other
// keys name nested relations.
//
//	relmap.ParseInclude(map[string]any{
//		"author": true,
//		"comments": map[string]any{
//			"_apply": func(q rql.Term) rql.Term { return q.OrderBy("createdAt") },
//			"author": true,
//		},
//	})
func ParseInclude(spec map[string]any) (Include, error) {
	inc := make(Include, len(spec))
	for name, v := range spec {
		if err := schema.ValidateIdentifier(name); err != nil {
			return nil, alerr.Wrap(alerr.ErrInvalidInclude, err, "invalid relation name").WithRelation(name)
		}
		entry, err := parseEntry(name, v)
		if err != nil {
			return nil, err
		}
		inc[name] = entry
	}
	return inc, nil
}

func parseEntry(name string, v any) (Entry, error) {
	switch x := v.(type) {
	case nil:
		return Skip{}, nil
	case bool:
		if x {
			return Leaf{}, nil
		}
		return Skip{}, nil
	case Entry:
		return x, nil
	case map[string]any:
		var opts QueryOptions
		children := make(map[string]any)
		for k, val := range x {
			if !strings.HasPrefix(k, DirectivePrefix) {
				children[k] = val
				continue
			}
			switch k {
			case "_apply":
				fn, ok := applyFunc(val)
				if !ok {
					return nil, alerr.Newf(alerr.ErrInvalidInclude, "_apply must be a func(rql.Term) rql.Term, got %T", val).
						WithRelation(name)
				}
				opts.Apply = fn
			default:
				return nil, alerr.Newf(alerr.ErrInvalidInclude, "unknown directive %q", k).
					WithRelation(name).
					WithHelp(alerr.SuggestSimilar(k, []string{"_apply"}))
			}
		}
		if len(children) == 0 {
			return Leaf{Options: opts}, nil
		}
		nested, err := ParseInclude(children)
		if err != nil {
			return nil, err
		}
		return Nested{Options: opts, Children: nested}, nil
	}
	return nil, alerr.Newf(alerr.ErrInvalidInclude, "cannot include %T; want a bool or a map", v).
		WithRelation(name)
}

func applyFunc(v any) (func(rql.Term) rql.Term, bool) {
	switch fn := v.(type) {
	case func(rql.Term) rql.Term:
		return fn, true
	case rql.Func:
		return fn, true
	}
	return nil, false
}

// ParsePaths builds an Include from dotted relation paths. "author.team"
// embeds author and, on the author row, team.
func ParsePaths(paths ...string) (Include, error) {
	inc := Include{}
	for _, path := range paths {
		path = strings.TrimSpace(path)
		if path == "" {
			continue
		}
		if err := addPath(inc, strings.Split(path, ".")); err != nil {
			return nil, alerr.Wrapf(alerr.ErrInvalidInclude, err, "invalid include path %q", path)
		}
	}
	return inc, nil
}

func addPath(inc Include, parts []string) error {
	name := parts[0]
	if err := schema.ValidateIdentifier(name); err != nil {
		return err
	}
	if len(parts) == 1 {
		if _, ok := inc[name]; !ok {
			inc[name] = Leaf{}
		}
		return nil
	}

	var node Nested
	switch e := inc[name].(type) {
	case Nested:
		node = e
	case Leaf:
		node = Nested{Options: e.Options, Children: Include{}}
	default:
		node = Nested{Children: Include{}}
	}
	if err := addPath(node.Children, parts[1:]); err != nil {
		return err
	}
	inc[name] = node
	return nil
}
