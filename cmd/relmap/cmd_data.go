package main

import (
	"encoding/json"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hlop3z/relmap/internal/alerr"
	"github.com/hlop3z/relmap/internal/cli"
	"github.com/hlop3z/relmap/internal/rql"
	"github.com/hlop3z/relmap/internal/store"
	"github.com/hlop3z/relmap/pkg/relmap"
)

// insertCmd inserts rows given as JSON.
func insertCmd() *cobra.Command {
	var conflict string

	cmd := &cobra.Command{
		Use:   "insert <table> <json>",
		Short: "Insert one row or a list of rows",
		Example: `  relmap insert user '{"name": "Ada"}'
  relmap insert user '[{"name": "Ada"}, {"name": "Grace"}]' --conflict replace`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			policy, ok := store.ParseConflict(conflict)
			if !ok {
				return alerr.Newf(alerr.ErrConfig, "unknown conflict policy %q", conflict).
					WithHelp(alerr.SuggestSimilar(conflict, []string{"error", "replace", "update"}))
			}
			var data any
			if err := json.Unmarshal([]byte(args[1]), &data); err != nil {
				return alerr.Wrap(alerr.ErrValidation, err, "row is not valid JSON")
			}

			a, err := connectApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			t, err := a.env.GetTable(args[0])
			if err != nil {
				return err
			}
			q, err := t.Insert(data, relmap.InsertOptions{Conflict: policy})
			if err != nil {
				return err
			}

			ctx, cancel := a.withTimeout(cmd.Context())
			defer cancel()
			res, err := rql.RunWrite(ctx, a.sess, q)
			if err != nil {
				return err
			}
			return cli.WriteJSON(cmd.OutOrStdout(), res)
		},
	}

	cmd.Flags().StringVar(&conflict, "conflict", "error", "What to do when the primary key exists: error, replace, update")
	return cmd
}

// getCmd reads a row with embedded relations.
func getCmd() *cobra.Command {
	var with []string

	cmd := &cobra.Command{
		Use:   "get <table> <pk>",
		Short: "Read a row with embedded relations",
		Example: `  relmap get user 42 --with posts,following
  relmap get post 7 --with author.profile`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			inc, err := relmap.ParsePaths(splitPaths(with)...)
			if err != nil {
				return err
			}

			a, err := connectApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			t, err := a.env.GetTable(args[0])
			if err != nil {
				return err
			}
			q, err := t.WithJoin(t.Get(parseKey(args[1])), inc)
			if err != nil {
				return err
			}

			ctx, cancel := a.withTimeout(cmd.Context())
			defer cancel()
			doc, err := rql.RunDocument(ctx, a.sess, q)
			if err != nil {
				return err
			}
			return cli.WriteJSON(cmd.OutOrStdout(), doc)
		},
	}

	cmd.Flags().StringSliceVarP(&with, "with", "w", nil, "Relations to embed, dotted for nesting (posts,author.profile)")
	return cmd
}

// relatedCmd reads the rows related to a row.
func relatedCmd() *cobra.Command {
	var with []string

	cmd := &cobra.Command{
		Use:   "related <table> <pk> <relation>",
		Short: "Read the rows related to a row",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			children, err := relmap.ParsePaths(splitPaths(with)...)
			if err != nil {
				return err
			}
			var entry relmap.Entry = relmap.Leaf{}
			if len(children) > 0 {
				entry = relmap.Nested{Children: children}
			}

			a, err := connectApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			t, err := a.env.GetTable(args[0])
			if err != nil {
				return err
			}
			q, err := t.GetRelated(parseKey(args[1]), args[2], entry)
			if err != nil {
				return err
			}

			ctx, cancel := a.withTimeout(cmd.Context())
			defer cancel()
			v, err := q.Run(ctx, a.sess)
			if err != nil {
				return err
			}
			return cli.WriteJSON(cmd.OutOrStdout(), v)
		},
	}

	cmd.Flags().StringSliceVarP(&with, "with", "w", nil, "Relations to embed on the related rows")
	return cmd
}

// parseKey reads a key argument as JSON when it is valid JSON and as a plain
// string otherwise. Quote numeric string keys: '"42"'.
func parseKey(arg string) any {
	var v any
	if err := json.Unmarshal([]byte(arg), &v); err != nil {
		return arg
	}
	return v
}

func parseKeys(args []string) []any {
	out := make([]any, len(args))
	for i, arg := range args {
		out[i] = parseKey(arg)
	}
	return out
}

// splitPaths accepts both repeated flags and comma-separated values.
func splitPaths(values []string) []string {
	var out []string
	for _, v := range values {
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}
