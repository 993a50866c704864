package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hlop3z/relmap/internal/cli"
	"github.com/hlop3z/relmap/internal/rql"
	"github.com/hlop3z/relmap/pkg/relmap"
)

// relateCmd edits and inspects relation edges.
func relateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "relate",
		Short: "Create, remove or test relation edges",
	}
	cmd.AddCommand(
		relateSubCmd("create", "Link a row to related rows", cobra.MinimumNArgs(4),
			func(t *relmap.Table, name string, pk any, others []any) (rql.Term, error) {
				return t.CreateRelation(name, pk, others...)
			}),
		relateSubCmd("remove", "Unlink a row from related rows", cobra.MinimumNArgs(3),
			func(t *relmap.Table, name string, pk any, others []any) (rql.Term, error) {
				return t.RemoveRelation(name, pk, others...)
			}),
		relateSubCmd("has", "Report whether a row is linked to related rows", cobra.MinimumNArgs(3),
			func(t *relmap.Table, name string, pk any, others []any) (rql.Term, error) {
				return t.HasRelation(name, pk, others...)
			}),
	)
	return cmd
}

type relateFunc func(t *relmap.Table, name string, pk any, others []any) (rql.Term, error)

func relateSubCmd(use, short string, args cobra.PositionalArgs, build relateFunc) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <table> <relation> <pk> [other...]",
		Short: short,
		Args:  args,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := connectApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			t, err := a.env.GetTable(args[0])
			if err != nil {
				return err
			}
			q, err := build(t, args[1], parseKey(args[2]), parseKeys(args[3:]))
			if err != nil {
				return err
			}

			ctx, cancel := a.withTimeout(cmd.Context())
			defer cancel()
			return runRelate(ctx, cmd, a.sess, use, q)
		},
	}
}

func runRelate(ctx context.Context, cmd *cobra.Command, sess *rql.Session, use string, q rql.Term) error {
	if use == "has" {
		ok, err := rql.RunBool(ctx, sess, q)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), ok)
		return nil
	}
	res, err := rql.RunWrite(ctx, sess, q)
	if err != nil {
		return err
	}
	return cli.WriteJSON(cmd.OutOrStdout(), res)
}
