package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hlop3z/relmap/internal/cli"
)

// syncCmd creates missing tables and indexes, one table at a time.
func syncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Create missing tables and indexes",
		Long:  `Create every declared table and index that does not exist yet. Safe to run repeatedly; rerun it after a failure.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := connectApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			ctx, cancel := a.withTimeout(cmd.Context())
			defer cancel()

			tables := a.env.Tables()
			names := make([]string, len(tables))
			for i, t := range tables {
				names[i] = t.Name()
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, cli.Header("Syncing"))
			fmt.Fprintln(out, cli.KeyValue("dialect", a.sess.Store().Dialect()))
			fmt.Fprintln(out, cli.KeyValue("schema", a.cfg.Schema))
			progress := cli.NewTaskProgress(out, names)
			for i, t := range tables {
				progress.Start(i)
				if err := t.Sync(ctx, a.sess); err != nil {
					progress.Failed(err)
					return err
				}
				progress.Complete()
			}
			progress.Summary()
			return nil
		},
	}
}
