package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hlop3z/relmap/internal/cli"
	"github.com/hlop3z/relmap/pkg/relmap"
)

// checkCmd validates the declaration file without connecting.
func checkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the declaration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.env.Validate(); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			tables := a.env.Tables()
			relations := 0
			var bare []string
			for _, t := range tables {
				names := t.RelationNames()
				relations += len(names)
				if len(names) == 0 {
					bare = append(bare, t.Name())
				}
				for _, name := range names {
					if w := scanWarning(t, name); w != "" {
						fmt.Fprint(out, cli.FormatWarning(w))
					}
				}
			}
			if len(bare) > 0 {
				fmt.Fprint(out, cli.FormatNote("no relations declared on "+strings.Join(bare, ", ")))
			}
			fmt.Fprintf(out, "%s %s, %s\n",
				cli.Done("ok"),
				cli.FormatCount(len(tables), "table", "tables"),
				cli.FormatCount(relations, "relation", "relations"))
			return nil
		},
	}
}

// scanWarning describes a belongs-to-many relation whose join rows cannot be
// found through a compound index.
func scanWarning(t *relmap.Table, name string) string {
	rel, err := t.Relation(name)
	if err != nil || rel.Kind() != relmap.KindBelongsToMany || relmap.EdgeIndex(rel) != "" {
		return ""
	}
	return fmt.Sprintf("%s.%s has no compound index over its join fields; edge lookups scan the join table", t.Name(), name)
}

// tablesCmd lists the declared tables.
func tablesCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "tables",
		Short: "List tables, indexes and relations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			defer a.close()

			if jsonOutput {
				out := make([]map[string]any, 0, len(a.env.Tables()))
				for _, t := range a.env.Tables() {
					out = append(out, describeTable(t))
				}
				return cli.WriteJSON(cmd.OutOrStdout(), out)
			}

			tbl := cli.NewTable("TABLE", "PRIMARY KEY", "INDEXES", "RELATIONS")
			for _, t := range a.env.Tables() {
				tbl.AddRow(t.Name(), t.PrimaryKey(), strings.Join(indexNames(t), ", "), strings.Join(relationLabels(t), ", "))
			}
			fmt.Fprint(cmd.OutOrStdout(), tbl.String())
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func describeTable(t *relmap.Table) map[string]any {
	rels := map[string]any{}
	for _, name := range t.RelationNames() {
		rel, err := t.Relation(name)
		if err != nil {
			continue
		}
		rels[name] = map[string]any{"kind": string(rel.Kind()), "table": rel.Target().Name()}
	}
	return map[string]any{
		"name":        t.Name(),
		"primary_key": t.PrimaryKey(),
		"fields":      t.Schema().Names(),
		"indexes":     indexNames(t),
		"relations":   rels,
	}
}

func indexNames(t *relmap.Table) []string {
	names := t.MetaFields("index")
	for name := range t.Indexes() {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func relationLabels(t *relmap.Table) []string {
	var out []string
	for _, name := range t.RelationNames() {
		rel, err := t.Relation(name)
		if err != nil {
			out = append(out, name+" (invalid)")
			continue
		}
		out = append(out, fmt.Sprintf("%s (%s %s)", name, rel.Kind(), rel.Target().Name()))
	}
	return out
}
