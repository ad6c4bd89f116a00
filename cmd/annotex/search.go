package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"annotex/internal/index"
)

func (c *cli) searchCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "search <field> <type> <query>",
		Short: "Find documents whose entity sub-field matches every query term",
		Example: `  annotex search body location "los angeles"
  annotex search body date sunday`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := c.build(ctx)
			if err != nil {
				return err
			}
			store, err := a.OpenStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			docs, err := store.Search(ctx, args[0], args[1], args[2])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(docs)
			}
			printSearchResults(out, index.SubFieldKey(args[0], args[1]), docs)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print matching documents as JSON")
	return cmd
}

func printSearchResults(w io.Writer, key string, docs []index.Document) {
	if len(docs) == 0 {
		fmt.Fprintf(w, "No documents match %s\n", key)
		return
	}
	fmt.Fprintf(w, "%-36s %-20s %s\n", "ID", "CREATED", strings.ToUpper(key))
	fmt.Fprintln(w, strings.Repeat("-", 90))
	for _, d := range docs {
		fmt.Fprintf(w, "%-36s %-20s %s\n", d.ID, d.CreatedAt.Format("2006-01-02 15:04:05"), strings.Join(d.SubFields[key], ", "))
	}
	fmt.Fprintln(w, strings.Repeat("-", 90))
	fmt.Fprintf(w, "%d document(s)\n", len(docs))
}
