package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"annotex/internal/index"
)

func (c *cli) indexCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "index <field> [file|-]",
		Short: "Annotate a document and store it with its entity sub-fields",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			content, err := readDocument(args[1:], cmd.InOrStdin())
			if err != nil {
				return err
			}
			a, err := c.build(ctx)
			if err != nil {
				return err
			}
			store, err := a.OpenStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			doc, err := a.Mapper.Map(ctx, args[0], content)
			if err != nil {
				return err
			}
			if err := store.Put(ctx, doc); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(doc)
			}
			printDocument(out, doc)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the stored document as JSON")
	return cmd
}

func readDocument(args []string, stdin io.Reader) (string, error) {
	if len(args) == 0 || args[0] == "-" {
		return readInput(nil, stdin)
	}
	raw, err := os.ReadFile(args[0])
	if err != nil {
		return "", errors.Wrapf(err, "read %s", args[0])
	}
	return string(raw), nil
}

func printDocument(w io.Writer, doc index.Document) {
	fmt.Fprintf(w, "Document %s\n", doc.ID)
	fmt.Fprintln(w, strings.Repeat("-", 40))
	fmt.Fprintf(w, "Field:    %s\n", doc.Field)
	fmt.Fprintf(w, "Created:  %s\n", doc.CreatedAt.Format("2006-01-02 15:04:05"))
	if len(doc.SubFields) == 0 {
		fmt.Fprintln(w, "No entities")
		return
	}
	keys := make([]string, 0, len(doc.SubFields))
	for k := range doc.SubFields {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "%-24s %s\n", k+":", strings.Join(doc.SubFields[k], ", "))
	}
}
