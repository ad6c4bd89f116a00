package main

import (
	"fmt"
	"io"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"annotex/internal/index"
)

func (c *cli) exportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export [file|-]",
		Short: "Write every stored document as JSON lines",
		Long: `Export appends the index to a JSON lines file, one document per line,
or writes it to stdout. The dump keeps sub-fields, so import does not
annotate again.`,
		Args: cobra.MaximumNArgs(1),
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
			docs, err := store.All(ctx)
			if err != nil {
				return err
			}

			var w io.Writer = cmd.OutOrStdout()
			if len(args) == 1 && args[0] != "-" {
				f, err := index.AppendJSONL(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}
			jw := index.NewJSONLWriter(w)
			for _, d := range docs {
				if err := jw.Write(d); err != nil {
					return err
				}
			}
			if len(args) == 1 && args[0] != "-" {
				fmt.Fprintf(cmd.OutOrStdout(), "Exported %d document(s) to %s\n", len(docs), args[0])
			}
			return nil
		},
	}
}

func (c *cli) importCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file|->",
		Short: "Store documents from a JSON lines dump",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			var docs []index.Document
			var err error
			if args[0] == "-" {
				docs, err = index.ReadJSONL(cmd.InOrStdin())
			} else {
				if _, statErr := os.Stat(args[0]); statErr != nil {
					return errors.Wrapf(statErr, "import %s", args[0])
				}
				docs, err = index.ReadJSONLFile(args[0])
			}
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
			for _, d := range docs {
				if err := store.Put(ctx, d); err != nil {
					return errors.Wrapf(err, "import document %s", d.ID)
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d document(s)\n", len(docs))
			return nil
		},
	}
}
