package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"annotex/internal/ner"
)

func (c *cli) annotateCmd() *cobra.Command {
	var asJSON, explain bool
	cmd := &cobra.Command{
		Use:   "annotate [text|-]",
		Short: "Annotate text and print the resolved entities",
		Long: `Annotate runs every ready recognizer over the text, resolves conflicting
candidates and prints the entities by type. Without an argument, or with
"-", the text is read from stdin.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readInput(args, cmd.InOrStdin())
			if err != nil {
				return err
			}
			a, err := c.build(cmd.Context())
			if err != nil {
				return err
			}
			start := time.Now()
			analysis, err := a.Pipeline.Analyze(cmd.Context(), text)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				return writeAnalysisJSON(out, analysis, explain)
			}
			if !a.Readiness.Ready() {
				for _, f := range a.Readiness.Failures {
					fmt.Fprintf(out, "WARN: recognizer %s unavailable: %v\n", f.Loader, f.Err)
				}
				fmt.Fprintln(out)
			}
			fmt.Fprintf(out, "OK: annotation completed in %v\n\n", time.Since(start).Truncate(time.Microsecond))
			renderAnalysis(out, analysis, explain)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	cmd.Flags().BoolVar(&explain, "explain", false, "include tokens and discarded candidates")
	return cmd
}

func readInput(args []string, stdin io.Reader) (string, error) {
	if len(args) == 1 && args[0] != "-" {
		return args[0], nil
	}
	raw, err := io.ReadAll(stdin)
	if err != nil {
		return "", errors.Wrap(err, "read stdin")
	}
	return strings.TrimRight(string(raw), "\n"), nil
}

func writeAnalysisJSON(w io.Writer, a ner.Analysis, explain bool) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if explain {
		return enc.Encode(a)
	}
	return enc.Encode(a.Entities)
}

func renderAnalysis(w io.Writer, a ner.Analysis, explain bool) {
	if explain {
		fmt.Fprintf(w, "Tokens (%d):\n", len(a.Tokens))
		for i, t := range a.Tokens {
			fmt.Fprintf(w, "  %3d %q\n", i, t.Text)
		}
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Candidates (%d):\n", len(a.Candidates))
		printAnnotations(w, a.Tokens, a.Candidates, resolvedSet(a.Resolved))
		fmt.Fprintln(w)
	}

	if len(a.Resolved) == 0 {
		fmt.Fprintln(w, "WARN: no entities found")
		return
	}
	fmt.Fprintf(w, "Resolved (%d):\n", len(a.Resolved))
	printAnnotations(w, a.Tokens, a.Resolved, nil)

	fmt.Fprintln(w, "\nEntities:")
	for _, typ := range a.Entities.Types() {
		fmt.Fprintf(w, "  %-12s %s\n", typ+":", strings.Join(a.Entities[typ].Sorted(), ", "))
	}
}

// printAnnotations marks rows missing from kept with "x" when kept is set.
func printAnnotations(w io.Writer, tokens []ner.Token, anns []ner.Annotation, kept map[ner.Annotation]bool) {
	fmt.Fprintf(w, "%-5s %-12s %-30s %-6s %-6s %-6s %s\n", "#", "Type", "Text", "Start", "End", "Score", "")
	fmt.Fprintln(w, strings.Repeat("─", 75))
	for i, ann := range anns {
		text := annotationText(tokens, ann.Span)
		if len(text) > 28 {
			text = text[:25] + "..."
		}
		mark := ""
		if kept != nil && !kept[ann] {
			mark = "x"
		}
		fmt.Fprintf(w, "%-5d %-12s %-30s %-6d %-6d %-6.2f %s\n", i+1, ann.Type, text, ann.Span.Start, ann.Span.End, ann.Probability, mark)
	}
}

func resolvedSet(anns []ner.Annotation) map[ner.Annotation]bool {
	out := make(map[ner.Annotation]bool, len(anns))
	for _, a := range anns {
		out[a] = true
	}
	return out
}

func annotationText(tokens []ner.Token, s ner.Span) string {
	if s.Start < 0 || s.End > len(tokens) || s.Start >= s.End {
		return ""
	}
	parts := make([]string, 0, s.End-s.Start)
	for _, t := range tokens[s.Start:s.End] {
		parts = append(parts, t.Text)
	}
	return strings.Join(parts, " ")
}
