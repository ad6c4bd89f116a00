package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"annotex/internal/stats"
)

type statsSource func(ctx context.Context) (stats.Stats, error)

func (c *cli) statsCmd() *cobra.Command {
	var (
		watch  bool
		recent bool
		export string
		url    string
	)
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Summarise indexed documents and their entities",
		Long: `Stats reads the running server's /v1/stats when --url is given and the
local index otherwise.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			source := c.localStats
			if url != "" {
				source = remoteStats(url)
			}
			out := cmd.OutOrStdout()
			if !watch {
				st, err := source(cmd.Context())
				if err != nil {
					return err
				}
				return renderStatsTo(out, st, recent, export)
			}
			ticker := time.NewTicker(2 * time.Second)
			defer ticker.Stop()
			tty := export == "" && isTerminal()
			if tty {
				fmt.Fprint(out, "\033[?25l")
				defer fmt.Fprint(out, "\033[?25h")
			}
			return watchStatsLoop(cmd.Context(), out, tty, ticker.C, func(ctx context.Context, w io.Writer) error {
				st, err := source(ctx)
				if err != nil {
					return err
				}
				return renderStatsTo(w, st, recent, export)
			})
		},
	}
	cmd.Flags().BoolVar(&watch, "watch", false, "refresh every two seconds until interrupted")
	cmd.Flags().BoolVar(&recent, "recent", false, "show recently indexed documents")
	cmd.Flags().StringVar(&export, "export", "", "export format: json|csv")
	cmd.Flags().StringVar(&url, "url", "", "base URL of a running annotex server")
	return cmd
}

func (c *cli) localStats(ctx context.Context) (stats.Stats, error) {
	a, err := c.build(ctx)
	if err != nil {
		return stats.Stats{}, err
	}
	store, err := a.OpenStore(ctx)
	if err != nil {
		return stats.Stats{}, err
	}
	defer store.Close()
	docs, err := store.All(ctx)
	if err != nil {
		return stats.Stats{}, err
	}
	status := "running"
	if !a.Readiness.Ready() {
		status = "degraded"
	}
	return stats.Collect(docs, stats.Options{Now: time.Now().UTC(), Status: status}), nil
}

func remoteStats(base string) statsSource {
	client := &http.Client{Timeout: 2 * time.Second}
	endpoint := strings.TrimRight(base, "/") + "/v1/stats"
	return func(ctx context.Context) (stats.Stats, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return stats.Stats{}, err
		}
		resp, err := client.Do(req)
		if err != nil {
			return stats.Stats{}, errors.Wrap(err, "fetch stats")
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return stats.Stats{}, errors.Newf("stats API status %d", resp.StatusCode)
		}
		var st stats.Stats
		if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
			return stats.Stats{}, errors.Wrap(err, "decode stats")
		}
		return st, nil
	}
}

func watchStatsLoop(ctx context.Context, w io.Writer, redraw bool, ticks <-chan time.Time, render func(context.Context, io.Writer) error) error {
	for {
		var buf strings.Builder
		if err := render(ctx, &buf); err != nil {
			return err
		}
		if redraw {
			fmt.Fprint(w, "\033[H\033[2J\033[3J")
		}
		fmt.Fprint(w, buf.String())
		select {
		case <-ticks:
		case <-ctx.Done():
			return nil
		}
	}
}

func isTerminal() bool {
	info, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}

func renderStatsTo(w io.Writer, st stats.Stats, recent bool, export string) error {
	switch strings.ToLower(export) {
	case "":
		if recent {
			printRecent(w, st)
			return nil
		}
		printSummary(w, st)
		return nil
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(st)
	case "csv":
		if !recent {
			return errors.New("csv export requires --recent")
		}
		return exportRecentCSV(w, st.Recent)
	default:
		return errors.Newf("unsupported export format %q", export)
	}
}

func printSummary(w io.Writer, st stats.Stats) {
	fmt.Fprintln(w, "annotex Statistics")
	fmt.Fprintln(w, strings.Repeat("-", 40))
	fmt.Fprintf(w, "Status:      %s\n", st.Status)
	if st.UptimeSeconds > 0 {
		fmt.Fprintf(w, "Uptime:      %s\n", time.Duration(st.UptimeSeconds)*time.Second)
	}
	fmt.Fprintf(w, "Documents:   %d (%.1f/min last 5m)\n", st.Documents.Total, st.Documents.PerMinute)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Entities")
	fmt.Fprintln(w, strings.Repeat("-", 40))
	types := make([]string, 0, len(st.Entities.ByType))
	for k := range st.Entities.ByType {
		types = append(types, k)
	}
	sort.Strings(types)
	for _, t := range types {
		v := st.Entities.ByType[t]
		fmt.Fprintf(w, "%-12s %5d %s\n", t+":", v, progress(v, st.Entities.Total))
	}
	fmt.Fprintf(w, "Total:       %d\n", st.Entities.Total)

	for _, t := range types {
		top := st.TopValues[t]
		if len(top) == 0 {
			continue
		}
		fmt.Fprintf(w, "\nTop %s\n", t)
		fmt.Fprintln(w, strings.Repeat("-", 40))
		for _, v := range top {
			fmt.Fprintf(w, "%-32s %d\n", v.Value, v.Documents)
		}
	}

	if len(st.TopFields) > 0 {
		fmt.Fprintln(w, "\nTop Fields")
		fmt.Fprintln(w, strings.Repeat("-", 40))
		for _, f := range st.TopFields {
			fmt.Fprintf(w, "%-24s %d\n", f.Field, f.Documents)
		}
	}
}

func printRecent(w io.Writer, st stats.Stats) {
	fmt.Fprintf(w, "Recent Documents (last %d)\n", len(st.Recent))
	fmt.Fprintln(w, strings.Repeat("-", 90))
	fmt.Fprintf(w, "%-10s %-36s %-12s %-28s\n", "TIME", "ID", "FIELD", "ENTITIES")
	fmt.Fprintln(w, strings.Repeat("-", 90))
	for _, r := range st.Recent {
		tm := r.CreatedAt
		if ts, err := time.Parse(time.RFC3339, r.CreatedAt); err == nil {
			tm = ts.Format("15:04:05")
		}
		fmt.Fprintf(w, "%-10s %-36s %-12s %-28s\n", tm, r.ID, r.Field, entityLabel(r.ByType))
	}
	fmt.Fprintln(w, strings.Repeat("-", 90))
	fmt.Fprintf(w, "Showing %d of %d total documents\n", len(st.Recent), st.Documents.Total)
}

func progress(v, total int) string {
	if total <= 0 {
		return ""
	}
	p := min(int(float64(v)/float64(total)*20), 20)
	return strings.Repeat("█", p) + strings.Repeat("░", 20-p)
}

func entityLabel(byType map[string]int) string {
	if len(byType) == 0 {
		return "-"
	}
	parts := make([]string, 0, len(byType))
	for t, c := range byType {
		parts = append(parts, fmt.Sprintf("%d %s", c, t))
	}
	sort.Strings(parts)
	return strings.Join(parts, ", ")
}

func exportRecentCSV(w io.Writer, rows []stats.RecentDocument) error {
	cw := csv.NewWriter(w)
	defer cw.Flush()
	if err := cw.Write([]string{"created_at", "id", "field", "entity_types", "entity_count"}); err != nil {
		return err
	}
	for _, r := range rows {
		types := make([]string, 0, len(r.ByType))
		for t := range r.ByType {
			types = append(types, t)
		}
		sort.Strings(types)
		if err := cw.Write([]string{
			r.CreatedAt,
			r.ID,
			r.Field,
			strings.Join(types, "|"),
			fmt.Sprintf("%d", r.Entities),
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
