package stats

import (
	"sort"
	"time"

	"annotex/internal/index"
)

type Stats struct {
	Status        string                  `json:"status"`
	UptimeSeconds int64                   `json:"uptime_seconds"`
	Documents     DocumentStats           `json:"documents"`
	Entities      EntityStats             `json:"entities"`
	TopValues     map[string][]ValueStats `json:"top_values"`
	TopFields     []FieldStats            `json:"top_fields"`
	Recent        []RecentDocument        `json:"recent,omitempty"`
}

type DocumentStats struct {
	Total       int     `json:"total"`
	PerMinute   float64 `json:"per_minute"`
	Last5Minute []int   `json:"last_5_minute"`
}

type EntityStats struct {
	Total  int            `json:"total"`
	ByType map[string]int `json:"by_type"`
}

type ValueStats struct {
	Value     string `json:"value"`
	Documents int    `json:"documents"`
}

type FieldStats struct {
	Field     string `json:"field"`
	Documents int    `json:"documents"`
}

type RecentDocument struct {
	ID        string         `json:"id"`
	Field     string         `json:"field"`
	CreatedAt string         `json:"created_at"`
	ByType    map[string]int `json:"by_type"`
	Entities  int            `json:"entity_count"`
}

type Options struct {
	Now     time.Time
	Status  string
	Uptime  time.Duration
	TopN    int
	RecentN int
}

// Collect summarises stored documents. Entity counts are distinct values per
// document; TopValues counts in how many documents each value appears.
func Collect(docs []index.Document, opts Options) Stats {
	now := opts.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	topN := opts.TopN
	if topN <= 0 {
		topN = 5
	}
	recentN := opts.RecentN
	if recentN <= 0 {
		recentN = 20
	}

	out := Stats{
		Status:        opts.Status,
		UptimeSeconds: int64(opts.Uptime.Seconds()),
		Entities:      EntityStats{ByType: map[string]int{}},
		TopValues:     map[string][]ValueStats{},
		Documents:     DocumentStats{Last5Minute: make([]int, 5)},
	}
	if out.Status == "" {
		out.Status = "stopped"
	}

	fields := map[string]int{}
	values := map[string]map[string]int{}
	recent := make([]RecentDocument, 0, len(docs))

	for _, d := range docs {
		out.Documents.Total++
		fields[d.Field]++

		byType := map[string]int{}
		entities := 0
		for key, vals := range d.SubFields {
			_, typ, ok := index.SplitSubFieldKey(key)
			if !ok {
				continue
			}
			byType[typ] += len(vals)
			entities += len(vals)
			out.Entities.ByType[typ] += len(vals)
			out.Entities.Total += len(vals)
			if values[typ] == nil {
				values[typ] = map[string]int{}
			}
			for _, v := range vals {
				values[typ][v]++
			}
		}

		if !opts.Now.IsZero() && !d.CreatedAt.IsZero() {
			delta := now.Sub(d.CreatedAt)
			if delta >= 0 && delta < 5*time.Minute {
				idx := int(delta / time.Minute)
				out.Documents.Last5Minute[4-idx]++
			}
		}

		recent = append(recent, RecentDocument{
			ID:        d.ID,
			Field:     d.Field,
			CreatedAt: d.CreatedAt.UTC().Format(time.RFC3339),
			ByType:    byType,
			Entities:  entities,
		})
	}

	sum5 := 0
	for _, n := range out.Documents.Last5Minute {
		sum5 += n
	}
	out.Documents.PerMinute = float64(sum5) / 5

	for typ, counts := range values {
		top := make([]ValueStats, 0, len(counts))
		for v, c := range counts {
			top = append(top, ValueStats{Value: v, Documents: c})
		}
		sort.Slice(top, func(i, j int) bool {
			if top[i].Documents == top[j].Documents {
				return top[i].Value < top[j].Value
			}
			return top[i].Documents > top[j].Documents
		})
		if len(top) > topN {
			top = top[:topN]
		}
		out.TopValues[typ] = top
	}

	for f, c := range fields {
		out.TopFields = append(out.TopFields, FieldStats{Field: f, Documents: c})
	}
	sort.Slice(out.TopFields, func(i, j int) bool {
		if out.TopFields[i].Documents == out.TopFields[j].Documents {
			return out.TopFields[i].Field < out.TopFields[j].Field
		}
		return out.TopFields[i].Documents > out.TopFields[j].Documents
	})
	if len(out.TopFields) > topN {
		out.TopFields = out.TopFields[:topN]
	}

	for i := len(recent) - 1; i >= 0 && len(out.Recent) < recentN; i-- {
		out.Recent = append(out.Recent, recent[i])
	}
	return out
}
