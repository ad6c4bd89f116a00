package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"annotex/internal/stats"
)

func sampleStats() stats.Stats {
	return stats.Stats{
		Status:    "running",
		Documents: stats.DocumentStats{Total: 3, PerMinute: 0.6, Last5Minute: []int{0, 0, 1, 1, 1}},
		Entities:  stats.EntityStats{Total: 4, ByType: map[string]int{"location": 3, "date": 1}},
		TopValues: map[string][]stats.ValueStats{"location": {{Value: "Los Angeles", Documents: 2}}},
		TopFields: []stats.FieldStats{{Field: "body", Documents: 3}},
		Recent: []stats.RecentDocument{{
			ID:        "doc-1",
			Field:     "body",
			CreatedAt: "2024-01-01T00:00:00Z",
			ByType:    map[string]int{"location": 2, "date": 1},
			Entities:  3,
		}},
	}
}

func TestExportRecentCSV(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, exportRecentCSV(&out, sampleStats().Recent))
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "created_at,id,field,entity_types,entity_count", lines[0])
	assert.Equal(t, "2024-01-01T00:00:00Z,doc-1,body,date|location,3", lines[1])
}

func TestRenderStatsFormats(t *testing.T) {
	st := sampleStats()

	var out bytes.Buffer
	require.NoError(t, renderStatsTo(&out, st, false, ""))
	assert.Contains(t, out.String(), "Documents:   3")
	assert.Contains(t, out.String(), "Top location")
	assert.Contains(t, out.String(), "Los Angeles")

	out.Reset()
	require.NoError(t, renderStatsTo(&out, st, true, ""))
	assert.Contains(t, out.String(), "1 date, 2 location")
	assert.Contains(t, out.String(), "Showing 1 of 3 total documents")

	out.Reset()
	require.NoError(t, renderStatsTo(&out, st, false, "json"))
	var decoded stats.Stats
	require.NoError(t, json.Unmarshal(out.Bytes(), &decoded))
	assert.Equal(t, 3, decoded.Documents.Total)

	assert.Error(t, renderStatsTo(&out, st, false, "csv"))
	assert.Error(t, renderStatsTo(&out, st, false, "xml"))
}

func TestProgress(t *testing.T) {
	assert.Equal(t, "", progress(1, 0))
	assert.Equal(t, strings.Repeat("█", 10)+strings.Repeat("░", 10), progress(1, 2))
	assert.Equal(t, strings.Repeat("█", 20), progress(5, 2))
}

func TestRemoteStats(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/stats" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(sampleStats())
	}))
	defer srv.Close()

	st, err := remoteStats(srv.URL + "/")(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "running", st.Status)
	assert.Equal(t, 3, st.Entities.ByType["location"])

	_, err = remoteStats(srv.URL + "/missing")(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")
}

func TestWatchStatsLoopCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	ticks := make(chan time.Time, 1)
	ticks <- time.Now()
	renders := 0
	var out bytes.Buffer
	err := watchStatsLoop(ctx, &out, false, ticks, func(_ context.Context, w io.Writer) error {
		renders++
		if renders == 2 {
			cancel()
		}
		_, err := io.WriteString(w, "frame\n")
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 2, renders)
	assert.Equal(t, "frame\nframe\n", out.String())
}
