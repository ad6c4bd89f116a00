package index

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadJSONLFileMissing(t *testing.T) {
	docs, err := ReadJSONLFile(filepath.Join(t.TempDir(), "missing.jsonl"))
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestReadJSONLFileEmpty(t *testing.T) {
	p := filepath.Join(t.TempDir(), "dump.jsonl")
	require.NoError(t, os.WriteFile(p, nil, 0o644))
	docs, err := ReadJSONLFile(p)
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestJSONLRoundTrip(t *testing.T) {
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	in := []Document{
		testDoc("a", at, map[string][]string{"body.location": {"Berlin"}}),
		testDoc("b", at.Add(time.Minute), map[string][]string{}),
	}
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf)
	for _, d := range in {
		require.NoError(t, w.Write(d))
	}
	assert.Equal(t, 2, strings.Count(buf.String(), "\n"))

	out, err := ReadJSONL(strings.NewReader(buf.String() + "\n"))
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestReadJSONLReportsLine(t *testing.T) {
	_, err := ReadJSONL(strings.NewReader(`{"id":"a"}` + "\nnot-json\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
}

func TestAppendJSONLConcurrent(t *testing.T) {
	p := filepath.Join(t.TempDir(), "nested", "dump.jsonl")
	f, err := AppendJSONL(p)
	require.NoError(t, err)
	w := NewJSONLWriter(f)

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, w.Write(Document{ID: string(rune('a' + i)), Field: "body"}))
		}()
	}
	wg.Wait()
	require.NoError(t, f.Close())

	docs, err := ReadJSONLFile(p)
	require.NoError(t, err)
	assert.Len(t, docs, 20)
}
