package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"annotex/internal/ner"
)

func losAngelesAnalysis(t *testing.T) ner.Analysis {
	t.Helper()
	tokens, err := ner.SimpleTokenizer{}.Tokenize("Sunday in the Los Angeles area")
	require.NoError(t, err)
	candidates := []ner.Annotation{
		ner.NewAnnotation("date", 0, 1, 0.8),
		ner.NewAnnotation("location", 3, 5, 0.7),
		ner.NewAnnotation("location", 4, 6, 0.9),
	}
	resolved, err := ner.Resolve(candidates)
	require.NoError(t, err)
	entities, err := ner.Aggregate(tokens, resolved)
	require.NoError(t, err)
	return ner.Analysis{Tokens: tokens, Candidates: candidates, Resolved: resolved, Entities: entities}
}

func TestRenderAnalysis(t *testing.T) {
	a := losAngelesAnalysis(t)

	var out bytes.Buffer
	renderAnalysis(&out, a, false)
	assert.Contains(t, out.String(), "Resolved (2):")
	assert.Contains(t, out.String(), "Angeles area")
	assert.NotContains(t, out.String(), "Candidates")

	out.Reset()
	renderAnalysis(&out, a, true)
	assert.Contains(t, out.String(), "Tokens (6):")
	assert.Contains(t, out.String(), "Candidates (3):")
	var discarded int
	for _, line := range strings.Split(out.String(), "\n") {
		if strings.HasSuffix(line, " x") {
			discarded++
			assert.Contains(t, line, "Los Angeles")
		}
	}
	assert.Equal(t, 1, discarded)
}

func TestRenderAnalysisEmpty(t *testing.T) {
	var out bytes.Buffer
	renderAnalysis(&out, ner.Analysis{Entities: ner.Entities{}}, false)
	assert.Contains(t, out.String(), "no entities found")
}

func TestWriteAnalysisJSON(t *testing.T) {
	a := losAngelesAnalysis(t)

	var out bytes.Buffer
	require.NoError(t, writeAnalysisJSON(&out, a, false))
	var entities map[string][]string
	require.NoError(t, json.Unmarshal(out.Bytes(), &entities))
	assert.Equal(t, map[string][]string{"date": {"Sunday"}, "location": {"Angeles area"}}, entities)

	out.Reset()
	require.NoError(t, writeAnalysisJSON(&out, a, true))
	assert.Contains(t, out.String(), `"candidates"`)
	assert.Contains(t, out.String(), `"tokens"`)
}

func TestReadInput(t *testing.T) {
	got, err := readInput([]string{"hello"}, strings.NewReader("ignored"))
	require.NoError(t, err)
	assert.Equal(t, "hello", got)

	got, err = readInput([]string{"-"}, strings.NewReader("from stdin\n"))
	require.NoError(t, err)
	assert.Equal(t, "from stdin", got)
}
