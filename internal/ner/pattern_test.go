package ner

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dateRecognizer(t *testing.T) *PatternRecognizer {
	t.Helper()
	patterns, err := CompilePatterns(DefaultDatePatterns())
	require.NoError(t, err)
	return NewPatternRecognizer("date", patterns)
}

func TestPatternRecognizer_DefaultDates(t *testing.T) {
	tokens, err := SimpleTokenizer{}.Tokenize("Meet me on 2024-05-01 or next Sunday, maybe tomorrow.")
	require.NoError(t, err)
	got, err := dateRecognizer(t).Recognize(context.Background(), tokens)
	require.NoError(t, err)

	texts := map[string]float64{}
	for _, a := range got {
		texts[spanText(tokens, a.Span)] = a.Probability
	}
	assert.InDelta(t, 0.9, texts["2024 - 05 - 01"], 1e-9)
	assert.InDelta(t, 0.8, texts["Sunday"], 1e-9)
	assert.InDelta(t, 0.7, texts["tomorrow"], 1e-9)
}

func TestPatternRecognizer_KeepsBestProbabilityPerSpan(t *testing.T) {
	patterns, err := CompilePatterns([]PatternSpec{
		{Expr: `\d{4}`, Probability: 0.3},
		{Expr: `\b20\d{2}\b`, Probability: 0.6},
	})
	require.NoError(t, err)
	got, err := NewPatternRecognizer("date", patterns).Recognize(context.Background(), words("in", "2021"))
	require.NoError(t, err)
	assert.Equal(t, []Annotation{NewAnnotation("date", 1, 2, 0.6)}, got)
}

func TestPatternRecognizer_PartialTokenMatchCoversToken(t *testing.T) {
	patterns, err := CompilePatterns([]PatternSpec{{Expr: `day`, Probability: 0.5}})
	require.NoError(t, err)
	got, err := NewPatternRecognizer("date", patterns).Recognize(context.Background(), words("on", "Sunday"))
	require.NoError(t, err)
	assert.Equal(t, []Annotation{NewAnnotation("date", 1, 2, 0.5)}, got)
}

func TestCompilePatterns_Errors(t *testing.T) {
	_, err := CompilePatterns([]PatternSpec{{Expr: `(`, Probability: 0.5}})
	assert.Error(t, err)
	_, err = CompilePatterns([]PatternSpec{{Expr: `x`, Probability: 1.5}})
	assert.ErrorContains(t, err, "outside [0,1]")
}

func TestPatternRecognizer_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := dateRecognizer(t).Recognize(ctx, words("today"))
	assert.ErrorIs(t, err, context.Canceled)
}
