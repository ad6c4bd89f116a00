package ner

import (
	"context"
	"regexp"
	"strings"

	"github.com/cockroachdb/errors"
)

type Pattern struct {
	Expr        *regexp.Regexp
	Probability float64
}

type PatternSpec struct {
	Expr        string
	Probability float64
}

var (
	weekdayRegexp  = `(?i)\b(?:monday|tuesday|wednesday|thursday|friday|saturday|sunday)\b`
	monthRegexp    = `(?i)\b(?:jan(?:uary)?|feb(?:ruary)?|mar(?:ch)?|apr(?:il)?|may|june?|july?|aug(?:ust)?|sep(?:t(?:ember)?)?|oct(?:ober)?|nov(?:ember)?|dec(?:ember)?)(?: \d{1,2})?(?: ,)?(?: \d{4})?\b`
	isoDateRegexp  = `\b\d{4} - \d{1,2} - \d{1,2}\b`
	slashDate      = `\b\d{1,2} / \d{1,2} / (?:\d{4}|\d{2})\b`
	relativeRegexp = `(?i)\b(?:today|tomorrow|yesterday|tonight)\b`
	yearRegexp     = `\b(?:1[89]\d{2}|20\d{2})\b`
)

// DefaultDatePatterns work on SimpleTokenizer output joined with single
// spaces, which is why separators appear surrounded by spaces.
func DefaultDatePatterns() []PatternSpec {
	return []PatternSpec{
		{Expr: isoDateRegexp, Probability: 0.9},
		{Expr: slashDate, Probability: 0.85},
		{Expr: weekdayRegexp, Probability: 0.8},
		{Expr: monthRegexp, Probability: 0.75},
		{Expr: relativeRegexp, Probability: 0.7},
		{Expr: yearRegexp, Probability: 0.5},
	}
}

func CompilePatterns(specs []PatternSpec) ([]Pattern, error) {
	out := make([]Pattern, 0, len(specs))
	for _, s := range specs {
		if s.Probability < 0 || s.Probability > 1 {
			return nil, errors.Newf("pattern %q: probability %v outside [0,1]", s.Expr, s.Probability)
		}
		re, err := regexp.Compile(s.Expr)
		if err != nil {
			return nil, errors.Wrapf(err, "compile pattern %q", s.Expr)
		}
		out = append(out, Pattern{Expr: re, Probability: s.Probability})
	}
	return out, nil
}

// PatternRecognizer matches regular expressions over the token sequence
// joined by single spaces and maps each match back to the tokens it touches.
type PatternRecognizer struct {
	entityType string
	patterns   []Pattern
}

func NewPatternRecognizer(entityType string, patterns []Pattern) *PatternRecognizer {
	return &PatternRecognizer{entityType: entityType, patterns: patterns}
}

func (r *PatternRecognizer) Type() string { return r.entityType }

func (r *PatternRecognizer) Recognize(ctx context.Context, tokens []Token) ([]Annotation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(tokens) == 0 {
		return nil, nil
	}
	joined, starts, ends := joinTokens(tokens)
	best := map[Span]float64{}
	order := make([]Span, 0)
	for _, p := range r.patterns {
		for _, idx := range p.Expr.FindAllStringIndex(joined, -1) {
			span, ok := coveringSpan(starts, ends, idx[0], idx[1])
			if !ok {
				continue
			}
			prob, seen := best[span]
			if !seen {
				order = append(order, span)
			}
			if !seen || p.Probability > prob {
				best[span] = p.Probability
			}
		}
	}
	out := make([]Annotation, 0, len(order))
	for _, s := range order {
		out = append(out, Annotation{Type: r.entityType, Span: s, Probability: best[s]})
	}
	return out, nil
}

func joinTokens(tokens []Token) (string, []int, []int) {
	var b strings.Builder
	starts := make([]int, len(tokens))
	ends := make([]int, len(tokens))
	for i, t := range tokens {
		if i > 0 {
			b.WriteByte(' ')
		}
		starts[i] = b.Len()
		b.WriteString(t.Text)
		ends[i] = b.Len()
	}
	return b.String(), starts, ends
}

// coveringSpan returns the tokens overlapping the byte range [from, to) of
// the joined text.
func coveringSpan(starts, ends []int, from, to int) (Span, bool) {
	first, last := -1, -1
	for i := range starts {
		if ends[i] > from && starts[i] < to {
			if first < 0 {
				first = i
			}
			last = i
		}
	}
	if first < 0 {
		return Span{}, false
	}
	return Span{Start: first, End: last + 1}, true
}
