package ner

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

var (
	// ErrInvariantViolation signals a bug in the resolver, never bad input.
	ErrInvariantViolation = errors.New("ner: internal invariant violated")

	// ErrRecognizerUnavailable is returned by recognizers whose model could not
	// be loaded. The pipeline treats them as producing no candidates.
	ErrRecognizerUnavailable = errors.New("ner: recognizer unavailable")
)

// InvalidSpanError reports a candidate whose span is empty, reversed or
// outside the token sequence. Tokens is -1 when the sequence length was not
// known at the point of the check.
type InvalidSpanError struct {
	Type   string
	Span   Span
	Tokens int
}

func (e *InvalidSpanError) Error() string {
	if e.Tokens < 0 {
		return fmt.Sprintf("ner: invalid span %s for type %q", e.Span, e.Type)
	}
	return fmt.Sprintf("ner: invalid span %s for type %q over %d tokens", e.Span, e.Type, e.Tokens)
}

func checkSpan(a Annotation, tokens int) error {
	if !a.Span.Valid() || (tokens >= 0 && a.Span.End > tokens) {
		return &InvalidSpanError{Type: a.Type, Span: a.Span, Tokens: tokens}
	}
	return nil
}
