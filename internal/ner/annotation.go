package ner

import (
	"cmp"
	"fmt"
	"slices"
)

// Annotation is a candidate entity proposed by a recognizer. Values are
// never mutated after construction.
type Annotation struct {
	Type        string  `json:"type"`
	Span        Span    `json:"span"`
	Probability float64 `json:"probability"`
}

func NewAnnotation(typ string, start, end int, prob float64) Annotation {
	return Annotation{Type: typ, Span: Span{Start: start, End: end}, Probability: prob}
}

func (a Annotation) String() string {
	return fmt.Sprintf("%s %s %.4f", a.Type, a.Span, a.Probability)
}

// CompareAnnotations is the total order the resolver scans in: span order,
// then probability ascending, then type.
func CompareAnnotations(a, b Annotation) int {
	if c := CompareSpans(a.Span, b.Span); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Probability, b.Probability); c != 0 {
		return c
	}
	return cmp.Compare(a.Type, b.Type)
}

func SortAnnotations(anns []Annotation) {
	slices.SortFunc(anns, CompareAnnotations)
}
