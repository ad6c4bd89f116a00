package ner

import (
	"cmp"
	"fmt"
)

// Span is a half-open range [Start, End) of token indexes.
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

type Relation int

const (
	Disjoint Relation = iota
	Equal
	Intersect
	// Contains means the receiver strictly encloses the other span.
	Contains
	ContainedBy
)

func (r Relation) String() string {
	switch r {
	case Equal:
		return "equal"
	case Intersect:
		return "intersect"
	case Contains:
		return "contains"
	case ContainedBy:
		return "contained_by"
	default:
		return "disjoint"
	}
}

func (s Span) Len() int { return s.End - s.Start }

func (s Span) Valid() bool { return s.Start >= 0 && s.Start < s.End }

func (s Span) Equals(o Span) bool { return s.Start == o.Start && s.End == o.End }

func (s Span) overlaps(o Span) bool { return s.Start < o.End && o.Start < s.End }

// Contains reports strict containment: s encloses o and s != o.
func (s Span) Contains(o Span) bool {
	return !s.Equals(o) && s.Start <= o.Start && o.End <= s.End
}

// Intersects reports a partial overlap. Equal and nested spans do not
// intersect.
func (s Span) Intersects(o Span) bool {
	return s.overlaps(o) && !s.Equals(o) && !s.Contains(o) && !o.Contains(s)
}

func (s Span) Relation(o Span) Relation {
	switch {
	case s.Equals(o):
		return Equal
	case s.Contains(o):
		return Contains
	case o.Contains(s):
		return ContainedBy
	case s.overlaps(o):
		return Intersect
	default:
		return Disjoint
	}
}

func (s Span) String() string { return fmt.Sprintf("[%d..%d)", s.Start, s.End) }

// CompareSpans orders by start ascending and, for equal starts, puts the
// longer span first so a container always precedes what it contains.
func CompareSpans(a, b Span) int {
	if c := cmp.Compare(a.Start, b.Start); c != 0 {
		return c
	}
	return cmp.Compare(b.End, a.End)
}
