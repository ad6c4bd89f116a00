package ner

import (
	"slices"

	"github.com/cockroachdb/errors"
)

// Resolve drops conflicting candidates until every pair of survivors is
// either disjoint or strictly nested. Two spans conflict when they are equal
// or partially overlap; entity type plays no part. The weaker candidate of a
// conflict loses and ties go to the candidate later in sort order.
//
// The input is not modified. Survivors are returned in CompareAnnotations
// order.
func Resolve(candidates []Annotation) ([]Annotation, error) {
	if len(candidates) == 0 {
		return nil, nil
	}
	for _, c := range candidates {
		if err := checkSpan(c, -1); err != nil {
			return nil, err
		}
	}

	sorted := slices.Clone(candidates)
	SortAnnotations(sorted)

	discarded := make([]bool, len(sorted))
	stack := activeStack{0}
	for i := 1; i < len(sorted); i++ {
		curr := sorted[i]
		dropCurr := false
		for !stack.empty() {
			top, err := stack.peek()
			if err != nil {
				return nil, err
			}
			prev := sorted[top]
			if CompareAnnotations(prev, curr) > 0 {
				return nil, errors.Wrapf(ErrInvariantViolation, "active entry %s sorts after %s", prev, curr)
			}
			rel := prev.Span.Relation(curr.Span)
			if rel == Contains {
				break
			}
			if rel == Equal || rel == Intersect {
				if prev.Probability > curr.Probability {
					dropCurr = true
					break
				}
				discarded[top] = true
			}
			stack.pop()
		}
		if dropCurr {
			discarded[i] = true
			continue
		}
		stack.push(i)
	}

	out := make([]Annotation, 0, len(sorted))
	for i, a := range sorted {
		if !discarded[i] {
			out = append(out, a)
		}
	}
	return out, nil
}

// activeStack holds indexes into the sorted candidate slice. Entries below
// the top always enclose the entries above them.
type activeStack []int

func (s activeStack) empty() bool { return len(s) == 0 }

func (s activeStack) peek() (int, error) {
	if len(s) == 0 {
		return 0, errors.Wrap(ErrInvariantViolation, "peek on empty active stack")
	}
	return s[len(s)-1], nil
}

func (s *activeStack) push(i int) { *s = append(*s, i) }

func (s *activeStack) pop() {
	if len(*s) > 0 {
		*s = (*s)[:len(*s)-1]
	}
}
