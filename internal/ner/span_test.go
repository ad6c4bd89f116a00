package ner

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSpanRelation(t *testing.T) {
	cases := []struct {
		a, b Span
		want Relation
	}{
		{Span{0, 2}, Span{0, 2}, Equal},
		{Span{0, 2}, Span{1, 3}, Intersect},
		{Span{1, 3}, Span{0, 2}, Intersect},
		{Span{0, 3}, Span{0, 1}, Contains},
		{Span{0, 3}, Span{1, 2}, Contains},
		{Span{1, 2}, Span{0, 3}, ContainedBy},
		{Span{0, 2}, Span{2, 4}, Disjoint},
		{Span{4, 5}, Span{0, 1}, Disjoint},
	}
	for _, tc := range cases {
		t.Run(tc.a.String()+tc.b.String(), func(t *testing.T) {
			assert.Equal(t, tc.want, tc.a.Relation(tc.b))
		})
	}
}

func TestSpanPredicates(t *testing.T) {
	outer, inner := Span{0, 3}, Span{0, 1}
	assert.True(t, outer.Contains(inner))
	assert.False(t, outer.Contains(outer))
	assert.False(t, outer.Intersects(inner))
	assert.False(t, outer.Intersects(outer))
	assert.True(t, Span{0, 2}.Intersects(Span{1, 3}))
	assert.False(t, Span{0, 2}.Intersects(Span{2, 3}))
	assert.Equal(t, 3, outer.Len())
	assert.False(t, Span{2, 2}.Valid())
	assert.False(t, Span{-1, 2}.Valid())
}

func TestCompareSpans(t *testing.T) {
	assert.Negative(t, CompareSpans(Span{0, 5}, Span{1, 2}))
	assert.Negative(t, CompareSpans(Span{0, 3}, Span{0, 1}), "longer span first on equal start")
	assert.Zero(t, CompareSpans(Span{2, 4}, Span{2, 4}))
	assert.Positive(t, CompareSpans(Span{0, 1}, Span{0, 3}))
}

func TestCompareAnnotations(t *testing.T) {
	anns := []Annotation{
		NewAnnotation("name", 0, 2, 0.9),
		NewAnnotation("date", 0, 2, 0.9),
		NewAnnotation("location", 0, 2, 0.5),
		NewAnnotation("name", 0, 4, 0.1),
	}
	SortAnnotations(anns)
	assert.Equal(t, []Annotation{
		NewAnnotation("name", 0, 4, 0.1),
		NewAnnotation("location", 0, 2, 0.5),
		NewAnnotation("date", 0, 2, 0.9),
		NewAnnotation("name", 0, 2, 0.9),
	}, anns)
}
