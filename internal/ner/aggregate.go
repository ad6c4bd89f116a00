package ner

import (
	"encoding/json"
	"maps"
	"slices"
	"strings"
)

type StringSet map[string]struct{}

func NewStringSet(values ...string) StringSet {
	s := make(StringSet, len(values))
	for _, v := range values {
		s.Add(v)
	}
	return s
}

func (s StringSet) Add(v string) { s[v] = struct{}{} }

func (s StringSet) Has(v string) bool {
	_, ok := s[v]
	return ok
}

func (s StringSet) Sorted() []string {
	return slices.Sorted(maps.Keys(s))
}

func (s StringSet) MarshalJSON() ([]byte, error) {
	values := s.Sorted()
	if values == nil {
		values = []string{}
	}
	return json.Marshal(values)
}

func (s *StringSet) UnmarshalJSON(data []byte) error {
	var values []string
	if err := json.Unmarshal(data, &values); err != nil {
		return err
	}
	*s = NewStringSet(values...)
	return nil
}

// Entities maps an entity type to the distinct surface strings found for it.
// Types without any surviving annotation have no key.
type Entities map[string]StringSet

func (e Entities) Types() []string {
	return slices.Sorted(maps.Keys(e))
}

// Lists returns the same mapping with sorted slices as values.
func (e Entities) Lists() map[string][]string {
	out := make(map[string][]string, len(e))
	for typ, set := range e {
		out[typ] = set.Sorted()
	}
	return out
}

// Aggregate rebuilds the text of every annotation from the tokens it covers,
// joined by single spaces, and groups the results per type.
func Aggregate(tokens []Token, resolved []Annotation) (Entities, error) {
	out := Entities{}
	for _, a := range resolved {
		if err := checkSpan(a, len(tokens)); err != nil {
			return nil, err
		}
		set, ok := out[a.Type]
		if !ok {
			set = StringSet{}
			out[a.Type] = set
		}
		set.Add(spanText(tokens, a.Span))
	}
	return out, nil
}

func spanText(tokens []Token, s Span) string {
	parts := make([]string, 0, s.Len())
	for _, t := range tokens[s.Start:s.End] {
		parts = append(parts, t.Text)
	}
	return strings.Join(parts, " ")
}

// ResolveEntities is the engine boundary: it validates every candidate
// against the token sequence, resolves conflicts and aggregates survivors.
func ResolveEntities(tokens []Token, candidates []Annotation) (Entities, error) {
	for _, c := range candidates {
		if err := checkSpan(c, len(tokens)); err != nil {
			return nil, err
		}
	}
	resolved, err := Resolve(candidates)
	if err != nil {
		return nil, err
	}
	return Aggregate(tokens, resolved)
}
