package index

import (
	"strings"
	"unicode"

	"github.com/cockroachdb/errors"
)

// Analyzer turns a sub-field value into the terms stored for search. The
// same analyzer is applied to query text.
type Analyzer interface {
	Name() string
	Terms(value string) []string
}

type keywordAnalyzer struct{}

func (keywordAnalyzer) Name() string { return "keyword" }

func (keywordAnalyzer) Terms(value string) []string {
	if value == "" {
		return nil
	}
	return []string{value}
}

type lowercaseAnalyzer struct{}

func (lowercaseAnalyzer) Name() string { return "lowercase" }

func (lowercaseAnalyzer) Terms(value string) []string {
	v := strings.ToLower(strings.TrimSpace(value))
	if v == "" {
		return nil
	}
	return []string{v}
}

// standardAnalyzer lowercases and splits on anything that is not a letter or
// a digit.
type standardAnalyzer struct{}

func (standardAnalyzer) Name() string { return "standard" }

func (standardAnalyzer) Terms(value string) []string {
	fields := strings.FieldsFunc(strings.ToLower(value), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	if len(fields) == 0 {
		return nil
	}
	return fields
}

var (
	Keyword   Analyzer = keywordAnalyzer{}
	Lowercase Analyzer = lowercaseAnalyzer{}
	Standard  Analyzer = standardAnalyzer{}
)

func AnalyzerByName(name string) (Analyzer, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "keyword":
		return Keyword, nil
	case "lowercase":
		return Lowercase, nil
	case "", "standard":
		return Standard, nil
	default:
		return nil, errors.WithHint(errors.Newf("unknown analyzer %q", name), "use keyword, lowercase or standard")
	}
}

// Analyzers maps entity types to analyzers. Types without an entry use
// Standard.
type Analyzers map[string]Analyzer

func ParseAnalyzers(byType map[string]string) (Analyzers, error) {
	out := make(Analyzers, len(byType))
	for typ, name := range byType {
		a, err := AnalyzerByName(name)
		if err != nil {
			return nil, errors.Wrapf(err, "analyzer for %s", typ)
		}
		out[typ] = a
	}
	return out, nil
}

func (a Analyzers) For(entityType string) Analyzer {
	if an, ok := a[entityType]; ok {
		return an
	}
	return Standard
}
