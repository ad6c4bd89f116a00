package ner

import (
	"context"
	"os"
	"strings"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"
)

const defaultGazetteerProbability = 0.6

type GazetteerEntry struct {
	Phrase      string  `yaml:"phrase"`
	Probability float64 `yaml:"probability,omitempty"`
}

type gazetteerFile struct {
	Type        string           `yaml:"type"`
	Probability float64          `yaml:"probability"`
	Entries     []GazetteerEntry `yaml:"entries"`
}

type gazetteerPhrase struct {
	words []string
	prob  float64
}

// GazetteerRecognizer proposes every case-insensitive occurrence of a known
// phrase. Overlapping matches are all reported.
type GazetteerRecognizer struct {
	entityType string
	byFirst    map[string][]gazetteerPhrase
}

// NewGazetteerRecognizer tokenizes each phrase with the pipeline tokenizer so
// phrases and text are split the same way. Entries without a probability get
// defaultProb; a repeated phrase keeps its highest probability.
func NewGazetteerRecognizer(entityType string, defaultProb float64, entries []GazetteerEntry, tokenizer Tokenizer) (*GazetteerRecognizer, error) {
	if tokenizer == nil {
		tokenizer = SimpleTokenizer{}
	}
	if defaultProb <= 0 {
		defaultProb = defaultGazetteerProbability
	}
	seen := map[string]int{}
	r := &GazetteerRecognizer{entityType: entityType, byFirst: map[string][]gazetteerPhrase{}}
	for _, e := range entries {
		prob := e.Probability
		if prob == 0 {
			prob = defaultProb
		}
		if prob < 0 || prob > 1 {
			return nil, errors.Newf("gazetteer %s: probability %v for %q outside [0,1]", entityType, prob, e.Phrase)
		}
		toks, err := tokenizer.Tokenize(e.Phrase)
		if err != nil {
			return nil, errors.Wrapf(err, "tokenize phrase %q", e.Phrase)
		}
		if len(toks) == 0 {
			continue
		}
		words := make([]string, len(toks))
		for i, t := range toks {
			words[i] = strings.ToLower(t.Text)
		}
		key := strings.Join(words, " ")
		if i, ok := seen[key]; ok {
			list := r.byFirst[words[0]]
			if prob > list[i].prob {
				list[i].prob = prob
			}
			continue
		}
		seen[key] = len(r.byFirst[words[0]])
		r.byFirst[words[0]] = append(r.byFirst[words[0]], gazetteerPhrase{words: words, prob: prob})
	}
	return r, nil
}

// LoadGazetteer reads a YAML gazetteer from path; see ParseGazetteer.
func LoadGazetteer(path, entityType string, defaultProb float64, tokenizer Tokenizer) (*GazetteerRecognizer, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read gazetteer %s", path)
	}
	return ParseGazetteer(raw, entityType, defaultProb, tokenizer)
}

// ParseGazetteer reads a YAML gazetteer. A type declared in the file must
// match entityType when both are set. Entries without a probability take
// the file's top-level probability, then defaultProb.
func ParseGazetteer(raw []byte, entityType string, defaultProb float64, tokenizer Tokenizer) (*GazetteerRecognizer, error) {
	var f gazetteerFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, errors.Wrap(err, "parse gazetteer")
	}
	if entityType == "" {
		entityType = f.Type
	}
	if entityType == "" {
		return nil, errors.New("gazetteer has no entity type")
	}
	if f.Type != "" && f.Type != entityType {
		return nil, errors.Newf("gazetteer declares type %q, configured as %q", f.Type, entityType)
	}
	prob := f.Probability
	if prob == 0 {
		prob = defaultProb
	}
	return NewGazetteerRecognizer(entityType, prob, f.Entries, tokenizer)
}

func (r *GazetteerRecognizer) Type() string { return r.entityType }

func (r *GazetteerRecognizer) Len() int {
	n := 0
	for _, list := range r.byFirst {
		n += len(list)
	}
	return n
}

func (r *GazetteerRecognizer) Recognize(ctx context.Context, tokens []Token) ([]Annotation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	lower := make([]string, len(tokens))
	for i, t := range tokens {
		lower[i] = strings.ToLower(t.Text)
	}
	out := make([]Annotation, 0)
	for i := range lower {
		for _, p := range r.byFirst[lower[i]] {
			if matchesAt(lower, i, p.words) {
				out = append(out, Annotation{Type: r.entityType, Span: Span{Start: i, End: i + len(p.words)}, Probability: p.prob})
			}
		}
	}
	return out, nil
}

func matchesAt(tokens []string, at int, words []string) bool {
	if at+len(words) > len(tokens) {
		return false
	}
	for j, w := range words {
		if tokens[at+j] != w {
			return false
		}
	}
	return true
}
