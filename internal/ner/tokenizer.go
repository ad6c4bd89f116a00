package ner

import (
	"encoding/json"
	"os"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/cockroachdb/errors"
)

// Token is one unit of tokenized text. Start and End are byte offsets into
// the source; the token's position in its slice is its span coordinate.
type Token struct {
	Text  string `json:"text"`
	Start int    `json:"start"`
	End   int    `json:"end"`
}

type Tokenizer interface {
	Tokenize(text string) ([]Token, error)
}

func TokenizerByName(name string) (Tokenizer, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "simple":
		return SimpleTokenizer{}, nil
	case "whitespace":
		return WhitespaceTokenizer{}, nil
	default:
		return nil, errors.Newf("unknown tokenizer %q", name)
	}
}

// SimpleTokenizer splits where the character class changes between letters,
// digits, whitespace and everything else. Whitespace is dropped and a run of
// other characters only groups while the same character repeats, so
// "Sunday." becomes "Sunday" and ".".
type SimpleTokenizer struct{}

type charClass int

const (
	classSpace charClass = iota
	classLetter
	classDigit
	classOther
)

func classOf(r rune) charClass {
	switch {
	case unicode.IsSpace(r):
		return classSpace
	case unicode.IsLetter(r):
		return classLetter
	case unicode.IsDigit(r):
		return classDigit
	default:
		return classOther
	}
}

func (SimpleTokenizer) Tokenize(text string) ([]Token, error) {
	tokens := make([]Token, 0)
	start := -1
	state := classSpace
	var prev rune
	flush := func(end int) {
		if start >= 0 {
			tokens = append(tokens, Token{Text: text[start:end], Start: start, End: end})
		}
		start = -1
	}
	for i, r := range text {
		c := classOf(r)
		switch {
		case c == classSpace:
			flush(i)
		case start < 0:
			start = i
		case c != state || (c == classOther && r != prev):
			flush(i)
			start = i
		}
		state = c
		prev = r
	}
	flush(len(text))
	return tokens, nil
}

// WhitespaceTokenizer keeps punctuation attached to words.
type WhitespaceTokenizer struct{}

func (WhitespaceTokenizer) Tokenize(text string) ([]Token, error) {
	out := make([]Token, 0)
	rest, offset := text, 0
	for {
		i := strings.IndexFunc(rest, func(r rune) bool { return !unicode.IsSpace(r) })
		if i < 0 {
			return out, nil
		}
		rest, offset = rest[i:], offset+i
		n := strings.IndexFunc(rest, unicode.IsSpace)
		if n < 0 {
			n = len(rest)
		}
		out = append(out, Token{Text: rest[:n], Start: offset, End: offset + n})
		rest, offset = rest[n:], offset+n
	}
}

const (
	maxPieceRunes = 100
	maxSequence   = 512
)

// WordPieceTokenizer turns already split words into model input ids using
// greedy longest-match against a BERT vocabulary.
type WordPieceTokenizer struct {
	vocab     map[string]int
	unk       int
	cls       int
	sep       int
	lowercase bool
}

// Encoding is a single-segment model input. WordIndex maps every position to
// the word it came from, or -1 for [CLS] and [SEP].
type Encoding struct {
	InputIDs      []int64
	AttentionMask []int64
	TokenTypeIDs  []int64
	WordIndex     []int
}

func (e *Encoding) push(id, word int) {
	e.InputIDs = append(e.InputIDs, int64(id))
	e.AttentionMask = append(e.AttentionMask, 1)
	e.TokenTypeIDs = append(e.TokenTypeIDs, 0)
	e.WordIndex = append(e.WordIndex, word)
}

// Len is the number of positions including [CLS] and [SEP].
func (e *Encoding) Len() int { return len(e.InputIDs) }

type hfTokenizerFile struct {
	Model struct {
		Vocab map[string]int `json:"vocab"`
	} `json:"model"`
	Normalizer struct {
		Lowercase *bool `json:"lowercase"`
	} `json:"normalizer"`
}

func NewWordPieceTokenizer(path string) (*WordPieceTokenizer, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read tokenizer")
	}
	return ParseWordPieceTokenizer(raw)
}

// ParseWordPieceTokenizer reads a HuggingFace tokenizer.json. Lowercasing
// defaults to on, as for uncased BERT exports.
func ParseWordPieceTokenizer(raw []byte) (*WordPieceTokenizer, error) {
	var f hfTokenizerFile
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, errors.Wrap(err, "parse tokenizer")
	}
	if len(f.Model.Vocab) == 0 {
		return nil, errors.New("tokenizer.json model.vocab is empty")
	}
	t := &WordPieceTokenizer{vocab: f.Model.Vocab, lowercase: true}
	if f.Normalizer.Lowercase != nil {
		t.lowercase = *f.Normalizer.Lowercase
	}
	for name, dst := range map[string]*int{"[UNK]": &t.unk, "[CLS]": &t.cls, "[SEP]": &t.sep} {
		id, ok := f.Model.Vocab[name]
		if !ok {
			return nil, errors.Newf("tokenizer vocab is missing %s", name)
		}
		*dst = id
	}
	return t, nil
}

// Encode maps each word to one or more pieces. Words past the sequence
// limit are dropped, so callers must treat them as untagged.
func (t *WordPieceTokenizer) Encode(words []Token) Encoding {
	var enc Encoding
	enc.push(t.cls, -1)
	budget := maxSequence - 2
words:
	for wi, w := range words {
		for _, id := range t.pieces(w.Text) {
			if budget == 0 {
				break words
			}
			enc.push(id, wi)
			budget--
		}
	}
	enc.push(t.sep, -1)
	return enc
}

// pieces splits word into the longest vocabulary prefixes, continuation
// pieces carrying "##". Any unmatched remainder makes the whole word [UNK].
func (t *WordPieceTokenizer) pieces(word string) []int {
	if t.lowercase {
		word = strings.ToLower(word)
	}
	if word == "" || utf8.RuneCountInString(word) > maxPieceRunes {
		return []int{t.unk}
	}
	var ids []int
	for rest, prefix := word, ""; rest != ""; prefix = "##" {
		end := len(rest)
		id, ok := t.vocab[prefix+rest]
		for !ok {
			_, size := utf8.DecodeLastRuneInString(rest[:end])
			end -= size
			if end == 0 {
				return []int{t.unk}
			}
			id, ok = t.vocab[prefix+rest[:end]]
		}
		ids = append(ids, id)
		rest = rest[end:]
	}
	return ids
}
