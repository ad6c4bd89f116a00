package ner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimpleTokenizerStableOutput(t *testing.T) {
	out, err := SimpleTokenizer{}.Tokenize("My name is John Smith.")
	require.NoError(t, err)
	require.Len(t, out, 6)
	assert.Equal(t, Token{Text: "John", Start: 11, End: 15}, out[3])
	assert.Equal(t, ".", out[5].Text)
}

func TestSimpleTokenizerCharacterClasses(t *testing.T) {
	out, err := SimpleTokenizer{}.Tokenize("On 2024-05-01, call 911... now")
	require.NoError(t, err)
	texts := make([]string, len(out))
	for i, tok := range out {
		texts[i] = tok.Text
	}
	assert.Equal(t, []string{"On", "2024", "-", "05", "-", "01", ",", "call", "911", "...", "now"}, texts)
}

func TestSimpleTokenizerUnicodeOffsets(t *testing.T) {
	in := "Zürich über alles"
	out, err := SimpleTokenizer{}.Tokenize(in)
	require.NoError(t, err)
	require.Len(t, out, 3)
	for _, tok := range out {
		assert.Equal(t, tok.Text, in[tok.Start:tok.End])
	}
}

func TestWhitespaceTokenizer(t *testing.T) {
	out, err := WhitespaceTokenizer{}.Tokenize("  Los Angeles,\tCA ")
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, "Angeles,", out[1].Text)
}

func TestTokenizerByName(t *testing.T) {
	tok, err := TokenizerByName("")
	require.NoError(t, err)
	assert.IsType(t, SimpleTokenizer{}, tok)

	tok, err = TokenizerByName("Whitespace")
	require.NoError(t, err)
	assert.IsType(t, WhitespaceTokenizer{}, tok)

	_, err = TokenizerByName("bpe")
	assert.Error(t, err)
}

func TestWordPieceEncode(t *testing.T) {
	tok, err := ParseWordPieceTokenizer([]byte(`{"model":{"vocab":{"[UNK]":0,"[CLS]":1,"[SEP]":2,"los":3,"ange":4,"##les":5}}}`))
	require.NoError(t, err)
	enc := tok.Encode([]Token{{Text: "Los"}, {Text: "Angeles"}, {Text: "xyz"}})
	assert.Equal(t, []int64{1, 3, 4, 5, 0, 2}, enc.InputIDs)
	assert.Equal(t, []int{-1, 0, 1, 1, 2, -1}, enc.WordIndex)
	assert.Len(t, enc.AttentionMask, len(enc.InputIDs))
}

func TestWordPieceMissingSpecialToken(t *testing.T) {
	_, err := ParseWordPieceTokenizer([]byte(`{"model":{"vocab":{"[UNK]":0,"[CLS]":1}}}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "[SEP]")
}

func TestWordPieceTruncatesLongInput(t *testing.T) {
	tok, err := ParseWordPieceTokenizer([]byte(`{"model":{"vocab":{"[UNK]":0,"[CLS]":1,"[SEP]":2,"a":3}}}`))
	require.NoError(t, err)
	words := make([]Token, 600)
	for i := range words {
		words[i] = Token{Text: "a"}
	}
	enc := tok.Encode(words)
	assert.Equal(t, 512, enc.Len())
	assert.Equal(t, int64(2), enc.InputIDs[511])
	assert.Equal(t, 509, enc.WordIndex[510])
}

func TestWordPieceUnicode(t *testing.T) {
	tok, err := ParseWordPieceTokenizer([]byte(`{"model":{"vocab":{"[UNK]":0,"[CLS]":1,"[SEP]":2,"mü":3,"##nchen":4}},"normalizer":{"lowercase":false}}`))
	require.NoError(t, err)
	enc := tok.Encode([]Token{{Text: "münchen"}, {Text: "München"}})
	assert.Equal(t, []int64{1, 3, 4, 0, 2}, enc.InputIDs)
}
