package ner

import (
	"context"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// DefaultLabelTypes maps BIO label names of common NER exports to entity
// types.
var DefaultLabelTypes = map[string]string{
	"PER":    "name",
	"PERSON": "name",
	"LOC":    "location",
	"GPE":    "location",
	"DATE":   "date",
	"TIME":   "date",
	"ORG":    "organization",
	"MISC":   "misc",
}

// LabelsFor returns the default labels that map to entityType.
func LabelsFor(entityType string) []string {
	out := make([]string, 0)
	for label, typ := range DefaultLabelTypes {
		if typ == entityType {
			out = append(out, label)
		}
	}
	slices.Sort(out)
	return out
}

type nerSession interface {
	Run(ctx context.Context, inputIDs, attentionMask, tokenTypeIDs []int64) ([][]float32, error)
}

type ONNXModelConfig struct {
	Dir    string
	Logger *zap.Logger
}

// ONNXModel is a BIO token classification model shared by the recognizers
// of every entity type it can tag. Files are loaded on first use.
type ONNXModel struct {
	cfg       ONNXModelConfig
	logger    *zap.Logger
	once      sync.Once
	loadErr   error
	labels    map[int]string
	tokenizer *WordPieceTokenizer
	session   nerSession
	flight    singleflight.Group
}

// TaggedSpan is a merged BIO run over word tokens.
type TaggedSpan struct {
	Label string
	Span  Span
	Score float64
}

func NewONNXModel(cfg ONNXModelConfig) *ONNXModel {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ONNXModel{cfg: cfg, logger: logger}
}

func (m *ONNXModel) Load() error {
	m.once.Do(func() {
		m.loadErr = m.load()
		if m.loadErr != nil {
			m.logger.Warn("onnx model unavailable", zap.String("dir", m.cfg.Dir), zap.Error(m.loadErr))
			return
		}
		m.logger.Info("onnx model loaded", zap.String("dir", m.cfg.Dir), zap.Int("labels", len(m.labels)))
	})
	return m.loadErr
}

func (m *ONNXModel) load() error {
	modelPath := filepath.Join(m.cfg.Dir, "model.onnx")
	if _, err := os.Stat(modelPath); err != nil {
		return errors.WithHint(errors.Wrap(err, "model missing"), "download it with `annotex model download`")
	}
	labels, err := loadLabels(filepath.Join(m.cfg.Dir, "labels.json"))
	if err != nil {
		return errors.Wrap(err, "load labels")
	}
	tok, err := NewWordPieceTokenizer(filepath.Join(m.cfg.Dir, "tokenizer.json"))
	if err != nil {
		return errors.Wrap(err, "load tokenizer")
	}
	session, err := createONNXSession(modelPath, len(labels))
	if err != nil {
		return errors.Wrap(err, "create session")
	}
	m.labels = labels
	m.tokenizer = tok
	m.session = session
	return nil
}

func loadLabels(path string) (map[int]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var byKey map[string]string
	if err := json.Unmarshal(raw, &byKey); err != nil {
		return nil, err
	}
	if len(byKey) == 0 {
		return nil, errors.New("labels.json is empty")
	}
	labels := make(map[int]string, len(byKey))
	for k, v := range byKey {
		idx, err := strconv.Atoi(k)
		if err != nil {
			return nil, errors.Wrapf(err, "label index %q", k)
		}
		labels[idx] = v
	}
	return labels, nil
}

// EntityLabels lists the label names the model can emit, without BIO
// prefixes.
func (m *ONNXModel) EntityLabels() []string {
	if m.Load() != nil {
		return nil
	}
	out := make([]string, 0, len(m.labels))
	for _, l := range m.labels {
		if _, typ, ok := splitBIO(l); ok {
			out = append(out, typ)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// Tag runs the model once per distinct token sequence, even when several
// recognizers ask for the same document concurrently.
func (m *ONNXModel) Tag(ctx context.Context, tokens []Token) ([]TaggedSpan, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := m.Load(); err != nil {
		return nil, errors.Mark(errors.Wrap(err, "onnx model unavailable"), ErrRecognizerUnavailable)
	}
	if len(tokens) == 0 {
		return nil, nil
	}
	// The shared run outlives any single caller; each caller only stops
	// waiting on its own cancellation.
	flight := context.WithoutCancel(ctx)
	ch := m.flight.DoChan(flightKey(tokens), func() (any, error) {
		return m.tag(flight, tokens)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]TaggedSpan), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func flightKey(tokens []Token) string {
	var b strings.Builder
	for _, t := range tokens {
		b.WriteString(t.Text)
		b.WriteByte(0)
	}
	return b.String()
}

func (m *ONNXModel) tag(ctx context.Context, tokens []Token) ([]TaggedSpan, error) {
	enc := m.tokenizer.Encode(tokens)
	logits, err := m.session.Run(ctx, enc.InputIDs, enc.AttentionMask, enc.TokenTypeIDs)
	if err != nil {
		return nil, errors.Wrap(err, "onnx inference")
	}
	if len(logits) != len(enc.InputIDs) {
		return nil, errors.Newf("onnx inference returned %d rows for %d inputs", len(logits), len(enc.InputIDs))
	}
	labels, scores := m.wordLabels(enc, logits, len(tokens))
	return mergeBIO(labels, scores), nil
}

// wordLabels takes the prediction of the first sub-word of every word.
func (m *ONNXModel) wordLabels(enc Encoding, logits [][]float32, words int) ([]string, []float64) {
	labels := make([]string, words)
	scores := make([]float64, words)
	seen := make([]bool, words)
	for pos, wi := range enc.WordIndex {
		if wi < 0 || wi >= words || seen[wi] {
			continue
		}
		seen[wi] = true
		probs := softmax(logits[pos])
		best := 0
		for i, p := range probs {
			if p > probs[best] {
				best = i
			}
		}
		label, ok := m.labels[best]
		if !ok {
			label = "O"
		}
		labels[wi] = label
		scores[wi] = probs[best]
	}
	for i := range labels {
		if labels[i] == "" {
			labels[i] = "O"
		}
	}
	return labels, scores
}

func softmax(logits []float32) []float64 {
	out := make([]float64, len(logits))
	if len(logits) == 0 {
		return out
	}
	maxLogit := float64(logits[0])
	for _, l := range logits[1:] {
		maxLogit = math.Max(maxLogit, float64(l))
	}
	sum := 0.0
	for i, l := range logits {
		out[i] = math.Exp(float64(l) - maxLogit)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

// ONNXRecognizer keeps the model spans whose label maps to its entity type.
type ONNXRecognizer struct {
	model      *ONNXModel
	entityType string
	labels     map[string]struct{}
}

// NewONNXRecognizer falls back to LabelsFor(entityType) when labels is
// empty.
func NewONNXRecognizer(model *ONNXModel, entityType string, labels []string) *ONNXRecognizer {
	if len(labels) == 0 {
		labels = LabelsFor(entityType)
	}
	set := make(map[string]struct{}, len(labels))
	for _, l := range labels {
		set[strings.ToUpper(strings.TrimSpace(l))] = struct{}{}
	}
	return &ONNXRecognizer{model: model, entityType: entityType, labels: set}
}

func (r *ONNXRecognizer) Type() string { return r.entityType }

func (r *ONNXRecognizer) Recognize(ctx context.Context, tokens []Token) ([]Annotation, error) {
	spans, err := r.model.Tag(ctx, tokens)
	if err != nil {
		return nil, err
	}
	out := make([]Annotation, 0, len(spans))
	for _, s := range spans {
		if _, ok := r.labels[strings.ToUpper(s.Label)]; !ok {
			continue
		}
		out = append(out, Annotation{Type: r.entityType, Span: s.Span, Probability: s.Score})
	}
	return out, nil
}

func splitBIO(label string) (prefix, typ string, ok bool) {
	if label == "" || label == "O" {
		return "", "", false
	}
	parts := strings.SplitN(label, "-", 2)
	if len(parts) != 2 {
		return "I", label, true
	}
	if parts[0] != "B" && parts[0] != "I" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// mergeBIO joins B/I runs of the same label into spans scored with the mean
// of their word scores.
func mergeBIO(labels []string, scores []float64) []TaggedSpan {
	out := make([]TaggedSpan, 0)
	var cur *TaggedSpan
	count := 0.0
	closeCur := func() {
		if cur != nil {
			cur.Score = cur.Score / math.Max(1, count)
			out = append(out, *cur)
			cur = nil
			count = 0
		}
	}
	for i, label := range labels {
		prefix, typ, ok := splitBIO(label)
		if !ok {
			closeCur()
			continue
		}
		if prefix == "B" || cur == nil || cur.Label != typ {
			closeCur()
			cur = &TaggedSpan{Label: typ, Span: Span{Start: i, End: i + 1}, Score: scores[i]}
			count = 1
			continue
		}
		cur.Span.End = i + 1
		cur.Score += scores[i]
		count++
	}
	closeCur()
	return out
}
