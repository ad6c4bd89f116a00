package ner

import (
	"context"
	"slices"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"annotex/internal/trace"
)

// Recognizer proposes candidate spans of a single entity type over a token
// sequence. Implementations must be safe for concurrent use.
type Recognizer interface {
	Type() string
	Recognize(ctx context.Context, tokens []Token) ([]Annotation, error)
}

type PipelineConfig struct {
	// MinProbability drops candidates below the threshold before resolution.
	// Zero keeps everything.
	MinProbability  float64
	TraceSampleRate float64
	Logger          *zap.Logger
}

// Pipeline runs a fixed set of recognizers over tokenized text. The set is
// copied at construction and never changes afterwards.
type Pipeline struct {
	tokenizer   Tokenizer
	recognizers []Recognizer
	cfg         PipelineConfig
	logger      *zap.Logger
}

// Analysis carries every intermediate result of one Annotate call.
type Analysis struct {
	Tokens     []Token      `json:"tokens"`
	Candidates []Annotation `json:"candidates"`
	Resolved   []Annotation `json:"resolved"`
	Entities   Entities     `json:"entities"`
}

func NewPipeline(tokenizer Tokenizer, recognizers []Recognizer, cfg PipelineConfig) *Pipeline {
	if tokenizer == nil {
		tokenizer = SimpleTokenizer{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		tokenizer:   tokenizer,
		recognizers: slices.Clone(recognizers),
		cfg:         cfg,
		logger:      logger,
	}
}

// Types lists the entity types of the configured recognizers, sorted and
// without duplicates.
func (p *Pipeline) Types() []string {
	out := make([]string, 0, len(p.recognizers))
	for _, r := range p.recognizers {
		out = append(out, r.Type())
	}
	slices.Sort(out)
	return slices.Compact(out)
}

func (p *Pipeline) Annotate(ctx context.Context, text string) (Entities, error) {
	a, err := p.Analyze(ctx, text)
	if err != nil {
		return nil, err
	}
	return a.Entities, nil
}

func (p *Pipeline) Analyze(ctx context.Context, text string) (Analysis, error) {
	tr, ok := trace.FromContext(ctx)
	if !ok {
		tr = trace.NewDocumentTrace(p.cfg.TraceSampleRate)
	}
	defer func() { tr.LogAt(p.logger, time.Now()) }()

	tr.TokenizeStart = time.Now()
	tokens, err := p.tokenizer.Tokenize(text)
	tr.TokenizeEnd = time.Now()
	if err != nil {
		return Analysis{}, errors.Wrap(err, "tokenize")
	}
	tr.Tokens = len(tokens)

	tr.RecognizeStart = time.Now()
	candidates, err := p.Candidates(ctx, tokens)
	tr.RecognizeEnd = time.Now()
	if err != nil {
		return Analysis{}, err
	}
	tr.Candidates = len(candidates)

	tr.ResolveStart = time.Now()
	defer func() { tr.ResolveEnd = time.Now() }()
	for _, c := range candidates {
		if err := checkSpan(c, len(tokens)); err != nil {
			return Analysis{}, err
		}
	}
	resolved, err := Resolve(candidates)
	if err != nil {
		return Analysis{}, err
	}
	entities, err := Aggregate(tokens, resolved)
	if err != nil {
		return Analysis{}, err
	}
	tr.Entities = len(resolved)
	return Analysis{Tokens: tokens, Candidates: candidates, Resolved: resolved, Entities: entities}, nil
}

// Candidates runs every recognizer concurrently and concatenates their
// output in recognizer order. Unavailable recognizers contribute nothing.
func (p *Pipeline) Candidates(ctx context.Context, tokens []Token) ([]Annotation, error) {
	if len(tokens) == 0 || len(p.recognizers) == 0 {
		return nil, nil
	}
	results := make([][]Annotation, len(p.recognizers))
	g, gctx := errgroup.WithContext(ctx)
	for i, r := range p.recognizers {
		g.Go(func() error {
			anns, err := r.Recognize(gctx, tokens)
			if errors.Is(err, ErrRecognizerUnavailable) {
				p.logger.Debug("recognizer unavailable", zap.String("type", r.Type()), zap.Error(err))
				return nil
			}
			if err != nil {
				return errors.Wrapf(err, "recognizer %s", r.Type())
			}
			results[i] = p.filter(anns)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	total := 0
	for _, r := range results {
		total += len(r)
	}
	out := make([]Annotation, 0, total)
	for _, r := range results {
		out = append(out, r...)
	}
	return out, nil
}

func (p *Pipeline) filter(anns []Annotation) []Annotation {
	if p.cfg.MinProbability <= 0 {
		return anns
	}
	kept := make([]Annotation, 0, len(anns))
	for _, a := range anns {
		if a.Probability >= p.cfg.MinProbability {
			kept = append(kept, a)
		}
	}
	if len(anns) > 0 && len(kept) == 0 {
		p.logger.Debug("all candidates below min probability",
			zap.Int("candidates", len(anns)),
			zap.Float64("min_probability", p.cfg.MinProbability))
	}
	return kept
}
