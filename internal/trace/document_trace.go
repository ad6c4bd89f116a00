package trace

import (
	"context"
	mathrand "math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type documentTraceContextKey string

const traceContextKey documentTraceContextKey = "trace"

// DocumentTrace records where time went while annotating one document.
type DocumentTrace struct {
	ID string

	Start time.Time

	TokenizeStart  time.Time
	TokenizeEnd    time.Time
	RecognizeStart time.Time
	RecognizeEnd   time.Time
	ResolveStart   time.Time
	ResolveEnd     time.Time

	Tokens     int
	Candidates int
	Entities   int

	Sampled bool

	logOnce sync.Once
}

// NewDocumentTrace samples with the given rate in [0,1]. A rate of 0 never
// samples.
func NewDocumentTrace(sampleRate float64) *DocumentTrace {
	return &DocumentTrace{
		ID:      uuid.NewString(),
		Start:   time.Now(),
		Sampled: sampleRate > 0 && mathrand.Float64() <= sampleRate,
	}
}

func WithContext(ctx context.Context, tr *DocumentTrace) context.Context {
	if tr == nil {
		return ctx
	}
	return context.WithValue(ctx, traceContextKey, tr)
}

func FromContext(ctx context.Context) (*DocumentTrace, bool) {
	if ctx == nil {
		return nil, false
	}
	tr, ok := ctx.Value(traceContextKey).(*DocumentTrace)
	return tr, ok
}

type Durations struct {
	Total     time.Duration `json:"total"`
	Tokenize  time.Duration `json:"tokenize"`
	Recognize time.Duration `json:"recognize"`
	Resolve   time.Duration `json:"resolve"`
}

func (t *DocumentTrace) DurationsAt(end time.Time) Durations {
	if t == nil {
		return Durations{}
	}
	return Durations{
		Total:     durationBetween(t.Start, end),
		Tokenize:  durationBetween(t.TokenizeStart, t.TokenizeEnd),
		Recognize: durationBetween(t.RecognizeStart, t.RecognizeEnd),
		Resolve:   durationBetween(t.ResolveStart, t.ResolveEnd),
	}
}

func (t *DocumentTrace) LogAt(logger *zap.Logger, end time.Time) {
	if t == nil || !t.Sampled || logger == nil {
		return
	}
	t.logOnce.Do(func() {
		d := t.DurationsAt(end)
		logger.Debug("document annotated",
			zap.String("trace", t.ID),
			zap.Duration("total", d.Total),
			zap.Duration("tokenize", d.Tokenize),
			zap.Duration("recognize", d.Recognize),
			zap.Duration("resolve", d.Resolve),
			zap.Int("tokens", t.Tokens),
			zap.Int("candidates", t.Candidates),
			zap.Int("entities", t.Entities),
		)
	})
}

func durationBetween(start, end time.Time) time.Duration {
	if start.IsZero() || end.IsZero() || end.Before(start) {
		return 0
	}
	return end.Sub(start)
}
