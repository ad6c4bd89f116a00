package ner

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

// Loader prepares one or more recognizers, typically by loading a model.
type Loader interface {
	Name() string
	Load(ctx context.Context) ([]Recognizer, error)
}

type LoaderFunc struct {
	LoaderName string
	Fn         func(ctx context.Context) ([]Recognizer, error)
}

func (l LoaderFunc) Name() string { return l.LoaderName }

func (l LoaderFunc) Load(ctx context.Context) ([]Recognizer, error) { return l.Fn(ctx) }

// StaticLoader wraps recognizers that need no preparation.
func StaticLoader(name string, recs ...Recognizer) Loader {
	return LoaderFunc{LoaderName: name, Fn: func(context.Context) ([]Recognizer, error) { return recs, nil }}
}

type LoadFailure struct {
	Loader string
	Err    error
}

type LoadResult struct {
	Recognizers []Recognizer
	Failures    []LoadFailure
	Elapsed     time.Duration
}

func (r LoadResult) Ready() bool { return len(r.Failures) == 0 }

var ErrLoadTimeout = errors.New("ner: recognizer load timed out")

type loadOutcome struct {
	recs []Recognizer
	err  error
}

// LoadRecognizers starts every loader at once and waits until all of them
// finished or the timeout expired. Loaders that fail or miss the deadline
// are reported in Failures and their recognizers are left out. Recognizers
// keep the order of their loaders. A timeout <= 0 waits for the parent
// context only.
func LoadRecognizers(ctx context.Context, loaders []Loader, timeout time.Duration, logger *zap.Logger) LoadResult {
	if logger == nil {
		logger = zap.NewNop()
	}
	start := time.Now()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	futures := make([]chan loadOutcome, len(loaders))
	for i, l := range loaders {
		ch := make(chan loadOutcome, 1)
		futures[i] = ch
		go func() {
			recs, err := l.Load(ctx)
			ch <- loadOutcome{recs: recs, err: err}
		}()
	}

	var res LoadResult
	for i, ch := range futures {
		name := loaders[i].Name()
		out, ok := await(ctx, ch)
		switch {
		case !ok:
			err := errors.Mark(errors.Wrapf(ctx.Err(), "loader %s", name), ErrLoadTimeout)
			logger.Warn("recognizer load timed out", zap.String("loader", name), zap.Duration("after", time.Since(start)))
			res.Failures = append(res.Failures, LoadFailure{Loader: name, Err: err})
		case out.err != nil:
			logger.Warn("recognizer load failed", zap.String("loader", name), zap.Error(out.err))
			res.Failures = append(res.Failures, LoadFailure{Loader: name, Err: out.err})
		default:
			for _, r := range out.recs {
				logger.Info("recognizer ready", zap.String("loader", name), zap.String("type", r.Type()))
			}
			res.Recognizers = append(res.Recognizers, out.recs...)
		}
	}
	res.Elapsed = time.Since(start)
	return res
}

// await prefers a finished outcome over an expired context.
func await(ctx context.Context, ch <-chan loadOutcome) (loadOutcome, bool) {
	select {
	case out := <-ch:
		return out, true
	default:
	}
	select {
	case out := <-ch:
		return out, true
	case <-ctx.Done():
		return loadOutcome{}, false
	}
}
