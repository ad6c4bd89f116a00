package app

import (
	"context"
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"annotex/internal/config"
	"annotex/internal/index"
	"annotex/internal/models"
	"annotex/internal/ner"
)

// App holds the components built from one configuration.
type App struct {
	Config    config.Config
	Logger    *zap.Logger
	Pipeline  *ner.Pipeline
	Readiness ner.LoadResult
	Mapper    *index.Mapper
}

// Build loads every configured recognizer within the configured timeout and
// assembles the pipeline from the ones that became ready.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	tok, err := ner.TokenizerByName(cfg.Pipeline.Tokenizer)
	if err != nil {
		return nil, err
	}
	registry, err := models.LoadEmbeddedRegistry()
	if err != nil {
		return nil, err
	}
	loaders, err := Loaders(cfg, registry, tok, logger)
	if err != nil {
		return nil, err
	}
	res := ner.LoadRecognizers(ctx, loaders, cfg.Pipeline.LoadTimeout, logger)
	if !res.Ready() {
		logger.Warn("pipeline degraded", zap.Int("failed_loaders", len(res.Failures)), zap.Int("recognizers", len(res.Recognizers)))
	}
	p := ner.NewPipeline(tok, res.Recognizers, ner.PipelineConfig{
		MinProbability:  cfg.Pipeline.MinProbability,
		TraceSampleRate: cfg.Pipeline.TraceSampleRate,
		Logger:          logger,
	})
	return &App{
		Config:    cfg,
		Logger:    logger,
		Pipeline:  p,
		Readiness: res,
		Mapper:    index.NewMapper(p, cfg.Index.Field),
	}, nil
}

// OpenStore opens the configured index, creating its directory if needed.
func (a *App) OpenStore(ctx context.Context) (*index.Store, error) {
	analyzers, err := index.ParseAnalyzers(a.Config.Index.Analyzers)
	if err != nil {
		return nil, err
	}
	if dir := filepath.Dir(a.Config.Index.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrap(err, "create index dir")
		}
	}
	return index.Open(ctx, a.Config.Index.Path, index.StoreOptions{Analyzers: analyzers, Logger: a.Logger})
}

// Loaders creates one loader per pattern or gazetteer recognizer and one per
// ONNX model, shared by every entity type that model serves.
func Loaders(cfg config.Config, registry models.Registry, tok ner.Tokenizer, logger *zap.Logger) ([]ner.Loader, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	loaders := make([]ner.Loader, 0, len(cfg.Recognizers))
	onnxIdx := map[string]int{}
	onnxTypes := map[string][]config.RecognizerConfig{}

	for _, rc := range cfg.Recognizers {
		switch rc.Kind {
		case config.KindPattern:
			specs := ner.DefaultDatePatterns()
			if len(rc.Patterns) > 0 {
				specs = make([]ner.PatternSpec, len(rc.Patterns))
				for i, p := range rc.Patterns {
					specs[i] = ner.PatternSpec{Expr: p.Expr, Probability: p.Probability}
				}
			}
			patterns, err := ner.CompilePatterns(specs)
			if err != nil {
				return nil, errors.Wrapf(err, "recognizer %s", rc.Type)
			}
			loaders = append(loaders, ner.StaticLoader(rc.Type, ner.NewPatternRecognizer(rc.Type, patterns)))
		case config.KindGazetteer:
			loaders = append(loaders, ner.LoaderFunc{LoaderName: rc.Type, Fn: func(context.Context) ([]ner.Recognizer, error) {
				g, err := ner.LoadGazetteer(rc.Gazetteer, rc.Type, rc.Probability, tok)
				if err != nil {
					return nil, err
				}
				logger.Debug("gazetteer loaded", zap.String("type", rc.Type), zap.Int("phrases", g.Len()))
				return []ner.Recognizer{g}, nil
			}})
		case config.KindONNX:
			if _, ok := onnxIdx[rc.Model]; !ok {
				onnxIdx[rc.Model] = len(loaders)
				loaders = append(loaders, nil)
			}
			onnxTypes[rc.Model] = append(onnxTypes[rc.Model], rc)
		default:
			return nil, errors.Newf("recognizer %s: unknown kind %q", rc.Type, rc.Kind)
		}
	}

	for name, i := range onnxIdx {
		loaders[i] = onnxLoader(cfg.Models.Root, name, registry, onnxTypes[name], logger)
	}
	return loaders, nil
}

func onnxLoader(root, name string, registry models.Registry, recs []config.RecognizerConfig, logger *zap.Logger) ner.Loader {
	spec, known := registry.Find(name)
	dir := models.ModelInstallPath(root, name)
	return ner.LoaderFunc{LoaderName: name, Fn: func(context.Context) ([]ner.Recognizer, error) {
		model := ner.NewONNXModel(ner.ONNXModelConfig{Dir: dir, Logger: logger})
		if err := model.Load(); err != nil {
			return nil, err
		}
		out := make([]ner.Recognizer, 0, len(recs))
		for _, rc := range recs {
			labels := rc.Labels
			if len(labels) == 0 && known {
				labels = spec.LabelsFor(rc.Type)
			}
			out = append(out, ner.NewONNXRecognizer(model, rc.Type, labels))
		}
		return out, nil
	}}
}
