package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/viper"
)

const (
	defaultAddr        = ":8080"
	defaultIndexPath   = "~/.annotex/annotex.db"
	defaultModelsRoot  = "~/.annotex/models"
	defaultLoadTimeout = 10 * time.Second
	defaultField       = "body"
	defaultModel       = "ner_en"
)

const (
	KindPattern   = "pattern"
	KindGazetteer = "gazetteer"
	KindONNX      = "onnx"
)

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type PipelineConfig struct {
	Tokenizer       string        `mapstructure:"tokenizer"`
	MinProbability  float64       `mapstructure:"min_probability"`
	LoadTimeout     time.Duration `mapstructure:"load_timeout"`
	TraceSampleRate float64       `mapstructure:"trace_sample_rate"`
}

type PatternConfig struct {
	Expr        string  `mapstructure:"expr"`
	Probability float64 `mapstructure:"probability"`
}

// RecognizerConfig declares one recognizer. Kind selects which of the
// remaining fields apply: Patterns for "pattern" (empty means the built-in
// date patterns), Gazetteer and Probability for "gazetteer", Model and
// Labels for "onnx".
type RecognizerConfig struct {
	Type        string          `mapstructure:"type"`
	Kind        string          `mapstructure:"kind"`
	Model       string          `mapstructure:"model"`
	Labels      []string        `mapstructure:"labels"`
	Gazetteer   string          `mapstructure:"gazetteer"`
	Patterns    []PatternConfig `mapstructure:"patterns"`
	Probability float64         `mapstructure:"probability"`
}

type IndexConfig struct {
	Path      string            `mapstructure:"path"`
	Field     string            `mapstructure:"field"`
	Analyzers map[string]string `mapstructure:"analyzers"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

type ModelsConfig struct {
	Root string `mapstructure:"root"`
}

type Config struct {
	Log         LogConfig          `mapstructure:"log"`
	Pipeline    PipelineConfig     `mapstructure:"pipeline"`
	Recognizers []RecognizerConfig `mapstructure:"recognizers"`
	Index       IndexConfig        `mapstructure:"index"`
	Server      ServerConfig       `mapstructure:"server"`
	Models      ModelsConfig       `mapstructure:"models"`
}

func Default() Config {
	return Config{
		Log: LogConfig{Level: "info", Format: "console"},
		Pipeline: PipelineConfig{
			Tokenizer:   "simple",
			LoadTimeout: defaultLoadTimeout,
		},
		Recognizers: DefaultRecognizers(),
		Index: IndexConfig{
			Path:  defaultIndexPath,
			Field: defaultField,
			Analyzers: map[string]string{
				"name":     "standard",
				"location": "standard",
				"date":     "lowercase",
			},
		},
		Server: ServerConfig{Addr: defaultAddr},
		Models: ModelsConfig{Root: defaultModelsRoot},
	}
}

// DefaultRecognizers covers the three entity types of the stock English
// setup: dates from patterns, names and locations from the ner_en model.
func DefaultRecognizers() []RecognizerConfig {
	return []RecognizerConfig{
		{Type: "date", Kind: KindPattern},
		{Type: "name", Kind: KindONNX, Model: defaultModel},
		{Type: "location", Kind: KindONNX, Model: defaultModel},
	}
}

func ConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".annotex", "config.yaml"), nil
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("pipeline.tokenizer", d.Pipeline.Tokenizer)
	v.SetDefault("pipeline.min_probability", d.Pipeline.MinProbability)
	v.SetDefault("pipeline.load_timeout", d.Pipeline.LoadTimeout)
	v.SetDefault("pipeline.trace_sample_rate", d.Pipeline.TraceSampleRate)
	v.SetDefault("index.path", d.Index.Path)
	v.SetDefault("index.field", d.Index.Field)
	v.SetDefault("index.analyzers", d.Index.Analyzers)
	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("models.root", d.Models.Root)
}

// Load reads a YAML config file. A missing file yields the defaults.
// Environment variables prefixed with ANNOTEX_ override scalar keys, e.g.
// ANNOTEX_SERVER_ADDR for server.addr.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("ANNOTEX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			v.SetConfigType("yaml")
			if err := v.ReadInConfig(); err != nil {
				return Config{}, errors.Wrapf(err, "read config %s", path)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return Config{}, errors.Wrap(err, "read config")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, errors.Wrap(err, "decode config")
	}
	if len(cfg.Recognizers) == 0 {
		cfg.Recognizers = DefaultRecognizers()
	}
	if cfg.Pipeline.LoadTimeout <= 0 {
		cfg.Pipeline.LoadTimeout = defaultLoadTimeout
	}
	cfg.Index.Path = expandHome(cfg.Index.Path)
	cfg.Models.Root = expandHome(cfg.Models.Root)
	for i := range cfg.Recognizers {
		cfg.Recognizers[i].Gazetteer = expandHome(cfg.Recognizers[i].Gazetteer)
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	seen := map[string]bool{}
	for i, r := range c.Recognizers {
		if strings.TrimSpace(r.Type) == "" {
			return errors.Newf("recognizers[%d]: type is required", i)
		}
		if seen[r.Type] {
			return errors.Newf("recognizers[%d]: duplicate type %q", i, r.Type)
		}
		seen[r.Type] = true
		switch r.Kind {
		case KindPattern:
			for _, p := range r.Patterns {
				if err := checkProbability(p.Probability); err != nil {
					return errors.Wrapf(err, "recognizer %s pattern %q", r.Type, p.Expr)
				}
			}
		case KindGazetteer:
			if r.Gazetteer == "" {
				return errors.Newf("recognizer %s: gazetteer path is required", r.Type)
			}
			if err := checkProbability(r.Probability); err != nil {
				return errors.Wrapf(err, "recognizer %s", r.Type)
			}
		case KindONNX:
			if r.Model == "" {
				return errors.Newf("recognizer %s: model is required", r.Type)
			}
		default:
			return errors.WithHint(
				errors.Newf("recognizer %s: unknown kind %q", r.Type, r.Kind),
				"use one of pattern, gazetteer, onnx",
			)
		}
	}
	if err := checkProbability(c.Pipeline.MinProbability); err != nil {
		return errors.Wrap(err, "pipeline.min_probability")
	}
	if err := checkProbability(c.Pipeline.TraceSampleRate); err != nil {
		return errors.Wrap(err, "pipeline.trace_sample_rate")
	}
	if c.Pipeline.LoadTimeout <= 0 {
		return errors.New("pipeline.load_timeout must be positive")
	}
	return nil
}

func checkProbability(p float64) error {
	if p < 0 || p > 1 {
		return errors.Newf("value %v outside [0,1]", p)
	}
	return nil
}

func expandHome(p string) string {
	if !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, p[2:])
}
