package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"annotex/internal/app"
	"annotex/internal/config"
	"annotex/internal/logging"
)

// cli carries state shared by every subcommand. The config and logger are
// resolved once in PersistentPreRunE.
type cli struct {
	configPath string
	envFile    string
	cfg        config.Config
	logger     *zap.Logger
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		for _, h := range errors.GetAllHints(err) {
			fmt.Fprintf(os.Stderr, "Hint: %s\n", h)
		}
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	defaultPath, err := config.ConfigPath()
	if err != nil {
		defaultPath = "config.yaml"
	}
	root := &cobra.Command{
		Use:   "annotex",
		Short: "annotex - named entity annotation and indexing",
		Long: `annotex runs a set of entity recognizers over text, resolves overlapping
candidates into a consistent set and maps the result into searchable
sub-fields.

Examples:
  annotex annotate "Mother's Day is Sunday in the Los Angeles area"
  annotex index body notes.txt
  annotex search body location "los angeles"
  annotex serve
  annotex model download ner_en`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.init()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if c.logger != nil {
				_ = c.logger.Sync()
			}
		},
	}
	root.PersistentFlags().StringVar(&c.configPath, "config", defaultPath, "path to config file")
	root.PersistentFlags().StringVar(&c.envFile, "env-file", ".env", "dotenv file loaded before the config")

	root.AddCommand(
		c.annotateCmd(),
		c.serveCmd(),
		c.indexCmd(),
		c.searchCmd(),
		c.statsCmd(),
		c.exportCmd(),
		c.importCmd(),
		c.modelCmd(),
	)
	return root
}

func (c *cli) init() error {
	if c.envFile != "" {
		if err := godotenv.Load(c.envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return errors.Wrapf(err, "load %s", c.envFile)
		}
	}
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	c.cfg = cfg
	c.logger = logger
	return nil
}

func (c *cli) build(ctx context.Context) (*app.App, error) {
	return app.Build(ctx, c.cfg, c.logger)
}
