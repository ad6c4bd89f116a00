package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"annotex/internal/index"
	"annotex/internal/server"
)

func (c *cli) serveCmd() *cobra.Command {
	var addr string
	var noIndex bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the annotation and document API over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := c.build(ctx)
			if err != nil {
				return err
			}
			opts := server.Options{
				Pipeline:        a.Pipeline,
				Readiness:       a.Readiness,
				TraceSampleRate: c.cfg.Pipeline.TraceSampleRate,
				Logger:          c.logger,
			}
			if !noIndex {
				store, err := a.OpenStore(ctx)
				if err != nil {
					return err
				}
				defer store.Close()
				opts.Store = store
				opts.Mapper = a.Mapper
			}
			if addr == "" {
				addr = c.cfg.Server.Addr
			}
			c.logger.Info("annotex starting",
				zap.String("addr", addr),
				zap.Strings("types", a.Pipeline.Types()),
				zap.Bool("index", !noIndex),
				zap.String("sqlite", index.DriverType()))
			return server.New(opts).ListenAndServe(ctx, addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	cmd.Flags().BoolVar(&noIndex, "no-index", false, "serve /v1/annotate only, without the document index")
	return cmd
}
