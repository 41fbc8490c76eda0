package main

import (
	"context"

	"github.com/entrhq/operator/pkg/server"
)

// ServeCmd serves the run API.
type ServeCmd struct {
	Addr    string `help:"Listen address. Overrides server.addr."`
	Verbose bool   `help:"Mirror logs to the console." short:"v"`
}

func (s *ServeCmd) Run(ctx context.Context, cli *CLI) error {
	a, err := newApp(cli.Config, s.Verbose)
	if err != nil {
		return err
	}

	cfg := server.Config{
		Addr:            a.cfg.Server.Addr,
		ShutdownTimeout: a.cfg.Server.ShutdownTimeout,
	}
	if s.Addr != "" {
		cfg.Addr = s.Addr
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = server.DefaultShutdownTimeout
	}

	srv := server.New(cfg, a.runner(), a.controller, a.registry,
		server.WithLogger(a.logger.Named("server")),
		server.WithMetrics(a.metrics),
	)
	runErr := srv.Run(ctx)

	closeCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := a.close(closeCtx); err != nil && runErr == nil {
		return err
	}
	return runErr
}
