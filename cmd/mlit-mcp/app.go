package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/RobinCoderZhao/mlit-dpf-mcp/internal/audit"
	"github.com/RobinCoderZhao/mlit-dpf-mcp/internal/codes"
	"github.com/RobinCoderZhao/mlit-dpf-mcp/internal/config"
	"github.com/RobinCoderZhao/mlit-dpf-mcp/internal/dispatch"
	"github.com/RobinCoderZhao/mlit-dpf-mcp/internal/tools"
	"github.com/RobinCoderZhao/mlit-dpf-mcp/internal/upstream"
	"github.com/RobinCoderZhao/mlit-dpf-mcp/pkg/mcpserver"
)

// warmTimeout bounds the background code-table load at startup.
const warmTimeout = time.Minute

// app is the wired server and the resources it owns.
type app struct {
	server *mcpserver.Server
	codes  *codes.Cache
	audit  *audit.Store
	logger *slog.Logger
}

// newLogger builds the process logger. Logs never go to stdout, which
// carries the stdio transport.
func newLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// newApp wires client, retry, cache, dispatcher, tools and middleware.
func newApp(ctx context.Context, cfg config.Config, logger *slog.Logger) (*app, error) {
	client, err := upstream.NewClient(cfg.Upstream)
	if err != nil {
		return nil, err
	}
	client.SetLogger(logger)
	fetcher := upstream.WithRetry(client, cfg.Retry)

	cache := codes.New(fetcher)
	cache.SetLogger(logger)

	d := dispatch.New(fetcher, cache, cfg.Pagination)
	d.SetLogger(logger)

	version := cfg.Server.Version
	if version == "" {
		version = buildVersion
	}
	srv := mcpserver.New(cfg.Server.Name, version)
	srv.SetLogger(logger)

	a := &app{server: srv, codes: cache, logger: logger}

	srv.Use(mcpserver.LoggingMiddleware(logger))
	if cfg.Audit.Enabled {
		store, err := audit.Open(ctx, cfg.Audit.DSN)
		if err != nil {
			return nil, err
		}
		a.audit = store
		srv.Use(audit.Middleware(store, logger))
	}
	srv.Use(mcpserver.RecoveryMiddleware())

	tools.Register(srv, d, tools.Options{ResponseLimit: cfg.Server.ResponseLimitBytes, Logger: logger})
	return a, nil
}

// warm loads the code tables in the background. Failures are logged; the
// tables load again on first use.
func (a *app) warm(ctx context.Context) {
	go func() {
		ctx, cancel := context.WithTimeout(ctx, warmTimeout)
		defer cancel()
		start := time.Now()
		if err := a.codes.Warm(ctx); err != nil {
			if !errors.Is(err, context.Canceled) {
				a.logger.Warn("code table warm-up failed", "error", err)
			}
			return
		}
		a.logger.Info("code tables loaded", "duration", time.Since(start))
	}()
}

func (a *app) Close() error {
	if a.audit != nil {
		return a.audit.Close()
	}
	return nil
}
