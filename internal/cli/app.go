package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/seantiz/outletwatch/internal/checker"
	"github.com/seantiz/outletwatch/internal/checker/browser"
	"github.com/seantiz/outletwatch/internal/checker/scripted"
	"github.com/seantiz/outletwatch/internal/config"
	"github.com/seantiz/outletwatch/internal/engine"
	"github.com/seantiz/outletwatch/internal/report"
	"github.com/seantiz/outletwatch/internal/retry"
	"github.com/seantiz/outletwatch/internal/scheduler"
	"github.com/seantiz/outletwatch/internal/source"
	"github.com/seantiz/outletwatch/internal/store"
)

// dryRunLatency is how long the scripted checker pretends each check takes.
const dryRunLatency = 50 * time.Millisecond

// app holds the wired components shared by the run and serve commands.
type app struct {
	cfg      config.Config
	logger   *slog.Logger
	logClose io.Closer
	store    *store.SQLiteStore
	registry *checker.Registry
	engine   *engine.Engine
}

func newApp(ctx context.Context, cfg config.Config) (*app, error) {
	w, closer := cfg.LogWriter()
	logger := config.NewLogger(w, cfg.LogLevel, cfg.LogFormat)

	db, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		closer.Close()
		return nil, fmt.Errorf("open database: %w", err)
	}

	// A previous process that died mid-run leaves runs that will never finish.
	if n, err := db.FailStaleRuns(ctx, "interrupted: process exited before the run finished"); err != nil {
		logger.Warn("failed to reap stale runs", "error", err)
	} else if n > 0 {
		logger.Warn("marked stale runs as failed", "count", n)
	}

	reg := newRegistry(logger)
	c, err := reg.Resolve(cfg.Checker)
	if err != nil {
		db.Close()
		closer.Close()
		return nil, err
	}

	pipeline, err := newPipeline(cfg.Report, logger)
	if err != nil {
		db.Close()
		closer.Close()
		return nil, err
	}

	eng := engine.NewEngine(db, source.NewFileSource(cfg.OutletsFile), c, pipeline, schedulerConfig(cfg.Scheduling), logger)

	return &app{
		cfg:      cfg,
		logger:   logger,
		logClose: closer,
		store:    db,
		registry: reg,
		engine:   eng,
	}, nil
}

func (a *app) Close() {
	a.engine.Shutdown()
	if err := a.store.Close(); err != nil {
		a.logger.Error("close database", "error", err)
	}
	a.logClose.Close()
}

func newRegistry(logger *slog.Logger) *checker.Registry {
	reg := checker.NewRegistry()
	reg.Register(browser.New(browser.LoadConfig(), logger))
	reg.Register(scripted.New(scripted.Succeed("Online", dryRunLatency)))
	return reg
}

// newPipeline builds the report pipeline. Files are always written; email and
// webhook delivery are enabled by their settings.
func newPipeline(cfg config.Report, logger *slog.Logger) (*report.Pipeline, error) {
	renderers := make([]report.Renderer, 0, len(cfg.Formats))
	for _, f := range cfg.Formats {
		r, err := report.RendererFor(f)
		if err != nil {
			return nil, err
		}
		renderers = append(renderers, r)
	}

	sinks := []report.Sink{&report.FileSink{Dir: cfg.Dir}}
	if cfg.SMTP.Host != "" {
		sinks = append(sinks, report.NewEmailSink(report.SMTPConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			User:     cfg.SMTP.User,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
			To:       cfg.SMTP.To,
		}))
	}
	if cfg.WebhookURL != "" {
		sinks = append(sinks, report.NewWebhookSink(report.DefaultWebhookConfig(cfg.WebhookURL)))
	}

	return report.NewPipeline(renderers, sinks, logger), nil
}

// schedulerConfig maps the loaded settings onto the scheduler. A configured
// margin of zero means no margin.
func schedulerConfig(s config.Scheduling) scheduler.Config {
	margin := s.SafetyMargin
	if margin == 0 {
		margin = scheduler.NoSafetyMargin
	}
	return scheduler.Config{
		Concurrency:  s.Concurrency,
		MaxRuntime:   s.MaxRuntime,
		SafetyMargin: margin,
		Retry: retry.Config{
			MaxAttempts:    s.MaxAttempts,
			Delay:          s.RetryDelay,
			AttemptTimeout: s.AttemptTimeout,
		},
	}
}
