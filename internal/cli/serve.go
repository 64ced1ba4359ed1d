package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/seantiz/outletwatch/internal/api"
	"github.com/seantiz/outletwatch/internal/engine"
	"github.com/seantiz/outletwatch/internal/model"
)

func newServeCommand(gf *globalFlags) *cobra.Command {
	var (
		addr     string
		schedule string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and run batches on a schedule",
		Long: `Start the HTTP API. When a schedule is given (standard five-field cron
syntax or descriptors such as @hourly), a batch is started on every tick;
ticks that arrive while a batch is still running are skipped.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, gf)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("addr") {
				cfg.ListenAddr = addr
			}
			if cmd.Flags().Changed("schedule") {
				cfg.Schedule = schedule
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			a.logger.Info("outletwatch: starting",
				"listen_addr", cfg.ListenAddr,
				"db_path", cfg.DBPath,
				"checker", cfg.Checker,
				"schedule", cfg.Schedule,
			)

			if cfg.Schedule != "" {
				c, err := newCron(ctx, cfg.Schedule, a.engine, a.logger)
				if err != nil {
					return err
				}
				c.Start()
				defer func() { <-c.Stop().Done() }()
			}

			srv := api.NewServer(cfg.ListenAddr, a.store, a.registry, a.engine, cfg.APISecret, a.logger)
			return srv.Run(ctx)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address")
	cmd.Flags().StringVar(&schedule, "schedule", "", "cron schedule for periodic runs")
	return cmd
}

// newCron schedules a batch on every tick of schedule. A tick is skipped when
// the previous scheduled batch or an API-triggered one is still running.
func newCron(ctx context.Context, schedule string, eng *engine.Engine, logger *slog.Logger) (*cron.Cron, error) {
	cl := cronLogger{logger: logger.With("component", "cron")}
	c := cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)

	_, err := c.AddFunc(schedule, func() {
		run, err := eng.RunOnce(ctx, model.TriggerSchedule)
		switch {
		case errors.Is(err, engine.ErrRunInProgress):
			active, _ := eng.Active()
			logger.Warn("scheduled run skipped", "active_run", active)
		case err != nil:
			logger.Error("scheduled run failed", "error", err)
		default:
			logger.Info("scheduled run finished", "run_id", run.ID, "status", run.Status)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", schedule, err)
	}
	return c, nil
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}
