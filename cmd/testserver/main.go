// testserver starts an outletwatch API server backed by the scripted checker
// and an in-memory database, for exercising the API without a browser.
// Usage: go run ./cmd/testserver
package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/seantiz/outletwatch/internal/api"
	"github.com/seantiz/outletwatch/internal/checker"
	"github.com/seantiz/outletwatch/internal/checker/scripted"
	"github.com/seantiz/outletwatch/internal/engine"
	"github.com/seantiz/outletwatch/internal/model"
	"github.com/seantiz/outletwatch/internal/retry"
	"github.com/seantiz/outletwatch/internal/scheduler"
	"github.com/seantiz/outletwatch/internal/store"
)

// fixedSource serves the built-in outlet list.
type fixedSource []model.Outlet

func (s fixedSource) Load(context.Context) ([]model.Outlet, error) { return s, nil }

var outlets = fixedSource{
	{ID: "Kopi House", Username: "kopi@example.com", Password: "pw"},
	{ID: "Roti Canai", Username: "roti@example.com", Password: "pw"},
	{ID: "Roti Canai*", Username: "roti@example.com", Password: "pw"},
	{ID: "Bubble Tea", Username: "bt@example.com", Password: "pw"},
	{ID: "Nasi Lemak", Username: "nl@example.com", Password: "pw"},
	{ID: "Satay Stall", Username: "satay@example.com", Password: "pw"},
}

func main() {
	addr := ":8080"
	if v := os.Getenv("OUTLETWATCH_LISTEN_ADDR"); v != "" {
		addr = v
	}

	db, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	// A mix of outcomes: a retry that recovers, a structural failure and an
	// outlet that never answers.
	c := scripted.New(scripted.Succeed("Online", 500*time.Millisecond)).
		Script("Roti Canai", scripted.Fail(200*time.Millisecond), scripted.Succeed("Offline", 300*time.Millisecond)).
		Script("Roti Canai*", scripted.FailTerminal(100*time.Millisecond)).
		Script("Satay Stall", scripted.Fail(time.Second))

	reg := checker.NewRegistry()
	reg.Register(c)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	cfg := scheduler.Config{
		Concurrency: 3,
		MaxRuntime:  time.Minute,
		Retry:       retry.Config{MaxAttempts: 3, Delay: 500 * time.Millisecond, AttemptTimeout: 5 * time.Second},
	}
	eng := engine.NewEngine(db, outlets, c, nil, cfg, logger)
	defer eng.Shutdown()

	srv := api.NewServer(addr, db, reg, eng, os.Getenv("OUTLETWATCH_API_SECRET"), logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("testserver: starting", "addr", addr)
	if err := srv.Run(ctx); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
