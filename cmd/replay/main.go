// Command replay feeds a JSONL transcript of turns through the learning
// manager and prints the resulting stats as JSON.
//
// Each line is {"user": ..., "assistant": ..., "context": {...}, "dimensions": {...}}.
// A line {"reset": true} starts a new session.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/Harshitk-cp/penny/internal/api"
	"github.com/Harshitk-cp/penny/internal/config"
	"github.com/Harshitk-cp/penny/internal/metrics"
	"github.com/Harshitk-cp/penny/internal/store"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

type options struct {
	file        string
	databaseURL string
	logLevel    string
	migrate     bool
	maintenance bool
	resetEvery  int
}

func parseFlags(args []string) (*options, error) {
	opts := &options{}
	fs := pflag.NewFlagSet("replay", pflag.ContinueOnError)
	fs.StringVarP(&opts.file, "file", "f", "-", "JSONL transcript to replay, - for stdin")
	fs.StringVar(&opts.databaseURL, "database-url", config.DatabaseURL(), "Postgres connection string")
	fs.StringVar(&opts.logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	fs.BoolVar(&opts.migrate, "migrate", false, "Apply migrations before replaying")
	fs.BoolVar(&opts.maintenance, "maintenance", false, "Run decay, quarantine sweep and prune after the replay")
	fs.IntVar(&opts.resetEvery, "reset-every", 0, "Start a new session every N turns (0 disables)")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if opts.resetEvery < 0 {
		return nil, fmt.Errorf("--reset-every must not be negative")
	}
	return opts, nil
}

func main() {
	_ = config.Load()

	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if err := run(opts); err != nil {
		fmt.Fprintln(os.Stderr, "replay:", err)
		os.Exit(1)
	}
}

func run(opts *options) error {
	logger := newLogger(opts.logLevel)
	defer func() { _ = logger.Sync() }()

	if opts.databaseURL == "" {
		return fmt.Errorf("DATABASE_URL or --database-url is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, opts.databaseURL)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer pool.Close()

	if opts.migrate {
		if _, err := store.Migrate(ctx, pool, config.MigrationsPath()); err != nil {
			return err
		}
	}

	manager, err := api.NewLearningManager(pool, metrics.NoOpManager(), logger)
	if err != nil {
		return err
	}

	var in io.Reader = os.Stdin
	if opts.file != "-" {
		f, err := os.Open(opts.file)
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}

	summary, err := replay(ctx, manager, in, opts.resetEvery, logger)
	if err != nil {
		return err
	}

	out := map[string]any{"replay": summary}
	if opts.maintenance {
		cfg := api.MaintenanceConfig()
		out["maintenance"] = map[string]any{
			"decay": manager.ApplyTemporalDecayAll(ctx, cfg.DecayDaysInactive),
			"sweep": manager.SweepQuarantine(ctx),
			"prune": manager.PruneAll(ctx, cfg.PruneMinStrength, cfg.PruneMinObservations),
		}
	}
	out["stats"] = manager.GetSystemStats(ctx)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func newLogger(level string) *zap.Logger {
	cfg := zap.NewProductionConfig()
	cfg.OutputPaths = []string{"stderr"}
	if lvl, err := zap.ParseAtomicLevel(level); err == nil {
		cfg.Level = lvl
	}
	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}
