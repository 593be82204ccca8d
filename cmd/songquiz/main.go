package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/conorfennell/songquiz/internal/config"
	"github.com/conorfennell/songquiz/internal/fsrs"
	"github.com/conorfennell/songquiz/internal/metrics"
	"github.com/conorfennell/songquiz/internal/quiz"
	"github.com/conorfennell/songquiz/internal/selector"
	"github.com/conorfennell/songquiz/internal/storage"
	"github.com/conorfennell/songquiz/internal/sync"
	"github.com/conorfennell/songquiz/internal/web"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		slog.Error("songquiz failed", "error", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	// 1. Define and parse command-line flags
	fs := pflag.NewFlagSet("songquiz", pflag.ContinueOnError)
	config.RegisterFlags(fs)
	addSource := fs.String("add-source", "", "Register a local directory or git URL as a question bank source")
	syncOnly := fs.Bool("sync", false, "Sync all sources and exit")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	cfg, err := config.Load(fs)
	if err != nil {
		return err
	}
	slog.SetDefault(newLogger(cfg.Log))

	// 2. Open the database
	db, err := storage.Open(cfg.DB.Path)
	if err != nil {
		return err
	}
	defer db.Close()
	slog.Info("Database opened successfully", "path", cfg.DB.Path)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *addSource != "" {
		if _, err := sync.AddSource(ctx, db, *addSource); err != nil {
			if !errors.Is(err, sync.ErrSourceExists) {
				return err
			}
			slog.Info("Source already registered", "path", *addSource)
		}
	}

	if *syncOnly {
		report, err := sync.RunSync(ctx, db, cfg.Sync.ReposDir)
		if err != nil {
			return err
		}
		fmt.Printf("Synced %d sources: %d questions parsed, %d upserted, %d deleted, %d errors.\n",
			report.Sources, report.Parsed, report.Upserted, report.Deleted, report.Errors)
		return nil
	}

	return serve(ctx, cfg, db)
}

func serve(ctx context.Context, cfg *config.Config, db *storage.DB) error {
	sched, err := fsrs.NewScheduler(cfg.FSRS.Params(), cfg.FSRS.Fuzzer())
	if err != nil {
		return fmt.Errorf("invalid fsrs settings: %w", err)
	}
	m := metrics.NewCollector()
	sel := selector.New(
		selector.WithSize(cfg.Session.Size),
		selector.WithDueDateOrder(cfg.Session.OrderDueByDate),
	)
	svc, err := quiz.NewService(db, db, sel, sched,
		quiz.WithTTL(cfg.Session.TTL),
		quiz.WithShuffle(cfg.Session.Shuffle),
		quiz.WithObserver(m),
	)
	if err != nil {
		return err
	}

	handler := web.NewServer(db, svc, m, web.Options{
		ReposDir:    cfg.Sync.ReposDir,
		CORSOrigins: cfg.Server.CORSOrigins,
		RateLimit:   cfg.Server.RateLimit,
		RateBurst:   cfg.Server.RateBurst,
	})
	httpServer := &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Sync.OnStart {
		g.Go(func() error {
			report, err := sync.RunSync(gctx, db, cfg.Sync.ReposDir)
			m.ObserveSync(report.Errors, err)
			if err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("Initial sync failed", "error", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		slog.Info("Starting server", "addr", cfg.Server.Listen)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down server", "timeout", cfg.Server.ShutdownTimeout)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func newLogger(c config.LogConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.SlogLevel()}
	if c.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
