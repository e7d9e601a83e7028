package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/HasithaS001/doclama-sub001/internal/config"
	"github.com/HasithaS001/doclama-sub001/internal/handlers"
	"github.com/HasithaS001/doclama-sub001/internal/httpserver"
	"github.com/HasithaS001/doclama-sub001/internal/lemonsqueezy"
	"github.com/HasithaS001/doclama-sub001/internal/logging"
	"github.com/HasithaS001/doclama-sub001/internal/migrations"
	"github.com/HasithaS001/doclama-sub001/internal/proxy"
	"github.com/HasithaS001/doclama-sub001/internal/replay"
	"github.com/HasithaS001/doclama-sub001/internal/store"
	"github.com/HasithaS001/doclama-sub001/internal/worker"
)

func main() {
	// Best-effort: load environment variables from .env-style files in local
	// development. These calls are safe to ignore in production environments.
	_ = godotenv.Load(
		"../.env",
		".env",
	)

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync() //nolint:errcheck

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := lemonsqueezy.NewClient(cfg.LemonSqueezy)

	rewriter, err := proxy.New(cfg.ProxyBackendURL, proxy.DefaultRules, logger.Named("proxy"))
	if err != nil {
		return err
	}

	deps := httpserver.Deps{
		Checkout: client,
		Proxy:    rewriter,
		Logger:   logger,
	}

	var jobWorker *worker.Worker
	if cfg.DatabaseURL != "" {
		db, err := openDB(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			return err
		}
		defer db.Close()

		st, err := store.New(db)
		if err != nil {
			return err
		}

		processor := worker.NewSubscriptionProcessor(st, client, logger)
		jobWorker = worker.New(worker.DefaultConfig(), st, processor, logger)

		deps.Events = st
		deps.Notifier = jobWorker
		deps.Subscriptions = st
		deps.HealthChecks = append(deps.HealthChecks, handlers.HealthCheck{Name: "postgres", Ping: st.Ping})
	} else {
		logger.Warn("DATABASE_URL not set; webhook intake and subscription lookups disabled")
	}

	if cfg.RedisURL != "" {
		guard, err := replay.New(ctx, cfg.RedisURL, 0)
		if err != nil {
			return err
		}
		defer guard.Close()

		deps.Guard = guard
		deps.HealthChecks = append(deps.HealthChecks, handlers.HealthCheck{Name: "redis", Ping: guard.Ping})
	}

	srv := httpserver.New(cfg, deps)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if jobWorker != nil {
		jobWorker.Start(context.Background())
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		var errs []error
		if err := srv.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
		if jobWorker != nil {
			if err := jobWorker.Stop(context.Background()); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})

	return g.Wait()
}

func openDB(ctx context.Context, dsn string, logger *zap.Logger) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	logDBTarget(logger, dsn)
	configureDB(db)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := runMigrationsWithDirtyFix(db, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply database migrations: %w", err)
	}
	return db, nil
}

func configureDB(db *sql.DB) {
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
}

func runMigrationsWithDirtyFix(db *sql.DB, logger *zap.Logger) error {
	err := migrations.Up(db, logger)
	if err == nil {
		return nil
	}
	if !strings.Contains(err.Error(), "Dirty database version") {
		return err
	}

	logger.Warn("dirty database detected, attempting to fix", zap.Error(err))
	if fixErr := migrations.FixDirtyDatabase(db); fixErr != nil {
		logger.Error("failed to fix dirty database", zap.Error(fixErr))
		return err
	}
	return migrations.Up(db, logger)
}

func logDBTarget(logger *zap.Logger, dsn string) {
	// Only the host and database name; the DSN carries credentials.
	u, err := url.Parse(dsn)
	if err != nil {
		logger.Info("database configured", zap.NamedError("dsn_parse_error", err))
		return
	}
	logger.Info("database configured", zap.String("host", u.Hostname()), zap.String("db", strings.TrimPrefix(u.Path, "/")))
}
