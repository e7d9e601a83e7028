package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/HasithaS001/doclama-sub001/internal/config"
	"github.com/HasithaS001/doclama-sub001/internal/logging"
	"github.com/HasithaS001/doclama-sub001/internal/migrations"
)

func main() {
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

	if cfg.DatabaseURL == "" {
		logger.Fatal("DATABASE_URL is required for dbtool")
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("failed to open database", zap.Error(err))
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		logger.Fatal("failed to ping database", zap.Error(err))
	}

	cmd := "up"
	if len(os.Args) > 1 {
		cmd = os.Args[1]
	}

	switch cmd {
	case "up":
		if err := migrations.Up(db, logger); err != nil {
			logger.Fatal("failed to apply migrations", zap.Error(err))
		}

	case "fix":
		logger.Info("attempting to fix dirty database")
		if err := migrations.FixDirtyDatabase(db); err != nil {
			logger.Fatal("failed to fix dirty database", zap.Error(err))
		}
		logger.Info("database fixed")

	case "force":
		if len(os.Args) < 3 {
			logger.Fatal(fmt.Sprintf("usage: %s force <version>", os.Args[0]))
		}
		v, err := strconv.ParseUint(os.Args[2], 10, 32)
		if err != nil {
			logger.Fatal("invalid version number", zap.String("version", os.Args[2]))
		}
		if err := migrations.ForceVersion(db, uint(v)); err != nil {
			logger.Fatal("failed to force version", zap.Error(err))
		}
		logger.Info("database version forced", zap.Uint64("version", v))

	case "status":
		v, dirty, err := migrations.Version(db)
		if err != nil {
			logger.Fatal("failed to read migration status", zap.Error(err))
		}
		fmt.Printf("version=%d dirty=%t\n", v, dirty)

	default:
		fmt.Fprintf(os.Stderr, "usage: %s [up|fix|force <version>|status]\n", os.Args[0])
		os.Exit(1)
	}
}
