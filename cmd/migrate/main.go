package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"weaveledger/backend/internal/config"
	"weaveledger/backend/internal/logger"
	pgstore "weaveledger/backend/internal/store/postgres"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "weaveledger-migrate"})

	cmd := flag.String("cmd", "up", "goose command: up|down|status|version|redo|reset|up-to|down-to")
	version := flag.String("version", "", "target version for up-to and down-to")
	flag.Parse()

	cfg, err := config.Load()
	requireResource(context.Background(), logg, "config", err)

	logg = logger.New(logger.Options{
		ServiceName: "weaveledger-migrate",
		Level:       logger.ParseLevel(cfg.LogLevel),
		Format:      cfg.LogFormat,
	})
	ctx := logg.WithField(context.Background(), "cmd", *cmd)

	if cfg.DatabaseURL == "" {
		fmt.Fprintln(os.Stderr, "DATABASE_URL is required")
		os.Exit(1)
	}

	var args []string
	switch *cmd {
	case "up", "down", "status", "version", "redo", "reset":
	case "up-to", "down-to":
		if *version == "" {
			fmt.Fprintf(os.Stderr, "missing -version for %s\n", *cmd)
			os.Exit(1)
		}
		args = append(args, *version)
	default:
		fmt.Fprintln(os.Stderr, "unknown -cmd value:", *cmd)
		os.Exit(1)
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	pg, err := pgstore.New(connectCtx, cfg.DatabaseURL)
	requireResource(ctx, logg, "database", err)
	defer pg.Close()

	logg.Info(ctx, "migrate ready")
	if err := pg.Migrate(ctx, *cmd, args...); err != nil {
		logg.Error(ctx, "migration failed", err)
		pg.Close()
		os.Exit(1)
	}
	logg.Info(ctx, "migrate done")
}

func requireResource(ctx context.Context, logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, fmt.Sprintf("resource not working: %s", resource), err)
	os.Exit(1)
}
