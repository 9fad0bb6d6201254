package main

import (
	"context"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/JonMunkholm/sheetdrop/internal/config"
	"github.com/JonMunkholm/sheetdrop/internal/core"
	"github.com/JonMunkholm/sheetdrop/internal/logging"
	"github.com/JonMunkholm/sheetdrop/internal/transfer"
	"github.com/JonMunkholm/sheetdrop/internal/web"
)

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Debug("configuration", "config", cfg.String())
	slog.Info("configuration loaded",
		"port", cfg.Server.Port,
		"delivery_max_concurrent", cfg.Delivery.MaxConcurrent,
		"rate_limit_enabled", cfg.Rate.Enabled,
		"journal_enabled", cfg.Database.Enabled(),
		"key_configured", cfg.Transfer.PrivateKey != "",
		"strict_keys", cfg.Transfer.StrictKeys,
	)

	ctx := context.Background()

	journal, closeJournal, err := openJournal(ctx, cfg.Database)
	if err != nil {
		slog.Error("failed to open delivery journal", "error", err)
		os.Exit(1)
	}
	defer closeJournal()

	hostKeys, err := transfer.HostKeyCallback(slog.Default(), cfg.Transfer.KnownHostsFile)
	if err != nil {
		slog.Error("failed to load known hosts", "error", err)
		os.Exit(1)
	}

	// The server never prompts: credentials come from configuration only.
	client := transfer.NewClient(transfer.Config{
		ConnectTimeout:  cfg.Transfer.ConnectTimeout,
		HostKeyCallback: hostKeys,
		Prompter:        transfer.NoPrompter{},
	})

	policy := core.KeyPolicyFallback
	if cfg.Transfer.StrictKeys {
		policy = core.KeyPolicyStrict
	}
	pipeline := core.NewPipeline(core.Extractor{
		Base:             cfg.Work.Dir,
		MaxExpandedBytes: cfg.Work.MaxExpandedBytes,
	}, client, policy)

	limiter := core.NewLimiter(cfg.Delivery.MaxConcurrent, cfg.Delivery.MaxWaitTime)
	server := web.NewServer(cfg, pipeline, limiter, journal)

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if status := limiter.Status(); status.Active > 0 {
			slog.Info("waiting for deliveries to complete", "active", status.Active)
		}
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		} else {
			slog.Info("all deliveries completed")
		}
	}()

	if err := server.Start(); err != nil {
		slog.Error("server stopped", "error", err)
		os.Exit(1)
	}
	slog.Info("server stopped")
}

// openJournal connects the delivery journal when a database is configured.
func openJournal(ctx context.Context, cfg config.DatabaseConfig) (core.Journal, func(), error) {
	if !cfg.Enabled() {
		slog.Info("no database configured, delivery journal disabled")
		return core.NopJournal{}, func() {}, nil
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, nil, err
	}
	poolConfig.MaxConns = int32(cfg.MaxConns)
	poolConfig.MinConns = int32(cfg.MinConns)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}

	if u, err := url.Parse(cfg.URL); err == nil {
		slog.Info("connected to database", "name", strings.TrimPrefix(u.Path, "/"))
	}

	journal := core.NewPgJournal(pool)
	if err := journal.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return journal, pool.Close, nil
}
