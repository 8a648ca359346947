// Package main is the entry point of the CloudMonitor → Telegram relay.
// It wires configuration, logging, the rate-limit store, the Telegram
// client and the webhook dispatcher into an HTTP server with graceful
// shutdown. Run with -cleanup to sweep stale rate-limit records and exit;
// intended for a cron job.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/cm-relay/cloudmon-telegram-relay/config"
	httpserver "github.com/cm-relay/cloudmon-telegram-relay/internal/interface/http"
	"github.com/cm-relay/cloudmon-telegram-relay/internal/ratelimit"
	"github.com/cm-relay/cloudmon-telegram-relay/internal/telegram"
	"github.com/cm-relay/cloudmon-telegram-relay/internal/webhook"
	"github.com/cm-relay/cloudmon-telegram-relay/pkg/logger"
)

func main() {
	cleanup := flag.Bool("cleanup", false, "sweep stale rate-limit records and exit")
	flag.Parse()

	// A missing .env file is fine; the environment may be set directly.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	log := buildLogger(cfg)
	log.Info("starting",
		logger.String("app", cfg.App.Name),
		logger.String("version", cfg.App.Version),
		logger.String("env", string(cfg.App.Environment)),
	)

	store, err := buildStore(cfg)
	if err != nil {
		log.Fatal("rate limit store unavailable", logger.Err(err))
	}
	defer store.Close()

	limiter, err := ratelimit.New(store, ratelimit.Config{
		MaxRequests: cfg.RateLimit.MaxRequests,
		TimeWindow:  cfg.RateLimit.TimeWindow,
	}, log)
	if err != nil {
		log.Fatal("rate limiter setup failed", logger.Err(err))
	}

	if *cleanup {
		deleted := limiter.Cleanup(context.Background())
		log.Info("cleanup done", logger.Int("deleted", deleted))
		return
	}

	sender := telegram.NewClient(telegram.ClientConfig{
		Token:         cfg.Telegram.Token,
		BaseURL:       cfg.Telegram.BaseURL,
		Timeout:       cfg.Telegram.SendTimeout,
		RetryAttempts: cfg.Telegram.RetryAttempts,
		RetryDelay:    cfg.Telegram.RetryDelay,
		ParseMode:     "Markdown",
		Logger:        log,
	})

	dispatcher, err := webhook.NewHandler(webhook.Config{
		ChatID:        cfg.Telegram.ChatID,
		Signature:     cfg.Webhook.Signature,
		MessagePrefix: cfg.Webhook.MessagePrefix,
		SendTimeout:   cfg.Telegram.SendTimeout,
	}, limiter, sender, log)
	if err != nil {
		log.Fatal("dispatcher setup failed", logger.Err(err))
	}

	server := httpserver.NewServer(httpserver.Config{
		Host:         cfg.Server.Host,
		Port:         cfg.Server.Port,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
	}, dispatcher, log)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("shutdown signal received", logger.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			log.Error("server failed", logger.Err(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown failed", logger.Err(err))
	}
	log.Info("stopped")
}

// buildLogger routes output either to stdout or to a rotating file.
func buildLogger(cfg *config.Config) *logger.Logger {
	var output io.Writer = os.Stdout
	if cfg.Log.File != "" {
		output = &lumberjack.Logger{
			Filename:   cfg.Log.File,
			MaxSize:    cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAge:     cfg.Log.MaxAgeDays,
			Compress:   true,
		}
	}

	level := logger.ParseLevel(cfg.Log.Level)
	if cfg.App.Debug {
		level = logger.LevelDebug
	}
	return logger.New(logger.Options{Output: output, Level: level})
}

// buildStore constructs the configured rate-limit store backend.
func buildStore(cfg *config.Config) (ratelimit.Store, error) {
	switch cfg.RateLimit.Backend {
	case config.BackendMemory:
		return ratelimit.NewMemoryStore(), nil

	case config.BackendFile:
		return ratelimit.NewFileStore(cfg.RateLimit.StoragePath)

	case config.BackendRedis:
		redisCfg := ratelimit.DefaultRedisConfig()
		redisCfg.Addr = cfg.RateLimit.RedisAddr
		redisCfg.Password = cfg.RateLimit.RedisPassword
		redisCfg.DB = cfg.RateLimit.RedisDB
		// Records older than the window are dead weight; let redis expire
		// them shortly after.
		redisCfg.KeyTTL = 2 * cfg.RateLimit.TimeWindow
		return ratelimit.NewRedisStore(redisCfg)

	case config.BackendPostgres:
		return ratelimit.NewPostgresStore(context.Background(),
			ratelimit.DefaultPostgresConfig(cfg.RateLimit.PostgresURL))

	default:
		return nil, fmt.Errorf("unknown rate limit backend %q", cfg.RateLimit.Backend)
	}
}
