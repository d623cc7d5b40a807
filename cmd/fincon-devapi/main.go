package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"fincon/internal/cli"
	"fincon/internal/config"
	"fincon/internal/devapi"
	"fincon/internal/log"
	"fincon/internal/storage"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(log.ComponentDevAPI)
	cfg := cli.LoadAndValidateConfig(logger, config.ModeDevAPI)

	repo, err := storage.NewSQLiteRepository(cfg.DevAPIDBPath, cfg.DevAPICurrency, logger)
	if err != nil {
		logger.Error("Failed to initialize SQLite repository", log.FieldError, err, "path", cfg.DevAPIDBPath)
		os.Exit(1)
	}

	api, err := devapi.New(repo, devapi.Options{
		Secret:            cfg.DevAPISecret,
		TokenTTL:          cfg.SessionTTL,
		Currency:          cfg.DevAPICurrency,
		RequestsPerMinute: cfg.RateLimitPerMinute * 10,
		Logger:            logger,
	})
	if err != nil {
		logger.Error("Failed to create dev API", log.FieldError, err)
		os.Exit(1)
	}

	srv := &http.Server{
		Addr:              ":" + cfg.DevAPIPort,
		Handler:           api,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	ctx, done := cli.GracefulShutdown(logger, 15*time.Second, func(ctx context.Context) {
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", log.FieldError, err)
		}
		if err := repo.Close(); err != nil {
			logger.Warn("Database close error", log.FieldError, err)
		}
	})

	logger.Info("Starting fincon dev API",
		"port", cfg.DevAPIPort,
		"db", cfg.DevAPIDBPath,
		log.FieldOperation, log.OpStartup)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server error", log.FieldError, err, "port", cfg.DevAPIPort)
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
}
