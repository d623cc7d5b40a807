package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"

	"fincon/internal/amqp"
	"fincon/internal/api"
	"fincon/internal/cache"
	"fincon/internal/cli"
	"fincon/internal/config"
	apphttp "fincon/internal/http"
	"fincon/internal/log"
	"fincon/internal/services"
	"fincon/internal/worker"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(log.ComponentApp)
	cfg := cli.LoadAndValidateConfig(logger, config.ModeWeb)

	sessions := apphttp.NewSessionTracker(logger)
	client, err := api.New(cfg.APIURL,
		api.WithTimeout(cfg.APITimeout),
		api.WithUnauthorizedHandler(sessions.OnUnauthorized),
		api.WithLogger(logger.WithComponent(log.ComponentAPI)),
	)
	if err != nil {
		logger.Error("Failed to create API client", log.FieldError, err, "api_url", cfg.APIURL)
		os.Exit(1)
	}

	qc := cache.NewQueryCache(cfg.CacheMaxEntries, cfg.CacheStaleAfter, logger)
	cacheManager := cache.NewManager(logger)
	cacheManager.Register(qc)
	cacheManager.StartCleanup(cfg.CacheCleanupInterval)

	budget := services.NewBudgetService(client, qc, logger)

	// Invalidation bus is optional; without it the instance only sees its own writes.
	var bus *amqp.Client
	if cfg.AMQPURL != "" {
		bus, err = amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, logger)
		if err != nil {
			logger.Warn("Failed to connect to AMQP, continuing without invalidation bus", log.FieldError, err)
			bus = nil
		}
	}

	srv, err := apphttp.NewServer(cfg, apphttp.Deps{
		Budget:   budget,
		Cache:    qc,
		Sessions: sessions,
		Backend:  client,
		Logger:   logger,
	})
	if err != nil {
		logger.Error("Failed to create HTTP server", log.FieldError, err)
		os.Exit(1)
	}

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(ctx context.Context) {
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", log.FieldError, err)
		}
		cacheManager.Stop()
		if bus != nil {
			if err := bus.Close(); err != nil {
				logger.Warn("AMQP close error", log.FieldError, err)
			}
		}
	})

	if bus != nil {
		w := worker.NewInvalidationWorker(bus, qc, instanceID(), logger)
		qc.OnInvalidate(w.Broadcast)
		go func() {
			if err := w.Run(ctx); err != nil {
				logger.Error("Invalidation worker stopped", log.FieldError, err)
			}
		}()
		logger.Info("Invalidation bus enabled", "exchange", cfg.AMQPExchange)
	}

	logger.Info("Starting fincon web server",
		"port", cfg.Port,
		"api_url", client.BaseURL(),
		"env", cfg.AppEnv,
		log.FieldOperation, log.OpStartup)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server error", log.FieldError, err, "port", cfg.Port)
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Server stopped gracefully")
}

// instanceID identifies this process on the invalidation bus.
func instanceID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "fincon"
	}
	return host + "-" + uuid.NewString()
}
