// Package cli holds the start-up steps shared by the fincon binaries.
package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"fincon/internal/config"
	"fincon/internal/log"
)

// SetupLogger builds the process logger from LOG_LEVEL and LOG_FORMAT and
// installs it as the slog default.
func SetupLogger(component string) *log.Logger {
	cfg := log.DefaultConfig()
	cfg.Component = component
	cfg.Level = log.ParseLevel(os.Getenv("LOG_LEVEL"))
	if format, ok := os.LookupEnv("LOG_FORMAT"); ok && format != "" {
		cfg.Format = format
	}

	logger := log.New(cfg)
	log.SetDefault(logger)
	return logger
}

// LoadEnvFile reads .env when present. A missing file is normal outside
// development.
func LoadEnvFile() {
	_ = godotenv.Load()
}

// LoadAndValidateConfig exits the process when the environment does not
// satisfy mode.
func LoadAndValidateConfig(logger *log.Logger, mode config.Mode) *config.Config {
	cfg := config.Load()
	err := cfg.ValidateFor(mode)
	if err == nil {
		return cfg
	}
	logger.Error("Configuration validation failed",
		log.FieldError, err,
		log.FieldErrorType, log.ErrorTypeConfiguration)
	os.Exit(1)
	return nil
}

// GracefulShutdown returns a context cancelled on SIGINT or SIGTERM. After
// the signal, cleanup runs with timeout as its deadline and the returned
// channel closes once it returns or the deadline passes.
func GracefulShutdown(logger *log.Logger, timeout time.Duration, cleanup func(context.Context)) (context.Context, <-chan struct{}) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	done := make(chan struct{})

	go func() {
		defer close(done)
		<-ctx.Done()
		stop()
		logger.Info("Shutdown signal received", log.FieldOperation, log.OpShutdown)

		deadline, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		cleaned := make(chan struct{})
		go func() {
			defer close(cleaned)
			if cleanup != nil {
				cleanup(deadline)
			}
		}()

		select {
		case <-cleaned:
			logger.Info("Shutdown complete")
		case <-deadline.Done():
			logger.Warn("Shutdown timeout reached", "timeout", timeout)
		}
	}()

	return ctx, done
}

// WaitForShutdown blocks until the signal arrived and cleanup finished.
func WaitForShutdown(ctx context.Context, done <-chan struct{}) {
	<-ctx.Done()
	<-done
}
