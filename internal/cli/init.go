// Package cli holds the start-up steps shared by the fatura binaries.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"fatura/internal/backend"
	"fatura/internal/cache"
	"fatura/internal/config"
	"fatura/internal/log"
	"fatura/internal/services"
)

// SetupLogger builds the process logger from config and makes it the default.
func SetupLogger(cfg *config.Config, component string) *log.Logger {
	lc := log.DefaultConfig()
	lc.Component = component
	if cfg != nil {
		lc.Level = log.ParseLevel(cfg.LogLevel)
		lc.Format = cfg.LogFormat
	}
	logger := log.New(lc)
	log.SetDefault(logger)
	return logger
}

// LoadEnvFile loads the .env file for local development.
// Errors are ignored silently as this is optional in production.
func LoadEnvFile() {
	_ = godotenv.Load()
}

// LoadAndValidateConfig loads configuration and validates it.
func LoadAndValidateConfig() (*config.Config, error) {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Runtime is a wired engine plus everything that has to be released with it.
type Runtime struct {
	Engine *services.Engine
	Caches *cache.Manager

	cleanups []backend.CleanupFunc
	logger   *log.Logger
}

// Close stops cache cleanup and releases backends in reverse order.
func (r *Runtime) Close() {
	r.Caches.Stop()
	for i := len(r.cleanups) - 1; i >= 0; i-- {
		if err := r.cleanups[i](); err != nil {
			r.logger.Error("Cleanup failed", log.FieldError, err)
		}
	}
}

// BuildEngine creates the configured store and event backends and the engine
// on top of them. Card lookups go through an LRU registered for cleanup.
func BuildEngine(ctx context.Context, cfg *config.Config, logger *log.Logger) (*Runtime, error) {
	bc, err := backend.FromAppConfig(cfg)
	if err != nil {
		return nil, err
	}
	factory := backend.NewFactory(logger)

	rt := &Runtime{Caches: cache.NewManager(), logger: logger}
	st, err := factory.CreateStore(ctx, bc)
	if err != nil {
		return nil, err
	}
	rt.cleanups = append(rt.cleanups, st.Cleanup)

	ev, err := factory.CreateEvents(ctx, bc)
	if err != nil {
		rt.Close()
		return nil, err
	}
	if ev.Cleanup != nil {
		rt.cleanups = append(rt.cleanups, ev.Cleanup)
	}

	cards := services.NewCachedCardReader(services.NewStoreCardReader(st.Store), cfg.CardCacheSize, cfg.CardCacheTTL)
	rt.Caches.Register(cards.Cache())
	rt.Caches.StartCleanup(cfg.CardCacheTTL)

	rt.Engine = services.NewEngine(st.Store,
		services.WithCardReader(cards),
		services.WithPublisher(ev.Publisher),
		services.WithAuditSink(ev.Audit),
		services.WithLogger(logger))
	return rt, nil
}

// Fatal logs and exits; for use in main before anything is running.
func Fatal(logger *log.Logger, msg string, err error) {
	logger.Error(msg, log.FieldError, err)
	fmt.Fprintf(os.Stderr, "%s: %v\n", msg, err)
	os.Exit(1)
}

// GracefulShutdown sets up signal handling for graceful shutdown.
// Returns a context that will be cancelled on shutdown signals,
// and a channel that signals when shutdown is complete.
func GracefulShutdown(logger *log.Logger, timeout time.Duration, cleanup func(context.Context)) (context.Context, <-chan struct{}) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigChan
		logger.Info("Shutdown signal received", "signal", sig.String())

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), timeout)
		defer shutdownCancel()

		cancel()
		if cleanup != nil {
			cleanup(shutdownCtx)
		}
		if shutdownCtx.Err() != nil {
			logger.Warn("Shutdown timeout reached")
		} else {
			logger.Info("Shutdown complete")
		}
		close(done)
	}()

	return ctx, done
}

// WaitForShutdown blocks until the context is cancelled.
func WaitForShutdown(ctx context.Context, done <-chan struct{}) {
	<-ctx.Done()
	<-done
}
