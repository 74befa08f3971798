package main

import (
	"context"
	"net/http"

	"fatura/internal/cli"
	apphttp "fatura/internal/http"
	"fatura/internal/log"
)

func main() {
	cli.LoadEnvFile()

	cfg, err := cli.LoadAndValidateConfig()
	if err != nil {
		cli.Fatal(cli.SetupLogger(nil, log.ComponentApp), "Configuration validation failed", err)
	}
	logger := cli.SetupLogger(cfg, log.ComponentApp)

	rt, err := cli.BuildEngine(context.Background(), cfg, logger)
	if err != nil {
		cli.Fatal(logger, "Failed to initialize engine", err)
	}

	srv := apphttp.NewServer(":"+cfg.Port, rt.Engine, apphttp.Options{
		RateLimitRPM: cfg.RateLimitRPM,
		Logger:       logger,
	})

	ctx, done := cli.GracefulShutdown(logger, cfg.ShutdownTimeout, func(shutdownCtx context.Context) {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", log.FieldError, err)
		}
		rt.Close()
	})

	logger.Info("Starting fatura server",
		"port", cfg.Port,
		"data_backend", cfg.DataBackend,
		"events_backend", cfg.EventsBackend)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		cli.Fatal(logger, "Server error", err)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Server stopped gracefully")
}
