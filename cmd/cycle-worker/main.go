package main

import (
	"context"

	"fatura/internal/cli"
	"fatura/internal/log"
	"fatura/internal/services"
)

func main() {
	cli.LoadEnvFile()

	cfg, err := cli.LoadAndValidateConfig()
	if err != nil {
		cli.Fatal(cli.SetupLogger(nil, log.ComponentCycle), "Configuration validation failed", err)
	}
	logger := cli.SetupLogger(cfg, log.ComponentCycle)
	logger.Info("Starting cycle-worker")

	rt, err := cli.BuildEngine(context.Background(), cfg, logger)
	if err != nil {
		cli.Fatal(logger, "Failed to initialize engine", err)
	}

	processor := services.NewCycleProcessor(rt.Engine, services.CycleProcessorConfig{
		Interval:    cfg.CycleInterval,
		DueSoonDays: cfg.DueSoonDays,
		Concurrency: cfg.CycleConcurrency,
	}, logger)

	ctx, done := cli.GracefulShutdown(logger, cfg.ShutdownTimeout, func(shutdownCtx context.Context) {
		if err := processor.Stop(shutdownCtx); err != nil {
			logger.Error("Cycle processor shutdown error", log.FieldError, err)
		}
		rt.Close()
	})

	logger.Info("Cycle processor configured",
		"interval", cfg.CycleInterval,
		"concurrency", cfg.CycleConcurrency,
		"due_soon_days", cfg.DueSoonDays)
	if err := processor.Start(ctx); err != nil {
		cli.Fatal(logger, "Failed to start cycle processor", err)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Cycle worker stopped")
}
