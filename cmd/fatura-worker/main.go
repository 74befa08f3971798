package main

import (
	"context"
	"errors"

	"fatura/internal/amqp"
	"fatura/internal/cli"
	"fatura/internal/core"
	"fatura/internal/log"
	gsheet "fatura/internal/sheets/google"
	"fatura/internal/storage"
	"fatura/internal/worker"
)

func main() {
	cli.LoadEnvFile()

	cfg, err := cli.LoadAndValidateConfig()
	if err != nil {
		cli.Fatal(cli.SetupLogger(nil, log.ComponentWorker), "Configuration validation failed", err)
	}
	logger := cli.SetupLogger(cfg, log.ComponentWorker)
	logger.Info("Starting fatura-worker")

	if err := cfg.ValidateSheets(); err != nil {
		cli.Fatal(logger, "Statement export configuration invalid", err)
	}

	rt, err := cli.BuildEngine(context.Background(), cfg, logger)
	if err != nil {
		cli.Fatal(logger, "Failed to initialize engine", err)
	}

	sheetsClient, err := gsheet.NewFromConfig(context.Background(), gsheet.Config{
		SpreadsheetID:   cfg.GoogleSpreadsheetID,
		SheetName:       cfg.GoogleSheetName,
		OAuthClientFile: cfg.GoogleOAuthClientFile,
		OAuthClientJSON: cfg.GoogleOAuthClientJSON,
		OAuthTokenFile:  cfg.GoogleOAuthTokenFile,
		OAuthTokenJSON:  cfg.GoogleOAuthTokenJSON,
	}, logger)
	if err != nil {
		rt.Close()
		cli.Fatal(logger, "Failed to initialize Google Sheets client", err)
	}
	logger.Info("Google Sheets client initialized", "spreadsheet_id", cfg.GoogleSpreadsheetID)

	consumer, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, logger)
	if err != nil {
		rt.Close()
		cli.Fatal(logger, "Failed to initialize AMQP client", err)
	}

	statements := worker.NewStatementWorker(rt.Engine, sheetsClient, logger)

	ctx, done := cli.GracefulShutdown(logger, cfg.ShutdownTimeout, func(context.Context) {
		if err := consumer.Close(); err != nil {
			logger.Error("AMQP close error", log.FieldError, err)
		}
		rt.Close()
	})

	// Invoices that closed while the worker was down never reach the queue again.
	closed, err := rt.Engine.ListInvoices(ctx, storage.InvoiceFilter{Statuses: []core.InvoiceStatus{core.InvoiceClosed}})
	if err != nil {
		logger.Error("Failed to list closed invoices", log.FieldError, err)
	} else if n, err := statements.ExportClosed(ctx, closed); err != nil {
		logger.Error("Startup export incomplete", "exported", n, log.FieldError, err)
	} else {
		logger.Info("Startup export finished", "exported", n)
	}

	go func() {
		if err := consumer.ConsumeEvents(ctx, statements.HandleEvent); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Event consumption failed", log.FieldError, err)
		}
	}()

	cli.WaitForShutdown(ctx, done)
	logger.Info("Worker stopped")
}
