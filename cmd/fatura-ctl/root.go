package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"fatura/internal/cli"
	"fatura/internal/config"
	"fatura/internal/log"
	"fatura/internal/services"
)

var version = "0.1.0"

var (
	cfg    *config.Config
	logger *log.Logger
)

var rootCmd = &cobra.Command{
	Use:   "fatura-ctl",
	Short: "Operate the fatura invoice engine from the command line",
	Long: `fatura-ctl runs engine operations against the configured store.

Configuration comes from the same environment variables as the server
(DATA_BACKEND, SQLITE_DB_PATH, EVENTS_BACKEND, ...), with a .env file
loaded when present.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cli.LoadEnvFile()
		c, err := cli.LoadAndValidateConfig()
		if err != nil {
			return err
		}
		cfg = c
		logger = cli.SetupLogger(cfg, log.ComponentCLI)
		return nil
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// withEngine builds the engine for one command and releases it afterwards.
func withEngine(cmd *cobra.Command, fn func(*services.Engine) error) error {
	rt, err := cli.BuildEngine(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(rt.Engine)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
