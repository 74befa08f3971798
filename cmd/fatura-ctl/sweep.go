package main

import (
	"github.com/spf13/cobra"

	"fatura/internal/services"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one invoice cycle sweep and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(e *services.Engine) error {
			p := services.NewCycleProcessor(e, services.CycleProcessorConfig{
				Interval:    cfg.CycleInterval,
				DueSoonDays: cfg.DueSoonDays,
				Concurrency: cfg.CycleConcurrency,
			}, logger)
			res, err := p.Sweep(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		})
	},
}

func init() {
	rootCmd.AddCommand(sweepCmd)
}
