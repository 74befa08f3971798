package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"fatura/internal/storage"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending SQLite schema migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.DataBackend != "sqlite" {
			return errors.New("migrate needs DATA_BACKEND=sqlite")
		}
		version, err := storage.RunMigrations(cfg.SQLiteDBPath)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "schema at version %d (%s)\n", version, cfg.SQLiteDBPath)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
