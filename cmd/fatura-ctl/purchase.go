package main

import (
	"github.com/spf13/cobra"

	"fatura/internal/core"
	"fatura/internal/services"
)

var purchaseCmd = &cobra.Command{
	Use:   "purchase",
	Short: "Record and adjust purchases",
}

var purchaseAddCmd = &cobra.Command{
	Use:     "add <card-id> <description> <value>",
	Short:   "Record a purchase split into installments",
	Example: `  fatura-ctl purchase add nubank "Notebook" 3600.00 --installments 12 --date 2025-01-05`,
	Args:    cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		value, err := core.ParseAmount(args[2])
		if err != nil {
			return err
		}
		n, _ := cmd.Flags().GetInt("installments")
		dateStr, _ := cmd.Flags().GetString("date")
		return withEngine(cmd, func(e *services.Engine) error {
			date := core.Today(e.Clock())
			if dateStr != "" {
				if date, err = core.ParseDate(dateStr); err != nil {
					return err
				}
			}
			p, err := e.CreateInstallments(cmd.Context(), core.Purchase{
				CardID:       args[0],
				Description:  args[1],
				Date:         date,
				Value:        value,
				Installments: n,
				Kind:         core.KindPurchase,
			}, 1)
			if err != nil {
				return err
			}
			items, err := e.PurchaseInstallments(cmd.Context(), p.ID)
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]any{"purchase": p, "installments": items})
		})
	},
}

var purchaseRemoveCmd = &cobra.Command{
	Use:   "remove <purchase-id>",
	Short: "Reverse every installment of a purchase",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(e *services.Engine) error {
			return e.RemoveInstallments(cmd.Context(), args[0])
		})
	},
}

var purchaseRefundCmd = &cobra.Command{
	Use:   "refund <purchase-id> <keep>",
	Short: "Keep the first installments and reverse the rest",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		keep, err := parsePositive("keep", args[1])
		if err != nil {
			return err
		}
		return withEngine(cmd, func(e *services.Engine) error {
			p, err := e.PartialRefund(cmd.Context(), args[0], keep)
			if err != nil {
				return err
			}
			return printJSON(cmd, p)
		})
	},
}

func init() {
	rootCmd.AddCommand(purchaseCmd)
	purchaseCmd.AddCommand(purchaseAddCmd, purchaseRemoveCmd, purchaseRefundCmd)

	purchaseAddCmd.Flags().IntP("installments", "n", 1, "Number of installments")
	purchaseAddCmd.Flags().String("date", "", "Purchase date (YYYY-MM-DD, default: today)")
}
