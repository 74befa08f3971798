package main

import (
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"fatura/internal/core"
	"fatura/internal/services"
	"fatura/internal/storage"
)

var invoiceCmd = &cobra.Command{
	Use:   "invoice",
	Short: "Inspect and settle invoices",
}

var invoiceCurrentCmd = &cobra.Command{
	Use:   "current <card-id>",
	Short: "Show the invoice purchases made today land on",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(e *services.Engine) error {
			inv, err := e.GetCurrentInvoice(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, inv)
		})
	},
}

var invoiceListCmd = &cobra.Command{
	Use:   "list <card-id>",
	Short: "List a card's invoices",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f := storage.InvoiceFilter{CardID: args[0]}
		statuses, _ := cmd.Flags().GetStringSlice("status")
		for _, s := range statuses {
			st := core.InvoiceStatus(strings.TrimSpace(s))
			if !st.IsValid() {
				return core.NewValidationError("status", "unknown invoice status %q", s)
			}
			f.Statuses = append(f.Statuses, st)
		}
		return withEngine(cmd, func(e *services.Engine) error {
			invoices, err := e.ListInvoices(cmd.Context(), f)
			if err != nil {
				return err
			}
			return printJSON(cmd, invoices)
		})
	},
}

var invoiceStatementCmd = &cobra.Command{
	Use:   "statement <invoice-id>",
	Short: "Show an invoice with its items",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(e *services.Engine) error {
			st, err := e.InvoiceStatement(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, st)
		})
	},
}

var invoiceRecalcCmd = &cobra.Command{
	Use:   "recalc <invoice-id>",
	Short: "Recompute an invoice total and status",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(e *services.Engine) error {
			inv, err := e.Recalculate(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, inv)
		})
	},
}

var invoicePayCmd = &cobra.Command{
	Use:     "pay <invoice-id> <amount>",
	Short:   "Register a payment against an invoice",
	Example: `  fatura-ctl invoice pay 7c1e... 1250.00 --account checking`,
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		amount, err := core.ParseAmount(args[1])
		if err != nil {
			return err
		}
		account, _ := cmd.Flags().GetString("account")
		return withEngine(cmd, func(e *services.Engine) error {
			inv, err := e.ApplyPayment(cmd.Context(), args[0], amount, account)
			if err != nil {
				return err
			}
			return printJSON(cmd, inv)
		})
	},
}

func parsePositive(field, s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return 0, core.NewValidationError(field, "expected a positive integer, got %q", s)
	}
	return n, nil
}

func init() {
	rootCmd.AddCommand(invoiceCmd)
	invoiceCmd.AddCommand(invoiceCurrentCmd, invoiceListCmd, invoiceStatementCmd, invoiceRecalcCmd, invoicePayCmd)

	invoiceListCmd.Flags().StringSlice("status", nil, "Only invoices in these statuses")
	invoicePayCmd.Flags().String("account", "", "Account the payment is drawn from")
	_ = invoicePayCmd.MarkFlagRequired("account")
}
