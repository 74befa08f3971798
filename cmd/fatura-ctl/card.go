package main

import (
	"github.com/spf13/cobra"

	"fatura/internal/core"
	"fatura/internal/services"
)

var cardCmd = &cobra.Command{
	Use:   "card",
	Short: "Manage cards",
}

var cardAddCmd = &cobra.Command{
	Use:     "add <id>",
	Short:   "Create or replace a card",
	Example: `  fatura-ctl card add nubank --name Nubank --closing-day 3 --due-day 10 --limit 8000`,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		closing, _ := cmd.Flags().GetInt("closing-day")
		due, _ := cmd.Flags().GetInt("due-day")
		limitStr, _ := cmd.Flags().GetString("limit")
		limit, err := core.ParseAmount(limitStr)
		if err != nil {
			return core.NewValidationError("limit", "%v", err)
		}
		card := core.Card{ID: args[0], Name: name, ClosingDay: closing, DueDay: due, CreditLimit: limit}
		return withEngine(cmd, func(e *services.Engine) error {
			if err := e.SaveCard(cmd.Context(), card); err != nil {
				return err
			}
			saved, err := e.GetCard(cmd.Context(), card.ID)
			if err != nil {
				return err
			}
			return printJSON(cmd, saved)
		})
	},
}

var cardListCmd = &cobra.Command{
	Use:   "list",
	Short: "List cards",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(e *services.Engine) error {
			cards, err := e.ListCards(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, cards)
		})
	},
}

var cardLimitCmd = &cobra.Command{
	Use:   "limit <id>",
	Short: "Show used and available credit",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(e *services.Engine) error {
			limit, err := e.CardLimit(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, limit)
		})
	},
}

func init() {
	rootCmd.AddCommand(cardCmd)
	cardCmd.AddCommand(cardAddCmd, cardListCmd, cardLimitCmd)

	cardAddCmd.Flags().String("name", "", "Display name")
	cardAddCmd.Flags().Int("closing-day", 0, "Day of month the invoice closes (1-31)")
	cardAddCmd.Flags().Int("due-day", 0, "Day of month the invoice is due (1-31)")
	cardAddCmd.Flags().String("limit", "", "Credit limit")
	_ = cardAddCmd.MarkFlagRequired("closing-day")
	_ = cardAddCmd.MarkFlagRequired("due-day")
	_ = cardAddCmd.MarkFlagRequired("limit")
}
