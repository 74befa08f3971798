package core

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	MovementDebit  MovementKind = "debit"
	MovementCredit MovementKind = "credit"
)

type MovementKind string

// LedgerMovement is a posting against an account outside the card engine,
// e.g. the expense recorded when an invoice is paid from a checking account.
type LedgerMovement struct {
	ID          string          `json:"id"`
	AccountRef  string          `json:"account_ref"`
	Kind        MovementKind    `json:"kind"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
	InvoiceID   string          `json:"invoice_id,omitempty"`
	Date        Date            `json:"date"`
	CreatedAt   time.Time       `json:"created_at"`
}
