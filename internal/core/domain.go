package core

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	InvoiceOpen          InvoiceStatus = "open"
	InvoiceClosed        InvoiceStatus = "closed"
	InvoicePartiallyPaid InvoiceStatus = "partially_paid"
	InvoicePaid          InvoiceStatus = "paid"
	InvoiceOverdue       InvoiceStatus = "overdue"
)

const (
	InstallmentPending     InstallmentStatus = "pending"
	InstallmentInInvoice   InstallmentStatus = "in_invoice"
	InstallmentAnticipated InstallmentStatus = "anticipated"
	InstallmentReversed    InstallmentStatus = "reversed"
	InstallmentPaid        InstallmentStatus = "paid"
)

const (
	KindPurchase   PurchaseKind = "purchase"
	KindAdjustment PurchaseKind = "adjustment"
)

type (
	InvoiceStatus     string
	InstallmentStatus string
	PurchaseKind      string

	// Card is owned by the surrounding application; the engine only reads it.
	Card struct {
		ID          string          `json:"id"`
		Name        string          `json:"name"`
		ClosingDay  int             `json:"closing_day"`
		DueDay      int             `json:"due_day"`
		CreditLimit decimal.Decimal `json:"credit_limit"`
	}

	Invoice struct {
		ID             string          `json:"id"`
		CardID         string          `json:"card_id"`
		ReferenceMonth Month           `json:"reference_month"`
		PeriodStart    Date            `json:"period_start"`
		PeriodEnd      Date            `json:"period_end"`
		ClosingDate    Date            `json:"closing_date"`
		DueDate        Date            `json:"due_date"`
		TotalValue     decimal.Decimal `json:"total_value"`
		PaidValue      decimal.Decimal `json:"paid_value"`
		Status         InvoiceStatus   `json:"status"`
		CreatedAt      time.Time       `json:"created_at"`
		UpdatedAt      time.Time       `json:"updated_at"`
	}

	Installment struct {
		ID                string `json:"id"`
		PurchaseID        string `json:"purchase_id"`
		InvoiceID         string `json:"invoice_id"`
		Number            int    `json:"number"`
		TotalInstallments int    `json:"total_installments"`
		// Value is negative for credits and discounts.
		Value  decimal.Decimal   `json:"value"`
		Status InstallmentStatus `json:"status"`
		// ReversalOf is set on credits that reverse a settled installment.
		ReversalOf string    `json:"reversal_of,omitempty"`
		CreatedAt  time.Time `json:"created_at"`
		UpdatedAt  time.Time `json:"updated_at"`
	}

	// Purchase is the originating expense record. Adjustment entries are
	// purchases of KindAdjustment pointing back at the purchase they correct.
	Purchase struct {
		ID               string          `json:"id"`
		CardID           string          `json:"card_id"`
		Description      string          `json:"description"`
		Date             Date            `json:"date"`
		Value            decimal.Decimal `json:"value"`
		Installments     int             `json:"installments"`
		Kind             PurchaseKind    `json:"kind"`
		OriginPurchaseID string          `json:"origin_purchase_id,omitempty"`
		CreatedAt        time.Time       `json:"created_at"`
	}
)

var (
	ErrInvalidDay       = errors.New("invalid day")
	ErrInvalidAmount    = errors.New("invalid amount")
	ErrEmptyDescription = errors.New("empty description")
	ErrEmptyCard        = errors.New("empty card reference")
	ErrInstallments     = errors.New("invalid installment count")
)

// MaxInstallments is the longest split a purchase may request.
const MaxInstallments = 99

func (s InvoiceStatus) IsValid() bool {
	switch s {
	case InvoiceOpen, InvoiceClosed, InvoicePartiallyPaid, InvoicePaid, InvoiceOverdue:
		return true
	}
	return false
}

func (s InstallmentStatus) IsValid() bool {
	switch s {
	case InstallmentPending, InstallmentInInvoice, InstallmentAnticipated, InstallmentReversed, InstallmentPaid:
		return true
	}
	return false
}

func (c Card) Validate() error {
	if strings.TrimSpace(c.ID) == "" {
		return ErrEmptyCard
	}
	if c.ClosingDay < 1 || c.ClosingDay > 31 {
		return fmt.Errorf("closing day %d: %w", c.ClosingDay, ErrInvalidDay)
	}
	if c.DueDay < 1 || c.DueDay > 31 {
		return fmt.Errorf("due day %d: %w", c.DueDay, ErrInvalidDay)
	}
	if c.CreditLimit.IsNegative() {
		return fmt.Errorf("credit limit: %w", ErrInvalidAmount)
	}
	return nil
}

// Validate checks a purchase as submitted by a caller. Adjustment entries are
// built internally and may carry negative values.
func (p Purchase) Validate() error {
	if strings.TrimSpace(p.CardID) == "" {
		return ErrEmptyCard
	}
	if err := p.Date.Validate(); err != nil {
		return err
	}
	if len(strings.TrimSpace(p.Description)) == 0 {
		return ErrEmptyDescription
	}
	if len(p.Description) > 200 {
		return errors.New("description too long (max 200 characters)")
	}
	if p.Kind != KindAdjustment && !p.Value.IsPositive() {
		return ErrInvalidAmount
	}
	if p.Installments > MaxInstallments {
		return fmt.Errorf("%d installments, max %d: %w", p.Installments, MaxInstallments, ErrInstallments)
	}
	// every installment must carry at least one cent
	n := p.InstallmentCount()
	if p.Kind != KindAdjustment && p.Value.LessThan(decimal.New(int64(n), -MoneyScale)) {
		return fmt.Errorf("%s split in %d rounds to zero: %w", p.Value, n, ErrInstallments)
	}
	return nil
}

// InstallmentCount clamps the requested count to at least one.
func (p Purchase) InstallmentCount() int {
	if p.Installments < 1 {
		return 1
	}
	return p.Installments
}

// IsLive reports whether the installment still counts toward its invoice total.
func (i Installment) IsLive() bool {
	return i.Status != InstallmentReversed
}
