package core

import "github.com/shopspring/decimal"

// CardLimit summarizes how much of a card's credit limit is committed.
type CardLimit struct {
	CardID    string          `json:"card_id"`
	Limit     decimal.Decimal `json:"limit"`
	Used      decimal.Decimal `json:"used"`
	Available decimal.Decimal `json:"available"`
}

// ComputeCardLimit counts every installment that is neither paid nor
// reversed against the limit. Credits reduce the used amount.
func ComputeCardLimit(card Card, installments []Installment) CardLimit {
	used := decimal.Zero
	for _, in := range installments {
		if in.Status == InstallmentPaid || in.Status == InstallmentReversed {
			continue
		}
		used = used.Add(in.Value)
	}
	used = RoundMoney(used)
	return CardLimit{
		CardID:    card.ID,
		Limit:     card.CreditLimit,
		Used:      used,
		Available: RoundMoney(card.CreditLimit.Sub(used)),
	}
}
