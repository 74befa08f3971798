// Package core provides money parsing and handling utilities.
//
// Amounts are shopspring decimals kept at two decimal places. Rounding is
// half away from zero, matching how statements print cents.
package core

import (
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

// MoneyScale is the number of decimal places every stored amount carries.
const MoneyScale = 2

// RoundMoney rounds d to two decimal places.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(MoneyScale)
}

// ParseAmount converts a user-supplied decimal string into a positive amount.
//
// It accepts both dot (12.34) and comma (12,34) decimal separators and rounds
// half-up on the third decimal place. Signs, zero and thousands separators are
// rejected.
//
// Examples:
//
//	ParseAmount("12.34")  -> 12.34, nil
//	ParseAmount("12,34")  -> 12.34, nil
//	ParseAmount("12.345") -> 12.35, nil
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, ErrInvalidAmount
	}
	s = strings.ReplaceAll(s, ",", ".")
	if strings.Count(s, ".") > 1 {
		return decimal.Zero, ErrInvalidAmount
	}
	for _, r := range s {
		if r != '.' && !unicode.IsDigit(r) {
			return decimal.Zero, ErrInvalidAmount
		}
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, ErrInvalidAmount
	}
	d = RoundMoney(d)
	if !d.IsPositive() {
		return decimal.Zero, ErrInvalidAmount
	}
	return d, nil
}

// SplitValue divides value into n installment values. Every installment but
// the last is round(value/n, 2); the last absorbs the rounding remainder so
// the parts always sum to value exactly. n below one is treated as one.
func SplitValue(value decimal.Decimal, n int) []decimal.Decimal {
	if n < 1 {
		n = 1
	}
	value = RoundMoney(value)
	parts := make([]decimal.Decimal, n)
	each := RoundMoney(value.Div(decimal.NewFromInt(int64(n))))
	allocated := decimal.Zero
	for i := 0; i < n-1; i++ {
		parts[i] = each
		allocated = allocated.Add(each)
	}
	parts[n-1] = value.Sub(allocated)
	return parts
}

// SumLive totals the values of installments that are not reversed.
func SumLive(items []Installment) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		if it.IsLive() {
			total = total.Add(it.Value)
		}
	}
	return RoundMoney(total)
}
