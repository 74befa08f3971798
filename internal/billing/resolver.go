// Package billing maps purchase dates onto a card's monthly billing cycle.
//
// A cycle is identified by its reference month, the year-month of its due
// date. The competence month is the month whose closing date ends the cycle.
// For a given card the due date always sits at the same distance from the
// closing date: in the competence month itself when the due day comes after
// the closing day, otherwise in the following month. Consecutive competence
// months therefore always map to consecutive reference months.
package billing

import (
	"fmt"

	"fatura/internal/core"
)

// Cycle describes one invoice period of a card.
type Cycle struct {
	CompetenceMonth core.Month
	ReferenceMonth  core.Month
	PeriodStart     core.Date
	PeriodEnd       core.Date
	ClosingDate     core.Date
	DueDate         core.Date
}

// Resolver computes cycles for a single card.
type Resolver struct {
	closingDay int
	dueDay     int
}

func NewResolver(card core.Card) (*Resolver, error) {
	if card.ClosingDay < 1 || card.ClosingDay > 31 {
		return nil, core.NewValidationError("closing_day", "must be between 1 and 31, got %d", card.ClosingDay)
	}
	if card.DueDay < 1 || card.DueDay > 31 {
		return nil, core.NewValidationError("due_day", "must be between 1 and 31, got %d", card.DueDay)
	}
	return &Resolver{closingDay: card.ClosingDay, dueDay: card.DueDay}, nil
}

// dueOffset is the number of months between the closing month and the due month.
func (r *Resolver) dueOffset() int {
	if r.dueDay > r.closingDay {
		return 0
	}
	return 1
}

// CompetenceMonth returns the competence month of a purchase made on date.
// A purchase on the (clamped) closing day still belongs to that month.
func (r *Resolver) CompetenceMonth(date core.Date) core.Month {
	m := date.Month()
	if date.Day() <= m.Day(r.closingDay).Day() {
		return m
	}
	return m.AddMonths(1)
}

// Resolve places installment offset k of a purchase made on date.
func (r *Resolver) Resolve(date core.Date, k int) Cycle {
	return r.forCompetence(r.CompetenceMonth(date).AddMonths(k))
}

// ForReference returns the cycle whose reference month is ref.
func (r *Resolver) ForReference(ref core.Month) Cycle {
	return r.forCompetence(ref.AddMonths(-r.dueOffset()))
}

func (r *Resolver) forCompetence(competence core.Month) Cycle {
	closing := competence.Day(r.closingDay)
	previousClosing := competence.AddMonths(-1).Day(r.closingDay)
	due := competence.AddMonths(r.dueOffset()).Day(r.dueDay)
	return Cycle{
		CompetenceMonth: competence,
		ReferenceMonth:  due.Month(),
		PeriodStart:     previousClosing.AddDays(1),
		PeriodEnd:       closing,
		ClosingDate:     closing,
		DueDate:         due,
	}
}

func (c Cycle) String() string {
	return fmt.Sprintf("%s (closes %s, due %s)", c.ReferenceMonth, c.ClosingDate, c.DueDate)
}
