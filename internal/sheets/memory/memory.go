package memory

import (
	"context"
	"fmt"
	"sync"

	"fatura/internal/core"
	"fatura/internal/sheets"
)

// Store keeps exported statements in memory, one block of rows per call.
type Store struct {
	mu     sync.Mutex
	blocks [][][]any
	byInv  map[string]int
}

var _ sheets.StatementWriter = (*Store)(nil)

func New() *Store {
	return &Store{byInv: make(map[string]int)}
}

// AppendStatement stores the rows and returns a synthetic reference.
func (s *Store) AppendStatement(_ context.Context, card core.Card, inv core.Invoice, items []core.InvoiceItem) (string, error) {
	if inv.ID == "" {
		return "", fmt.Errorf("statement without invoice id")
	}
	rows := sheets.StatementRows(card, inv, items)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocks = append(s.blocks, rows)
	s.byInv[inv.ID]++
	return fmt.Sprintf("mem:%d", len(s.blocks)), nil
}

// Blocks returns a copy of every appended block.
func (s *Store) Blocks() [][][]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][][]any(nil), s.blocks...)
}

// Exports reports how many times an invoice was exported.
func (s *Store) Exports(invoiceID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byInv[invoiceID]
}
