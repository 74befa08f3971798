// Package memory is an in-process storage.Store used by tests and the
// memory backend. Each transaction works on a copy of the state that replaces
// the committed state only when the transaction function succeeds.
package memory

import (
	"context"
	"sort"
	"sync"

	"fatura/internal/core"
	"fatura/internal/storage"
)

type Store struct {
	mu    sync.Mutex
	state *state
}

var _ storage.Store = (*Store)(nil)

func New() *Store {
	return &Store{state: newState()}
}

type state struct {
	seq          int64
	cards        map[string]core.Card
	invoices     map[string]core.Invoice
	invoiceKeys  map[string]string
	installments map[string]record[core.Installment]
	purchases    map[string]record[core.Purchase]
	movements    []core.LedgerMovement
}

// record keeps insertion order so listings are stable.
type record[T any] struct {
	seq int64
	v   T
}

func newState() *state {
	return &state{
		cards:        map[string]core.Card{},
		invoices:     map[string]core.Invoice{},
		invoiceKeys:  map[string]string{},
		installments: map[string]record[core.Installment]{},
		purchases:    map[string]record[core.Purchase]{},
	}
}

func (s *state) clone() *state {
	c := newState()
	c.seq = s.seq
	for k, v := range s.cards {
		c.cards[k] = v
	}
	for k, v := range s.invoices {
		c.invoices[k] = v
	}
	for k, v := range s.invoiceKeys {
		c.invoiceKeys[k] = v
	}
	for k, v := range s.installments {
		c.installments[k] = v
	}
	for k, v := range s.purchases {
		c.purchases[k] = v
	}
	c.movements = append([]core.LedgerMovement(nil), s.movements...)
	return c
}

func (s *state) next() int64 {
	s.seq++
	return s.seq
}

func (s *Store) WithTx(ctx context.Context, fn func(tx storage.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	working := s.state.clone()
	if err := fn(&tx{st: working}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.state = working
	return nil
}

func (s *Store) View(_ context.Context, fn func(tx storage.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(&tx{st: s.state.clone()})
}

func (s *Store) Close() error { return nil }

type tx struct {
	st *state
}

func invoiceKey(cardID string, ref core.Month) string {
	return cardID + "/" + ref.String()
}

func (t *tx) GetCard(_ context.Context, id string) (core.Card, error) {
	c, ok := t.st.cards[id]
	if !ok {
		return core.Card{}, core.NewNotFoundError("card", id)
	}
	return c, nil
}

func (t *tx) SaveCard(_ context.Context, c core.Card) error {
	t.st.cards[c.ID] = c
	return nil
}

func (t *tx) ListCards(_ context.Context) ([]core.Card, error) {
	out := make([]core.Card, 0, len(t.st.cards))
	for _, c := range t.st.cards {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *tx) GetInvoice(_ context.Context, id string) (core.Invoice, error) {
	inv, ok := t.st.invoices[id]
	if !ok {
		return core.Invoice{}, core.NewNotFoundError("invoice", id)
	}
	return inv, nil
}

func (t *tx) FindInvoice(_ context.Context, cardID string, ref core.Month) (core.Invoice, bool, error) {
	id, ok := t.st.invoiceKeys[invoiceKey(cardID, ref)]
	if !ok {
		return core.Invoice{}, false, nil
	}
	return t.st.invoices[id], true, nil
}

func (t *tx) CreateInvoice(ctx context.Context, inv core.Invoice) (core.Invoice, error) {
	if existing, ok, _ := t.FindInvoice(ctx, inv.CardID, inv.ReferenceMonth); ok {
		return existing, nil
	}
	if _, ok := t.st.cards[inv.CardID]; !ok {
		return core.Invoice{}, core.NewNotFoundError("card", inv.CardID)
	}
	t.st.invoices[inv.ID] = inv
	t.st.invoiceKeys[invoiceKey(inv.CardID, inv.ReferenceMonth)] = inv.ID
	return inv, nil
}

func (t *tx) UpdateInvoice(_ context.Context, inv core.Invoice) error {
	if _, ok := t.st.invoices[inv.ID]; !ok {
		return core.NewNotFoundError("invoice", inv.ID)
	}
	t.st.invoices[inv.ID] = inv
	return nil
}

func (t *tx) ListInvoices(_ context.Context, f storage.InvoiceFilter) ([]core.Invoice, error) {
	var out []core.Invoice
	for _, inv := range t.st.invoices {
		if f.Matches(inv) {
			out = append(out, inv)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CardID != out[j].CardID {
			return out[i].CardID < out[j].CardID
		}
		return out[i].ReferenceMonth.Before(out[j].ReferenceMonth)
	})
	return out, nil
}

func (t *tx) GetInstallment(_ context.Context, id string) (core.Installment, error) {
	r, ok := t.st.installments[id]
	if !ok {
		return core.Installment{}, core.NewNotFoundError("installment", id)
	}
	return r.v, nil
}

func (t *tx) CreateInstallment(_ context.Context, in core.Installment) error {
	if _, ok := t.st.invoices[in.InvoiceID]; !ok {
		return core.NewNotFoundError("invoice", in.InvoiceID)
	}
	if _, ok := t.st.purchases[in.PurchaseID]; !ok {
		return core.NewNotFoundError("purchase", in.PurchaseID)
	}
	t.st.installments[in.ID] = record[core.Installment]{seq: t.st.next(), v: in}
	return nil
}

func (t *tx) UpdateInstallment(_ context.Context, in core.Installment) error {
	r, ok := t.st.installments[in.ID]
	if !ok {
		return core.NewNotFoundError("installment", in.ID)
	}
	if _, ok := t.st.invoices[in.InvoiceID]; !ok {
		return core.NewNotFoundError("invoice", in.InvoiceID)
	}
	r.v = in
	t.st.installments[in.ID] = r
	return nil
}

func (t *tx) ListInstallmentsByInvoice(_ context.Context, invoiceID string) ([]core.Installment, error) {
	return t.installmentsWhere(func(in core.Installment) bool { return in.InvoiceID == invoiceID }), nil
}

func (t *tx) ListInstallmentsByPurchase(_ context.Context, purchaseID string) ([]core.Installment, error) {
	out := t.installmentsWhere(func(in core.Installment) bool { return in.PurchaseID == purchaseID })
	sort.SliceStable(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, nil
}

func (t *tx) ListInstallmentsByCard(_ context.Context, cardID string) ([]core.Installment, error) {
	return t.installmentsWhere(func(in core.Installment) bool {
		return t.st.invoices[in.InvoiceID].CardID == cardID
	}), nil
}

func (t *tx) installmentsWhere(keep func(core.Installment) bool) []core.Installment {
	var rs []record[core.Installment]
	for _, r := range t.st.installments {
		if keep(r.v) {
			rs = append(rs, r)
		}
	}
	sort.Slice(rs, func(i, j int) bool { return rs[i].seq < rs[j].seq })
	out := make([]core.Installment, len(rs))
	for i, r := range rs {
		out[i] = r.v
	}
	return out
}

func (t *tx) GetPurchase(_ context.Context, id string) (core.Purchase, error) {
	r, ok := t.st.purchases[id]
	if !ok {
		return core.Purchase{}, core.NewNotFoundError("purchase", id)
	}
	return r.v, nil
}

func (t *tx) CreatePurchase(_ context.Context, p core.Purchase) error {
	if _, ok := t.st.cards[p.CardID]; !ok {
		return core.NewNotFoundError("card", p.CardID)
	}
	t.st.purchases[p.ID] = record[core.Purchase]{seq: t.st.next(), v: p}
	return nil
}

func (t *tx) UpdatePurchase(_ context.Context, p core.Purchase) error {
	r, ok := t.st.purchases[p.ID]
	if !ok {
		return core.NewNotFoundError("purchase", p.ID)
	}
	r.v = p
	t.st.purchases[p.ID] = r
	return nil
}

func (t *tx) ListAdjustments(_ context.Context, originPurchaseID string) ([]core.Purchase, error) {
	var rs []record[core.Purchase]
	for _, r := range t.st.purchases {
		if r.v.OriginPurchaseID == originPurchaseID {
			rs = append(rs, r)
		}
	}
	sort.Slice(rs, func(i, j int) bool { return rs[i].seq < rs[j].seq })
	out := make([]core.Purchase, len(rs))
	for i, r := range rs {
		out[i] = r.v
	}
	return out, nil
}

func (t *tx) PostMovement(_ context.Context, m core.LedgerMovement) error {
	t.st.movements = append(t.st.movements, m)
	return nil
}

func (t *tx) ListMovements(_ context.Context, accountRef string) ([]core.LedgerMovement, error) {
	var out []core.LedgerMovement
	for _, m := range t.st.movements {
		if m.AccountRef == accountRef {
			out = append(out, m)
		}
	}
	return out, nil
}
