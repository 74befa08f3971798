package services

import (
	"sort"
	"sync"

	"fatura/internal/core"
)

// InvoiceLocker serializes work per invoice. Keys identify invoices by
// (card, reference month) so they are known before the invoice exists.
type InvoiceLocker struct {
	mapMu sync.Mutex
	locks map[string]*sync.Mutex
}

func NewInvoiceLocker() *InvoiceLocker {
	return &InvoiceLocker{locks: make(map[string]*sync.Mutex)}
}

// InvoiceKey is the lock key of the invoice of card for reference month ref.
func InvoiceKey(cardID string, ref core.Month) string {
	return cardID + "/" + ref.String()
}

func (l *InvoiceLocker) get(key string) *sync.Mutex {
	l.mapMu.Lock()
	defer l.mapMu.Unlock()
	mu, ok := l.locks[key]
	if !ok {
		mu = &sync.Mutex{}
		l.locks[key] = mu
	}
	return mu
}

// Lock acquires every key in ascending order, so two callers sharing any
// keys can never wait on each other in a cycle. Duplicates are ignored.
// The returned func releases them all.
func (l *InvoiceLocker) Lock(keys ...string) (unlock func()) {
	sorted := dedupeSorted(keys)
	held := make([]*sync.Mutex, 0, len(sorted))
	for _, k := range sorted {
		mu := l.get(k)
		mu.Lock()
		held = append(held, mu)
	}
	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].Unlock()
		}
	}
}

func dedupeSorted(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, k := range in {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
