package services

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"fatura/internal/core"
)

func TestInvoiceKey(t *testing.T) {
	got := InvoiceKey("card-1", core.NewMonth(2025, time.March))
	if got != "card-1/2025-03" {
		t.Fatalf("InvoiceKey = %q", got)
	}
}

func TestDedupeSorted(t *testing.T) {
	got := dedupeSorted([]string{"b", "a", "b", "c", "a"})
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestInvoiceLockerSerializesOverlappingKeys(t *testing.T) {
	l := NewInvoiceLocker()
	var inside, maxInside int32
	var wg sync.WaitGroup

	// opposite key orders would deadlock without sorted acquisition
	orders := [][]string{{"a", "b"}, {"b", "a"}}
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(keys []string) {
			defer wg.Done()
			unlock := l.Lock(keys...)
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
			unlock()
		}(orders[i%2])
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("lockers deadlocked")
	}
	if maxInside != 1 {
		t.Fatalf("%d holders at once, want 1", maxInside)
	}
}

func TestInvoiceLockerDisjointKeysDoNotBlock(t *testing.T) {
	l := NewInvoiceLocker()
	unlockA := l.Lock("a")
	defer unlockA()

	acquired := make(chan struct{})
	go func() {
		unlock := l.Lock("b")
		unlock()
		close(acquired)
	}()
	select {
	case <-acquired:
	case <-time.After(5 * time.Second):
		t.Fatal("lock on b waited for a")
	}
}

type countingReader struct {
	calls atomic.Int32
	card  core.Card
}

func (r *countingReader) GetCard(_ context.Context, id string) (core.Card, error) {
	r.calls.Add(1)
	if id != r.card.ID {
		return core.Card{}, core.NewNotFoundError("card", id)
	}
	return r.card, nil
}

func TestCachedCardReader(t *testing.T) {
	next := &countingReader{card: testCard}
	r := NewCachedCardReader(next, 10, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		c, err := r.GetCard(ctx, testCard.ID)
		if err != nil || c.ID != testCard.ID {
			t.Fatalf("GetCard: %+v, %v", c, err)
		}
	}
	if n := next.calls.Load(); n != 1 {
		t.Fatalf("underlying reader called %d times, want 1", n)
	}

	r.Invalidate(testCard.ID)
	if _, err := r.GetCard(ctx, testCard.ID); err != nil {
		t.Fatalf("GetCard: %v", err)
	}
	if n := next.calls.Load(); n != 2 {
		t.Fatalf("invalidate did not force a reload, calls = %d", n)
	}

	if _, err := r.GetCard(ctx, "missing"); err == nil {
		t.Fatal("expected error for unknown card")
	}
	if r.Cache().Size() != 1 {
		t.Fatalf("failed loads must not be cached, size = %d", r.Cache().Size())
	}
}
