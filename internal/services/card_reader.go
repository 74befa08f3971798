package services

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"

	"fatura/internal/cache"
	"fatura/internal/core"
	"fatura/internal/storage"
)

// CardReader is the read accessor for cards, which the engine never writes
// during an operation.
type CardReader interface {
	GetCard(ctx context.Context, id string) (core.Card, error)
}

// StoreCardReader reads cards straight from the store.
type StoreCardReader struct {
	store storage.Store
}

func NewStoreCardReader(store storage.Store) *StoreCardReader {
	return &StoreCardReader{store: store}
}

func (r *StoreCardReader) GetCard(ctx context.Context, id string) (core.Card, error) {
	var c core.Card
	err := r.store.View(ctx, func(tx storage.Tx) error {
		var err error
		c, err = tx.GetCard(ctx, id)
		return err
	})
	return c, err
}

// CachedCardReader keeps recently used cards in an LRU and collapses
// concurrent misses for the same card into one load.
type CachedCardReader struct {
	next  CardReader
	cache *cache.LRUCache[core.Card]
	group singleflight.Group
}

func NewCachedCardReader(next CardReader, size int, ttl time.Duration) *CachedCardReader {
	return &CachedCardReader{
		next:  next,
		cache: cache.NewLRUCache[core.Card](size, ttl),
	}
}

func (r *CachedCardReader) GetCard(ctx context.Context, id string) (core.Card, error) {
	if c, ok := r.cache.Get(id); ok {
		return c, nil
	}
	v, err, _ := r.group.Do(id, func() (any, error) {
		c, err := r.next.GetCard(ctx, id)
		if err != nil {
			return core.Card{}, err
		}
		r.cache.Set(id, c)
		return c, nil
	})
	if err != nil {
		return core.Card{}, err
	}
	return v.(core.Card), nil
}

// Invalidate drops a card after it was changed.
func (r *CachedCardReader) Invalidate(id string) {
	r.cache.Delete(id)
	r.group.Forget(id)
}

// Cache exposes the underlying LRU so it can be registered for cleanup.
func (r *CachedCardReader) Cache() *cache.LRUCache[core.Card] {
	return r.cache
}
