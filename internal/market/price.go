// Package market provides the collaborators the trade core consumes but
// does not own: current prices, the trading clock and the out-of-band
// price generator.
package market

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto"

	"github.com/investr/trade-engine/internal/model"
	"github.com/investr/trade-engine/internal/store"
)

// PriceSource returns a point-in-time snapshot of a stock; its
// CurrentPrice is the price to trade at. Unknown tickers fail with
// model.ErrUnknownStock.
type PriceSource interface {
	CurrentPrice(ctx context.Context, ticker string) (*model.Stock, error)
}

// StorePrices reads Stock.CurrentPrice straight from the store.
type StorePrices struct {
	store store.Store
}

// NewStorePrices creates a store-backed price source.
func NewStorePrices(st store.Store) *StorePrices {
	return &StorePrices{store: st}
}

func (p *StorePrices) CurrentPrice(ctx context.Context, ticker string) (*model.Stock, error) {
	st, err := p.store.GetStockByTicker(ctx, ticker)
	if errors.Is(err, model.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", model.ErrUnknownStock, ticker)
	}
	if err != nil {
		return nil, err
	}
	return st, nil
}

// CachedPrices keeps prices from another source for a short TTL. Callers
// read a price once per request and carry the value through commit.
//
// A price read from the source is cached only if no Invalidate ran while
// it was being read.
type CachedPrices struct {
	src   PriceSource
	cache *ristretto.Cache
	ttl   time.Duration

	mu  sync.RWMutex // held exclusively by Invalidate
	gen uint64
}

// NewCachedPrices wraps src with an in-process TTL cache.
func NewCachedPrices(src PriceSource, ttl time.Duration) (*CachedPrices, error) {
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e5,
		MaxCost:     1 << 14,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("price cache: %w", err)
	}
	return &CachedPrices{src: src, cache: c, ttl: ttl}, nil
}

func (p *CachedPrices) CurrentPrice(ctx context.Context, ticker string) (*model.Stock, error) {
	if v, ok := p.cache.Get(ticker); ok {
		st := v.(model.Stock)
		return &st, nil
	}
	p.mu.RLock()
	gen := p.gen
	p.mu.RUnlock()

	st, err := p.src.CurrentPrice(ctx, ticker)
	if err != nil {
		return nil, err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.gen == gen {
		p.cache.SetWithTTL(ticker, *st, 1, p.ttl)
		p.cache.Wait()
	}
	return st, nil
}

// Invalidate drops every cached price, including fills still in flight.
func (p *CachedPrices) Invalidate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.gen++
	p.cache.Clear()
}
