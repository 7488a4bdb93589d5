// Package idalloc assigns per-kind integer identifiers inside the unit of
// work that inserts them.
package idalloc

import (
	"context"
	"fmt"
	"sync"

	"github.com/investr/trade-engine/internal/model"
)

// Source reads the largest persisted identifier of a kind. store.Tx
// satisfies it, so the read happens inside the caller's unit of work.
type Source interface {
	MaxID(ctx context.Context, kind model.IDKind) (int64, error)
}

// Reserver is a Source that also records issued ids outside the unit of
// work. store.Tx implements it. ReserveID returns an id above floor and
// above every id it reserved before, in any process.
type Reserver interface {
	Source
	ReserveID(ctx context.Context, kind model.IDKind, floor int64) (int64, error)
}

// Allocator hands out identifiers that strictly increase per kind. Each
// kind has its own mutex; allocations of different kinds never contend.
//
// A unit of work that rolls back leaves no row behind, but its ids stay
// skipped. The allocator remembers the highest id it issued per kind, and a
// Reserver source persists that mark so restarts and other processes on
// the same database skip them too.
type Allocator struct {
	mu    sync.Mutex // guards kinds
	kinds map[model.IDKind]*counter
}

type counter struct {
	mu   sync.Mutex
	last int64
}

// New creates an empty allocator.
func New() *Allocator {
	return &Allocator{kinds: make(map[model.IDKind]*counter)}
}

// Next returns the id after max(persisted max, base, last issued) for
// kind, or the id the source reserves above that floor. A failed read or
// reservation fails with model.ErrAllocationFailure; there is no fallback
// id.
func (a *Allocator) Next(ctx context.Context, src Source, kind model.IDKind) (int64, error) {
	base, ok := kind.Base()
	if !ok {
		return 0, fmt.Errorf("%w: unknown kind %q", model.ErrAllocationFailure, kind)
	}

	c := a.counter(kind)
	c.mu.Lock()
	defer c.mu.Unlock()

	max, err := src.MaxID(ctx, kind)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %w", model.ErrAllocationFailure, kind, err)
	}
	next := base
	if max > next {
		next = max
	}
	if c.last > next {
		next = c.last
	}
	if r, ok := src.(Reserver); ok {
		if next, err = r.ReserveID(ctx, kind, next); err != nil {
			return 0, fmt.Errorf("%w: %s: %w", model.ErrAllocationFailure, kind, err)
		}
	} else {
		next++
	}
	c.last = next
	return next, nil
}

func (a *Allocator) counter(kind model.IDKind) *counter {
	a.mu.Lock()
	defer a.mu.Unlock()

	c, ok := a.kinds[kind]
	if !ok {
		c = &counter{}
		a.kinds[kind] = c
	}
	return c
}
