package store_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/investr/trade-engine/internal/model"
	"github.com/investr/trade-engine/internal/store"
)

const acmeID = 1_000_001

// slowPrimary holds the first stock read after it returns from the primary
// until resume is closed.
type slowPrimary struct {
	store.Store
	once   sync.Once
	read   chan struct{}
	resume chan struct{}
	byID   bool
}

func newSlowPrimary(byID bool) *slowPrimary {
	return &slowPrimary{
		Store:  store.NewMemoryStore(),
		read:   make(chan struct{}),
		resume: make(chan struct{}),
		byID:   byID,
	}
}

func (p *slowPrimary) hold() {
	p.once.Do(func() {
		close(p.read)
		<-p.resume
	})
}

func (p *slowPrimary) GetStock(ctx context.Context, id int64) (*model.Stock, error) {
	st, err := p.Store.GetStock(ctx, id)
	if p.byID {
		p.hold()
	}
	return st, err
}

func (p *slowPrimary) GetStockByTicker(ctx context.Context, ticker string) (*model.Stock, error) {
	st, err := p.Store.GetStockByTicker(ctx, ticker)
	if !p.byID {
		p.hold()
	}
	return st, err
}

func newCached(t *testing.T, primary store.Store) (*store.CachedStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return store.NewCachedStore(primary, rdb, 5*time.Minute), mr
}

func savePrice(t *testing.T, st store.Store, id int64, price string) {
	t.Helper()
	ctx := context.Background()
	err := st.Update(ctx, func(tx store.Tx) error {
		return tx.SaveStockPrice(ctx, id, d(price), d(price), d("50.00"))
	})
	require.NoError(t, err)
}

func TestCachedStoreServesAndInvalidates(t *testing.T) {
	ctx := context.Background()
	primary := store.NewMemoryStore()
	cs, mr := newCached(t, primary)
	insertStock(t, cs, acmeID, "ACME", "50.00")

	st, err := cs.GetStock(ctx, acmeID)
	require.NoError(t, err)
	require.True(t, st.CurrentPrice.Equal(d("50.00")))
	require.True(t, mr.Exists("stock:1000001"))

	savePrice(t, cs, acmeID, "61.25")
	require.False(t, mr.Exists("stock:1000001"))

	st, err = cs.GetStockByTicker(ctx, "ACME")
	require.NoError(t, err)
	require.True(t, st.CurrentPrice.Equal(d("61.25")))
}

// A price read from the primary before a commit must not be cached after
// the commit's invalidation.
func TestCachedStoreReadRacingCommit(t *testing.T) {
	for _, tc := range []struct {
		name string
		byID bool
	}{
		{"by id", true},
		{"by ticker", false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			primary := newSlowPrimary(tc.byID)
			cs, _ := newCached(t, primary)
			insertStock(t, cs, acmeID, "ACME", "50.00")

			done := make(chan *model.Stock)
			go func() {
				var st *model.Stock
				if tc.byID {
					st, _ = cs.GetStock(ctx, acmeID)
				} else {
					st, _ = cs.GetStockByTicker(ctx, "ACME")
				}
				done <- st
			}()

			<-primary.read
			savePrice(t, cs, acmeID, "80.00")
			close(primary.resume)

			old := <-done
			require.NotNil(t, old)
			require.True(t, old.CurrentPrice.Equal(d("50.00")))

			st, err := cs.GetStockByTicker(ctx, "ACME")
			require.NoError(t, err)
			require.True(t, st.CurrentPrice.Equal(d("80.00")), "got %s", st.CurrentPrice)

			st, err = cs.GetStock(ctx, acmeID)
			require.NoError(t, err)
			require.True(t, st.CurrentPrice.Equal(d("80.00")), "got %s", st.CurrentPrice)
		})
	}
}

func TestCachedStorePositionsInvalidatedByLock(t *testing.T) {
	ctx := context.Background()
	cs, mr := newCached(t, store.NewMemoryStore())
	insertAccount(t, cs, 6_000_000_001, 10, "0.00")
	insertStock(t, cs, acmeID, "ACME", "50.00")

	positions, err := cs.ListPositions(ctx, 6_000_000_001)
	require.NoError(t, err)
	require.Empty(t, positions)
	require.True(t, mr.Exists("positions:6000000001"))

	err = cs.Update(ctx, func(tx store.Tx) error {
		if _, err := tx.LockAccount(ctx, 6_000_000_001); err != nil {
			return err
		}
		return tx.InsertPosition(ctx, &model.Position{ID: 5_000_000_001, AccountID: 6_000_000_001, StockID: acmeID, Quantity: 3})
	})
	require.NoError(t, err)

	positions, err = cs.ListPositions(ctx, 6_000_000_001)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	require.Equal(t, int64(3), positions[0].Quantity)
}
