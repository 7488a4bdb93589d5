package idalloc_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/investr/trade-engine/internal/idalloc"
	"github.com/investr/trade-engine/internal/model"
)

type fakeSource struct {
	mu  sync.Mutex
	max map[model.IDKind]int64
	err error
}

func (f *fakeSource) MaxID(_ context.Context, kind model.IDKind) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	return f.max[kind], nil
}

func (f *fakeSource) persist(kind model.IDKind, id int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if id > f.max[kind] {
		f.max[kind] = id
	}
}

func TestNextStartsAboveBase(t *testing.T) {
	a := idalloc.New()
	src := &fakeSource{max: map[model.IDKind]int64{}}

	want := map[model.IDKind]int64{
		model.KindStock:       1_000_001,
		model.KindOrder:       2_000_000_001,
		model.KindFill:        3_000_000_001,
		model.KindTransaction: 4_000_000_001,
		model.KindPosition:    5_000_000_001,
	}
	for kind, id := range want {
		got, err := a.Next(context.Background(), src, kind)
		require.NoError(t, err)
		require.Equal(t, id, got, kind)
	}
}

func TestNextFollowsPersistedMax(t *testing.T) {
	a := idalloc.New()
	src := &fakeSource{max: map[model.IDKind]int64{model.KindOrder: 2_000_000_041}}

	got, err := a.Next(context.Background(), src, model.KindOrder)
	require.NoError(t, err)
	require.Equal(t, int64(2_000_000_042), got)
}

func TestNextNeverReusesAfterRollback(t *testing.T) {
	a := idalloc.New()
	src := &fakeSource{max: map[model.IDKind]int64{}}
	ctx := context.Background()

	// First id is issued but its unit never commits, so the store max stays
	// at zero.
	first, err := a.Next(ctx, src, model.KindFill)
	require.NoError(t, err)

	second, err := a.Next(ctx, src, model.KindFill)
	require.NoError(t, err)
	require.Greater(t, second, first)
}

func TestNextConcurrentDistinct(t *testing.T) {
	a := idalloc.New()
	src := &fakeSource{max: map[model.IDKind]int64{}}
	ctx := context.Background()

	const n = 200
	ids := make(chan int64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := a.Next(ctx, src, model.KindTransaction)
			if err != nil {
				t.Error(err)
				return
			}
			src.persist(model.KindTransaction, id)
			ids <- id
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[int64]bool, n)
	for id := range ids {
		require.False(t, seen[id], "duplicate id %d", id)
		seen[id] = true
	}
	require.Len(t, seen, n)
}

func TestNextMaxReadFailure(t *testing.T) {
	a := idalloc.New()
	src := &fakeSource{err: errors.New("connection reset")}

	_, err := a.Next(context.Background(), src, model.KindOrder)
	require.Error(t, err)
	require.True(t, errors.Is(err, model.ErrAllocationFailure))
	require.Contains(t, err.Error(), "connection reset")
}

func TestNextUnknownKind(t *testing.T) {
	a := idalloc.New()
	_, err := a.Next(context.Background(), &fakeSource{}, model.IDKind("widget"))
	require.ErrorIs(t, err, model.ErrAllocationFailure)
}

// reservingSource keeps reservations apart from persisted rows, the way a
// database sequence does.
type reservingSource struct {
	fakeSource
	reserved map[model.IDKind]int64
	fail     error
}

func (r *reservingSource) ReserveID(_ context.Context, kind model.IDKind, floor int64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return 0, r.fail
	}
	next := r.reserved[kind]
	if floor > next {
		next = floor
	}
	next++
	r.reserved[kind] = next
	return next, nil
}

func TestNextSkipsRolledBackIDsAcrossAllocators(t *testing.T) {
	src := &reservingSource{
		fakeSource: fakeSource{max: map[model.IDKind]int64{}},
		reserved:   map[model.IDKind]int64{},
	}
	ctx := context.Background()

	// The first process issues an id whose unit never commits.
	lost, err := idalloc.New().Next(ctx, src, model.KindOrder)
	require.NoError(t, err)
	require.Equal(t, int64(2_000_000_001), lost)

	// A restarted or second process sees the reservation, not just the rows.
	got, err := idalloc.New().Next(ctx, src, model.KindOrder)
	require.NoError(t, err)
	require.Equal(t, int64(2_000_000_002), got)

	// Persisted rows above the reservation still win.
	src.persist(model.KindOrder, 2_000_000_050)
	got, err = idalloc.New().Next(ctx, src, model.KindOrder)
	require.NoError(t, err)
	require.Equal(t, int64(2_000_000_051), got)
}

func TestNextReserveFailure(t *testing.T) {
	src := &reservingSource{
		fakeSource: fakeSource{max: map[model.IDKind]int64{}},
		reserved:   map[model.IDKind]int64{},
		fail:       errors.New("sequence missing"),
	}
	_, err := idalloc.New().Next(context.Background(), src, model.KindFill)
	require.ErrorIs(t, err, model.ErrAllocationFailure)
	require.Contains(t, err.Error(), "sequence missing")
}
