package store_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/investr/trade-engine/internal/model"
	"github.com/investr/trade-engine/internal/store"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

var errAbort = errors.New("abort")

// forEachStore runs fn against every embedded Store implementation.
func forEachStore(t *testing.T, fn func(t *testing.T, st store.Store)) {
	t.Run("memory", func(t *testing.T) {
		fn(t, store.NewMemoryStore())
	})
	t.Run("sqlite", func(t *testing.T) {
		st, err := store.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "broker.db"))
		require.NoError(t, err)
		t.Cleanup(func() { st.Close() })
		fn(t, st)
	})
}

func insertAccount(t *testing.T, st store.Store, id, userID int64, cash string) {
	t.Helper()
	ctx := context.Background()
	err := st.Update(ctx, func(tx store.Tx) error {
		return tx.InsertAccount(ctx, &model.Account{ID: id, UserID: userID, CashBalance: d(cash), CreatedAt: time.Now().UTC()})
	})
	require.NoError(t, err)
}

func insertStock(t *testing.T, st store.Store, id int64, ticker, price string) {
	t.Helper()
	ctx := context.Background()
	err := st.Update(ctx, func(tx store.Tx) error {
		return tx.InsertStock(ctx, &model.Stock{
			ID: id, Ticker: ticker, CompanyName: ticker + " Corp",
			InitialPrice: d(price), OpeningPrice: d(price), CurrentPrice: d(price),
			DayHigh: d(price), DayLow: d(price), FloatShares: 1000, CreatedAt: time.Now().UTC(),
		})
	})
	require.NoError(t, err)
}

func TestAccounts(t *testing.T) {
	forEachStore(t, func(t *testing.T, st store.Store) {
		ctx := context.Background()
		insertAccount(t, st, 6_000_000_001, 10, "12.34")

		a, err := st.GetAccount(ctx, 6_000_000_001)
		require.NoError(t, err)
		require.Equal(t, int64(10), a.UserID)
		require.True(t, a.CashBalance.Equal(d("12.34")))

		a, err = st.GetAccountByUser(ctx, 10)
		require.NoError(t, err)
		require.Equal(t, int64(6_000_000_001), a.ID)

		_, err = st.GetAccount(ctx, 1)
		require.ErrorIs(t, err, model.ErrNotFound)
		_, err = st.GetAccountByUser(ctx, 11)
		require.ErrorIs(t, err, model.ErrNotFound)

		err = st.Update(ctx, func(tx store.Tx) error {
			return tx.InsertAccount(ctx, &model.Account{ID: 6_000_000_002, UserID: 10, CreatedAt: time.Now().UTC()})
		})
		require.ErrorIs(t, err, model.ErrConflict)

		err = st.Update(ctx, func(tx store.Tx) error {
			acct, err := tx.LockAccount(ctx, 6_000_000_001)
			if err != nil {
				return err
			}
			return tx.SaveCashBalance(ctx, acct.ID, acct.CashBalance.Add(d("0.66")))
		})
		require.NoError(t, err)
		a, err = st.GetAccount(ctx, 6_000_000_001)
		require.NoError(t, err)
		require.True(t, a.CashBalance.Equal(d("13.00")))
	})
}

func TestUpdateRollsBackOnError(t *testing.T) {
	forEachStore(t, func(t *testing.T, st store.Store) {
		ctx := context.Background()
		insertAccount(t, st, 6_000_000_001, 1, "100")
		insertStock(t, st, 1_000_001, "ACME", "5")

		err := st.Update(ctx, func(tx store.Tx) error {
			acct, err := tx.LockAccount(ctx, 6_000_000_001)
			if err != nil {
				return err
			}
			if err := tx.SaveCashBalance(ctx, acct.ID, d("0")); err != nil {
				return err
			}
			if err := tx.InsertPosition(ctx, &model.Position{ID: 5_000_000_001, AccountID: acct.ID, StockID: 1_000_001, Quantity: 20}); err != nil {
				return err
			}
			if err := tx.InsertOrder(ctx, &model.Order{
				ID: 2_000_000_001, AccountID: acct.ID, StockID: 1_000_001, Action: model.ActionBuy,
				Quantity: 20, Status: model.OrderFilled, CommitID: "c1", CreatedAt: time.Now().UTC(), ExecutedAt: time.Now().UTC(),
			}); err != nil {
				return err
			}

			// The unit observes its own writes.
			p, err := tx.Position(ctx, acct.ID, 1_000_001)
			if err != nil {
				return err
			}
			if p.Quantity != 20 {
				return errors.New("staged position not visible")
			}
			return errAbort
		})
		require.ErrorIs(t, err, errAbort)

		a, err := st.GetAccount(ctx, 6_000_000_001)
		require.NoError(t, err)
		require.True(t, a.CashBalance.Equal(d("100")))
		positions, err := st.ListPositions(ctx, 6_000_000_001)
		require.NoError(t, err)
		require.Empty(t, positions)
		orders, err := st.ListOrders(ctx, 6_000_000_001)
		require.NoError(t, err)
		require.Empty(t, orders)
	})
}

func TestPositions(t *testing.T) {
	forEachStore(t, func(t *testing.T, st store.Store) {
		ctx := context.Background()
		insertAccount(t, st, 6_000_000_001, 1, "0")
		insertStock(t, st, 1_000_001, "ZETA", "5")
		insertStock(t, st, 1_000_002, "ACME", "7")

		err := st.Update(ctx, func(tx store.Tx) error {
			for i, stockID := range []int64{1_000_001, 1_000_002} {
				p := &model.Position{ID: 5_000_000_001 + int64(i), AccountID: 6_000_000_001, StockID: stockID, Quantity: 3}
				if err := tx.InsertPosition(ctx, p); err != nil {
					return err
				}
			}
			return nil
		})
		require.NoError(t, err)

		positions, err := st.ListPositions(ctx, 6_000_000_001)
		require.NoError(t, err)
		require.Len(t, positions, 2)
		require.Equal(t, "ACME", positions[0].Ticker)
		require.Equal(t, "ZETA", positions[1].Ticker)

		err = st.Update(ctx, func(tx store.Tx) error {
			return tx.InsertPosition(ctx, &model.Position{ID: 5_000_000_009, AccountID: 6_000_000_001, StockID: 1_000_001, Quantity: 1})
		})
		require.ErrorIs(t, err, model.ErrConflict)

		err = st.Update(ctx, func(tx store.Tx) error {
			if err := tx.SavePositionQuantity(ctx, 5_000_000_002, 9); err != nil {
				return err
			}
			return tx.DeletePosition(ctx, 5_000_000_001)
		})
		require.NoError(t, err)

		positions, err = st.ListPositions(ctx, 6_000_000_001)
		require.NoError(t, err)
		require.Len(t, positions, 1)
		require.Equal(t, int64(9), positions[0].Quantity)

		err = st.Update(ctx, func(tx store.Tx) error {
			_, err := tx.Position(ctx, 6_000_000_001, 1_000_001)
			return err
		})
		require.ErrorIs(t, err, model.ErrNotFound)

		err = st.Update(ctx, func(tx store.Tx) error {
			return tx.SavePositionQuantity(ctx, 5_000_000_001, 1)
		})
		require.ErrorIs(t, err, model.ErrNotFound)
	})
}

func TestAuditTrail(t *testing.T) {
	forEachStore(t, func(t *testing.T, st store.Store) {
		ctx := context.Background()
		insertAccount(t, st, 6_000_000_001, 1, "0")
		insertStock(t, st, 1_000_001, "ACME", "5")
		now := time.Now().UTC()

		err := st.Update(ctx, func(tx store.Tx) error {
			for i := int64(0); i < 2; i++ {
				if err := tx.InsertOrder(ctx, &model.Order{
					ID: 2_000_000_001 + i, AccountID: 6_000_000_001, StockID: 1_000_001, Action: model.ActionSell,
					Quantity: 4, Status: model.OrderFilled, CommitID: "commit", CreatedAt: now, ExecutedAt: now,
				}); err != nil {
					return err
				}
			}
			if err := tx.InsertFill(ctx, &model.Fill{ID: 3_000_000_001, OrderID: 2_000_000_001, Price: d("5.25"), Quantity: 4, ExecutedAt: now}); err != nil {
				return err
			}
			return tx.InsertTransaction(ctx, &model.Transaction{
				ID: 4_000_000_001, AccountID: 6_000_000_001, Type: model.TxSell, Amount: d("21.00"), CommitID: "commit", CreatedAt: now,
			})
		})
		require.NoError(t, err)

		orders, err := st.ListOrders(ctx, 6_000_000_001)
		require.NoError(t, err)
		require.Len(t, orders, 2)
		require.Equal(t, int64(2_000_000_001), orders[0].ID)
		require.Equal(t, "ACME", orders[0].Ticker)
		require.Equal(t, model.ActionSell, orders[0].Action)
		require.Equal(t, model.OrderFilled, orders[1].Status)

		fills, err := st.ListFills(ctx, 2_000_000_001)
		require.NoError(t, err)
		require.Len(t, fills, 1)
		require.True(t, fills[0].Price.Equal(d("5.25")))

		txns, err := st.ListTransactions(ctx, 6_000_000_001)
		require.NoError(t, err)
		require.Len(t, txns, 1)
		require.Equal(t, model.TxSell, txns[0].Type)
		require.Equal(t, "commit", txns[0].CommitID)

		err = st.Update(ctx, func(tx store.Tx) error {
			want := map[model.IDKind]int64{
				model.KindOrder:       2_000_000_002,
				model.KindFill:        3_000_000_001,
				model.KindTransaction: 4_000_000_001,
				model.KindStock:       1_000_001,
				model.KindAccount:     6_000_000_001,
				model.KindPosition:    0,
				model.KindPriceTick:   0,
			}
			for kind, id := range want {
				got, err := tx.MaxID(ctx, kind)
				if err != nil {
					return err
				}
				if got != id {
					t.Errorf("MaxID(%s) = %d, want %d", kind, got, id)
				}
			}
			return nil
		})
		require.NoError(t, err)
	})
}

func TestStocksAndTicks(t *testing.T) {
	forEachStore(t, func(t *testing.T, st store.Store) {
		ctx := context.Background()
		insertStock(t, st, 1_000_001, "ACME", "5")

		err := st.Update(ctx, func(tx store.Tx) error {
			return tx.InsertStock(ctx, &model.Stock{ID: 1_000_002, Ticker: "ACME", CompanyName: "Dup", CreatedAt: time.Now().UTC()})
		})
		require.ErrorIs(t, err, model.ErrConflict)

		err = st.Update(ctx, func(tx store.Tx) error {
			for i := int64(1); i <= 3; i++ {
				price := decimal.NewFromInt(5 + i)
				if err := tx.SaveStockPrice(ctx, 1_000_001, price, price, d("5")); err != nil {
					return err
				}
				if err := tx.InsertPriceTick(ctx, &model.PriceTick{ID: 7_000_000_000 + i, StockID: 1_000_001, Price: price, Timestamp: time.Now().UTC()}); err != nil {
					return err
				}
			}
			return nil
		})
		require.NoError(t, err)

		s, err := st.GetStockByTicker(ctx, "ACME")
		require.NoError(t, err)
		require.True(t, s.CurrentPrice.Equal(d("8")))
		require.True(t, s.DayLow.Equal(d("5")))
		require.True(t, s.InitialPrice.Equal(d("5")))

		ticks, err := st.ListPriceTicks(ctx, 1_000_001, 2)
		require.NoError(t, err)
		require.Len(t, ticks, 2)
		require.Equal(t, int64(7_000_000_003), ticks[0].ID)
		require.Equal(t, int64(7_000_000_002), ticks[1].ID)

		_, err = st.GetStock(ctx, 42)
		require.ErrorIs(t, err, model.ErrNotFound)
		_, err = st.GetStockByTicker(ctx, "NOPE")
		require.ErrorIs(t, err, model.ErrNotFound)

		err = st.Update(ctx, func(tx store.Tx) error {
			return tx.SaveStockPrice(ctx, 42, d("1"), d("1"), d("1"))
		})
		require.ErrorIs(t, err, model.ErrNotFound)
	})
}

func TestMarketSchedule(t *testing.T) {
	forEachStore(t, func(t *testing.T, st store.Store) {
		ctx := context.Background()
		_, err := st.GetMarketSchedule(ctx)
		require.ErrorIs(t, err, model.ErrNotFound)

		sched := &model.MarketSchedule{Status: model.MarketOpen, OpenHour: 9, OpenMinute: 30, CloseHour: 16}
		require.NoError(t, st.SaveMarketSchedule(ctx, sched))
		sched.Holiday, sched.Status = true, model.MarketClosed
		require.NoError(t, st.SaveMarketSchedule(ctx, sched))

		got, err := st.GetMarketSchedule(ctx)
		require.NoError(t, err)
		require.Equal(t, *sched, *got)
	})
}

func TestMemoryAccountLockHonoursContext(t *testing.T) {
	st := store.NewMemoryStore()
	insertAccount(t, st, 6_000_000_001, 1, "0")
	ctx := context.Background()

	locked := make(chan struct{})
	release := make(chan struct{})
	go st.Update(ctx, func(tx store.Tx) error {
		if _, err := tx.LockAccount(ctx, 6_000_000_001); err != nil {
			return err
		}
		close(locked)
		<-release
		return nil
	})
	<-locked

	waitCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	err := st.Update(waitCtx, func(tx store.Tx) error {
		_, err := tx.LockAccount(waitCtx, 6_000_000_001)
		return err
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	close(release)

	// The lock is released when the first unit ends.
	require.Eventually(t, func() bool {
		return st.Update(ctx, func(tx store.Tx) error {
			_, err := tx.LockAccount(ctx, 6_000_000_001)
			return err
		}) == nil
	}, time.Second, 5*time.Millisecond)
}

func reserve(t *testing.T, st store.Store, kind model.IDKind, floor int64, abort bool) int64 {
	t.Helper()
	ctx := context.Background()
	var id int64
	err := st.Update(ctx, func(tx store.Tx) error {
		var err error
		if id, err = tx.ReserveID(ctx, kind, floor); err != nil {
			return err
		}
		if abort {
			return errAbort
		}
		return nil
	})
	if abort {
		require.ErrorIs(t, err, errAbort)
	} else {
		require.NoError(t, err)
	}
	return id
}

func TestReserveIDSurvivesRollback(t *testing.T) {
	forEachStore(t, func(t *testing.T, st store.Store) {
		require.Equal(t, int64(2_000_000_001), reserve(t, st, model.KindOrder, 2_000_000_000, true))
		require.Equal(t, int64(2_000_000_002), reserve(t, st, model.KindOrder, 2_000_000_000, false))
		require.Equal(t, int64(2_000_000_101), reserve(t, st, model.KindOrder, 2_000_000_100, false))
		// Kinds are independent.
		require.Equal(t, int64(3_000_000_001), reserve(t, st, model.KindFill, 3_000_000_000, false))
	})
}

func TestSQLiteReservationsOutliveReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "broker.db")

	st, err := store.OpenSQLite(ctx, path)
	require.NoError(t, err)
	require.Equal(t, int64(4_000_000_001), reserve(t, st, model.KindTransaction, 4_000_000_000, true))
	require.NoError(t, st.Close())

	st, err = store.OpenSQLite(ctx, path)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.Equal(t, int64(4_000_000_002), reserve(t, st, model.KindTransaction, 4_000_000_000, false))
}
