package ledger_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/investr/trade-engine/internal/idalloc"
	"github.com/investr/trade-engine/internal/ledger"
	"github.com/investr/trade-engine/internal/model"
	"github.com/investr/trade-engine/internal/store"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fixture struct {
	st     *store.MemoryStore
	ids    *idalloc.Allocator
	trail  *ledger.Trail
	ledger *ledger.Ledger
	book   *ledger.Book
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := store.NewMemoryStore()
	ids := idalloc.New()
	trail := ledger.NewTrail(st, ids)
	return &fixture{
		st:     st,
		ids:    ids,
		trail:  trail,
		ledger: ledger.New(st, ids, trail),
		book:   ledger.NewBook(ids),
	}
}

func (f *fixture) account(t *testing.T, userID int64, cash string) *model.Account {
	t.Helper()
	ctx := context.Background()
	acct, err := f.ledger.OpenAccount(ctx, userID)
	require.NoError(t, err)
	if cash != "0" {
		_, err = f.ledger.Deposit(ctx, acct.ID, d(cash))
		require.NoError(t, err)
	}
	return acct
}

func (f *fixture) stock(t *testing.T, ticker string) int64 {
	t.Helper()
	var id int64
	err := f.st.Update(context.Background(), func(tx store.Tx) error {
		var err error
		if id, err = f.ids.Next(context.Background(), tx, model.KindStock); err != nil {
			return err
		}
		return tx.InsertStock(context.Background(), &model.Stock{
			ID: id, Ticker: ticker, CompanyName: ticker + " Inc",
			InitialPrice: d("50"), OpeningPrice: d("50"), CurrentPrice: d("50"),
			DayHigh: d("50"), DayLow: d("50"), FloatShares: 1000, CreatedAt: time.Now(),
		})
	})
	require.NoError(t, err)
	return id
}

func balance(t *testing.T, st store.Store, id int64) decimal.Decimal {
	t.Helper()
	acct, err := st.GetAccount(context.Background(), id)
	require.NoError(t, err)
	return acct.CashBalance
}

func TestOpenAccount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	acct, err := f.ledger.OpenAccount(ctx, 7)
	require.NoError(t, err)
	require.Equal(t, int64(6_000_000_001), acct.ID)
	require.True(t, acct.CashBalance.IsZero())

	_, err = f.ledger.OpenAccount(ctx, 7)
	require.ErrorIs(t, err, model.ErrConflict)
}

func TestDepositWithdraw(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acct := f.account(t, 1, "0")

	bal, err := f.ledger.Deposit(ctx, acct.ID, d("1000.50"))
	require.NoError(t, err)
	require.Equal(t, "1000.50", bal.StringFixed(2))

	bal, err = f.ledger.Withdraw(ctx, acct.ID, d("0.50"))
	require.NoError(t, err)
	require.Equal(t, "1000.00", bal.StringFixed(2))

	txns, err := f.trail.Transactions(ctx, acct.ID)
	require.NoError(t, err)
	require.Len(t, txns, 2)
	require.Equal(t, model.TxDeposit, txns[0].Type)
	require.Equal(t, model.TxWithdraw, txns[1].Type)
	require.Less(t, txns[0].ID, txns[1].ID)
}

func TestDepositRejectsInvalidAmount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acct := f.account(t, 1, "20")

	for _, amt := range []string{"-5.00", "0", "1.005", "10000000000000"} {
		_, err := f.ledger.Deposit(ctx, acct.ID, d(amt))
		require.ErrorIs(t, err, model.ErrInvalidAmount, amt)
	}
	require.Equal(t, "20.00", balance(t, f.st, acct.ID).StringFixed(2))

	txns, err := f.trail.Transactions(ctx, acct.ID)
	require.NoError(t, err)
	require.Len(t, txns, 1)
}

func TestDepositCannotOverflowBalance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acct := f.account(t, 1, "999999999999.00")

	_, err := f.ledger.Deposit(ctx, acct.ID, d("1.00"))
	require.ErrorIs(t, err, model.ErrInvalidAmount)
	require.Equal(t, "999999999999.00", balance(t, f.st, acct.ID).StringFixed(2))

	bal, err := f.ledger.Deposit(ctx, acct.ID, d("0.99"))
	require.NoError(t, err)
	require.Equal(t, "999999999999.99", bal.StringFixed(2))
}

func TestWithdrawInsufficientFunds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acct := f.account(t, 1, "10")

	_, err := f.ledger.Withdraw(ctx, acct.ID, d("10.01"))
	require.ErrorIs(t, err, model.ErrInsufficientFunds)
	require.Equal(t, "10.00", balance(t, f.st, acct.ID).StringFixed(2))

	bal, err := f.ledger.Withdraw(ctx, acct.ID, d("10"))
	require.NoError(t, err)
	require.True(t, bal.IsZero())
}

func TestDepositUnknownAccount(t *testing.T) {
	f := newFixture(t)
	_, err := f.ledger.Deposit(context.Background(), 42, d("5"))
	require.ErrorIs(t, err, model.ErrNotFound)
}

func TestPositionLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acct := f.account(t, 1, "0")
	stockID := f.stock(t, "ACME")

	err := f.st.Update(ctx, func(tx store.Tx) error {
		qty, err := f.book.Increase(ctx, tx, acct.ID, stockID, 10)
		require.NoError(t, err)
		require.Equal(t, int64(10), qty)

		qty, err = f.book.Increase(ctx, tx, acct.ID, stockID, 5)
		require.NoError(t, err)
		require.Equal(t, int64(15), qty)
		return nil
	})
	require.NoError(t, err)

	positions, err := f.st.ListPositions(ctx, acct.ID)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	require.Equal(t, int64(5_000_000_001), positions[0].ID)
	require.Equal(t, "ACME", positions[0].Ticker)

	err = f.st.Update(ctx, func(tx store.Tx) error {
		_, err := f.book.Decrease(ctx, tx, acct.ID, stockID, 16)
		require.ErrorIs(t, err, model.ErrInsufficientShares)

		left, err := f.book.Decrease(ctx, tx, acct.ID, stockID, 15)
		require.NoError(t, err)
		require.Zero(t, left)

		held, err := f.book.Held(ctx, tx, acct.ID, stockID)
		require.NoError(t, err)
		require.Zero(t, held)
		return nil
	})
	require.NoError(t, err)

	positions, err = f.st.ListPositions(ctx, acct.ID)
	require.NoError(t, err)
	require.Empty(t, positions)
}

func TestDecreaseWithoutPosition(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acct := f.account(t, 1, "0")
	stockID := f.stock(t, "ACME")

	err := f.st.Update(ctx, func(tx store.Tx) error {
		_, err := f.book.Decrease(ctx, tx, acct.ID, stockID, 1)
		return err
	})
	require.ErrorIs(t, err, model.ErrNoPosition)
}

func TestIncreaseRejectsNonPositive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acct := f.account(t, 1, "0")
	stockID := f.stock(t, "ACME")

	err := f.st.Update(ctx, func(tx store.Tx) error {
		_, err := f.book.Increase(ctx, tx, acct.ID, stockID, 0)
		return err
	})
	require.ErrorIs(t, err, model.ErrInvalidQuantity)
}

func TestRecordTradeSharesCommit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acct := f.account(t, 1, "0")
	stockID := f.stock(t, "ACME")
	now := time.Now().UTC()

	var rc ledger.Receipt
	err := f.st.Update(ctx, func(tx store.Tx) error {
		var err error
		rc, err = f.trail.RecordTrade(ctx, tx, ledger.TradeEntry{
			AccountID: acct.ID, StockID: stockID, Action: model.ActionBuy,
			Quantity: 3, Price: d("33.335"), Notional: d("100.005"), At: now,
		})
		return err
	})
	require.NoError(t, err)
	require.NotEmpty(t, rc.CommitID)

	orders, err := f.trail.Orders(ctx, acct.ID)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	require.Equal(t, rc.OrderID, orders[0].ID)
	require.Equal(t, model.OrderFilled, orders[0].Status)
	require.Equal(t, rc.CommitID, orders[0].CommitID)

	fills, err := f.trail.Fills(ctx, rc.OrderID)
	require.NoError(t, err)
	require.Len(t, fills, 1)
	require.Equal(t, rc.FillID, fills[0].ID)

	txns, err := f.trail.Transactions(ctx, acct.ID)
	require.NoError(t, err)
	require.Len(t, txns, 1)
	require.Equal(t, model.TxBuy, txns[0].Type)
	require.Equal(t, "100.01", txns[0].Amount.StringFixed(2))
	require.Equal(t, rc.CommitID, txns[0].CommitID)
}

func TestFailedUnitLeavesNoTrace(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acct := f.account(t, 1, "100")
	stockID := f.stock(t, "ACME")
	boom := errors.New("boom")

	err := f.st.Update(ctx, func(tx store.Tx) error {
		locked, err := tx.LockAccount(ctx, acct.ID)
		if err != nil {
			return err
		}
		if _, err := f.ledger.Debit(ctx, tx, locked, d("60")); err != nil {
			return err
		}
		if _, err := f.book.Increase(ctx, tx, acct.ID, stockID, 1); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	require.Equal(t, "100.00", balance(t, f.st, acct.ID).StringFixed(2))
	positions, err := f.st.ListPositions(ctx, acct.ID)
	require.NoError(t, err)
	require.Empty(t, positions)
}
