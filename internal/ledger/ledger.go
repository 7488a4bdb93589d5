// Package ledger owns every mutation of cash balances and positions and
// the append-only audit trail that records them.
//
// All monetary values use shopspring/decimal and pass through package money
// before they touch a balance.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/investr/trade-engine/internal/idalloc"
	"github.com/investr/trade-engine/internal/model"
	"github.com/investr/trade-engine/internal/money"
	"github.com/investr/trade-engine/internal/store"
)

// Ledger owns cash balances. Deposit, Withdraw and OpenAccount run their
// own unit of work; Debit and Credit operate on a unit the caller holds.
type Ledger struct {
	store store.Store
	ids   *idalloc.Allocator
	trail *Trail
	now   func() time.Time
}

// New creates a ledger writing audit entries through trail.
func New(st store.Store, ids *idalloc.Allocator, trail *Trail) *Ledger {
	return &Ledger{
		store: st,
		ids:   ids,
		trail: trail,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// OpenAccount creates a zero-balance account for userID. A user owns at most
// one account; a second call fails with model.ErrConflict.
func (l *Ledger) OpenAccount(ctx context.Context, userID int64) (*model.Account, error) {
	var acct *model.Account
	err := l.store.Update(ctx, func(tx store.Tx) error {
		id, err := l.ids.Next(ctx, tx, model.KindAccount)
		if err != nil {
			return err
		}
		acct = &model.Account{
			ID:          id,
			UserID:      userID,
			CashBalance: decimal.Zero,
			CreatedAt:   l.now(),
		}
		return tx.InsertAccount(ctx, acct)
	})
	if err != nil {
		return nil, err
	}

	slog.Info("account opened", "account", acct.ID, "user", userID)
	return acct, nil
}

// Deposit adds amount to the account and appends a DEPOSIT transaction.
// It returns the new balance.
func (l *Ledger) Deposit(ctx context.Context, accountID int64, amount decimal.Decimal) (decimal.Decimal, error) {
	if err := money.ValidAmount(amount); err != nil {
		return decimal.Zero, err
	}

	var balance decimal.Decimal
	err := l.store.Update(ctx, func(tx store.Tx) error {
		acct, err := tx.LockAccount(ctx, accountID)
		if err != nil {
			return err
		}
		if balance, err = l.Credit(ctx, tx, acct, amount); err != nil {
			return err
		}
		_, err = l.trail.RecordCash(ctx, tx, accountID, model.TxDeposit, amount, l.now())
		return err
	})
	if err != nil {
		return decimal.Zero, err
	}

	slog.Info("deposit", "account", accountID, "amount", amount.StringFixed(money.Scale),
		"balance", balance.StringFixed(money.Scale))
	return balance, nil
}

// Withdraw removes amount from the account and appends a WITHDRAW
// transaction. It fails with model.ErrInsufficientFunds when amount exceeds
// the balance.
func (l *Ledger) Withdraw(ctx context.Context, accountID int64, amount decimal.Decimal) (decimal.Decimal, error) {
	if err := money.ValidAmount(amount); err != nil {
		return decimal.Zero, err
	}

	var balance decimal.Decimal
	err := l.store.Update(ctx, func(tx store.Tx) error {
		acct, err := tx.LockAccount(ctx, accountID)
		if err != nil {
			return err
		}
		if balance, err = l.Debit(ctx, tx, acct, amount); err != nil {
			return err
		}
		_, err = l.trail.RecordCash(ctx, tx, accountID, model.TxWithdraw, amount, l.now())
		return err
	})
	if err != nil {
		return decimal.Zero, err
	}

	slog.Info("withdraw", "account", accountID, "amount", amount.StringFixed(money.Scale),
		"balance", balance.StringFixed(money.Scale))
	return balance, nil
}

// Debit subtracts amount from a locked account inside tx. The balance never
// goes negative. acct is updated in place.
func (l *Ledger) Debit(ctx context.Context, tx store.Tx, acct *model.Account, amount decimal.Decimal) (decimal.Decimal, error) {
	amount = money.Round(amount)
	if amount.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: debit of %s", model.ErrInvalidAmount, amount)
	}
	if acct.CashBalance.LessThan(amount) {
		return decimal.Zero, fmt.Errorf("%w: balance %s, need %s", model.ErrInsufficientFunds,
			acct.CashBalance.StringFixed(money.Scale), amount.StringFixed(money.Scale))
	}
	balance := money.Round(acct.CashBalance.Sub(amount))
	if err := tx.SaveCashBalance(ctx, acct.ID, balance); err != nil {
		return decimal.Zero, err
	}
	acct.CashBalance = balance
	return balance, nil
}

// Credit adds amount to a locked account inside tx. acct is updated in
// place.
func (l *Ledger) Credit(ctx context.Context, tx store.Tx, acct *model.Account, amount decimal.Decimal) (decimal.Decimal, error) {
	amount = money.Round(amount)
	if amount.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: credit of %s", model.ErrInvalidAmount, amount)
	}
	balance := money.Round(acct.CashBalance.Add(amount))
	if balance.GreaterThan(money.MaxAmount) {
		return decimal.Zero, fmt.Errorf("%w: balance would exceed %s", model.ErrInvalidAmount, money.MaxAmount.String())
	}
	if err := tx.SaveCashBalance(ctx, acct.ID, balance); err != nil {
		return decimal.Zero, err
	}
	acct.CashBalance = balance
	return balance, nil
}
