package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/investr/trade-engine/internal/idalloc"
	"github.com/investr/trade-engine/internal/model"
	"github.com/investr/trade-engine/internal/money"
	"github.com/investr/trade-engine/internal/store"
)

// Trail is the append-only audit log of orders, fills and transactions.
// There is no way to change or remove an entry once written.
type Trail struct {
	store store.Store
	ids   *idalloc.Allocator
}

// NewTrail creates an audit trail.
func NewTrail(st store.Store, ids *idalloc.Allocator) *Trail {
	return &Trail{store: st, ids: ids}
}

// TradeEntry describes an executed trade to be recorded.
type TradeEntry struct {
	AccountID int64
	StockID   int64
	Action    model.Action
	Quantity  int64
	Price     decimal.Decimal
	Notional  decimal.Decimal
	At        time.Time
}

// Receipt holds the identifiers written for one trade.
type Receipt struct {
	OrderID       int64
	FillID        int64
	TransactionID int64
	CommitID      string
}

// RecordTrade appends one FILLED order, its fill and the matching BUY or
// SELL transaction inside tx. The three rows share a commit id.
func (t *Trail) RecordTrade(ctx context.Context, tx store.Tx, e TradeEntry) (Receipt, error) {
	rc := Receipt{CommitID: uuid.New().String()}

	var err error
	if rc.OrderID, err = t.ids.Next(ctx, tx, model.KindOrder); err != nil {
		return Receipt{}, err
	}
	order := &model.Order{
		ID:         rc.OrderID,
		AccountID:  e.AccountID,
		StockID:    e.StockID,
		Action:     e.Action,
		Quantity:   e.Quantity,
		Status:     model.OrderFilled,
		CommitID:   rc.CommitID,
		CreatedAt:  e.At,
		ExecutedAt: e.At,
	}
	if err := tx.InsertOrder(ctx, order); err != nil {
		return Receipt{}, err
	}

	if rc.FillID, err = t.ids.Next(ctx, tx, model.KindFill); err != nil {
		return Receipt{}, err
	}
	fill := &model.Fill{
		ID:         rc.FillID,
		OrderID:    rc.OrderID,
		Price:      e.Price,
		Quantity:   e.Quantity,
		ExecutedAt: e.At,
	}
	if err := tx.InsertFill(ctx, fill); err != nil {
		return Receipt{}, err
	}

	if rc.TransactionID, err = t.ids.Next(ctx, tx, model.KindTransaction); err != nil {
		return Receipt{}, err
	}
	txn := &model.Transaction{
		ID:        rc.TransactionID,
		AccountID: e.AccountID,
		Type:      model.TxTypeFor(e.Action),
		Amount:    money.Round(e.Notional),
		CommitID:  rc.CommitID,
		CreatedAt: e.At,
	}
	if err := tx.InsertTransaction(ctx, txn); err != nil {
		return Receipt{}, err
	}
	return rc, nil
}

// RecordCash appends a DEPOSIT or WITHDRAW transaction inside tx.
func (t *Trail) RecordCash(ctx context.Context, tx store.Tx, accountID int64, typ model.TxType, amount decimal.Decimal, at time.Time) (int64, error) {
	id, err := t.ids.Next(ctx, tx, model.KindTransaction)
	if err != nil {
		return 0, err
	}
	txn := &model.Transaction{
		ID:        id,
		AccountID: accountID,
		Type:      typ,
		Amount:    money.Round(amount),
		CommitID:  uuid.New().String(),
		CreatedAt: at,
	}
	return id, tx.InsertTransaction(ctx, txn)
}

// Orders returns an account's orders, oldest first.
func (t *Trail) Orders(ctx context.Context, accountID int64) ([]model.Order, error) {
	return t.store.ListOrders(ctx, accountID)
}

// Fills returns the fills of an order.
func (t *Trail) Fills(ctx context.Context, orderID int64) ([]model.Fill, error) {
	return t.store.ListFills(ctx, orderID)
}

// Transactions returns an account's cash audit entries, oldest first.
func (t *Trail) Transactions(ctx context.Context, accountID int64) ([]model.Transaction, error) {
	return t.store.ListTransactions(ctx, accountID)
}
