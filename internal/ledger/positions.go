package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/investr/trade-engine/internal/idalloc"
	"github.com/investr/trade-engine/internal/model"
	"github.com/investr/trade-engine/internal/store"
)

// Book owns position quantities. A position row exists only while its
// quantity is positive.
type Book struct {
	ids *idalloc.Allocator
}

// NewBook creates a position book.
func NewBook(ids *idalloc.Allocator) *Book {
	return &Book{ids: ids}
}

// Held returns the quantity the account holds of stockID, 0 when there is
// no position.
func (b *Book) Held(ctx context.Context, tx store.Tx, accountID, stockID int64) (int64, error) {
	p, err := tx.Position(ctx, accountID, stockID)
	if errors.Is(err, model.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return p.Quantity, nil
}

// Increase adds qty shares, opening the position at zero first when the
// account holds none. It returns the new quantity.
func (b *Book) Increase(ctx context.Context, tx store.Tx, accountID, stockID, qty int64) (int64, error) {
	if qty <= 0 {
		return 0, fmt.Errorf("%w: %d", model.ErrInvalidQuantity, qty)
	}

	p, err := tx.Position(ctx, accountID, stockID)
	switch {
	case errors.Is(err, model.ErrNotFound):
		id, err := b.ids.Next(ctx, tx, model.KindPosition)
		if err != nil {
			return 0, err
		}
		p = &model.Position{ID: id, AccountID: accountID, StockID: stockID, Quantity: 0}
		p.Quantity += qty
		if err := tx.InsertPosition(ctx, p); err != nil {
			return 0, err
		}
		return p.Quantity, nil
	case err != nil:
		return 0, err
	}

	p.Quantity += qty
	if err := tx.SavePositionQuantity(ctx, p.ID, p.Quantity); err != nil {
		return 0, err
	}
	return p.Quantity, nil
}

// Decrease removes qty shares. Selling exactly the held quantity deletes
// the row. It returns the remaining quantity.
func (b *Book) Decrease(ctx context.Context, tx store.Tx, accountID, stockID, qty int64) (int64, error) {
	if qty <= 0 {
		return 0, fmt.Errorf("%w: %d", model.ErrInvalidQuantity, qty)
	}

	p, err := tx.Position(ctx, accountID, stockID)
	if errors.Is(err, model.ErrNotFound) {
		return 0, fmt.Errorf("%w: account %d holds no stock %d", model.ErrNoPosition, accountID, stockID)
	}
	if err != nil {
		return 0, err
	}
	if qty > p.Quantity {
		return 0, fmt.Errorf("%w: holding %d, selling %d", model.ErrInsufficientShares, p.Quantity, qty)
	}

	remaining := p.Quantity - qty
	if remaining == 0 {
		return 0, tx.DeletePosition(ctx, p.ID)
	}
	if err := tx.SavePositionQuantity(ctx, p.ID, remaining); err != nil {
		return 0, err
	}
	return remaining, nil
}
