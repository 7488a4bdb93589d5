// Package money holds the fixed-point rules every cash amount goes through:
// two decimal places, rounded half-up.
package money

import (
	"fmt"

	gomoney "github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"

	"github.com/investr/trade-engine/internal/model"
)

// Scale is the number of decimal places carried by every cash amount.
const Scale int32 = 2

// Currency is the account currency.
const Currency = gomoney.USD

// Column limits of the persisted schema: balances and cash amounts are
// NUMERIC(14, 2), prices NUMERIC(12, 2).
var (
	MaxAmount = decimal.RequireFromString("999999999999.99")
	MaxPrice  = decimal.RequireFromString("9999999999.99")
)

// Round rounds to two places, half away from zero. Amounts are non-negative
// wherever rounding happens, so this is round-half-up.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(Scale)
}

// ValidAmount rejects amounts that are not strictly positive, that carry
// more than two significant decimal places, or that exceed MaxAmount.
func ValidAmount(d decimal.Decimal) error {
	if !d.IsPositive() {
		return fmt.Errorf("%w: %s must be greater than zero", model.ErrInvalidAmount, d.String())
	}
	if !d.Equal(d.Truncate(Scale)) {
		return fmt.Errorf("%w: %s has more than %d decimal places", model.ErrInvalidAmount, d.String(), Scale)
	}
	if d.GreaterThan(MaxAmount) {
		return fmt.Errorf("%w: %s exceeds %s", model.ErrInvalidAmount, d.String(), MaxAmount.String())
	}
	return nil
}

// ValidPrice is ValidAmount with the tighter MaxPrice bound.
func ValidPrice(d decimal.Decimal) error {
	if err := ValidAmount(d); err != nil {
		return err
	}
	if d.GreaterThan(MaxPrice) {
		return fmt.Errorf("%w: price %s exceeds %s", model.ErrInvalidAmount, d.String(), MaxPrice.String())
	}
	return nil
}

// Notional is price × quantity rounded to cents before it touches a balance.
func Notional(price decimal.Decimal, quantity int64) decimal.Decimal {
	return Round(price.Mul(decimal.NewFromInt(quantity)))
}

// Format renders an amount as a currency string, e.g. "$1,050.00".
func Format(d decimal.Decimal) string {
	cents := Round(d).Shift(Scale).IntPart()
	return gomoney.New(cents, Currency).Display()
}
