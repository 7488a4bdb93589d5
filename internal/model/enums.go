package model

import (
	"fmt"
	"strings"
)

// Action is the side of a trade request.
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
)

// ParseAction accepts an action in any letter case.
func ParseAction(s string) (Action, error) {
	switch a := Action(strings.ToUpper(strings.TrimSpace(s))); a {
	case ActionBuy, ActionSell:
		return a, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidAction, s)
}

// OrderStatus is the lifecycle state of an order. Orders are executed at
// the current price in the same commit that creates them, so the only
// persisted status is FILLED.
type OrderStatus string

const OrderFilled OrderStatus = "FILLED"

// TxType tags a cash-affecting audit entry. Trades use BUY and SELL; no
// generic STOCK_TRADE tag is produced.
type TxType string

const (
	TxDeposit  TxType = "DEPOSIT"
	TxWithdraw TxType = "WITHDRAW"
	TxBuy      TxType = "BUY"
	TxSell     TxType = "SELL"
)

// TxTypeFor maps a trade action to its transaction tag.
func TxTypeFor(a Action) TxType {
	if a == ActionSell {
		return TxSell
	}
	return TxBuy
}

// MarketStatus is the manual open/closed switch on the market schedule.
type MarketStatus string

const (
	MarketOpen   MarketStatus = "OPEN"
	MarketClosed MarketStatus = "CLOSED"
)

// Role is the closed set of user roles.
type Role string

const (
	RoleCustomer Role = "CUSTOMER"
	RoleAdmin    Role = "ADMIN"
)

// ParseRole defaults to RoleCustomer for anything unrecognised so that an
// unknown role never gains administrative capability.
func ParseRole(s string) Role {
	if Role(strings.ToUpper(strings.TrimSpace(s))) == RoleAdmin {
		return RoleAdmin
	}
	return RoleCustomer
}

// CanAdminister reports whether the role may create stocks and change
// market hours.
func (r Role) CanAdminister() bool { return r == RoleAdmin }

// IDKind names an entity whose identifiers come from the allocator.
type IDKind string

const (
	KindStock       IDKind = "stock"
	KindOrder       IDKind = "order"
	KindFill        IDKind = "fill"
	KindTransaction IDKind = "transaction"
	KindPosition    IDKind = "position"
	KindAccount     IDKind = "account"
	KindPriceTick   IDKind = "price_tick"
)

// Per-kind identifier bases. Each kind starts far from the others so ids
// never collide with seeded legacy rows sharing the numeric space.
var kindBase = map[IDKind]int64{
	KindStock:       1_000_000,
	KindOrder:       2_000_000_000,
	KindFill:        3_000_000_000,
	KindTransaction: 4_000_000_000,
	KindPosition:    5_000_000_000,
	KindAccount:     6_000_000_000,
	KindPriceTick:   7_000_000_000,
}

// Base returns the starting identifier for the kind.
func (k IDKind) Base() (int64, bool) {
	b, ok := kindBase[k]
	return b, ok
}

// Kinds lists every allocator kind.
func Kinds() []IDKind {
	return []IDKind{KindStock, KindOrder, KindFill, KindTransaction, KindPosition, KindAccount, KindPriceTick}
}
