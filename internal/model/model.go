// Package model defines the core domain types shared across the trade engine.
// All monetary values use shopspring/decimal, never float64.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account is a user's brokerage wallet. CashBalance is only ever mutated by
// the account ledger and never goes below zero.
type Account struct {
	ID          int64           `json:"id" db:"id"`
	UserID      int64           `json:"user_id" db:"user_id"`
	CashBalance decimal.Decimal `json:"cash_balance" db:"cash_balance"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
}

// Stock is a tradable instrument. Price fields are written by the price
// generator and by administrative creation; the trade core only reads them.
type Stock struct {
	ID           int64           `json:"id" db:"id"`
	Ticker       string          `json:"ticker" db:"ticker"`
	CompanyName  string          `json:"company_name" db:"company_name"`
	InitialPrice decimal.Decimal `json:"initial_price" db:"initial_price"`
	OpeningPrice decimal.Decimal `json:"opening_price" db:"opening_price"`
	CurrentPrice decimal.Decimal `json:"current_price" db:"current_price"`
	DayHigh      decimal.Decimal `json:"day_high" db:"day_high"`
	DayLow       decimal.Decimal `json:"day_low" db:"day_low"`
	FloatShares  int64           `json:"float_shares" db:"float_shares"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
}

// Position is the held quantity of one stock for one account.
// A row only exists while Quantity > 0.
type Position struct {
	ID        int64  `json:"id" db:"id"`
	AccountID int64  `json:"account_id" db:"account_id"`
	StockID   int64  `json:"stock_id" db:"stock_id"`
	Ticker    string `json:"ticker"` // joined from stocks on reads
	Quantity  int64  `json:"quantity" db:"quantity"`
}

// Order is an accepted instruction to buy or sell. Immutable once created.
type Order struct {
	ID         int64       `json:"id" db:"id"`
	AccountID  int64       `json:"account_id" db:"account_id"`
	StockID    int64       `json:"stock_id" db:"stock_id"`
	Ticker     string      `json:"ticker"` // joined from stocks on reads
	Action     Action      `json:"action" db:"action"`
	Quantity   int64       `json:"quantity" db:"quantity"`
	Status     OrderStatus `json:"status" db:"status"`
	CommitID   string      `json:"commit_id" db:"commit_id"`
	CreatedAt  time.Time   `json:"created_at" db:"created_at"`
	ExecutedAt time.Time   `json:"executed_at" db:"executed_at"`
}

// Fill is the executed price/quantity record of an order (one per order).
type Fill struct {
	ID         int64           `json:"id" db:"id"`
	OrderID    int64           `json:"order_id" db:"order_id"`
	Price      decimal.Decimal `json:"price" db:"price"`
	Quantity   int64           `json:"quantity" db:"quantity"`
	ExecutedAt time.Time       `json:"executed_at" db:"executed_at"`
}

// Transaction is the append-only audit entry of a cash-affecting event.
type Transaction struct {
	ID        int64           `json:"id" db:"id"`
	AccountID int64           `json:"account_id" db:"account_id"`
	Type      TxType          `json:"type" db:"type"`
	Amount    decimal.Decimal `json:"amount" db:"amount"`
	CommitID  string          `json:"commit_id" db:"commit_id"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}

// PriceTick is one point of a stock's generated price history.
type PriceTick struct {
	ID        int64           `json:"id" db:"id"`
	StockID   int64           `json:"stock_id" db:"stock_id"`
	Price     decimal.Decimal `json:"price" db:"price"`
	Timestamp time.Time       `json:"timestamp" db:"timestamp"`
}

// MarketSchedule holds the trading-hours configuration. Hours are wall-clock
// times in the market's location.
type MarketSchedule struct {
	Status      MarketStatus `json:"status" db:"status"`
	OpenHour    int          `json:"open_hour" db:"open_hour"`
	OpenMinute  int          `json:"open_minute" db:"open_minute"`
	CloseHour   int          `json:"close_hour" db:"close_hour"`
	CloseMinute int          `json:"close_minute" db:"close_minute"`
	Holiday     bool         `json:"holiday" db:"holiday"`
}

// Holding is one line of an account's positions valued at the current price.
type Holding struct {
	Ticker      string          `json:"ticker"`
	Quantity    int64           `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
	MarketValue decimal.Decimal `json:"market_value"`
}

// Equity is cash plus the market value of every held position.
type Equity struct {
	AccountID   int64           `json:"account_id"`
	Cash        decimal.Decimal `json:"cash"`
	MarketValue decimal.Decimal `json:"market_value"`
	Total       decimal.Decimal `json:"total"`
	Holdings    []Holding       `json:"holdings"`
}
