// Package trade executes trades and cash movements against the ledger and
// serves them over HTTP.
//
// All monetary values use shopspring/decimal, never float64.
package trade

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/investr/trade-engine/internal/events"
	"github.com/investr/trade-engine/internal/idalloc"
	"github.com/investr/trade-engine/internal/ledger"
	"github.com/investr/trade-engine/internal/market"
	"github.com/investr/trade-engine/internal/metrics"
	"github.com/investr/trade-engine/internal/model"
	"github.com/investr/trade-engine/internal/money"
	"github.com/investr/trade-engine/internal/store"
	"github.com/investr/trade-engine/internal/symbol"
)

// MarketClock gates trading.
type MarketClock interface {
	IsOpen(ctx context.Context) (bool, string)
}

// Service executes trades. Trades on one account are serialized by the
// store's account lock inside each unit of work; trades on different
// accounts run in parallel.
type Service struct {
	store  store.Store
	ids    *idalloc.Allocator
	ledger *ledger.Ledger
	book   *ledger.Book
	trail  *ledger.Trail
	prices market.PriceSource
	clock  MarketClock
	pub    events.Publisher
	now    func() time.Time
}

// NewService creates a trade service. ids must be the allocator shared by
// every writer in the process. Pass nil for pub if events are not needed.
func NewService(st store.Store, ids *idalloc.Allocator, prices market.PriceSource, clock MarketClock, pub events.Publisher) *Service {
	if pub == nil {
		pub = events.Nop{}
	}
	trail := ledger.NewTrail(st, ids)
	return &Service{
		store:  st,
		ids:    ids,
		ledger: ledger.New(st, ids, trail),
		book:   ledger.NewBook(ids),
		trail:  trail,
		prices: prices,
		clock:  clock,
		pub:    pub,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// --- Request/Response types ---

// TradeRequest is the JSON body for POST /trade.
type TradeRequest struct {
	AccountID int64  `json:"account_id" validate:"required,gt=0"`
	Ticker    string `json:"ticker" validate:"required,max=16"`
	Action    string `json:"action" validate:"required"`
	Quantity  int64  `json:"quantity"`
}

// TradeResult is returned for a committed trade.
type TradeResult struct {
	OrderID       int64           `json:"order_id"`
	FillID        int64           `json:"fill_id"`
	TransactionID int64           `json:"transaction_id"`
	CommitID      string          `json:"commit_id"`
	AccountID     int64           `json:"account_id"`
	Ticker        string          `json:"ticker"`
	Action        model.Action    `json:"action"`
	Quantity      int64           `json:"quantity"`
	Price         decimal.Decimal `json:"price"`
	Notional      decimal.Decimal `json:"notional"`
	CashBalance   decimal.Decimal `json:"cash_balance"`
	PositionQty   int64           `json:"position_quantity"`
	ExecutedAt    time.Time       `json:"executed_at"`
}

// CashResult is returned for a committed deposit or withdrawal.
type CashResult struct {
	AccountID   int64           `json:"account_id"`
	Type        model.TxType    `json:"type"`
	Amount      decimal.Decimal `json:"amount"`
	CashBalance decimal.Decimal `json:"cash_balance"`
}

// --- Trade execution ---

// ExecuteTrade validates and commits one market order at the current
// price. Checks run in this order: market hours, quantity and action,
// price lookup, then funds or holdings under the account lock. A rejected
// request changes nothing.
func (s *Service) ExecuteTrade(ctx context.Context, req TradeRequest) (*TradeResult, error) {
	start := time.Now()
	res, err := s.executeTrade(ctx, req)
	metrics.TradeLatency.WithLabelValues(actionLabel(req.Action)).Observe(time.Since(start).Seconds())
	if err != nil {
		s.reject("trade", err,
			"account", req.AccountID, "ticker", req.Ticker, "action", req.Action, "quantity", req.Quantity)
		return nil, err
	}

	metrics.TradesTotal.WithLabelValues(string(res.Action)).Inc()
	metrics.SharesTraded.WithLabelValues(res.Ticker, string(res.Action)).Add(float64(res.Quantity))
	slog.Info("trade executed",
		"account", res.AccountID,
		"ticker", res.Ticker,
		"action", res.Action,
		"quantity", res.Quantity,
		"price", res.Price.StringFixed(money.Scale),
		"notional", res.Notional.StringFixed(money.Scale),
		"balance", res.CashBalance.StringFixed(money.Scale),
		"order", res.OrderID,
		"commit", res.CommitID,
	)
	s.publish(ctx, events.TypeTradeExecuted, res.AccountID, res)
	return res, nil
}

func (s *Service) executeTrade(ctx context.Context, req TradeRequest) (*TradeResult, error) {
	if open, reason := s.clock.IsOpen(ctx); !open {
		return nil, fmt.Errorf("%w: %s", model.ErrMarketClosed, reason)
	}
	if req.Quantity <= 0 {
		return nil, fmt.Errorf("%w: quantity must be a positive integer, got %d", model.ErrInvalidQuantity, req.Quantity)
	}
	action, err := model.ParseAction(req.Action)
	if err != nil {
		return nil, err
	}
	ticker, err := symbol.Normalize(req.Ticker)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", model.ErrUnknownStock, err)
	}

	// The price read here is the price settled at commit.
	stock, err := s.prices.CurrentPrice(ctx, ticker)
	if err != nil {
		return nil, classify(err)
	}
	price := stock.CurrentPrice
	notional := money.Notional(price, req.Quantity)
	now := s.now()

	res := &TradeResult{
		AccountID:  req.AccountID,
		Ticker:     stock.Ticker,
		Action:     action,
		Quantity:   req.Quantity,
		Price:      price,
		Notional:   notional,
		ExecutedAt: now,
	}
	err = s.store.Update(ctx, func(tx store.Tx) error {
		acct, err := tx.LockAccount(ctx, req.AccountID)
		if err != nil {
			return err
		}

		switch action {
		case model.ActionBuy:
			if res.CashBalance, err = s.ledger.Debit(ctx, tx, acct, notional); err != nil {
				return err
			}
			if res.PositionQty, err = s.book.Increase(ctx, tx, acct.ID, stock.ID, req.Quantity); err != nil {
				return err
			}
		case model.ActionSell:
			if res.PositionQty, err = s.book.Decrease(ctx, tx, acct.ID, stock.ID, req.Quantity); err != nil {
				return err
			}
			if res.CashBalance, err = s.ledger.Credit(ctx, tx, acct, notional); err != nil {
				return err
			}
		}

		rc, err := s.trail.RecordTrade(ctx, tx, ledger.TradeEntry{
			AccountID: acct.ID,
			StockID:   stock.ID,
			Action:    action,
			Quantity:  req.Quantity,
			Price:     price,
			Notional:  notional,
			At:        now,
		})
		if err != nil {
			return err
		}
		res.OrderID, res.FillID, res.TransactionID, res.CommitID = rc.OrderID, rc.FillID, rc.TransactionID, rc.CommitID
		return nil
	})
	if err != nil {
		return nil, classify(err)
	}
	return res, nil
}

// --- Cash movements ---

// Deposit adds cash to an account.
func (s *Service) Deposit(ctx context.Context, accountID int64, amount decimal.Decimal) (*CashResult, error) {
	balance, err := s.ledger.Deposit(ctx, accountID, amount)
	if err != nil {
		err = classify(err)
		s.reject("deposit", err, "account", accountID, "amount", amount.String())
		return nil, err
	}
	return s.cashMoved(ctx, accountID, model.TxDeposit, amount, balance), nil
}

// Withdraw removes cash from an account.
func (s *Service) Withdraw(ctx context.Context, accountID int64, amount decimal.Decimal) (*CashResult, error) {
	balance, err := s.ledger.Withdraw(ctx, accountID, amount)
	if err != nil {
		err = classify(err)
		s.reject("withdraw", err, "account", accountID, "amount", amount.String())
		return nil, err
	}
	return s.cashMoved(ctx, accountID, model.TxWithdraw, amount, balance), nil
}

func (s *Service) cashMoved(ctx context.Context, accountID int64, typ model.TxType, amount, balance decimal.Decimal) *CashResult {
	res := &CashResult{AccountID: accountID, Type: typ, Amount: amount, CashBalance: balance}
	metrics.CashMoved.WithLabelValues(string(typ)).Add(amount.InexactFloat64())
	s.publish(ctx, events.TypeCashMoved, accountID, res)
	return res
}

// OpenAccount registers the account of a user.
func (s *Service) OpenAccount(ctx context.Context, userID int64) (*model.Account, error) {
	acct, err := s.ledger.OpenAccount(ctx, userID)
	if err != nil {
		if !errors.Is(err, model.ErrConflict) {
			err = classify(err)
		}
		s.reject("open_account", err, "user", userID)
		return nil, err
	}
	return acct, nil
}

// --- Queries ---

// Account returns an account.
func (s *Service) Account(ctx context.Context, accountID int64) (*model.Account, error) {
	return s.store.GetAccount(ctx, accountID)
}

// AccountOf returns the account owned by a user.
func (s *Service) AccountOf(ctx context.Context, userID int64) (*model.Account, error) {
	return s.store.GetAccountByUser(ctx, userID)
}

// Positions returns the account's holdings ordered by ticker, each valued
// at the stock's current price.
func (s *Service) Positions(ctx context.Context, accountID int64) ([]model.Holding, error) {
	if _, err := s.store.GetAccount(ctx, accountID); err != nil {
		return nil, err
	}
	positions, err := s.store.ListPositions(ctx, accountID)
	if err != nil {
		return nil, err
	}

	holdings := make([]model.Holding, 0, len(positions))
	for _, p := range positions {
		st, err := s.store.GetStock(ctx, p.StockID)
		if err != nil {
			return nil, err
		}
		holdings = append(holdings, model.Holding{
			Ticker:      st.Ticker,
			Quantity:    p.Quantity,
			Price:       st.CurrentPrice,
			MarketValue: money.Notional(st.CurrentPrice, p.Quantity),
		})
	}
	return holdings, nil
}

// Equity is cash plus the market value of every position. Cash and
// holdings come from one unit of work holding the account lock, so a trade
// committing alongside is either fully counted or not at all.
func (s *Service) Equity(ctx context.Context, accountID int64) (*model.Equity, error) {
	eq := &model.Equity{AccountID: accountID}
	err := s.store.Update(ctx, func(tx store.Tx) error {
		acct, err := tx.LockAccount(ctx, accountID)
		if err != nil {
			return err
		}
		stocks, err := tx.Stocks(ctx)
		if err != nil {
			return err
		}

		eq.Cash = acct.CashBalance
		eq.Holdings = make([]model.Holding, 0)
		for _, st := range stocks {
			qty, err := s.book.Held(ctx, tx, acct.ID, st.ID)
			if err != nil {
				return err
			}
			if qty == 0 {
				continue
			}
			eq.Holdings = append(eq.Holdings, model.Holding{
				Ticker:      st.Ticker,
				Quantity:    qty,
				Price:       st.CurrentPrice,
				MarketValue: money.Notional(st.CurrentPrice, qty),
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	value := decimal.Zero
	for _, h := range eq.Holdings {
		value = value.Add(h.MarketValue)
	}
	eq.MarketValue = money.Round(value)
	eq.Total = money.Round(eq.Cash.Add(value))
	return eq, nil
}

// Orders returns the account's order history.
func (s *Service) Orders(ctx context.Context, accountID int64) ([]model.Order, error) {
	return s.trail.Orders(ctx, accountID)
}

// Fills returns the executions of one of the account's orders. An order of
// another account is reported as not found.
func (s *Service) Fills(ctx context.Context, accountID, orderID int64) ([]model.Fill, error) {
	orders, err := s.trail.Orders(ctx, accountID)
	if err != nil {
		return nil, err
	}
	for _, o := range orders {
		if o.ID == orderID {
			return s.trail.Fills(ctx, orderID)
		}
	}
	return nil, fmt.Errorf("%w: order %d of account %d", model.ErrNotFound, orderID, accountID)
}

// Transactions returns the account's cash history.
func (s *Service) Transactions(ctx context.Context, accountID int64) ([]model.Transaction, error) {
	return s.trail.Transactions(ctx, accountID)
}

// --- Administration ---

// AddStock lists a new stock at its initial price.
func (s *Service) AddStock(ctx context.Context, l *symbol.Listing) (*model.Stock, error) {
	price := money.Round(l.InitialPrice)
	st := &model.Stock{
		Ticker:       l.Ticker,
		CompanyName:  l.CompanyName,
		InitialPrice: price,
		OpeningPrice: price,
		CurrentPrice: price,
		DayHigh:      price,
		DayLow:       price,
		FloatShares:  l.FloatShares,
		CreatedAt:    s.now(),
	}
	err := s.store.Update(ctx, func(tx store.Tx) error {
		id, err := s.ids.Next(ctx, tx, model.KindStock)
		if err != nil {
			return err
		}
		st.ID = id
		return tx.InsertStock(ctx, st)
	})
	if err != nil {
		return nil, err
	}

	slog.Info("stock listed", "id", st.ID, "ticker", st.Ticker, "price", price.StringFixed(money.Scale))
	return st, nil
}

// SetSchedule replaces the market schedule.
func (s *Service) SetSchedule(ctx context.Context, sched *model.MarketSchedule) error {
	if err := market.ValidSchedule(sched); err != nil {
		return err
	}
	if err := s.store.SaveMarketSchedule(ctx, sched); err != nil {
		return err
	}
	slog.Info("market schedule updated", "status", sched.Status,
		"open", fmt.Sprintf("%02d:%02d", sched.OpenHour, sched.OpenMinute),
		"close", fmt.Sprintf("%02d:%02d", sched.CloseHour, sched.CloseMinute),
		"holiday", sched.Holiday)
	return nil
}

// --- helpers ---

// classify passes domain errors through and reports anything else as a
// commit failure.
func classify(err error) error {
	switch model.KindOf(err) {
	case "internal", "conflict":
		return fmt.Errorf("%w: %w", model.ErrCommitFailure, err)
	}
	return err
}

func (s *Service) reject(op string, err error, args ...any) {
	kind := model.KindOf(err)
	metrics.Rejections.WithLabelValues(op, kind).Inc()
	args = append(args, "reason", kind, "err", err)
	if model.IsRejection(err) {
		slog.Warn(op+" rejected", args...)
		return
	}
	slog.Error(op+" failed", args...)
}

func (s *Service) publish(ctx context.Context, typ string, accountID int64, data any) {
	ctx = context.WithoutCancel(ctx) // events outlive the request
	s.pub.Publish(ctx, events.Event{
		Type: typ,
		Key:  strconv.FormatInt(accountID, 10),
		Time: s.now(),
		Data: data,
	})
}

func actionLabel(a string) string {
	if act, err := model.ParseAction(a); err == nil {
		return string(act)
	}
	return "invalid"
}
