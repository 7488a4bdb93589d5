package trade

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/investr/trade-engine/internal/market"
	"github.com/investr/trade-engine/internal/model"
	"github.com/investr/trade-engine/internal/symbol"
)

// RoleHeader carries the caller's role. Authentication happens upstream.
const RoleHeader = "X-Role"

var validate = validator.New()

// OpenAccountRequest is the JSON body for POST /accounts.
type OpenAccountRequest struct {
	UserID int64 `json:"user_id" validate:"required,gt=0"`
}

// CashRequest is the JSON body for deposits and withdrawals.
type CashRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// AddStockRequest is the JSON body for POST /stocks.
type AddStockRequest struct {
	Ticker       string          `json:"ticker" validate:"required,max=10"`
	CompanyName  string          `json:"company_name" validate:"required,max=100"`
	InitialPrice decimal.Decimal `json:"initial_price"`
	FloatShares  int64           `json:"float_shares" validate:"gte=0"`
}

// ScheduleRequest is the JSON body for PUT /market/schedule.
type ScheduleRequest struct {
	Status      string `json:"status" validate:"required,oneof=OPEN CLOSED"`
	OpenHour    int    `json:"open_hour" validate:"gte=0,lte=23"`
	OpenMinute  int    `json:"open_minute" validate:"gte=0,lte=59"`
	CloseHour   int    `json:"close_hour" validate:"gte=0,lte=23"`
	CloseMinute int    `json:"close_minute" validate:"gte=0,lte=59"`
	Holiday     bool   `json:"holiday"`
}

// Routes returns the /api/v1 router. status may be nil when no clock is
// available for GET /market/status.
func (s *Service) Routes(status *market.Clock) chi.Router {
	r := chi.NewRouter()

	r.Post("/accounts", s.HandleOpenAccount)
	r.Route("/accounts/{accountID}", func(r chi.Router) {
		r.Get("/", s.HandleGetAccount)
		r.Post("/deposit", s.HandleDeposit)
		r.Post("/withdraw", s.HandleWithdraw)
		r.Get("/positions", s.HandlePositions)
		r.Get("/equity", s.HandleEquity)
		r.Get("/orders", s.HandleOrders)
		r.Get("/orders/{orderID}/fills", s.HandleFills)
		r.Get("/transactions", s.HandleTransactions)
	})

	r.Get("/users/{userID}/account", s.HandleAccountOf)

	r.Post("/trade", s.HandleTrade)

	r.Get("/stocks", s.HandleListStocks)
	r.Get("/stocks/{ticker}", s.HandleGetStock)
	r.Get("/stocks/{ticker}/history", s.HandleStockHistory)

	if status != nil {
		r.Get("/market/status", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, status.Status(r.Context()))
		})
	}

	r.Group(func(r chi.Router) {
		r.Use(RequireAdmin)
		r.Post("/stocks", s.HandleAddStock)
		r.Put("/market/schedule", s.HandleSetSchedule)
	})
	return r
}

// RequireAdmin rejects callers whose role cannot administer.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !model.ParseRole(r.Header.Get(RoleHeader)).CanAdminister() {
			writeError(w, "admin role required", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// --- HTTP Handlers ---

// HandleOpenAccount handles POST /api/v1/accounts
func (s *Service) HandleOpenAccount(w http.ResponseWriter, r *http.Request) {
	var req OpenAccountRequest
	if !decode(w, r, &req) {
		return
	}
	acct, err := s.OpenAccount(r.Context(), req.UserID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, acct)
}

// HandleGetAccount handles GET /api/v1/accounts/{accountID}
func (s *Service) HandleGetAccount(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(w, r)
	if !ok {
		return
	}
	acct, err := s.Account(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

// HandleAccountOf handles GET /api/v1/users/{userID}/account
func (s *Service) HandleAccountOf(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(w, r, "userID")
	if !ok {
		return
	}
	acct, err := s.AccountOf(r.Context(), userID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

// HandleDeposit handles POST /api/v1/accounts/{accountID}/deposit
func (s *Service) HandleDeposit(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(w, r)
	if !ok {
		return
	}
	var req CashRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := s.Deposit(r.Context(), id, req.Amount)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// HandleWithdraw handles POST /api/v1/accounts/{accountID}/withdraw
func (s *Service) HandleWithdraw(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(w, r)
	if !ok {
		return
	}
	var req CashRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := s.Withdraw(r.Context(), id, req.Amount)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// HandleTrade handles POST /api/v1/trade
func (s *Service) HandleTrade(w http.ResponseWriter, r *http.Request) {
	var req TradeRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := s.ExecuteTrade(r.Context(), req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// HandlePositions handles GET /api/v1/accounts/{accountID}/positions
func (s *Service) HandlePositions(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(w, r)
	if !ok {
		return
	}
	holdings, err := s.Positions(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, holdings)
}

// HandleEquity handles GET /api/v1/accounts/{accountID}/equity
func (s *Service) HandleEquity(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(w, r)
	if !ok {
		return
	}
	eq, err := s.Equity(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, eq)
}

// HandleOrders handles GET /api/v1/accounts/{accountID}/orders
func (s *Service) HandleOrders(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(w, r)
	if !ok {
		return
	}
	orders, err := s.Orders(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if orders == nil {
		orders = []model.Order{}
	}
	writeJSON(w, http.StatusOK, orders)
}

// HandleFills handles GET /api/v1/accounts/{accountID}/orders/{orderID}/fills
func (s *Service) HandleFills(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(w, r)
	if !ok {
		return
	}
	orderID, ok := pathID(w, r, "orderID")
	if !ok {
		return
	}
	fills, err := s.Fills(r.Context(), id, orderID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, fills)
}

// HandleTransactions handles GET /api/v1/accounts/{accountID}/transactions
func (s *Service) HandleTransactions(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(w, r)
	if !ok {
		return
	}
	txns, err := s.Transactions(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if txns == nil {
		txns = []model.Transaction{}
	}
	writeJSON(w, http.StatusOK, txns)
}

// HandleListStocks handles GET /api/v1/stocks
func (s *Service) HandleListStocks(w http.ResponseWriter, r *http.Request) {
	stocks, err := s.store.ListStocks(r.Context())
	if err != nil {
		writeError(w, "failed to list stocks", http.StatusInternalServerError)
		return
	}
	if stocks == nil {
		stocks = []model.Stock{}
	}
	writeJSON(w, http.StatusOK, stocks)
}

// HandleGetStock handles GET /api/v1/stocks/{ticker}
func (s *Service) HandleGetStock(w http.ResponseWriter, r *http.Request) {
	st, ok := s.stockParam(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// HandleStockHistory handles GET /api/v1/stocks/{ticker}/history?limit=N
func (s *Service) HandleStockHistory(w http.ResponseWriter, r *http.Request) {
	st, ok := s.stockParam(w, r)
	if !ok {
		return
	}
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 1000 {
			writeError(w, "limit must be between 1 and 1000", http.StatusBadRequest)
			return
		}
		limit = n
	}
	ticks, err := s.store.ListPriceTicks(r.Context(), st.ID, limit)
	if err != nil {
		writeError(w, "failed to load price history", http.StatusInternalServerError)
		return
	}
	if ticks == nil {
		ticks = []model.PriceTick{}
	}
	writeJSON(w, http.StatusOK, ticks)
}

// HandleAddStock handles POST /api/v1/stocks (admin)
func (s *Service) HandleAddStock(w http.ResponseWriter, r *http.Request) {
	var req AddStockRequest
	if !decode(w, r, &req) {
		return
	}
	listing, err := symbol.ParseListing(req.Ticker, req.CompanyName, req.InitialPrice, req.FloatShares)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	st, err := s.AddStock(r.Context(), listing)
	if errors.Is(err, model.ErrConflict) {
		writeError(w, "ticker already listed: "+listing.Ticker, http.StatusConflict)
		return
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, st)
}

// HandleSetSchedule handles PUT /api/v1/market/schedule (admin)
func (s *Service) HandleSetSchedule(w http.ResponseWriter, r *http.Request) {
	var req ScheduleRequest
	if !decode(w, r, &req) {
		return
	}
	sched := &model.MarketSchedule{
		Status:      model.MarketStatus(req.Status),
		OpenHour:    req.OpenHour,
		OpenMinute:  req.OpenMinute,
		CloseHour:   req.CloseHour,
		CloseMinute: req.CloseMinute,
		Holiday:     req.Holiday,
	}
	if err := market.ValidSchedule(sched); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.SetSchedule(r.Context(), sched); err != nil {
		writeError(w, "failed to save schedule", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, sched)
}

// --- helpers ---

func (s *Service) stockParam(w http.ResponseWriter, r *http.Request) (*model.Stock, bool) {
	ticker, err := symbol.Normalize(chi.URLParam(r, "ticker"))
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return nil, false
	}
	st, err := s.store.GetStockByTicker(r.Context(), ticker)
	if err != nil {
		writeDomainError(w, err)
		return nil, false
	}
	return st, true
}

func accountID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	return pathID(w, r, "accountID")
}

// pathID parses a positive integer URL parameter, writing a 400 otherwise.
func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, "invalid "+strings.TrimSuffix(name, "ID")+" id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

// decode reads and validates a JSON body, writing a 400 on failure.
func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	if err := validate.Struct(dst); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

// StatusFor maps an error to its HTTP status.
func StatusFor(err error) int {
	switch model.KindOf(err) {
	case "invalid_amount", "invalid_quantity", "invalid_action",
		"insufficient_funds", "insufficient_shares", "no_position":
		return http.StatusBadRequest
	case "unknown_stock", "not_found":
		return http.StatusNotFound
	case "market_closed", "conflict":
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// writeDomainError writes the stable message of err's kind. Details are
// included for client errors only.
func writeDomainError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	body := map[string]string{
		"error": model.MessageOf(err),
		"code":  model.KindOf(err),
	}
	if status < http.StatusInternalServerError {
		body["detail"] = err.Error()
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
