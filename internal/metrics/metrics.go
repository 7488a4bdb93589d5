// Package metrics provides Prometheus instrumentation for the trade engine.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// TradesTotal counts committed trades, partitioned by action.
	TradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "broker_trades_total",
		Help: "Total number of trades executed",
	}, []string{"action"})

	// TradeLatency tracks ExecuteTrade latency, committed or not.
	TradeLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "broker_trade_latency_seconds",
		Help:    "Trade execution latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"action"})

	// Rejections counts refused or failed operations by error kind.
	Rejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "broker_rejections_total",
		Help: "Operations rejected or failed, by reason",
	}, []string{"operation", "reason"})

	// CashMoved sums deposits and withdrawals in dollars.
	CashMoved = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "broker_cash_moved_dollars_total",
		Help: "Cumulative deposits and withdrawals",
	}, []string{"type"})

	// SharesTraded tracks cumulative traded quantity per ticker.
	SharesTraded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "broker_shares_traded_total",
		Help: "Cumulative trade volume in shares",
	}, []string{"ticker", "action"})

	// PriceTicks counts generated price ticks.
	PriceTicks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "broker_price_ticks_total",
		Help: "Price ticks written by the generator",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "broker_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// EventPublishFailures counts events a publisher could not deliver.
	EventPublishFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "broker_event_publish_failures_total",
		Help: "Events dropped by a publisher",
	}, []string{"publisher"})

	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "broker_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "broker_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Route pattern keeps account ids out of the label set.
		path := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			path = rc.RoutePattern()
		}
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Hijack lets websocket upgrades pass through the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	return h.Hijack()
}
