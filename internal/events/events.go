// Package events fans committed ledger activity out to interested
// consumers. Publishing happens after commit and never changes a result.
package events

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/investr/trade-engine/internal/metrics"
)

// Event types.
const (
	TypeTradeExecuted = "trade_executed"
	TypeCashMoved     = "cash_moved"
	TypePriceTick     = "price_tick"
)

// Event is one notification. Key groups related events (an account id or a
// ticker) and becomes the Kafka message key.
type Event struct {
	Type string    `json:"type"`
	Key  string    `json:"key"`
	Time time.Time `json:"time"`
	Data any       `json:"data"`
}

// Publisher delivers events.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// Named tags a publisher for logs and metrics.
type Named struct {
	Name string
	Publisher
}

// Multi publishes to every member, continuing past failures.
type Multi []Named

func (m Multi) Publish(ctx context.Context, e Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, e); err != nil {
			metrics.EventPublishFailures.WithLabelValues(p.Name).Inc()
			slog.Warn("event publish failed", "publisher", p.Name, "type", e.Type, "key", e.Key, "err", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
