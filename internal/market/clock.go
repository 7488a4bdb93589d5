package market

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/investr/trade-engine/internal/model"
	"github.com/investr/trade-engine/internal/store"
)

// Clock decides whether trading is allowed right now from the persisted
// market schedule.
type Clock struct {
	store store.Store
	loc   *time.Location
	now   func() time.Time
}

// NewClock creates a clock evaluating the schedule in loc.
func NewClock(st store.Store, loc *time.Location) *Clock {
	if loc == nil {
		loc = time.UTC
	}
	return &Clock{store: st, loc: loc, now: time.Now}
}

// WithNow replaces the time source. Used in tests.
func (c *Clock) WithNow(now func() time.Time) *Clock {
	c.now = now
	return c
}

// IsOpen reports whether the market is open and, when it is not, why.
func (c *Clock) IsOpen(ctx context.Context) (bool, string) {
	sched, err := c.store.GetMarketSchedule(ctx)
	if errors.Is(err, model.ErrNotFound) {
		return false, "market schedule not configured"
	}
	if err != nil {
		return false, fmt.Sprintf("error checking market hours: %v", err)
	}
	return evaluate(sched, c.now().In(c.loc))
}

func evaluate(s *model.MarketSchedule, now time.Time) (bool, string) {
	if wd := now.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return false, "market is closed on weekends"
	}
	if s.Holiday {
		return false, "market is closed for holiday"
	}
	if s.Status == model.MarketClosed {
		return false, "market is currently closed"
	}

	open := time.Date(now.Year(), now.Month(), now.Day(), s.OpenHour, s.OpenMinute, 0, 0, now.Location())
	close := time.Date(now.Year(), now.Month(), now.Day(), s.CloseHour, s.CloseMinute, 0, 0, now.Location())
	if now.Before(open) {
		return false, "market opens at " + open.Format("03:04 PM")
	}
	if now.After(close) {
		return false, "market closed at " + close.Format("03:04 PM")
	}
	return true, "market is open"
}

// Status is the display view of the schedule.
type Status struct {
	IsOpen    bool               `json:"is_open"`
	Message   string             `json:"message"`
	OpenTime  string             `json:"open_time,omitempty"`
	CloseTime string             `json:"close_time,omitempty"`
	Status    model.MarketStatus `json:"status,omitempty"`
	Holiday   bool               `json:"is_holiday"`
}

// Status combines IsOpen with the configured hours.
func (c *Clock) Status(ctx context.Context) Status {
	open, msg := c.IsOpen(ctx)
	st := Status{IsOpen: open, Message: msg}
	if sched, err := c.store.GetMarketSchedule(ctx); err == nil {
		st.OpenTime = fmt.Sprintf("%02d:%02d", sched.OpenHour, sched.OpenMinute)
		st.CloseTime = fmt.Sprintf("%02d:%02d", sched.CloseHour, sched.CloseMinute)
		st.Status = sched.Status
		st.Holiday = sched.Holiday
	}
	return st
}

// ValidSchedule checks hour and minute ranges and that the market opens
// before it closes.
func ValidSchedule(s *model.MarketSchedule) error {
	if s.Status != model.MarketOpen && s.Status != model.MarketClosed {
		return fmt.Errorf("status must be %s or %s", model.MarketOpen, model.MarketClosed)
	}
	for _, v := range []struct {
		name     string
		val, max int
	}{
		{"open_hour", s.OpenHour, 23},
		{"open_minute", s.OpenMinute, 59},
		{"close_hour", s.CloseHour, 23},
		{"close_minute", s.CloseMinute, 59},
	} {
		if v.val < 0 || v.val > v.max {
			return fmt.Errorf("%s must be between 0 and %d", v.name, v.max)
		}
	}
	if s.OpenHour*60+s.OpenMinute >= s.CloseHour*60+s.CloseMinute {
		return errors.New("market must open before it closes")
	}
	return nil
}
