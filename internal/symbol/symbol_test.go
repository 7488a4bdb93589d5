package symbol

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/investr/trade-engine/internal/model"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func TestNormalize_Valid(t *testing.T) {
	tests := map[string]string{
		"AAPL":       "AAPL",
		" msft ":     "MSFT",
		"brk.b":      "BRK.B",
		"X":          "X",
		"ABCDEFGHIJ": "ABCDEFGHIJ",
	}
	for in, want := range tests {
		got, err := Normalize(in)
		if err != nil {
			t.Errorf("Normalize(%q): unexpected error: %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("Normalize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNormalize_Invalid(t *testing.T) {
	tests := []string{
		"",
		"   ",
		"1ABC",        // leading digit
		".A",          // leading separator
		"ABCDEFGHIJK", // too long
		"AB-C",
		"A B",
	}
	for _, ticker := range tests {
		_, err := Normalize(ticker)
		if !errors.Is(err, ErrInvalidTicker) {
			t.Errorf("expected ErrInvalidTicker for %q, got %v", ticker, err)
		}
	}
}

func TestParseListing(t *testing.T) {
	l, err := ParseListing("acme", " Acme Corp ", d(50.25), 1_000_000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if l.Ticker != "ACME" || l.CompanyName != "Acme Corp" {
		t.Errorf("unexpected listing %+v", l)
	}
	if !l.InitialPrice.Equal(d(50.25)) {
		t.Errorf("expected price 50.25, got %s", l.InitialPrice)
	}
}

func TestParseListing_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		ticker  string
		company string
		price   decimal.Decimal
		float   int64
	}{
		{"bad ticker", "1X", "Acme", d(10), 0},
		{"empty company", "ACME", " ", d(10), 0},
		{"zero price", "ACME", "Acme", d(0), 0},
		{"sub-cent price", "ACME", "Acme", d(10.001), 0},
		{"negative float", "ACME", "Acme", d(10), -1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ParseListing(tc.ticker, tc.company, tc.price, tc.float); err == nil {
				t.Error("expected error")
			}
		})
	}

	_, err := ParseListing("ACME", "Acme", d(-1), 0)
	if !errors.Is(err, model.ErrInvalidAmount) {
		t.Errorf("expected wrapped ErrInvalidAmount, got %v", err)
	}
}
