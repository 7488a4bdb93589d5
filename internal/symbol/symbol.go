// Package symbol handles ticker normalization and validation of new stock
// listings.
package symbol

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/investr/trade-engine/internal/money"
)

// tickerRegex matches 1-10 characters: a leading letter followed by
// letters, digits or a class separator. Example: BRK.B
var tickerRegex = regexp.MustCompile(`^[A-Z][A-Z0-9.]{0,9}$`)

var (
	ErrInvalidTicker  = errors.New("symbol: invalid ticker format")
	ErrInvalidListing = errors.New("symbol: invalid listing")
)

// Normalize upper-cases and trims a ticker and checks its format.
func Normalize(ticker string) (string, error) {
	t := strings.ToUpper(strings.TrimSpace(ticker))
	if !tickerRegex.MatchString(t) {
		return "", fmt.Errorf("%w: %q (expected 1-10 letters, digits or '.', starting with a letter)",
			ErrInvalidTicker, ticker)
	}
	return t, nil
}

// Listing is a validated new stock.
type Listing struct {
	Ticker       string          `json:"ticker"`
	CompanyName  string          `json:"company_name"`
	InitialPrice decimal.Decimal `json:"initial_price"`
	FloatShares  int64           `json:"float_shares"`
}

// ParseListing validates the fields an administrator supplies to list a
// stock.
func ParseListing(ticker, company string, price decimal.Decimal, floatShares int64) (*Listing, error) {
	t, err := Normalize(ticker)
	if err != nil {
		return nil, err
	}

	company = strings.TrimSpace(company)
	if company == "" || len(company) > 100 {
		return nil, fmt.Errorf("%w: company name must be 1-100 characters", ErrInvalidListing)
	}
	if err := money.ValidPrice(price); err != nil {
		return nil, fmt.Errorf("%w: initial price: %w", ErrInvalidListing, err)
	}
	if floatShares < 0 {
		return nil, fmt.Errorf("%w: float shares must not be negative", ErrInvalidListing)
	}

	return &Listing{
		Ticker:       t,
		CompanyName:  company,
		InitialPrice: price,
		FloatShares:  floatShares,
	}, nil
}
