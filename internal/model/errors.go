package model

import "errors"

// Error taxonomy. Messages are stable and user-visible; context is added by
// wrapping with %w, and callers match with errors.Is.
var (
	ErrInvalidAmount      = errors.New("invalid amount")
	ErrInvalidQuantity    = errors.New("invalid quantity")
	ErrInvalidAction      = errors.New("invalid action")
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrInsufficientShares = errors.New("insufficient shares")
	ErrNoPosition         = errors.New("no position")
	ErrUnknownStock       = errors.New("unknown stock")
	ErrMarketClosed       = errors.New("market closed")
	ErrAllocationFailure  = errors.New("identifier allocation failed")
	ErrCommitFailure      = errors.New("trade failed")
	ErrNotFound           = errors.New("not found")
	ErrConflict           = errors.New("conflict")
)

var kinds = []struct {
	err  error
	name string
}{
	{ErrInvalidAmount, "invalid_amount"},
	{ErrInvalidQuantity, "invalid_quantity"},
	{ErrInvalidAction, "invalid_action"},
	{ErrInsufficientFunds, "insufficient_funds"},
	{ErrInsufficientShares, "insufficient_shares"},
	{ErrNoPosition, "no_position"},
	{ErrUnknownStock, "unknown_stock"},
	{ErrMarketClosed, "market_closed"},
	{ErrAllocationFailure, "allocation_failure"},
	{ErrCommitFailure, "commit_failure"},
	{ErrNotFound, "not_found"},
	{ErrConflict, "conflict"},
}

// KindOf returns the taxonomy label of err, or "internal" when err matches
// none of the sentinels. Labels are used for metrics and log fields.
func KindOf(err error) string {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	return "internal"
}

// IsRejection reports whether err is a validation outcome detected before
// any mutation, as opposed to a storage or allocation failure.
func IsRejection(err error) bool {
	switch KindOf(err) {
	case "allocation_failure", "commit_failure", "internal", "conflict":
		return false
	}
	return true
}

// MessageOf returns the stable message of the sentinel err wraps, or a
// generic message when it wraps none.
func MessageOf(err error) string {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.err.Error()
		}
	}
	return "internal error"
}
