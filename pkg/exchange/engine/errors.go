package engine

import "errors"

// Failure taxonomy of the trading path. Every failure is terminal for
// the single operation that raised it: no partial book mutation and no
// partial ledger transfer survives.
var (
	// ErrUnknownInstrument rejects orders for unregistered tickers.
	ErrUnknownInstrument = errors.New("unknown instrument")

	// ErrInvalidParameters rejects non-positive price or amount.
	ErrInvalidParameters = errors.New("invalid order parameters")

	// ErrInsufficientBalance rejects orders the trader cannot fund:
	// quote shortfall on buys, base shortfall on sells, or aggregate
	// cost shortfall on market buys.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrOrderNotFound rejects cancels for ids not resident in the book.
	ErrOrderNotFound = errors.New("order not found")

	// ErrNotOrderOwner rejects cancels submitted by anyone but the
	// order's trader.
	ErrNotOrderOwner = errors.New("order owned by another trader")
)
