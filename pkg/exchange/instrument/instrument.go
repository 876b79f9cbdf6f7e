// Package instrument holds the venue's tradable-pair registry.
package instrument

import (
	"fmt"
	"strings"
)

// Instrument is a tradable pair: a base asset identified by its ticker,
// exchanged against the venue-wide quote asset. Immutable once registered.
type Instrument struct {
	Ticker string // normalized, e.g. "LINK"
	Base   string // base asset symbol, e.g. "LINK"
}

// Normalize canonicalizes a ticker for registry lookups: trimmed and
// upper-cased. Every public entry point normalizes before comparing, so
// "link" and " LINK " address the same instrument.
func Normalize(ticker string) string {
	return strings.ToUpper(strings.TrimSpace(ticker))
}

func validate(ticker, base string) error {
	if ticker == "" {
		return fmt.Errorf("ticker cannot be empty")
	}
	if base == "" {
		return fmt.Errorf("base asset cannot be empty")
	}
	return nil
}
