package instrument

import (
	"fmt"
	"sort"
	"sync"
)

// Registry maps tickers to instruments in a thread-safe manner.
// The matching engine consults it on every order submission; admission
// (who may register) is the caller's concern.
type Registry struct {
	mu          sync.RWMutex
	instruments map[string]Instrument // normalized ticker -> instrument
	quote       string                // venue-wide quote asset symbol
}

// NewRegistry creates an empty registry for a venue quoting in quoteAsset.
func NewRegistry(quoteAsset string) *Registry {
	return &Registry{
		instruments: make(map[string]Instrument),
		quote:       Normalize(quoteAsset),
	}
}

// Quote returns the venue's quote asset symbol.
func (r *Registry) Quote() string { return r.quote }

// Register adds a new instrument.
// Returns an error on duplicate tickers or a base equal to the quote asset.
func (r *Registry) Register(ticker, base string) error {
	ticker = Normalize(ticker)
	base = Normalize(base)
	if err := validate(ticker, base); err != nil {
		return err
	}
	if base == r.quote {
		return fmt.Errorf("base asset %s equals the quote asset", base)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.instruments[ticker]; exists {
		return fmt.Errorf("instrument %s already registered", ticker)
	}
	r.instruments[ticker] = Instrument{Ticker: ticker, Base: base}
	return nil
}

// IsKnown reports whether a ticker is registered.
func (r *Registry) IsKnown(ticker string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.instruments[Normalize(ticker)]
	return ok
}

// Get retrieves an instrument by ticker.
func (r *Registry) Get(ticker string) (Instrument, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ins, ok := r.instruments[Normalize(ticker)]
	if !ok {
		return Instrument{}, fmt.Errorf("instrument %s not found", Normalize(ticker))
	}
	return ins, nil
}

// List returns all registered instruments, sorted by ticker.
func (r *Registry) List() []Instrument {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Instrument, 0, len(r.instruments))
	for _, ins := range r.instruments {
		out = append(out, ins)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ticker < out[j].Ticker })
	return out
}

// Count returns the number of registered instruments.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.instruments)
}
