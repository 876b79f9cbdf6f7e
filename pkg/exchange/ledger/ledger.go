// Package ledger is the venue's balance book: per-(trader, asset) amounts,
// funded by deposits and moved only through atomic transfers. It is the
// single source of truth for balances; the matching engine never caches
// them and drives every settlement through Apply.
package ledger

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/openclob/spotdex/pkg/exchange/instrument"
	"github.com/openclob/spotdex/pkg/storage"
)

var (
	// ErrInsufficientFunds rejects any movement that would overdraw a
	// balance. Ledger state is untouched when it is returned.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrInvalidAmount rejects non-positive amounts.
	ErrInvalidAmount = errors.New("amount must be positive")
)

// Entry is one directed asset movement inside an atomic batch.
type Entry struct {
	From   common.Address
	To     common.Address
	Asset  string
	Amount int64
}

// checkpointer persists balance state. *Store is the production
// implementation; the indirection keeps checkpoint failures testable.
type checkpointer interface {
	SaveBalances(trader common.Address, balances map[string]int64) error
	SaveBalancesBatch(balances map[common.Address]map[string]int64) error
	LoadAll() (map[common.Address]map[string]int64, error)
}

// Ledger holds balances in memory with optional Pebble checkpointing.
// All methods are safe for concurrent use; Apply is the transaction
// boundary, a batch commits in full or not at all. Durable state is
// written before in-memory state, so a failed checkpoint leaves the
// ledger exactly as it was.
type Ledger struct {
	mu       sync.RWMutex
	balances map[common.Address]map[string]int64
	store    checkpointer // nil for ephemeral ledgers (tests)
}

// New creates a ledger. If s is non-nil, previously checkpointed
// balances are loaded and every mutation is checkpointed back.
func New(s *storage.Store) (*Ledger, error) {
	l := &Ledger{balances: make(map[common.Address]map[string]int64)}

	if s != nil {
		l.store = NewStore(s)
		loaded, err := l.store.LoadAll()
		if err != nil {
			return nil, fmt.Errorf("failed to load ledger state: %w", err)
		}
		l.balances = loaded
	}
	return l, nil
}

// BalanceOf returns the trader's balance in asset, zero if never funded.
func (l *Ledger) BalanceOf(trader common.Address, asset string) int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.balances[trader][instrument.Normalize(asset)]
}

// Balances returns a copy of all of one trader's balances.
func (l *Ledger) Balances(trader common.Address) map[string]int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make(map[string]int64, len(l.balances[trader]))
	for asset, amount := range l.balances[trader] {
		out[asset] = amount
	}
	return out
}

// Deposit credits a trader. Onboarding path, not used during matching.
func (l *Ledger) Deposit(trader common.Address, asset string, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("%w: deposit %d", ErrInvalidAmount, amount)
	}
	asset = instrument.Normalize(asset)

	l.mu.Lock()
	defer l.mu.Unlock()

	next := copyBalances(l.balances[trader])
	next[asset] += amount
	if err := l.checkpoint(trader, next); err != nil {
		return err
	}
	l.balances[trader] = next
	return nil
}

// Withdraw debits a trader, failing with ErrInsufficientFunds if the
// balance does not cover the amount.
func (l *Ledger) Withdraw(trader common.Address, asset string, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("%w: withdraw %d", ErrInvalidAmount, amount)
	}
	asset = instrument.Normalize(asset)

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.balances[trader][asset] < amount {
		return fmt.Errorf("%w: have %d %s, need %d", ErrInsufficientFunds, l.balances[trader][asset], asset, amount)
	}
	next := copyBalances(l.balances[trader])
	next[asset] -= amount
	if err := l.checkpoint(trader, next); err != nil {
		return err
	}
	l.balances[trader] = next
	return nil
}

// Transfer moves one amount between traders, atomically.
func (l *Ledger) Transfer(from, to common.Address, asset string, amount int64) error {
	return l.Apply([]Entry{{From: from, To: to, Asset: asset, Amount: amount}})
}

// Apply commits a batch of transfers as one atomic unit: the entries are
// simulated in order against current balances, and if any debit would
// overdraw, the whole batch is discarded with ErrInsufficientFunds and
// no balance changes. Credits earlier in the batch fund debits later in
// it, so a buyer's payment can cascade through several makers.
func (l *Ledger) Apply(entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	for _, e := range entries {
		if e.Amount <= 0 {
			return fmt.Errorf("%w: transfer %d", ErrInvalidAmount, e.Amount)
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	// Simulate on a scratch copy of just the touched balances.
	type slot struct {
		addr  common.Address
		asset string
	}
	scratch := make(map[slot]int64)
	load := func(addr common.Address, asset string) int64 {
		k := slot{addr, asset}
		if v, ok := scratch[k]; ok {
			return v
		}
		v := l.balances[addr][asset]
		scratch[k] = v
		return v
	}

	for _, e := range entries {
		asset := instrument.Normalize(e.Asset)
		have := load(e.From, asset)
		if have < e.Amount {
			return fmt.Errorf("%w: %s has %d %s, entry needs %d",
				ErrInsufficientFunds, e.From.Hex(), have, asset, e.Amount)
		}
		scratch[slot{e.From, asset}] = have - e.Amount
		scratch[slot{e.To, asset}] = load(e.To, asset) + e.Amount
	}

	// Materialize the post-transfer balances of the touched traders,
	// checkpoint them, and only then install in memory. If the pebble
	// batch fails, the in-memory ledger has not moved either.
	next := make(map[common.Address]map[string]int64)
	for k, v := range scratch {
		if next[k.addr] == nil {
			next[k.addr] = copyBalances(l.balances[k.addr])
		}
		next[k.addr][k.asset] = v
	}

	if l.store != nil {
		if err := l.store.SaveBalancesBatch(next); err != nil {
			return fmt.Errorf("checkpoint balances: %w", err)
		}
	}
	for addr, balances := range next {
		l.balances[addr] = balances
	}
	return nil
}

func copyBalances(src map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(src)+1)
	for asset, amount := range src {
		out[asset] = amount
	}
	return out
}

// checkpoint persists one trader's prospective balances; no-op without
// a store. Assumes the lock is held.
func (l *Ledger) checkpoint(trader common.Address, balances map[string]int64) error {
	if l.store == nil {
		return nil
	}
	return l.store.SaveBalances(trader, balances)
}
