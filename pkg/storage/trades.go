package storage

import (
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Trade is one executed fill, as persisted and served to clients.
type Trade struct {
	ID         uint64         `json:"id"`
	Instrument string         `json:"instrument"`
	Price      int64          `json:"price"` // always the maker's resting price
	Qty        int64          `json:"qty"`
	TakerSide  string         `json:"takerSide"` // "buy" or "sell"
	Buyer      common.Address `json:"buyer"`
	Seller     common.Address `json:"seller"`
	TakerOrder uint64         `json:"takerOrder"`
	MakerOrder uint64         `json:"makerOrder"`
	Timestamp  int64          `json:"timestamp"` // Unix milliseconds
}

// TradeStore persists executed trades and serves recent-trade queries.
type TradeStore struct {
	store *Store
}

// NewTradeStore wraps a Store with the trade schema.
func NewTradeStore(s *Store) *TradeStore {
	return &TradeStore{store: s}
}

// Save appends a trade. Writes are not fsynced individually; losing the
// last few history rows on a crash is acceptable, balances are not
// affected.
func (ts *TradeStore) Save(t Trade) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to marshal trade: %w", err)
	}
	if err := ts.store.SetNoSync(TradeKey(t.Instrument, t.Timestamp, t.ID), data); err != nil {
		return fmt.Errorf("failed to save trade: %w", err)
	}
	return nil
}

// Recent returns up to limit trades for a ticker, newest first.
func (ts *TradeStore) Recent(ticker string, limit int) ([]Trade, error) {
	var trades []Trade
	err := ts.store.ScanReverse(TradePrefix(ticker), func(_, value []byte) bool {
		var t Trade
		if err := json.Unmarshal(value, &t); err != nil {
			return true // skip invalid entries
		}
		trades = append(trades, t)
		return len(trades) < limit
	})
	if err != nil {
		return nil, err
	}
	return trades, nil
}
