package ledger

import (
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/openclob/spotdex/pkg/storage"
)

// Store checkpoints ledger balances to Pebble. One record per trader,
// holding the full asset → amount map as JSON.
type Store struct {
	db *storage.Store
}

// NewStore wraps a storage.Store with the balance schema.
func NewStore(db *storage.Store) *Store {
	return &Store{db: db}
}

// SaveBalances persists one trader's balances.
func (s *Store) SaveBalances(trader common.Address, balances map[string]int64) error {
	data, err := json.Marshal(balances)
	if err != nil {
		return fmt.Errorf("failed to marshal balances: %w", err)
	}
	if err := s.db.Set(storage.BalanceKey(trader), data); err != nil {
		return fmt.Errorf("failed to save balances: %w", err)
	}
	return nil
}

// SaveBalancesBatch persists the given traders' balances atomically.
func (s *Store) SaveBalancesBatch(balances map[common.Address]map[string]int64) error {
	batch := s.db.NewBatch()
	defer batch.Close()

	for trader, assets := range balances {
		data, err := json.Marshal(assets)
		if err != nil {
			return fmt.Errorf("failed to marshal balances: %w", err)
		}
		if err := batch.Set(storage.BalanceKey(trader), data); err != nil {
			return fmt.Errorf("failed to batch balances: %w", err)
		}
	}
	if err := batch.Commit(); err != nil {
		return fmt.Errorf("failed to commit balance batch: %w", err)
	}
	return nil
}

// LoadAll reads every checkpointed trader back into memory. Invalid
// records are skipped rather than failing the boot.
func (s *Store) LoadAll() (map[common.Address]map[string]int64, error) {
	out := make(map[common.Address]map[string]int64)

	err := s.db.Scan(storage.BalancePrefix(), func(key, value []byte) bool {
		addr, err := storage.AddressFromBalanceKey(key)
		if err != nil {
			return true
		}
		var balances map[string]int64
		if err := json.Unmarshal(value, &balances); err != nil {
			return true
		}
		out[addr] = balances
		return true
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
