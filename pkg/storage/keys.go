package storage

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Key schema:
//
//	bal:<address>                      → per-asset balances of one trader
//	trade:<ticker>:<timestamp>:<id>    → one executed trade
//
// Trade timestamps and ids are zero-padded to 20 digits so
// lexicographic key order matches chronological order within a ticker,
// including trades sharing a millisecond.
const (
	prefixBalance = "bal:"
	prefixTrade   = "trade:"
)

// BalanceKey returns the key holding a trader's balances.
func BalanceKey(addr common.Address) []byte {
	return []byte(prefixBalance + addr.Hex())
}

// BalancePrefix returns the prefix covering all trader balances.
func BalancePrefix() []byte {
	return []byte(prefixBalance)
}

// AddressFromBalanceKey recovers the trader address from a balance key.
func AddressFromBalanceKey(key []byte) (common.Address, error) {
	if len(key) != len(prefixBalance)+42 { // 42 = "0x" + 40 hex chars
		return common.Address{}, fmt.Errorf("invalid balance key length: %d", len(key))
	}
	addrHex := string(key[len(prefixBalance):])
	if !common.IsHexAddress(addrHex) {
		return common.Address{}, fmt.Errorf("invalid address in key: %s", addrHex)
	}
	return common.HexToAddress(addrHex), nil
}

// TradeKey returns the key for one executed trade.
func TradeKey(ticker string, timestamp int64, id uint64) []byte {
	return []byte(fmt.Sprintf("%s%s:%020d:%020d", prefixTrade, ticker, timestamp, id))
}

// TradePrefix returns the prefix covering all trades of one ticker.
func TradePrefix(ticker string) []byte {
	return []byte(fmt.Sprintf("%s%s:", prefixTrade, ticker))
}

// KeyUpperBound returns the exclusive upper bound for a prefix scan.
func KeyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}
