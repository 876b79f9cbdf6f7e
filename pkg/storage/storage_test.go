package storage

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStoreSetGetDelete(t *testing.T) {
	s := openTestStore(t)

	_, found, err := s.Get([]byte("missing"))
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, s.Set([]byte("k1"), []byte("v1")))
	v, found, err := s.Get([]byte("k1"))
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("v1"), v)

	require.NoError(t, s.Delete([]byte("k1")))
	_, found, err = s.Get([]byte("k1"))
	require.NoError(t, err)
	assert.False(t, found)
}

func TestStoreScanPrefix(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.Set([]byte("a:1"), []byte("x")))
	require.NoError(t, s.Set([]byte("a:2"), []byte("y")))
	require.NoError(t, s.Set([]byte("b:1"), []byte("z")))

	var keys []string
	require.NoError(t, s.Scan([]byte("a:"), func(key, _ []byte) bool {
		keys = append(keys, string(key))
		return true
	}))
	assert.Equal(t, []string{"a:1", "a:2"}, keys, "scan must stay within the prefix")
}

func TestBalanceKeyRoundTrip(t *testing.T) {
	addr := common.HexToAddress("0x00000000000000000000000000000000000000a1")

	got, err := AddressFromBalanceKey(BalanceKey(addr))
	require.NoError(t, err)
	assert.Equal(t, addr, got)

	_, err = AddressFromBalanceKey([]byte("bal:garbage"))
	assert.Error(t, err)
}

func TestTradeStoreRecent(t *testing.T) {
	s := openTestStore(t)
	ts := NewTradeStore(s)

	buyer := common.HexToAddress("0x00000000000000000000000000000000000000a1")
	seller := common.HexToAddress("0x00000000000000000000000000000000000000b2")

	for i := 1; i <= 5; i++ {
		require.NoError(t, ts.Save(Trade{
			ID:         uint64(i),
			Instrument: "ETH-USDC",
			Price:      int64(300 + i),
			Qty:        1,
			TakerSide:  "buy",
			Buyer:      buyer,
			Seller:     seller,
			Timestamp:  int64(1000 + i),
		}))
	}
	// Another instrument must not leak into the query.
	require.NoError(t, ts.Save(Trade{
		ID: 99, Instrument: "BTC-USDC", Price: 9, Qty: 1, Timestamp: 1003,
	}))

	trades, err := ts.Recent("ETH-USDC", 3)
	require.NoError(t, err)
	require.Len(t, trades, 3)

	// Newest first.
	assert.Equal(t, uint64(5), trades[0].ID)
	assert.Equal(t, uint64(4), trades[1].ID)
	assert.Equal(t, uint64(3), trades[2].ID)
	for _, tr := range trades {
		assert.Equal(t, "ETH-USDC", tr.Instrument)
	}
}

func TestTradeOrderWithinOneMillisecond(t *testing.T) {
	s := openTestStore(t)
	ts := NewTradeStore(s)

	// Ids crossing a digit-count boundary at the same timestamp must
	// still sort numerically, so key ids are zero-padded.
	for _, id := range []uint64{9, 10, 11} {
		require.NoError(t, ts.Save(Trade{
			ID: id, Instrument: "ETH-USDC", Price: 300, Qty: 1, Timestamp: 2000,
		}))
	}

	trades, err := ts.Recent("ETH-USDC", 3)
	require.NoError(t, err)
	require.Len(t, trades, 3)
	assert.Equal(t, uint64(11), trades[0].ID)
	assert.Equal(t, uint64(10), trades[1].ID)
	assert.Equal(t, uint64(9), trades[2].ID)
}
