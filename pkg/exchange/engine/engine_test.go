package engine

import (
	"math"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openclob/spotdex/pkg/exchange/instrument"
	"github.com/openclob/spotdex/pkg/exchange/ledger"
	"github.com/openclob/spotdex/pkg/exchange/orderbook"
)

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob   = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	carol = common.HexToAddress("0x00000000000000000000000000000000000000c3")
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()

	registry := instrument.NewRegistry("USDC")
	require.NoError(t, registry.Register("ETH-USDC", "ETH"))
	require.NoError(t, registry.Register("LINK-USDC", "LINK"))

	book, err := ledger.New(nil)
	require.NoError(t, err)

	return New(registry, book, nil, nil)
}

func fund(t *testing.T, e *Engine, trader common.Address, asset string, amount int64) {
	t.Helper()
	require.NoError(t, e.Ledger().Deposit(trader, asset, amount))
}

func TestLimitBuySolvency(t *testing.T) {
	e := newTestEngine(t)
	fund(t, e, alice, "USDC", 100)

	// Needs 101 quote, has 100.
	_, err := e.CreateLimitOrder("ETH-USDC", orderbook.Buy, 101, 1, alice)
	assert.ErrorIs(t, err, ErrInsufficientBalance)

	// Needs 110 quote, has 100.
	_, err = e.CreateLimitOrder("ETH-USDC", orderbook.Buy, 10, 11, alice)
	assert.ErrorIs(t, err, ErrInsufficientBalance)

	// Needs exactly 100 quote.
	o, err := e.CreateLimitOrder("ETH-USDC", orderbook.Buy, 10, 10, alice)
	require.NoError(t, err)
	assert.Equal(t, int64(0), o.Filled)

	// Funds are not escrowed: the balance is untouched until a fill.
	assert.Equal(t, int64(100), e.GetBalance(alice, "USDC"))
}

func TestLimitSellSolvency(t *testing.T) {
	e := newTestEngine(t)
	fund(t, e, bob, "ETH", 5)

	_, err := e.CreateLimitOrder("ETH-USDC", orderbook.Sell, 100, 6, bob)
	assert.ErrorIs(t, err, ErrInsufficientBalance)

	_, err = e.CreateLimitOrder("ETH-USDC", orderbook.Sell, 100, 5, bob)
	require.NoError(t, err)
}

func TestLimitOrderRejectsInvalidParameters(t *testing.T) {
	e := newTestEngine(t)
	fund(t, e, alice, "USDC", 1000)

	_, err := e.CreateLimitOrder("ETH-USDC", orderbook.Buy, 0, 10, alice)
	assert.ErrorIs(t, err, ErrInvalidParameters)

	_, err = e.CreateLimitOrder("ETH-USDC", orderbook.Buy, 10, 0, alice)
	assert.ErrorIs(t, err, ErrInvalidParameters)

	_, err = e.CreateLimitOrder("ETH-USDC", orderbook.Buy, 10, -1, alice)
	assert.ErrorIs(t, err, ErrInvalidParameters)

	_, err = e.CreateLimitOrder("DOGE-USDC", orderbook.Buy, 10, 1, alice)
	assert.ErrorIs(t, err, ErrUnknownInstrument)
}

func TestLimitMatchAtMakerPrice(t *testing.T) {
	e := newTestEngine(t)
	fund(t, e, alice, "USDC", 10_000)
	fund(t, e, bob, "ETH", 10)

	// Bob rests a sell at 300; alice crosses with a buy limit at 320.
	_, err := e.CreateLimitOrder("ETH-USDC", orderbook.Sell, 300, 4, bob)
	require.NoError(t, err)

	taker, err := e.CreateLimitOrder("ETH-USDC", orderbook.Buy, 320, 4, alice)
	require.NoError(t, err)
	assert.Equal(t, int64(4), taker.Filled)

	// Settlement is at the maker's resting price, not the taker's bound.
	assert.Equal(t, int64(10_000-4*300), e.GetBalance(alice, "USDC"))
	assert.Equal(t, int64(4), e.GetBalance(alice, "ETH"))
	assert.Equal(t, int64(4*300), e.GetBalance(bob, "USDC"))
	assert.Equal(t, int64(6), e.GetBalance(bob, "ETH"))

	// Maker is fully filled and gone from the book.
	asks, err := e.GetOrderBook("ETH-USDC", orderbook.Sell)
	require.NoError(t, err)
	assert.Empty(t, asks)
}

func TestLimitPartialFillRestsRemainder(t *testing.T) {
	e := newTestEngine(t)
	fund(t, e, alice, "USDC", 10_000)
	fund(t, e, bob, "ETH", 3)

	_, err := e.CreateLimitOrder("ETH-USDC", orderbook.Sell, 300, 3, bob)
	require.NoError(t, err)

	o, err := e.CreateLimitOrder("ETH-USDC", orderbook.Buy, 300, 10, alice)
	require.NoError(t, err)
	assert.Equal(t, int64(3), o.Filled)
	assert.Equal(t, int64(7), o.Remaining())

	bids, err := e.GetOrderBook("ETH-USDC", orderbook.Buy)
	require.NoError(t, err)
	require.Len(t, bids, 1)
	assert.Equal(t, o.ID, bids[0].ID)
	assert.Equal(t, int64(3), bids[0].Filled)
}

func TestLimitNoCrossOutsideBound(t *testing.T) {
	e := newTestEngine(t)
	fund(t, e, alice, "USDC", 10_000)
	fund(t, e, bob, "ETH", 10)

	_, err := e.CreateLimitOrder("ETH-USDC", orderbook.Sell, 310, 5, bob)
	require.NoError(t, err)

	// Buy bound 300 < best ask 310: rests untouched.
	o, err := e.CreateLimitOrder("ETH-USDC", orderbook.Buy, 300, 5, alice)
	require.NoError(t, err)
	assert.Zero(t, o.Filled)

	bids, _ := e.GetOrderBook("ETH-USDC", orderbook.Buy)
	asks, _ := e.GetOrderBook("ETH-USDC", orderbook.Sell)
	assert.Len(t, bids, 1)
	assert.Len(t, asks, 1)
}

func TestMarketBuyWalksTheBook(t *testing.T) {
	e := newTestEngine(t)
	fund(t, e, alice, "USDC", 100_000)
	fund(t, e, bob, "ETH", 30)

	// Asks: 5@300, 15@400, 10@500.
	_, err := e.CreateLimitOrder("ETH-USDC", orderbook.Sell, 300, 5, bob)
	require.NoError(t, err)
	_, err = e.CreateLimitOrder("ETH-USDC", orderbook.Sell, 400, 15, bob)
	require.NoError(t, err)
	_, err = e.CreateLimitOrder("ETH-USDC", orderbook.Sell, 500, 10, bob)
	require.NoError(t, err)

	report, err := e.CreateMarketOrder("ETH-USDC", orderbook.Buy, 10, alice)
	require.NoError(t, err)
	assert.Equal(t, int64(10), report.Filled)
	assert.Equal(t, int64(5*300+5*400), report.QuoteExchanged)
	require.Len(t, report.Trades, 2)
	assert.Equal(t, int64(300), report.Trades[0].Price)
	assert.Equal(t, int64(400), report.Trades[1].Price)

	assert.Equal(t, int64(100_000-3500), e.GetBalance(alice, "USDC"))
	assert.Equal(t, int64(10), e.GetBalance(alice, "ETH"))
	assert.Equal(t, int64(3500), e.GetBalance(bob, "USDC"))

	// Cheapest level consumed; 400 level partially filled; 500 untouched.
	asks, err := e.GetOrderBook("ETH-USDC", orderbook.Sell)
	require.NoError(t, err)
	require.Len(t, asks, 2)
	assert.Equal(t, int64(400), asks[0].Price)
	assert.Equal(t, int64(10), asks[0].Remaining())
	assert.Equal(t, int64(500), asks[1].Price)
	assert.Equal(t, int64(10), asks[1].Remaining())
}

func TestMarketOrderEmptyBook(t *testing.T) {
	e := newTestEngine(t)
	fund(t, e, alice, "USDC", 1000)
	fund(t, e, bob, "ETH", 5)

	// Zero fills against an empty book is a success, not an error.
	report, err := e.CreateMarketOrder("ETH-USDC", orderbook.Buy, 10, alice)
	require.NoError(t, err)
	assert.Zero(t, report.Filled)
	assert.Zero(t, report.QuoteExchanged)

	report, err = e.CreateMarketOrder("ETH-USDC", orderbook.Sell, 5, bob)
	require.NoError(t, err)
	assert.Zero(t, report.Filled)
}

func TestMarketBuyAllOrNothingAbort(t *testing.T) {
	e := newTestEngine(t)
	fund(t, e, alice, "USDC", 1000)
	fund(t, e, bob, "ETH", 10)

	_, err := e.CreateLimitOrder("ETH-USDC", orderbook.Sell, 300, 10, bob)
	require.NoError(t, err)

	// Plan costs 5*300 = 1500 > 1000: the whole order aborts, even
	// though a smaller fill would have been affordable.
	_, err = e.CreateMarketOrder("ETH-USDC", orderbook.Buy, 5, alice)
	require.ErrorIs(t, err, ErrInsufficientBalance)

	// Nothing moved: balances and book are exactly as before.
	assert.Equal(t, int64(1000), e.GetBalance(alice, "USDC"))
	assert.Zero(t, e.GetBalance(alice, "ETH"))
	asks, _ := e.GetOrderBook("ETH-USDC", orderbook.Sell)
	require.Len(t, asks, 1)
	assert.Zero(t, asks[0].Filled)
}

func TestMarketBuyCostOverflowRejected(t *testing.T) {
	e := newTestEngine(t)
	fund(t, e, alice, "USDC", math.MaxInt64)
	fund(t, e, bob, "ETH", 2)

	// Two makers whose combined notional exceeds int64. Each passes
	// admission on its own; the market-buy aggregate must not wrap.
	price := int64(math.MaxInt64/2 + 1)
	_, err := e.CreateLimitOrder("ETH-USDC", orderbook.Sell, price, 1, bob)
	require.NoError(t, err)
	_, err = e.CreateLimitOrder("ETH-USDC", orderbook.Sell, price, 1, bob)
	require.NoError(t, err)

	_, err = e.CreateMarketOrder("ETH-USDC", orderbook.Buy, 2, alice)
	require.ErrorIs(t, err, ErrInsufficientBalance)

	// Nothing moved.
	assert.Equal(t, int64(math.MaxInt64), e.GetBalance(alice, "USDC"))
	asks, _ := e.GetOrderBook("ETH-USDC", orderbook.Sell)
	require.Len(t, asks, 2)
	assert.Zero(t, asks[0].Filled)
	assert.Zero(t, asks[1].Filled)
}

func TestMarketSellSolvency(t *testing.T) {
	e := newTestEngine(t)
	fund(t, e, alice, "USDC", 10_000)
	fund(t, e, bob, "ETH", 3)

	_, err := e.CreateLimitOrder("ETH-USDC", orderbook.Buy, 300, 10, alice)
	require.NoError(t, err)

	_, err = e.CreateMarketOrder("ETH-USDC", orderbook.Sell, 4, bob)
	assert.ErrorIs(t, err, ErrInsufficientBalance)

	report, err := e.CreateMarketOrder("ETH-USDC", orderbook.Sell, 3, bob)
	require.NoError(t, err)
	assert.Equal(t, int64(3), report.Filled)
	assert.Equal(t, int64(900), e.GetBalance(bob, "USDC"))
}

func TestMarketFillBoundedByLiquidity(t *testing.T) {
	e := newTestEngine(t)
	fund(t, e, alice, "USDC", 100_000)
	fund(t, e, bob, "ETH", 4)

	_, err := e.CreateLimitOrder("ETH-USDC", orderbook.Sell, 300, 4, bob)
	require.NoError(t, err)

	// Requesting more than the book holds fills what exists and
	// discards the rest; market orders never rest.
	report, err := e.CreateMarketOrder("ETH-USDC", orderbook.Buy, 10, alice)
	require.NoError(t, err)
	assert.Equal(t, int64(10), report.Requested)
	assert.Equal(t, int64(4), report.Filled)

	bids, _ := e.GetOrderBook("ETH-USDC", orderbook.Buy)
	assert.Empty(t, bids, "unfilled market remainder must not rest")
}

func TestPriceTimePriorityAcrossMakers(t *testing.T) {
	e := newTestEngine(t)
	fund(t, e, alice, "USDC", 100_000)
	fund(t, e, bob, "ETH", 20)
	fund(t, e, carol, "ETH", 20)

	// Same price: bob rested first, so bob trades first.
	first, err := e.CreateLimitOrder("ETH-USDC", orderbook.Sell, 300, 5, bob)
	require.NoError(t, err)
	_, err = e.CreateLimitOrder("ETH-USDC", orderbook.Sell, 300, 5, carol)
	require.NoError(t, err)

	report, err := e.CreateMarketOrder("ETH-USDC", orderbook.Buy, 5, alice)
	require.NoError(t, err)
	require.Len(t, report.Trades, 1)
	assert.Equal(t, first.ID, report.Trades[0].MakerOrder)
	assert.Equal(t, bob, report.Trades[0].Seller)

	asks, _ := e.GetOrderBook("ETH-USDC", orderbook.Sell)
	require.Len(t, asks, 1)
	assert.Equal(t, carol, asks[0].Trader)
}

func TestAssetConservation(t *testing.T) {
	e := newTestEngine(t)
	fund(t, e, alice, "USDC", 50_000)
	fund(t, e, bob, "ETH", 40)
	fund(t, e, carol, "USDC", 50_000)
	fund(t, e, carol, "ETH", 40)

	_, err := e.CreateLimitOrder("ETH-USDC", orderbook.Sell, 250, 10, bob)
	require.NoError(t, err)
	_, err = e.CreateLimitOrder("ETH-USDC", orderbook.Sell, 260, 10, carol)
	require.NoError(t, err)
	_, err = e.CreateLimitOrder("ETH-USDC", orderbook.Buy, 260, 15, alice)
	require.NoError(t, err)
	_, err = e.CreateMarketOrder("ETH-USDC", orderbook.Sell, 3, carol)
	require.NoError(t, err)

	var totalQuote, totalBase int64
	for _, trader := range []common.Address{alice, bob, carol} {
		totalQuote += e.GetBalance(trader, "USDC")
		totalBase += e.GetBalance(trader, "ETH")
	}
	assert.Equal(t, int64(100_000), totalQuote, "quote asset must be conserved")
	assert.Equal(t, int64(80), totalBase, "base asset must be conserved")
}

func TestCancelOrder(t *testing.T) {
	e := newTestEngine(t)
	fund(t, e, alice, "USDC", 10_000)

	o, err := e.CreateLimitOrder("ETH-USDC", orderbook.Buy, 300, 5, alice)
	require.NoError(t, err)

	// Only the owner may cancel.
	_, err = e.CancelOrder("ETH-USDC", o.ID, bob)
	assert.ErrorIs(t, err, ErrNotOrderOwner)

	cancelled, err := e.CancelOrder("ETH-USDC", o.ID, alice)
	require.NoError(t, err)
	assert.Equal(t, o.ID, cancelled.ID)

	bids, _ := e.GetOrderBook("ETH-USDC", orderbook.Buy)
	assert.Empty(t, bids)

	_, err = e.CancelOrder("ETH-USDC", o.ID, alice)
	assert.ErrorIs(t, err, ErrOrderNotFound)

	_, err = e.CancelOrder("DOGE-USDC", o.ID, alice)
	assert.ErrorIs(t, err, ErrUnknownInstrument)
}

func TestInstrumentsAreIndependent(t *testing.T) {
	e := newTestEngine(t)
	fund(t, e, alice, "USDC", 10_000)
	fund(t, e, bob, "ETH", 10)
	fund(t, e, bob, "LINK", 100)

	_, err := e.CreateLimitOrder("ETH-USDC", orderbook.Sell, 300, 5, bob)
	require.NoError(t, err)
	_, err = e.CreateLimitOrder("LINK-USDC", orderbook.Sell, 20, 50, bob)
	require.NoError(t, err)

	// A LINK market buy never touches the ETH book.
	report, err := e.CreateMarketOrder("LINK-USDC", orderbook.Buy, 50, alice)
	require.NoError(t, err)
	assert.Equal(t, int64(50), report.Filled)

	asks, _ := e.GetOrderBook("ETH-USDC", orderbook.Sell)
	require.Len(t, asks, 1)
	assert.Zero(t, asks[0].Filled)
}

func TestDepthAndLastPrice(t *testing.T) {
	e := newTestEngine(t)
	fund(t, e, alice, "USDC", 100_000)
	fund(t, e, bob, "ETH", 30)

	_, err := e.CreateLimitOrder("ETH-USDC", orderbook.Sell, 310, 5, bob)
	require.NoError(t, err)
	_, err = e.CreateLimitOrder("ETH-USDC", orderbook.Sell, 300, 5, bob)
	require.NoError(t, err)
	_, err = e.CreateLimitOrder("ETH-USDC", orderbook.Buy, 290, 5, alice)
	require.NoError(t, err)

	bids, asks, last, err := e.Depth("ETH-USDC")
	require.NoError(t, err)
	assert.Zero(t, last, "no trades yet")
	require.Len(t, bids, 1)
	require.Len(t, asks, 2)
	assert.Equal(t, int64(300), asks[0].Price, "asks lead with the lowest price")

	_, err = e.CreateMarketOrder("ETH-USDC", orderbook.Buy, 5, alice)
	require.NoError(t, err)

	_, _, last, err = e.Depth("ETH-USDC")
	require.NoError(t, err)
	assert.Equal(t, int64(300), last)
}

func TestSelfTradeAllowed(t *testing.T) {
	e := newTestEngine(t)
	fund(t, e, alice, "USDC", 10_000)
	fund(t, e, alice, "ETH", 10)

	_, err := e.CreateLimitOrder("ETH-USDC", orderbook.Sell, 300, 5, alice)
	require.NoError(t, err)

	o, err := e.CreateLimitOrder("ETH-USDC", orderbook.Buy, 300, 5, alice)
	require.NoError(t, err)
	assert.Equal(t, int64(5), o.Filled)

	// Self-trades net to zero.
	assert.Equal(t, int64(10_000), e.GetBalance(alice, "USDC"))
	assert.Equal(t, int64(10), e.GetBalance(alice, "ETH"))
}
