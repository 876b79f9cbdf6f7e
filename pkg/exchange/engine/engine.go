// Package engine implements the matching core: limit/market order
// admission, price/time-priority matching against per-instrument books,
// and atomic settlement through the balance ledger.
package engine

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/openclob/spotdex/pkg/exchange/instrument"
	"github.com/openclob/spotdex/pkg/exchange/ledger"
	"github.com/openclob/spotdex/pkg/exchange/orderbook"
	"github.com/openclob/spotdex/pkg/metrics"
	"github.com/openclob/spotdex/pkg/storage"
	"github.com/openclob/spotdex/pkg/util"
)

// FillReport summarizes one market order's outcome. Zero fills against
// an empty book is a success, not an error.
type FillReport struct {
	OrderID        uint64          `json:"orderId"`
	Instrument     string          `json:"instrument"`
	Side           orderbook.Side  `json:"side"`
	Requested      int64           `json:"requested"`
	Filled         int64           `json:"filled"`
	QuoteExchanged int64           `json:"quoteExchanged"`
	Trades         []storage.Trade `json:"trades,omitempty"`
}

// bookEntry pairs a book with the mutex that serializes its trading
// path. The lock is held across an entire operation: solvency check,
// tentative match, ledger settlement, book commit. Books of different
// instruments run concurrently.
type bookEntry struct {
	mu   sync.Mutex
	book *orderbook.Book
}

// Engine is the sole mutator of order-book and ledger state on the
// trading path.
type Engine struct {
	registry *instrument.Registry
	ledger   *ledger.Ledger

	mu    sync.RWMutex
	books map[string]*bookEntry

	nextOrderID atomic.Uint64
	nextTradeID atomic.Uint64

	trades *storage.TradeStore // nil disables trade history
	log    *zap.SugaredLogger
	clock  util.Clock

	// OnTrade, when set, is invoked once per executed fill after the
	// operation commits. Used by the API layer's push feed.
	OnTrade func(storage.Trade)
}

// New wires an engine to its collaborators. trades may be nil; log may
// be nil for silent operation.
func New(registry *instrument.Registry, l *ledger.Ledger, trades *storage.TradeStore, log *zap.SugaredLogger) *Engine {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Engine{
		registry: registry,
		ledger:   l,
		books:    make(map[string]*bookEntry),
		trades:   trades,
		log:      log,
		clock:    util.RealClock{},
	}
}

// Ledger exposes the balance collaborator for read paths and funding.
func (e *Engine) Ledger() *ledger.Ledger { return e.ledger }

// Registry exposes the instrument collaborator.
func (e *Engine) Registry() *instrument.Registry { return e.registry }

// book returns the entry for a normalized ticker, creating it lazily.
func (e *Engine) book(ticker string) *bookEntry {
	e.mu.RLock()
	be, ok := e.books[ticker]
	e.mu.RUnlock()
	if ok {
		return be
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if be, ok = e.books[ticker]; ok {
		return be
	}
	be = &bookEntry{book: orderbook.NewBook(ticker)}
	e.books[ticker] = be
	return be
}

// plannedFill is one tentative maker match; nothing is mutated until
// the whole operation's ledger batch has committed.
type plannedFill struct {
	maker *orderbook.Order
	qty   int64
}

// planMatch walks the opposite side in priority order and computes the
// fills an incoming order would take. bound is the taker's limit price,
// 0 for market orders. Priority ordering guarantees that once a maker
// violates the bound, no later maker can satisfy it.
func planMatch(b *orderbook.Book, taker orderbook.Side, bound, qty int64) []plannedFill {
	var fills []plannedFill
	remaining := qty
	b.Ascend(taker.Opposite(), func(maker *orderbook.Order) bool {
		if bound > 0 {
			if taker == orderbook.Buy && maker.Price > bound {
				return false
			}
			if taker == orderbook.Sell && maker.Price < bound {
				return false
			}
		}
		take := min(remaining, maker.Remaining())
		fills = append(fills, plannedFill{maker: maker, qty: take})
		remaining -= take
		return remaining > 0
	})
	return fills
}

// CreateLimitOrder validates, matches at the limit price or better, and
// rests any remainder in the book. Solvency is checked against the FULL
// requested amount before matching: a buy needs price*amount quote on
// deposit, a sell needs amount base.
func (e *Engine) CreateLimitOrder(ticker string, side orderbook.Side, price, amount int64, trader common.Address) (*orderbook.Order, error) {
	ticker = instrument.Normalize(ticker)
	ins, err := e.registry.Get(ticker)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownInstrument, ticker)
	}
	if price <= 0 || amount <= 0 {
		return nil, fmt.Errorf("%w: price=%d amount=%d", ErrInvalidParameters, price, amount)
	}
	if price > math.MaxInt64/amount {
		return nil, fmt.Errorf("%w: price*amount overflows", ErrInvalidParameters)
	}

	be := e.book(ticker)
	be.mu.Lock()
	defer be.mu.Unlock()

	quote := e.registry.Quote()
	if side == orderbook.Buy {
		if need := price * amount; e.ledger.BalanceOf(trader, quote) < need {
			metrics.OrdersRejected.WithLabelValues("limit", "insufficient_balance").Inc()
			return nil, fmt.Errorf("%w: need %d %s on deposit", ErrInsufficientBalance, need, quote)
		}
	} else {
		if e.ledger.BalanceOf(trader, ins.Base) < amount {
			metrics.OrdersRejected.WithLabelValues("limit", "insufficient_balance").Inc()
			return nil, fmt.Errorf("%w: need %d %s on deposit", ErrInsufficientBalance, amount, ins.Base)
		}
	}

	o := &orderbook.Order{
		ID:         e.nextOrderID.Add(1),
		Trader:     trader,
		Instrument: ticker,
		Side:       side,
		Price:      price,
		Amount:     amount,
		Kind:       orderbook.Limit,
		CreatedAt:  e.clock.Now().UnixMilli(),
	}

	plan := planMatch(be.book, side, price, amount)
	trades, err := e.commit(be.book, ins, o, plan)
	if err != nil {
		return nil, err
	}

	if o.Filled < o.Amount {
		be.book.Insert(o)
	}

	metrics.OrdersAccepted.WithLabelValues("limit", side.String()).Inc()
	e.log.Infow("limit_order",
		"id", o.ID, "instrument", ticker, "side", side.String(),
		"price", price, "amount", amount, "filled", o.Filled, "trader", trader.Hex())

	e.publish(trades)
	out := *o
	return &out, nil
}

// CreateMarketOrder consumes opposite-side liquidity with no price
// bound, until the amount is exhausted or the book is empty. Any
// unfilled remainder is discarded, market orders never rest.
//
// Sell solvency is checked up front against the full requested amount.
// Buy solvency cannot be known until the clearing prices are: the pass
// runs tentatively, and if the aggregate cost exceeds the trader's
// quote balance the whole order aborts with no book or ledger mutation.
func (e *Engine) CreateMarketOrder(ticker string, side orderbook.Side, amount int64, trader common.Address) (*FillReport, error) {
	ticker = instrument.Normalize(ticker)
	ins, err := e.registry.Get(ticker)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownInstrument, ticker)
	}
	if amount <= 0 {
		return nil, fmt.Errorf("%w: amount=%d", ErrInvalidParameters, amount)
	}

	be := e.book(ticker)
	be.mu.Lock()
	defer be.mu.Unlock()

	quote := e.registry.Quote()
	if side == orderbook.Sell {
		if e.ledger.BalanceOf(trader, ins.Base) < amount {
			metrics.OrdersRejected.WithLabelValues("market", "insufficient_balance").Inc()
			return nil, fmt.Errorf("%w: need %d %s on deposit", ErrInsufficientBalance, amount, ins.Base)
		}
	}

	o := &orderbook.Order{
		ID:         e.nextOrderID.Add(1),
		Trader:     trader,
		Instrument: ticker,
		Side:       side,
		Amount:     amount,
		Kind:       orderbook.Market,
		CreatedAt:  e.clock.Now().UnixMilli(),
	}

	plan := planMatch(be.book, side, 0, amount)

	if side == orderbook.Buy {
		// Each per-fill notional is bounded by the maker's admission
		// guard (price*amount fits in int64); only the sum can overflow.
		var cost int64
		for _, f := range plan {
			notional := f.qty * f.maker.Price
			if cost > math.MaxInt64-notional {
				metrics.OrdersRejected.WithLabelValues("market", "insufficient_balance").Inc()
				return nil, fmt.Errorf("%w: market buy cost exceeds int64", ErrInsufficientBalance)
			}
			cost += notional
		}
		if cost > e.ledger.BalanceOf(trader, quote) {
			metrics.OrdersRejected.WithLabelValues("market", "insufficient_balance").Inc()
			return nil, fmt.Errorf("%w: market buy costs %d %s", ErrInsufficientBalance, cost, quote)
		}
	}

	trades, err := e.commit(be.book, ins, o, plan)
	if err != nil {
		return nil, err
	}

	var quoteExchanged int64
	for _, t := range trades {
		quoteExchanged += t.Price * t.Qty
	}

	metrics.OrdersAccepted.WithLabelValues("market", side.String()).Inc()
	e.log.Infow("market_order",
		"id", o.ID, "instrument", ticker, "side", side.String(),
		"requested", amount, "filled", o.Filled, "quote_exchanged", quoteExchanged,
		"trader", trader.Hex())

	e.publish(trades)
	return &FillReport{
		OrderID:        o.ID,
		Instrument:     ticker,
		Side:           side,
		Requested:      amount,
		Filled:         o.Filled,
		QuoteExchanged: quoteExchanged,
		Trades:         trades,
	}, nil
}

// commit settles a fill plan through the ledger and, only once the
// batch has committed, applies the book mutations. The ledger batch is
// the transaction boundary: if it fails, the book is untouched and the
// taker order never existed.
//
// Settlement is at the maker's resting price per fill: qty base moves
// seller→buyer, qty*price quote moves buyer→seller. Maker-side solvency
// was verified when the maker's own order was created and Filled only
// advances forward, so maker legs cannot overdraw.
func (e *Engine) commit(b *orderbook.Book, ins instrument.Instrument, taker *orderbook.Order, plan []plannedFill) ([]storage.Trade, error) {
	if len(plan) == 0 {
		return nil, nil
	}

	quote := e.registry.Quote()
	entries := make([]ledger.Entry, 0, 2*len(plan))
	for _, f := range plan {
		buyer, seller := taker.Trader, f.maker.Trader
		if taker.Side == orderbook.Sell {
			buyer, seller = f.maker.Trader, taker.Trader
		}
		entries = append(entries,
			ledger.Entry{From: buyer, To: seller, Asset: quote, Amount: f.qty * f.maker.Price},
			ledger.Entry{From: seller, To: buyer, Asset: ins.Base, Amount: f.qty},
		)
	}

	if err := e.ledger.Apply(entries); err != nil {
		if errors.Is(err, ledger.ErrInsufficientFunds) {
			// Lost a balance race against a concurrent withdrawal or a
			// fill on another instrument. Nothing was mutated.
			metrics.OrdersRejected.WithLabelValues(taker.Kind.String(), "settlement_race").Inc()
			return nil, fmt.Errorf("%w: settlement aborted: %v", ErrInsufficientBalance, err)
		}
		// Checkpoint or validation failure: not a solvency problem, and
		// still nothing was mutated.
		metrics.OrdersRejected.WithLabelValues(taker.Kind.String(), "settlement_error").Inc()
		return nil, fmt.Errorf("settle fills: %w", err)
	}

	now := e.clock.Now().UnixMilli()
	trades := make([]storage.Trade, 0, len(plan))
	for _, f := range plan {
		f.maker.Filled += f.qty
		taker.Filled += f.qty
		b.MarkTraded(f.maker.Price)
		if f.maker.Filled == f.maker.Amount {
			b.Remove(f.maker.ID)
		}

		buyer, seller := taker.Trader, f.maker.Trader
		if taker.Side == orderbook.Sell {
			buyer, seller = f.maker.Trader, taker.Trader
		}
		trades = append(trades, storage.Trade{
			ID:         e.nextTradeID.Add(1),
			Instrument: taker.Instrument,
			Price:      f.maker.Price,
			Qty:        f.qty,
			TakerSide:  taker.Side.String(),
			Buyer:      buyer,
			Seller:     seller,
			TakerOrder: taker.ID,
			MakerOrder: f.maker.ID,
			Timestamp:  now,
		})

		metrics.TradesExecuted.WithLabelValues(taker.Instrument).Inc()
		metrics.QuoteVolume.WithLabelValues(taker.Instrument).Add(float64(f.qty * f.maker.Price))
	}

	if e.trades != nil {
		for _, t := range trades {
			if err := e.trades.Save(t); err != nil {
				// History is best-effort; balances already committed.
				e.log.Warnw("trade_persist_failed", "trade_id", t.ID, "err", err)
			}
		}
	}
	return trades, nil
}

// publish pushes committed trades to the feed hook.
func (e *Engine) publish(trades []storage.Trade) {
	if e.OnTrade == nil {
		return
	}
	for _, t := range trades {
		e.OnTrade(t)
	}
}

// CancelOrder removes a resting order. Only the order's trader may
// cancel; no ledger movement occurs since funds are never escrowed.
func (e *Engine) CancelOrder(ticker string, id uint64, trader common.Address) (*orderbook.Order, error) {
	ticker = instrument.Normalize(ticker)
	if !e.registry.IsKnown(ticker) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownInstrument, ticker)
	}

	be := e.book(ticker)
	be.mu.Lock()
	defer be.mu.Unlock()

	o := be.book.Get(id)
	if o == nil {
		return nil, fmt.Errorf("%w: id %d", ErrOrderNotFound, id)
	}
	if o.Trader != trader {
		return nil, fmt.Errorf("%w: id %d", ErrNotOrderOwner, id)
	}

	be.book.Remove(id)
	e.log.Infow("order_cancelled", "id", id, "instrument", ticker, "trader", trader.Hex())

	out := *o
	return &out, nil
}

// GetOrderBook returns one side's resident orders in priority order,
// reflecting the state immediately after the most recently committed
// operation.
func (e *Engine) GetOrderBook(ticker string, side orderbook.Side) ([]orderbook.Order, error) {
	ticker = instrument.Normalize(ticker)
	if !e.registry.IsKnown(ticker) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownInstrument, ticker)
	}

	be := e.book(ticker)
	be.mu.Lock()
	defer be.mu.Unlock()
	return be.book.Snapshot(side), nil
}

// Depth returns both sides aggregated into price levels plus the last
// trade price, for display and feed payloads.
func (e *Engine) Depth(ticker string) (bids, asks []orderbook.PriceLevel, lastPrice int64, err error) {
	ticker = instrument.Normalize(ticker)
	if !e.registry.IsKnown(ticker) {
		return nil, nil, 0, fmt.Errorf("%w: %s", ErrUnknownInstrument, ticker)
	}

	be := e.book(ticker)
	be.mu.Lock()
	defer be.mu.Unlock()
	return be.book.Levels(orderbook.Buy), be.book.Levels(orderbook.Sell), be.book.LastPrice(), nil
}

// GetBalance is a pass-through convenience over the ledger collaborator.
func (e *Engine) GetBalance(trader common.Address, asset string) int64 {
	return e.ledger.BalanceOf(trader, asset)
}
