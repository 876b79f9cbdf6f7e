package orderbook

import (
	"container/heap"
	"sort"
)

// Book holds the resident limit orders of one instrument, both sides.
//
// Best-price tracking uses one price heap per side (O(1) peek) with a
// price -> FIFO queue map behind it; appending to the queue preserves
// arrival order, which together with monotonic order IDs yields the
// (price, id) priority key exactly: buy side (price desc, id asc),
// sell side (price asc, id asc).
//
// The Book does not lock itself. The matching engine owns one mutex per
// instrument and holds it across an entire operation (tentative match,
// settlement, commit), so every method here assumes the caller serializes
// access. Market orders are never inserted; only limit orders with
// Filled < Amount are resident.
type Book struct {
	instrument string

	bidHeap *maxPriceHeap
	askHeap *minPriceHeap

	bids map[int64][]*Order // price -> FIFO queue
	asks map[int64][]*Order

	byID map[uint64]*Order // resident orders, for removal and lookups

	lastPrice int64 // most recent fill price, 0 before any trade
}

// NewBook creates an empty book for one instrument.
func NewBook(instrument string) *Book {
	bidHeap := &maxPriceHeap{}
	askHeap := &minPriceHeap{}
	heap.Init(bidHeap)
	heap.Init(askHeap)

	return &Book{
		instrument: instrument,
		bidHeap:    bidHeap,
		askHeap:    askHeap,
		bids:       make(map[int64][]*Order),
		asks:       make(map[int64][]*Order),
		byID:       make(map[uint64]*Order),
	}
}

// Instrument returns the ticker this book belongs to.
func (b *Book) Instrument() string { return b.instrument }

// Insert adds a resident limit order, preserving priority order.
// Orders at an existing price join the back of that level's queue.
func (b *Book) Insert(o *Order) {
	switch o.Side {
	case Buy:
		if len(b.bids[o.Price]) == 0 {
			heap.Push(b.bidHeap, o.Price)
		}
		b.bids[o.Price] = append(b.bids[o.Price], o)
	case Sell:
		if len(b.asks[o.Price]) == 0 {
			heap.Push(b.askHeap, o.Price)
		}
		b.asks[o.Price] = append(b.asks[o.Price], o)
	}
	b.byID[o.ID] = o
}

// BestOrder returns the highest-priority resident order on the given side
// (buy: highest price, earliest id; sell: lowest price, earliest id),
// or nil if that side is empty.
func (b *Book) BestOrder(side Side) *Order {
	if side == Buy {
		if b.bidHeap.Len() == 0 {
			return nil
		}
		return b.bids[b.bidHeap.Peek()][0]
	}
	if b.askHeap.Len() == 0 {
		return nil
	}
	return b.asks[b.askHeap.Peek()][0]
}

// BestBid returns the highest resting bid price, false if no bids.
func (b *Book) BestBid() (int64, bool) {
	if b.bidHeap.Len() == 0 {
		return 0, false
	}
	return b.bidHeap.Peek(), true
}

// BestAsk returns the lowest resting ask price, false if no asks.
func (b *Book) BestAsk() (int64, bool) {
	if b.askHeap.Len() == 0 {
		return 0, false
	}
	return b.askHeap.Peek(), true
}

// Get returns the resident order with the given id, or nil.
func (b *Book) Get(id uint64) *Order {
	return b.byID[id]
}

// Remove takes an order out of the book (fully filled or cancelled).
// Returns the removed order, or nil if the id is not resident.
func (b *Book) Remove(id uint64) *Order {
	o, ok := b.byID[id]
	if !ok {
		return nil
	}

	levels := b.bids
	if o.Side == Sell {
		levels = b.asks
	}

	queue := levels[o.Price]
	for i, res := range queue {
		if res.ID == id {
			levels[o.Price] = append(queue[:i], queue[i+1:]...)
			break
		}
	}
	if len(levels[o.Price]) == 0 {
		delete(levels, o.Price)
		b.removeFromHeap(o.Side, o.Price)
	}

	delete(b.byID, id)
	return o
}

// removeFromHeap drops a now-empty price level from the side's heap.
// O(N) over price levels, only on level exhaustion.
func (b *Book) removeFromHeap(side Side, price int64) {
	if side == Buy {
		for i := 0; i < b.bidHeap.Len(); i++ {
			if (*b.bidHeap)[i] == price {
				heap.Remove(b.bidHeap, i)
				return
			}
		}
		return
	}
	for i := 0; i < b.askHeap.Len(); i++ {
		if (*b.askHeap)[i] == price {
			heap.Remove(b.askHeap, i)
			return
		}
	}
}

// sortedPrices returns the side's price levels in priority order.
func (b *Book) sortedPrices(side Side) []int64 {
	if side == Buy {
		prices := make([]int64, len(*b.bidHeap))
		copy(prices, *b.bidHeap)
		sort.Slice(prices, func(i, j int) bool { return prices[i] > prices[j] })
		return prices
	}
	prices := make([]int64, len(*b.askHeap))
	copy(prices, *b.askHeap)
	sort.Slice(prices, func(i, j int) bool { return prices[i] < prices[j] })
	return prices
}

// Ascend walks one side's resident orders in priority order, stopping
// early when fn returns false. The orders passed to fn are live book
// state; fn must not retain or mutate them.
func (b *Book) Ascend(side Side, fn func(*Order) bool) {
	levels := b.bids
	if side == Sell {
		levels = b.asks
	}
	for _, p := range b.sortedPrices(side) {
		for _, o := range levels[p] {
			if !fn(o) {
				return
			}
		}
	}
}

// Snapshot copies one side's resident orders in priority order.
// This is the read path behind getOrderBook; mutating the result does
// not affect the book.
func (b *Book) Snapshot(side Side) []Order {
	out := make([]Order, 0, b.Size(side))
	b.Ascend(side, func(o *Order) bool {
		out = append(out, *o)
		return true
	})
	return out
}

// Levels aggregates one side into [price, remaining qty] rows in
// priority order, for depth displays and feed payloads.
func (b *Book) Levels(side Side) []PriceLevel {
	levels := b.bids
	if side == Sell {
		levels = b.asks
	}

	out := make([]PriceLevel, 0, len(levels))
	for _, p := range b.sortedPrices(side) {
		var qty int64
		for _, o := range levels[p] {
			qty += o.Remaining()
		}
		out = append(out, PriceLevel{Price: p, Qty: qty})
	}
	return out
}

// Size returns the number of resident orders on one side.
func (b *Book) Size(side Side) int {
	levels := b.bids
	if side == Sell {
		levels = b.asks
	}
	n := 0
	for _, queue := range levels {
		n += len(queue)
	}
	return n
}

// MarkTraded records the most recent fill price.
func (b *Book) MarkTraded(price int64) { b.lastPrice = price }

// LastPrice returns the most recent fill price, 0 before any trade.
func (b *Book) LastPrice() int64 { return b.lastPrice }
