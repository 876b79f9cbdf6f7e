package orderbook

import "github.com/ethereum/go-ethereum/common"

// Side of the book an order trades on.
type Side int8

const (
	Buy  Side = 1
	Sell Side = -1
)

func (s Side) String() string {
	switch s {
	case Buy:
		return "buy"
	case Sell:
		return "sell"
	default:
		return "unknown"
	}
}

// Opposite returns the side an incoming order matches against.
func (s Side) Opposite() Side { return -s }

// Kind distinguishes resting limit orders from immediate market orders.
type Kind int8

const (
	Limit Kind = iota
	Market
)

func (k Kind) String() string {
	switch k {
	case Limit:
		return "limit"
	case Market:
		return "market"
	default:
		return "unknown"
	}
}

// Order is a single submission against an instrument.
//
// IDs are assigned monotonically at creation and double as the time-priority
// tie-breaker among orders resting at the same price. Price is in integer
// quote units and is zero for market orders; Amount and Filled are integer
// base units with 0 <= Filled <= Amount. Only the matching engine advances
// Filled, and only ever forward.
type Order struct {
	ID         uint64         `json:"id"`
	Trader     common.Address `json:"trader"`
	Instrument string         `json:"instrument"`
	Side       Side           `json:"side"`
	Price      int64          `json:"price"`
	Amount     int64          `json:"amount"`
	Filled     int64          `json:"filled"`
	Kind       Kind           `json:"kind"`
	CreatedAt  int64          `json:"createdAt"` // Unix milliseconds
}

// Remaining returns the unfilled quantity.
func (o *Order) Remaining() int64 {
	return o.Amount - o.Filled
}

// PriceLevel aggregates resident quantity at one price.
type PriceLevel struct {
	Price int64 `json:"price"`
	Qty   int64 `json:"qty"`
}
