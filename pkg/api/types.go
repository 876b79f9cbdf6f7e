package api

// Request and response types for the REST endpoints and WebSocket feed.

// InstrumentInfo describes one listed instrument.
type InstrumentInfo struct {
	Ticker     string `json:"ticker"`
	BaseAsset  string `json:"baseAsset"`
	QuoteAsset string `json:"quoteAsset"`
}

// PriceLevel is a [price, qty] depth row.
type PriceLevel struct {
	Price int64 `json:"price"`
	Qty   int64 `json:"qty"`
}

// OrderInfo is one resident order, as served from book snapshots.
type OrderInfo struct {
	ID        uint64 `json:"id"`
	Trader    string `json:"trader"`
	Side      string `json:"side"`
	Price     int64  `json:"price"`
	Amount    int64  `json:"amount"`
	Filled    int64  `json:"filled"`
	CreatedAt int64  `json:"createdAt"`
}

// OrderbookSnapshot is the full depth view of one instrument.
type OrderbookSnapshot struct {
	Ticker    string       `json:"ticker"`
	Bids      []PriceLevel `json:"bids"` // sorted high to low
	Asks      []PriceLevel `json:"asks"` // sorted low to high
	LastPrice int64        `json:"lastPrice"`
	Timestamp int64        `json:"timestamp"` // Unix milliseconds
}

// SubmitOrderRequest is the payload for POST /api/v1/orders.
// Price is required for limit orders and must be absent (zero) for
// market orders.
type SubmitOrderRequest struct {
	Instrument string `json:"instrument"`
	Side       string `json:"side"` // "buy" or "sell"
	Kind       string `json:"kind"` // "limit" or "market"
	Price      int64  `json:"price,omitempty"`
	Amount     int64  `json:"amount"`
	Trader     string `json:"trader"` // hex address
}

// SubmitOrderResponse reports the committed outcome of a submission.
type SubmitOrderResponse struct {
	OrderID        uint64 `json:"orderId"`
	Status         string `json:"status"` // "resting", "partial", "filled"
	Filled         int64  `json:"filled"`
	Remaining      int64  `json:"remaining"`
	QuoteExchanged int64  `json:"quoteExchanged"`
}

// CancelOrderRequest is the payload for POST /api/v1/orders/cancel.
type CancelOrderRequest struct {
	Instrument string `json:"instrument"`
	OrderID    uint64 `json:"orderId"`
	Trader     string `json:"trader"`
}

// FundingRequest is the payload for deposit and withdraw endpoints.
type FundingRequest struct {
	Asset  string `json:"asset"`
	Amount int64  `json:"amount"`
}

// BalancesResponse maps asset symbol to on-deposit amount.
type BalancesResponse struct {
	Trader   string           `json:"trader"`
	Balances map[string]int64 `json:"balances"`
}

// TradeUpdate is pushed on the "trades:<TICKER>" channel per fill.
type TradeUpdate struct {
	Type       string `json:"type"` // "trade"
	Instrument string `json:"instrument"`
	Price      int64  `json:"price"`
	Qty        int64  `json:"qty"`
	TakerSide  string `json:"takerSide"`
	Timestamp  int64  `json:"timestamp"`
}

// OrderbookUpdate is pushed on the "orderbook:<TICKER>" channel after
// each committed operation that moved the book.
type OrderbookUpdate struct {
	Type      string       `json:"type"` // "orderbook"
	Ticker    string       `json:"ticker"`
	Bids      []PriceLevel `json:"bids"`
	Asks      []PriceLevel `json:"asks"`
	Timestamp int64        `json:"timestamp"`
}

// WSSubscribeRequest is sent by clients to manage channel subscriptions.
type WSSubscribeRequest struct {
	Op       string   `json:"op"`       // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"` // e.g. ["trades:LINK", "orderbook:LINK"]
}

// ErrorResponse is returned for all errors.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
