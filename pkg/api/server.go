// Package api exposes the exchange core over REST and WebSocket.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/openclob/spotdex/pkg/exchange/engine"
	"github.com/openclob/spotdex/pkg/exchange/orderbook"
	"github.com/openclob/spotdex/pkg/storage"
)

const defaultTradeLimit = 50

// Server handles REST requests and WebSocket connections.
type Server struct {
	engine *engine.Engine
	trades *storage.TradeStore // nil disables the trades endpoint
	router *mux.Router
	hub    *Hub
	log    *zap.SugaredLogger
}

// NewServer wires the HTTP surface to the engine. The server registers
// itself as the engine's trade feed hook.
func NewServer(eng *engine.Engine, trades *storage.TradeStore, log *zap.SugaredLogger) *Server {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	s := &Server{
		engine: eng,
		trades: trades,
		router: mux.NewRouter(),
		hub:    NewHub(log),
		log:    log,
	}
	eng.OnTrade = s.onTrade
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/instruments", s.handleListInstruments).Methods("GET")
	api.HandleFunc("/instruments/{ticker}", s.handleGetInstrument).Methods("GET")
	api.HandleFunc("/instruments/{ticker}/orderbook", s.handleGetOrderbook).Methods("GET")
	api.HandleFunc("/instruments/{ticker}/trades", s.handleGetTrades).Methods("GET")

	api.HandleFunc("/accounts/{address}/balances", s.handleGetBalances).Methods("GET")
	api.HandleFunc("/accounts/{address}/deposit", s.handleDeposit).Methods("POST")
	api.HandleFunc("/accounts/{address}/withdraw", s.handleWithdraw).Methods("POST")

	api.HandleFunc("/orders", s.handleSubmitOrder).Methods("POST")
	api.HandleFunc("/orders/cancel", s.handleCancelOrder).Methods("POST")

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.Handle("/metrics", promhttp.Handler()).Methods("GET")
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Handler returns the routed handler with CORS applied, for serving or
// for tests.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	})
	return c.Handler(s.router)
}

// Start runs the hub and serves until the listener fails.
func (s *Server) Start(addr string) error {
	go s.hub.Run()
	s.log.Infow("api_listening", "addr", addr)
	return http.ListenAndServe(addr, s.Handler())
}

func (s *Server) handleListInstruments(w http.ResponseWriter, r *http.Request) {
	quote := s.engine.Registry().Quote()
	list := s.engine.Registry().List()

	out := make([]InstrumentInfo, len(list))
	for i, ins := range list {
		out[i] = InstrumentInfo{Ticker: ins.Ticker, BaseAsset: ins.Base, QuoteAsset: quote}
	}
	respondJSON(w, out)
}

func (s *Server) handleGetInstrument(w http.ResponseWriter, r *http.Request) {
	ticker := mux.Vars(r)["ticker"]
	ins, err := s.engine.Registry().Get(ticker)
	if err != nil {
		respondError(w, http.StatusNotFound, "unknown_instrument", err.Error())
		return
	}
	respondJSON(w, InstrumentInfo{
		Ticker:     ins.Ticker,
		BaseAsset:  ins.Base,
		QuoteAsset: s.engine.Registry().Quote(),
	})
}

func (s *Server) handleGetOrderbook(w http.ResponseWriter, r *http.Request) {
	ticker := mux.Vars(r)["ticker"]

	// ?side=buy|sell returns the ordered resident orders of one side;
	// without it the aggregated two-sided depth view is returned.
	if side := r.URL.Query().Get("side"); side != "" {
		sd, ok := parseSide(side)
		if !ok {
			respondError(w, http.StatusBadRequest, "invalid_side", side)
			return
		}
		orders, err := s.engine.GetOrderBook(ticker, sd)
		if err != nil {
			s.respondEngineError(w, err)
			return
		}
		out := make([]OrderInfo, len(orders))
		for i, o := range orders {
			out[i] = OrderInfo{
				ID:        o.ID,
				Trader:    o.Trader.Hex(),
				Side:      o.Side.String(),
				Price:     o.Price,
				Amount:    o.Amount,
				Filled:    o.Filled,
				CreatedAt: o.CreatedAt,
			}
		}
		respondJSON(w, out)
		return
	}

	bids, asks, last, err := s.engine.Depth(ticker)
	if err != nil {
		s.respondEngineError(w, err)
		return
	}
	respondJSON(w, OrderbookSnapshot{
		Ticker:    ticker,
		Bids:      toAPILevels(bids),
		Asks:      toAPILevels(asks),
		LastPrice: last,
		Timestamp: time.Now().UnixMilli(),
	})
}

func (s *Server) handleGetTrades(w http.ResponseWriter, r *http.Request) {
	if s.trades == nil {
		respondJSON(w, []storage.Trade{})
		return
	}
	ticker := mux.Vars(r)["ticker"]

	limit := defaultTradeLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	trades, err := s.trades.Recent(ticker, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "trade_query_failed", err.Error())
		return
	}
	if trades == nil {
		trades = []storage.Trade{}
	}
	respondJSON(w, trades)
}

func (s *Server) handleGetBalances(w http.ResponseWriter, r *http.Request) {
	addr, ok := parseAddress(w, r)
	if !ok {
		return
	}
	respondJSON(w, BalancesResponse{
		Trader:   addr.Hex(),
		Balances: s.engine.Ledger().Balances(addr),
	})
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	addr, ok := parseAddress(w, r)
	if !ok {
		return
	}
	var req FundingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	if err := s.engine.Ledger().Deposit(addr, req.Asset, req.Amount); err != nil {
		respondError(w, http.StatusBadRequest, "deposit_failed", err.Error())
		return
	}
	s.log.Infow("deposit", "trader", addr.Hex(), "asset", req.Asset, "amount", req.Amount)
	respondJSON(w, BalancesResponse{Trader: addr.Hex(), Balances: s.engine.Ledger().Balances(addr)})
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	addr, ok := parseAddress(w, r)
	if !ok {
		return
	}
	var req FundingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	if err := s.engine.Ledger().Withdraw(addr, req.Asset, req.Amount); err != nil {
		respondError(w, http.StatusConflict, "withdraw_failed", err.Error())
		return
	}
	s.log.Infow("withdraw", "trader", addr.Hex(), "asset", req.Asset, "amount", req.Amount)
	respondJSON(w, BalancesResponse{Trader: addr.Hex(), Balances: s.engine.Ledger().Balances(addr)})
}

func (s *Server) handleSubmitOrder(w http.ResponseWriter, r *http.Request) {
	var req SubmitOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	if !common.IsHexAddress(req.Trader) {
		respondError(w, http.StatusBadRequest, "invalid_trader", req.Trader)
		return
	}
	trader := common.HexToAddress(req.Trader)

	side, ok := parseSide(req.Side)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid_side", req.Side)
		return
	}

	switch req.Kind {
	case "limit":
		o, err := s.engine.CreateLimitOrder(req.Instrument, side, req.Price, req.Amount, trader)
		if err != nil {
			s.respondEngineError(w, err)
			return
		}
		s.broadcastDepth(o.Instrument)
		respondJSON(w, SubmitOrderResponse{
			OrderID:   o.ID,
			Status:    orderStatus(o.Filled, o.Amount),
			Filled:    o.Filled,
			Remaining: o.Remaining(),
		})

	case "market":
		report, err := s.engine.CreateMarketOrder(req.Instrument, side, req.Amount, trader)
		if err != nil {
			s.respondEngineError(w, err)
			return
		}
		s.broadcastDepth(report.Instrument)
		respondJSON(w, SubmitOrderResponse{
			OrderID:        report.OrderID,
			Status:         "filled",
			Filled:         report.Filled,
			Remaining:      report.Requested - report.Filled,
			QuoteExchanged: report.QuoteExchanged,
		})

	default:
		respondError(w, http.StatusBadRequest, "invalid_kind", req.Kind)
	}
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	var req CancelOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	if !common.IsHexAddress(req.Trader) {
		respondError(w, http.StatusBadRequest, "invalid_trader", req.Trader)
		return
	}

	o, err := s.engine.CancelOrder(req.Instrument, req.OrderID, common.HexToAddress(req.Trader))
	if err != nil {
		s.respondEngineError(w, err)
		return
	}
	s.broadcastDepth(o.Instrument)
	respondJSON(w, map[string]interface{}{"status": "cancelled", "orderId": o.ID})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

// onTrade is the engine's feed hook, invoked once per committed fill.
func (s *Server) onTrade(t storage.Trade) {
	s.hub.BroadcastToChannel("trades:"+t.Instrument, TradeUpdate{
		Type:       "trade",
		Instrument: t.Instrument,
		Price:      t.Price,
		Qty:        t.Qty,
		TakerSide:  t.TakerSide,
		Timestamp:  t.Timestamp,
	})
}

// broadcastDepth pushes the post-commit book to orderbook subscribers.
func (s *Server) broadcastDepth(ticker string) {
	bids, asks, _, err := s.engine.Depth(ticker)
	if err != nil {
		return
	}
	s.hub.BroadcastToChannel("orderbook:"+ticker, OrderbookUpdate{
		Type:      "orderbook",
		Ticker:    ticker,
		Bids:      toAPILevels(bids),
		Asks:      toAPILevels(asks),
		Timestamp: time.Now().UnixMilli(),
	})
}

func (s *Server) respondEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, engine.ErrUnknownInstrument):
		respondError(w, http.StatusNotFound, "unknown_instrument", err.Error())
	case errors.Is(err, engine.ErrInvalidParameters):
		respondError(w, http.StatusBadRequest, "invalid_parameters", err.Error())
	case errors.Is(err, engine.ErrInsufficientBalance):
		respondError(w, http.StatusConflict, "insufficient_balance", err.Error())
	case errors.Is(err, engine.ErrOrderNotFound):
		respondError(w, http.StatusNotFound, "order_not_found", err.Error())
	case errors.Is(err, engine.ErrNotOrderOwner):
		respondError(w, http.StatusForbidden, "not_order_owner", err.Error())
	default:
		respondError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

func parseAddress(w http.ResponseWriter, r *http.Request) (common.Address, bool) {
	addressStr := mux.Vars(r)["address"]
	if !common.IsHexAddress(addressStr) {
		respondError(w, http.StatusBadRequest, "invalid_address", addressStr)
		return common.Address{}, false
	}
	return common.HexToAddress(addressStr), true
}

func parseSide(s string) (orderbook.Side, bool) {
	switch s {
	case "buy":
		return orderbook.Buy, true
	case "sell":
		return orderbook.Sell, true
	default:
		return 0, false
	}
}

func orderStatus(filled, amount int64) string {
	switch {
	case filled == 0:
		return "resting"
	case filled < amount:
		return "partial"
	default:
		return "filled"
	}
}

func toAPILevels(levels []orderbook.PriceLevel) []PriceLevel {
	out := make([]PriceLevel, len(levels))
	for i, l := range levels {
		out[i] = PriceLevel{Price: l.Price, Qty: l.Qty}
	}
	return out
}

func respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, code string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{Error: code, Message: message})
}
