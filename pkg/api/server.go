package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/uhyunpark/hyperdex/pkg/app/core/exchange"
	"github.com/uhyunpark/hyperdex/pkg/app/core/ledger"
	"github.com/uhyunpark/hyperdex/pkg/app/core/orderbook"
	"github.com/uhyunpark/hyperdex/pkg/app/core/token"
	"github.com/uhyunpark/hyperdex/pkg/app/core/transaction"
	"github.com/uhyunpark/hyperdex/pkg/app/dex"
)

const maxBodyBytes = 64 << 10

// Server handles REST API and WebSocket connections
type Server struct {
	app     *dex.App
	router  *mux.Router
	hub     *Hub
	origins []string
	log     *zap.SugaredLogger
	httpSrv *http.Server
}

// NewServer creates the API server, starts its WebSocket hub and
// subscribes it to exchange events
func NewServer(app *dex.App, origins []string, log *zap.SugaredLogger) *Server {
	s := &Server{
		app:     app,
		router:  mux.NewRouter(),
		hub:     NewHub(log),
		origins: origins,
		log:     log,
	}
	s.setupRoutes()
	go s.hub.Run()
	app.Exchange().Subscribe(s)
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Signed request submission
	api.HandleFunc("/tx", s.handleSubmit).Methods("POST")
	api.HandleFunc("/tx/async", s.handleSubmitAsync).Methods("POST")

	// Token and market endpoints
	api.HandleFunc("/tokens", s.handleGetTokens).Methods("GET")
	api.HandleFunc("/markets/{symbol}/orders", s.handleGetOrders).Methods("GET")
	api.HandleFunc("/markets/{symbol}/depth", s.handleGetDepth).Methods("GET")
	api.HandleFunc("/markets/{symbol}/trades", s.handleGetTrades).Methods("GET")

	// Account endpoints
	api.HandleFunc("/accounts/{address}/balances", s.handleGetBalances).Methods("GET")
	api.HandleFunc("/accounts/{address}/balances/{symbol}", s.handleGetBalance).Methods("GET")
	api.HandleFunc("/accounts/{address}/orders", s.handleGetAccountOrders).Methods("GET")
	api.HandleFunc("/accounts/{address}/nonce", s.handleGetNonce).Methods("GET")

	api.HandleFunc("/status", s.handleGetStatus).Methods("GET")

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Handler returns the router wrapped with CORS
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	})
	return c.Handler(s.router)
}

// Start serves until Shutdown is called
func (s *Server) Start(addr string) error {
	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.log.Infow("api_server_starting", "addr", addr)
	if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Stop()
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// ==============================
// REST Handlers
// ==============================

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		respondError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	receipt, err := s.app.Apply(r.Context(), body)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, receipt)
}

func (s *Server) handleSubmitAsync(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		respondError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	// reject malformed envelopes now rather than at drain time
	if _, err := transaction.ParseRequest(body); err != nil {
		respondErr(w, err)
		return
	}
	if err := s.app.PushTx(body); err != nil {
		respondErr(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(SubmitResponse{Status: "queued", Pending: s.app.Pending()})
}

func (s *Server) handleGetTokens(w http.ResponseWriter, r *http.Request) {
	x := s.app.Exchange()
	tokens := x.Tokens()
	out := make([]TokenInfo, len(tokens))
	for i, t := range tokens {
		out[i] = TokenInfo{Symbol: t.Symbol, Address: t.Address, Base: t.Symbol == x.Base()}
	}
	respondJSON(w, out)
}

func (s *Server) handleGetOrders(w http.ResponseWriter, r *http.Request) {
	sym, ok := s.registeredSymbol(w, r)
	if !ok {
		return
	}
	side := orderbook.Buy
	if v := r.URL.Query().Get("side"); v != "" {
		parsed, err := orderbook.ParseSide(v)
		if err != nil {
			respondError(w, http.StatusBadRequest, "bad_request", err.Error())
			return
		}
		side = parsed
	}
	respondJSON(w, newOrderInfos(s.app.Exchange().GetOrders(sym, side)))
}

func (s *Server) handleGetDepth(w http.ResponseWriter, r *http.Request) {
	sym, ok := s.registeredSymbol(w, r)
	if !ok {
		return
	}
	respondJSON(w, s.snapshot(sym))
}

func (s *Server) handleGetTrades(w http.ResponseWriter, r *http.Request) {
	sym, ok := s.registeredSymbol(w, r)
	if !ok {
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "bad_request", "limit must be a positive integer")
			return
		}
		limit = n
	}
	respondJSON(w, s.app.Exchange().RecentTrades(sym, limit))
}

func (s *Server) handleGetBalances(w http.ResponseWriter, r *http.Request) {
	addr, ok := parseAddress(w, r)
	if !ok {
		return
	}
	entries := s.app.Exchange().Balances(addr)
	out := make([]BalanceInfo, len(entries))
	for i, e := range entries {
		out[i] = newBalanceInfo(e)
	}
	respondJSON(w, out)
}

func (s *Server) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	addr, ok := parseAddress(w, r)
	if !ok {
		return
	}
	sym, ok := s.registeredSymbol(w, r)
	if !ok {
		return
	}
	b := s.app.Exchange().Balance(addr, sym)
	respondJSON(w, newBalanceInfo(ledger.Entry{Trader: addr, Symbol: sym, Total: b.Total, Locked: b.Locked}))
}

func (s *Server) handleGetAccountOrders(w http.ResponseWriter, r *http.Request) {
	addr, ok := parseAddress(w, r)
	if !ok {
		return
	}
	respondJSON(w, newOrderInfos(s.app.Exchange().OrdersOf(addr)))
}

func (s *Server) handleGetNonce(w http.ResponseWriter, r *http.Request) {
	addr, ok := parseAddress(w, r)
	if !ok {
		return
	}
	n, err := s.app.Nonce(addr)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, NonceInfo{Address: addr, Nonce: n})
}

func (s *Server) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	x := s.app.Exchange()
	respondJSON(w, NodeStatus{Stats: x.Stats(), BaseCurrency: x.Base(), MempoolSize: s.app.Pending()})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

// ==============================
// Exchange events (exchange.Listener)
// ==============================

func (s *Server) TradeExecuted(tr orderbook.Trade) {
	s.hub.BroadcastToChannel("trades:"+tr.Symbol.String(), WSMessage{Type: "trade", Data: tr})
}

func (s *Server) BookChanged(sym token.Symbol) {
	s.hub.BroadcastToChannel("book:"+sym.String(), WSMessage{Type: "orderbook", Data: s.snapshot(sym)})
}

func (s *Server) BalanceChanged(e ledger.Entry) {
	s.hub.BroadcastToChannel("account:"+e.Trader.Hex(), WSMessage{Type: "balance", Data: newBalanceInfo(e)})
}

var _ exchange.Listener = (*Server)(nil)

// ==============================
// Helper Functions
// ==============================

func (s *Server) snapshot(sym token.Symbol) OrderbookSnapshot {
	d := s.app.Exchange().Depth(sym)
	return OrderbookSnapshot{Symbol: sym, Bids: d.Bids, Asks: d.Asks, Timestamp: time.Now().UnixMilli()}
}

func (s *Server) registeredSymbol(w http.ResponseWriter, r *http.Request) (token.Symbol, bool) {
	sym, err := token.ParseSymbol(mux.Vars(r)["symbol"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_symbol", err.Error())
		return token.Symbol{}, false
	}
	if !s.app.Exchange().Registry().Exists(sym) {
		respondErr(w, token.ErrUnknownToken)
		return token.Symbol{}, false
	}
	return sym, true
}

func parseAddress(w http.ResponseWriter, r *http.Request) (common.Address, bool) {
	s := mux.Vars(r)["address"]
	if !common.IsHexAddress(s) {
		respondError(w, http.StatusBadRequest, "invalid_address", s)
		return common.Address{}, false
	}
	return common.HexToAddress(s), true
}

func respondJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, code string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{Error: code, Message: message})
}

// respondErr maps an exchange or request error to a status and code. The
// message is the error text, so clients see e.g. "dai balance too low".
func respondErr(w http.ResponseWriter, err error) {
	status, code := classify(err)
	respondError(w, status, code, err.Error())
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, token.ErrUnknownToken):
		return http.StatusNotFound, "unknown_token"
	case errors.Is(err, exchange.ErrOrderNotFound):
		return http.StatusNotFound, "order_not_found"
	case errors.Is(err, transaction.ErrBadSignature):
		return http.StatusUnauthorized, "bad_signature"
	case errors.Is(err, token.ErrUnauthorized):
		return http.StatusForbidden, "unauthorized"
	case errors.Is(err, exchange.ErrNotOrderOwner):
		return http.StatusForbidden, "not_order_owner"
	case errors.Is(err, dex.ErrNonceTooLow):
		return http.StatusConflict, "nonce_too_low"
	case errors.Is(err, token.ErrTokenExists):
		return http.StatusConflict, "token_exists"
	case errors.Is(err, exchange.ErrCannotTradeBaseCurrency):
		return http.StatusBadRequest, "cannot_trade_base_currency"
	case errors.Is(err, exchange.ErrInvalidAmount), errors.Is(err, exchange.ErrInvalidPrice):
		return http.StatusBadRequest, "invalid_order"
	case errors.Is(err, transaction.ErrInvalidRequest), errors.Is(err, token.ErrInvalidSymbol):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, dex.ErrUnknownContract):
		return http.StatusBadRequest, "unknown_contract"
	case errors.Is(err, exchange.ErrInsufficientTokenBalance),
		errors.Is(err, exchange.ErrInsufficientBaseBalance),
		errors.Is(err, ledger.ErrInsufficientBalance),
		errors.Is(err, token.ErrTransferExceedsBalance),
		errors.Is(err, token.ErrInsufficientAllowance):
		return http.StatusUnprocessableEntity, "insufficient_funds"
	case errors.Is(err, dex.ErrMempoolFull):
		return http.StatusServiceUnavailable, "mempool_full"
	default:
		return http.StatusInternalServerError, "internal"
	}
}
