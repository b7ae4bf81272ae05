package api

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperdex/pkg/app/core/exchange"
	"github.com/uhyunpark/hyperdex/pkg/app/core/ledger"
	"github.com/uhyunpark/hyperdex/pkg/app/core/orderbook"
	"github.com/uhyunpark/hyperdex/pkg/app/core/token"
)

// API response types for REST endpoints and WebSocket messages

// ==============================
// REST Response Types
// ==============================

// TokenInfo is a registered token
type TokenInfo struct {
	Symbol  token.Symbol   `json:"symbol"`
	Address common.Address `json:"address"` // token contract
	Base    bool           `json:"base"`    // true for the reference currency
}

// OrderInfo is a resting order with derived fill state
type OrderInfo struct {
	orderbook.Order
	Remaining uint64 `json:"remaining"`
	Status    string `json:"status"` // "open", "partially_filled", "filled"
}

func newOrderInfo(o orderbook.Order) OrderInfo {
	status := "open"
	switch {
	case o.IsFilled():
		status = "filled"
	case o.Filled > 0:
		status = "partially_filled"
	}
	return OrderInfo{Order: o, Remaining: o.Remaining(), Status: status}
}

func newOrderInfos(orders []orderbook.Order) []OrderInfo {
	out := make([]OrderInfo, len(orders))
	for i, o := range orders {
		out[i] = newOrderInfo(o)
	}
	return out
}

// OrderbookSnapshot is the aggregated depth of one market
type OrderbookSnapshot struct {
	Symbol    token.Symbol      `json:"symbol"`
	Bids      []orderbook.Level `json:"bids"` // high to low
	Asks      []orderbook.Level `json:"asks"` // low to high
	Timestamp int64             `json:"timestamp"`
}

// BalanceInfo is one recorded balance. Total is what balanceOf reports;
// Locked backs open orders.
type BalanceInfo struct {
	Symbol    token.Symbol `json:"symbol"`
	Total     uint64       `json:"total"`
	Locked    uint64       `json:"locked"`
	Available uint64       `json:"available"`
}

func newBalanceInfo(e ledger.Entry) BalanceInfo {
	return BalanceInfo{Symbol: e.Symbol, Total: e.Total, Locked: e.Locked, Available: e.Total - e.Locked}
}

type NonceInfo struct {
	Address common.Address `json:"address"`
	Nonce   uint64         `json:"nonce"` // last accepted; sign the next request with nonce+1
}

// NodeStatus is the exchange-wide status
type NodeStatus struct {
	exchange.Stats
	BaseCurrency token.Symbol `json:"baseCurrency"`
	MempoolSize  int          `json:"mempoolSize"`
}

// SubmitResponse is returned for queued requests
type SubmitResponse struct {
	Status  string `json:"status"` // "queued"
	Pending int    `json:"pending"`
}

// ErrorResponse is returned for all errors. Message carries the exchange's
// reason, e.g. "token balance too low".
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// ==============================
// WebSocket Message Types
// ==============================

// WSMessage is the envelope of every pushed message
type WSMessage struct {
	Type    string `json:"type"`    // "orderbook", "trade", "balance"
	Channel string `json:"channel"` // e.g. "book:BAT"
	Data    any    `json:"data"`
}

// WSSubscribeRequest is sent by client to subscribe to channels
type WSSubscribeRequest struct {
	Op       string   `json:"op"`       // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"` // e.g. ["book:BAT", "trades:BAT", "account:0x..."]
}
