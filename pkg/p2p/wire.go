package p2p

import (
	"bytes"
	"encoding/gob"

	"github.com/uhyunpark/hyperdex/pkg/app/core/exchange"
	"github.com/uhyunpark/hyperdex/pkg/app/core/orderbook"
	"github.com/uhyunpark/hyperdex/pkg/app/core/token"
)

func init() {
	gob.Register(TradeWire{})
	gob.Register(BookWire{})
}

type wireKind uint8

const (
	kindTrade wireKind = iota + 1
	kindBook
)

// EventWire is the envelope published on the market data topic
type EventWire struct {
	Kind    wireKind
	Payload []byte // gob-encoded TradeWire or BookWire
}

type TradeWire struct {
	Trade orderbook.Trade
}

// BookWire carries the full aggregated depth of one market after a change
type BookWire struct {
	Depth exchange.Depth
	Time  int64 // unix millis
}

// SnapshotRequest is written on a snapshot stream; the reply is a gob BookWire
type SnapshotRequest struct {
	Symbol token.Symbol
}

func encodeEvent(kind wireKind, v any) ([]byte, error) {
	payload, err := gobEncode(v)
	if err != nil {
		return nil, err
	}
	return gobEncode(EventWire{Kind: kind, Payload: payload})
}

func gobEncode(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
func gobDecode(b []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(b)).Decode(v)
}
