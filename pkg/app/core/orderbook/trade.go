package orderbook

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperdex/pkg/app/core/token"
)

// Trade records one fill between a taker and a resting maker order.
// Side is the taker's side; Price is always the maker's price.
type Trade struct {
	ID           string         `json:"id"`
	Symbol       token.Symbol   `json:"symbol"`
	TakerOrderID uint64         `json:"takerOrderId,omitempty"` // zero for market orders
	MakerOrderID uint64         `json:"makerOrderId"`
	Taker        common.Address `json:"taker"`
	Maker        common.Address `json:"maker"`
	Side         Side           `json:"side"`
	Amount       uint64         `json:"amount"`
	Price        uint64         `json:"price"`
	Timestamp    int64          `json:"timestamp"` // unix millis
	Seq          uint64         `json:"seq"`       // execution order across all markets
}
