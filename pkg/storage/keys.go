package storage

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperdex/pkg/app/core/orderbook"
	"github.com/uhyunpark/hyperdex/pkg/app/core/token"
)

// Key schema
//
//   tok:<symbol>                          → registered token
//   erc20:<address>                       → in-memory token state
//   bal:<address>:<symbol>                → ledger balance
//   ord:<symbol>:<side>:<orderID>         → resting order
//   trade:<symbol>:<seq>:<tradeID>        → trade
//   nonce:<address>                       → last accepted request nonce
//   meta:<name>                           → counters

const (
	prefixToken   = "tok:"
	prefixERC20   = "erc20:"
	prefixBalance = "bal:"
	prefixOrder   = "ord:"
	prefixTrade   = "trade:"
	prefixNonce   = "nonce:"
	prefixMeta    = "meta:"
)

// Meta counter names
const (
	MetaNextOrderID  = "nextOrderId"
	MetaNextSeq      = "nextSeq"
	MetaNextTradeSeq = "nextTradeSeq"
)

func tokenKey(sym token.Symbol) []byte {
	return []byte(prefixToken + sym.String())
}

func erc20Key(addr common.Address) []byte {
	return []byte(prefixERC20 + addr.Hex())
}

// balanceKey returns the key for a balance
// Format: "bal:{address}:{symbol}"
func balanceKey(addr common.Address, sym token.Symbol) []byte {
	return []byte(fmt.Sprintf("%s%s:%s", prefixBalance, addr.Hex(), sym))
}

// orderKey returns the key for an order
// Order IDs are zero-padded so a prefix scan returns them in ID order
func orderKey(sym token.Symbol, side orderbook.Side, id uint64) []byte {
	return []byte(fmt.Sprintf("%s%s:%s:%020d", prefixOrder, sym, side, id))
}

// tradeKey returns the key for a trade
// Seq is zero-padded (20 digits) so a prefix scan returns execution order
func tradeKey(sym token.Symbol, seq uint64, tradeID string) []byte {
	return []byte(fmt.Sprintf("%s%s:%020d:%s", prefixTrade, sym, seq, tradeID))
}

func tradePrefix(sym token.Symbol) []byte {
	return []byte(fmt.Sprintf("%s%s:", prefixTrade, sym))
}

func nonceKey(addr common.Address) []byte {
	return []byte(prefixNonce + addr.Hex())
}

func metaKey(name string) []byte {
	return []byte(prefixMeta + name)
}

// keyUpperBound returns the exclusive upper bound for a prefix scan
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}
