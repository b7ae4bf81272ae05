package exchange

import (
	"context"
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/sha3"

	"github.com/uhyunpark/hyperdex/pkg/app/core/ledger"
	"github.com/uhyunpark/hyperdex/pkg/app/core/orderbook"
	"github.com/uhyunpark/hyperdex/pkg/app/core/token"
)

// Depth is the aggregated view of both sides of one market
type Depth struct {
	Symbol token.Symbol      `json:"symbol"`
	Bids   []orderbook.Level `json:"bids"`
	Asks   []orderbook.Level `json:"asks"`
}

type Stats struct {
	Tokens      int         `json:"tokens"`
	OpenOrders  int         `json:"openOrders"`
	Trades      uint64      `json:"trades"`
	NextOrderID uint64      `json:"nextOrderId"`
	StateHash   common.Hash `json:"stateHash"`
}

// GetOrders lists the resting orders of (sym, side) in priority order,
// including filled orders that have not been compacted. Unknown symbols
// have no orders.
func (x *Exchange) GetOrders(sym token.Symbol, side orderbook.Side) []orderbook.Order {
	x.mu.RLock()
	defer x.mu.RUnlock()

	b, ok := x.books.Lookup(sym, side)
	if !ok {
		return []orderbook.Order{}
	}
	return b.List()
}

// Order returns a resting order by ID
func (x *Exchange) Order(id uint64) (orderbook.Order, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	o, ok := x.books.Order(id)
	if !ok {
		return orderbook.Order{}, false
	}
	return *o, true
}

// OrdersOf lists trader's resting orders across all markets, oldest first
func (x *Exchange) OrdersOf(trader common.Address) []orderbook.Order {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.books.OrdersOf(trader)
}

// BalanceOf returns the recorded balance of trader in sym
func (x *Exchange) BalanceOf(trader common.Address, sym token.Symbol) uint64 {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.ledger.BalanceOf(trader, sym)
}

// Balance returns total and locked amounts of trader in sym
func (x *Exchange) Balance(trader common.Address, sym token.Symbol) ledger.Balance {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.ledger.Get(trader, sym)
}

func (x *Exchange) Balances(trader common.Address) []ledger.Entry {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.ledger.Balances(trader)
}

func (x *Exchange) Depth(sym token.Symbol) Depth {
	x.mu.RLock()
	defer x.mu.RUnlock()

	d := Depth{Symbol: sym, Bids: []orderbook.Level{}, Asks: []orderbook.Level{}}
	if b, ok := x.books.Lookup(sym, orderbook.Buy); ok {
		if lv := b.Levels(); lv != nil {
			d.Bids = lv
		}
	}
	if b, ok := x.books.Lookup(sym, orderbook.Sell); ok {
		if lv := b.Levels(); lv != nil {
			d.Asks = lv
		}
	}
	return d
}

// RecentTrades returns up to limit trades of sym, newest first
func (x *Exchange) RecentTrades(sym token.Symbol, limit int) []orderbook.Trade {
	x.mu.RLock()
	defer x.mu.RUnlock()

	hist := x.trades[sym]
	if limit <= 0 || limit > len(hist) {
		limit = len(hist)
	}
	out := make([]orderbook.Trade, 0, limit)
	for i := len(hist) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, hist[i])
	}
	return out
}

func (x *Exchange) Tokens() []token.Token {
	return x.registry.List()
}

func (x *Exchange) Stats() Stats {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return Stats{
		Tokens:      x.registry.Count(),
		OpenOrders:  x.books.Len(),
		Trades:      x.nextTrade - 1,
		NextOrderID: x.nextOrderID,
		StateHash:   x.stateHashLocked(),
	}
}

// StateHash is a keccak256 digest of registered tokens, balances and
// resting orders. Two replicas that applied the same operations agree on it.
func (x *Exchange) StateHash() common.Hash {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.stateHashLocked()
}

func (x *Exchange) stateHashLocked() common.Hash {
	h := sha3.NewLegacyKeccak256()
	var buf [8]byte
	putU64 := func(v uint64) {
		binary.BigEndian.PutUint64(buf[:], v)
		h.Write(buf[:])
	}

	for _, t := range x.registry.List() {
		h.Write(t.Symbol[:])
		h.Write(t.Address[:])
	}
	for _, e := range x.ledger.Snapshot() {
		h.Write(e.Trader[:])
		h.Write(e.Symbol[:])
		putU64(e.Total)
		putU64(e.Locked)
	}
	for _, sym := range x.books.Symbols() {
		for _, side := range []orderbook.Side{orderbook.Buy, orderbook.Sell} {
			b, ok := x.books.Lookup(sym, side)
			if !ok {
				continue
			}
			for o := range b.Walk() {
				putU64(o.ID)
				h.Write(o.Trader[:])
				h.Write([]byte{byte(o.Side)})
				h.Write(o.Symbol[:])
				putU64(o.Amount)
				putU64(o.Filled)
				putU64(o.Price)
			}
		}
	}

	var out common.Hash
	h.Sum(out[:0])
	return out
}

// Solvent reports whether the exchange's holdings at sym's token cover
// every recorded balance of sym
func (x *Exchange) Solvent(ctx context.Context, sym token.Symbol) (bool, error) {
	if inOp(ctx) {
		return false, ErrReentrantCall
	}
	t, err := x.registry.Resolve(sym)
	if err != nil {
		return false, err
	}
	held, err := t.Service.BalanceOf(ctx, x.ledger.Custody())
	if err != nil {
		return false, err
	}

	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.ledger.TotalOf(sym) <= held, nil
}
