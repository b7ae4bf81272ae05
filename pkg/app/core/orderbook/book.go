package orderbook

import (
	"fmt"
	"iter"

	"github.com/tidwall/btree"

	"github.com/uhyunpark/hyperdex/pkg/app/core/token"
)

// Level aggregates the unfilled amount resting at one price.
type Level struct {
	Price  uint64 `json:"price"`
	Amount uint64 `json:"amount"`
	Orders int    `json:"orders"`
}

// Book holds the resting orders of one (symbol, side) in priority order:
// best price first (highest for BUY, lowest for SELL), then oldest first.
//
// Book is not safe for concurrent use; the exchange serialises access.
type Book struct {
	symbol token.Symbol
	side   Side
	tree   *btree.BTreeG[*Order]
	byID   map[uint64]*Order
}

func NewBook(symbol token.Symbol, side Side) *Book {
	less := func(a, b *Order) bool {
		if a.Price != b.Price {
			if side == Buy {
				return a.Price > b.Price
			}
			return a.Price < b.Price
		}
		return a.Seq < b.Seq
	}
	return &Book{
		symbol: symbol,
		side:   side,
		tree:   btree.NewBTreeGOptions(less, btree.Options{NoLocks: true}),
		byID:   make(map[uint64]*Order),
	}
}

func (b *Book) Symbol() token.Symbol { return b.symbol }
func (b *Book) Side() Side           { return b.side }
func (b *Book) Len() int             { return b.tree.Len() }

// Insert places o at its priority position
func (b *Book) Insert(o *Order) error {
	if o.Symbol != b.symbol || o.Side != b.side {
		return fmt.Errorf("order %d belongs to %s/%s, not %s/%s", o.ID, o.Symbol, o.Side, b.symbol, b.side)
	}
	if _, exists := b.byID[o.ID]; exists {
		return fmt.Errorf("order %d already in book", o.ID)
	}
	b.tree.Set(o)
	b.byID[o.ID] = o
	return nil
}

func (b *Book) Get(id uint64) (*Order, bool) {
	o, ok := b.byID[id]
	return o, ok
}

// Remove takes an order out of the book
func (b *Book) Remove(id uint64) (*Order, bool) {
	o, ok := b.byID[id]
	if !ok {
		return nil, false
	}
	b.tree.Delete(o)
	delete(b.byID, id)
	return o, true
}

// Walk yields resting orders best first, including filled ones.
// The book must not be modified while walking.
func (b *Book) Walk() iter.Seq[*Order] {
	return func(yield func(*Order) bool) {
		b.tree.Scan(func(o *Order) bool {
			return yield(o)
		})
	}
}

// Best returns the first order that still has an unfilled amount
func (b *Book) Best() (*Order, bool) {
	for o := range b.Walk() {
		if !o.IsFilled() {
			return o, true
		}
	}
	return nil, false
}

// Compact removes fully filled orders and returns them
func (b *Book) Compact() []*Order {
	var filled []*Order
	for o := range b.Walk() {
		if o.IsFilled() {
			filled = append(filled, o)
		}
	}
	for _, o := range filled {
		b.Remove(o.ID)
	}
	return filled
}

// List returns a copy of every resting order in priority order
func (b *Book) List() []Order {
	out := make([]Order, 0, b.tree.Len())
	for o := range b.Walk() {
		out = append(out, *o)
	}
	return out
}

// Levels aggregates unfilled amounts per price, best price first
func (b *Book) Levels() []Level {
	var levels []Level
	for o := range b.Walk() {
		if o.IsFilled() {
			continue
		}
		if n := len(levels); n > 0 && levels[n-1].Price == o.Price {
			levels[n-1].Amount += o.Remaining()
			levels[n-1].Orders++
			continue
		}
		levels = append(levels, Level{Price: o.Price, Amount: o.Remaining(), Orders: 1})
	}
	return levels
}
