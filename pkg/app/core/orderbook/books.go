package orderbook

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperdex/pkg/app/core/token"
)

type bookKey struct {
	symbol token.Symbol
	side   Side
}

// Books indexes every (symbol, side) book and every resting order by ID.
type Books struct {
	books  map[bookKey]*Book
	orders map[uint64]*Order
}

func NewBooks() *Books {
	return &Books{
		books:  make(map[bookKey]*Book),
		orders: make(map[uint64]*Order),
	}
}

// Book returns the book for (symbol, side), creating an empty one on first use
func (bs *Books) Book(symbol token.Symbol, side Side) *Book {
	k := bookKey{symbol, side}
	b, ok := bs.books[k]
	if !ok {
		b = NewBook(symbol, side)
		bs.books[k] = b
	}
	return b
}

// Lookup returns the book for (symbol, side) without creating it
func (bs *Books) Lookup(symbol token.Symbol, side Side) (*Book, bool) {
	b, ok := bs.books[bookKey{symbol, side}]
	return b, ok
}

func (bs *Books) Add(o *Order) error {
	if _, exists := bs.orders[o.ID]; exists {
		return fmt.Errorf("order %d already in book", o.ID)
	}
	if err := bs.Book(o.Symbol, o.Side).Insert(o); err != nil {
		return err
	}
	bs.orders[o.ID] = o
	return nil
}

func (bs *Books) Order(id uint64) (*Order, bool) {
	o, ok := bs.orders[id]
	return o, ok
}

func (bs *Books) Remove(id uint64) (*Order, bool) {
	o, ok := bs.orders[id]
	if !ok {
		return nil, false
	}
	bs.Book(o.Symbol, o.Side).Remove(id)
	delete(bs.orders, id)
	return o, true
}

// Compact drops filled orders from one book and the ID index
func (bs *Books) Compact(symbol token.Symbol, side Side) []*Order {
	b, ok := bs.Lookup(symbol, side)
	if !ok {
		return nil
	}
	removed := b.Compact()
	for _, o := range removed {
		delete(bs.orders, o.ID)
	}
	return removed
}

// OrdersOf returns copies of trader's resting orders, oldest first
func (bs *Books) OrdersOf(trader common.Address) []Order {
	var out []Order
	for _, o := range bs.orders {
		if o.Trader == trader {
			out = append(out, *o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

// Symbols lists every symbol with a book, in byte order
func (bs *Books) Symbols() []token.Symbol {
	seen := make(map[token.Symbol]struct{})
	for k := range bs.books {
		seen[k.symbol] = struct{}{}
	}
	out := make([]token.Symbol, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i][:], out[j][:]) < 0 })
	return out
}

func (bs *Books) Len() int { return len(bs.orders) }
