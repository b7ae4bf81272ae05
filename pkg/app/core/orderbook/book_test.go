package orderbook

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperdex/pkg/app/core/token"
)

var (
	rep     = token.MustSymbol("REP")
	trader1 = common.HexToAddress("0x1")
	trader2 = common.HexToAddress("0x2")
)

func newOrder(id uint64, side Side, amount, price uint64) *Order {
	return &Order{ID: id, Trader: trader1, Side: side, Symbol: rep, Amount: amount, Price: price, Seq: id}
}

func ids(orders []Order) []uint64 {
	out := make([]uint64, len(orders))
	for i, o := range orders {
		out[i] = o.ID
	}
	return out
}

func equalIDs(a, b []uint64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestBookPriceTimePriority(t *testing.T) {
	tests := []struct {
		name   string
		side   Side
		prices []uint64 // inserted in this order; id = index+1
		want   []uint64
	}{
		{"buy descending", Buy, []uint64{10, 11, 9}, []uint64{2, 1, 3}},
		{"sell ascending", Sell, []uint64{10, 11, 9}, []uint64{3, 1, 2}},
		{"buy ties keep arrival order", Buy, []uint64{10, 10, 12, 10}, []uint64{3, 1, 2, 4}},
		{"sell ties keep arrival order", Sell, []uint64{7, 5, 7, 5}, []uint64{2, 4, 1, 3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBook(rep, tt.side)
			for i, p := range tt.prices {
				if err := b.Insert(newOrder(uint64(i+1), tt.side, 10, p)); err != nil {
					t.Fatalf("insert: %v", err)
				}
			}
			if got := ids(b.List()); !equalIDs(got, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestBookRejectsForeignAndDuplicateOrders(t *testing.T) {
	b := NewBook(rep, Buy)
	if err := b.Insert(newOrder(1, Sell, 1, 1)); err == nil {
		t.Error("expected wrong side to be rejected")
	}
	if err := b.Insert(newOrder(1, Buy, 1, 1)); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := b.Insert(newOrder(1, Buy, 1, 1)); err == nil {
		t.Error("expected duplicate id to be rejected")
	}
}

func TestBookBestSkipsFilled(t *testing.T) {
	b := NewBook(rep, Sell)
	first := newOrder(1, Sell, 5, 10)
	second := newOrder(2, Sell, 5, 12)
	b.Insert(first)
	b.Insert(second)

	first.Filled = 5
	best, ok := b.Best()
	if !ok || best.ID != 2 {
		t.Fatalf("expected order 2, got %+v", best)
	}

	// filled orders stay listed until compacted
	if b.Len() != 2 {
		t.Errorf("expected 2 resting orders, got %d", b.Len())
	}
	removed := b.Compact()
	if len(removed) != 1 || removed[0].ID != 1 {
		t.Fatalf("expected order 1 compacted, got %v", removed)
	}
	if b.Len() != 1 {
		t.Errorf("expected 1 resting order, got %d", b.Len())
	}
}

func TestBookLevels(t *testing.T) {
	b := NewBook(rep, Buy)
	b.Insert(newOrder(1, Buy, 5, 10))
	b.Insert(newOrder(2, Buy, 3, 10))
	b.Insert(newOrder(3, Buy, 4, 11))
	filled := newOrder(4, Buy, 2, 9)
	filled.Filled = 2
	b.Insert(filled)

	levels := b.Levels()
	if len(levels) != 2 {
		t.Fatalf("expected 2 levels, got %v", levels)
	}
	if levels[0] != (Level{Price: 11, Amount: 4, Orders: 1}) {
		t.Errorf("unexpected top level %+v", levels[0])
	}
	if levels[1] != (Level{Price: 10, Amount: 8, Orders: 2}) {
		t.Errorf("unexpected second level %+v", levels[1])
	}
}

func TestWalkStopsEarly(t *testing.T) {
	b := NewBook(rep, Sell)
	for i := uint64(1); i <= 5; i++ {
		b.Insert(newOrder(i, Sell, 1, i))
	}
	var seen int
	for range b.Walk() {
		seen++
		if seen == 2 {
			break
		}
	}
	if seen != 2 {
		t.Errorf("expected to stop after 2, saw %d", seen)
	}
}

func TestBooksIndex(t *testing.T) {
	bs := NewBooks()
	a := newOrder(1, Buy, 1, 10)
	bOrder := newOrder(2, Sell, 1, 12)
	bOrder.Trader = trader2
	c := newOrder(3, Buy, 1, 9)
	for _, o := range []*Order{a, bOrder, c} {
		if err := bs.Add(o); err != nil {
			t.Fatalf("add: %v", err)
		}
	}
	if err := bs.Add(newOrder(1, Sell, 1, 20)); err == nil {
		t.Error("expected id already indexed in the buy book to be rejected")
	}

	if got := ids(bs.OrdersOf(trader1)); !equalIDs(got, []uint64{1, 3}) {
		t.Errorf("unexpected trader orders %v", got)
	}
	if _, ok := bs.Remove(2); !ok {
		t.Fatal("expected remove to succeed")
	}
	if _, ok := bs.Order(2); ok {
		t.Error("order 2 still indexed")
	}
	if bs.Book(rep, Sell).Len() != 0 {
		t.Error("order 2 still in sell book")
	}

	a.Filled = 1
	if removed := bs.Compact(rep, Buy); len(removed) != 1 {
		t.Fatalf("expected one compacted order, got %d", len(removed))
	}
	if bs.Len() != 1 {
		t.Errorf("expected 1 indexed order, got %d", bs.Len())
	}
	if syms := bs.Symbols(); len(syms) != 1 || syms[0] != rep {
		t.Errorf("unexpected symbols %v", syms)
	}
}
