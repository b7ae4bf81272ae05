package orderbook

import (
	"testing"

	"github.com/uhyunpark/hyperdex/pkg/app/core/token"
)

var benchSym = token.MustSymbol("BAT")

// fillBook rests n orders spread over levels price levels
func fillBook(b *testing.B, side Side, n, levels int) *Book {
	b.Helper()
	book := NewBook(benchSym, side)
	for i := 0; i < n; i++ {
		o := &Order{ID: uint64(i + 1), Side: side, Symbol: benchSym, Amount: 100, Price: uint64(1000 + i%levels), Seq: uint64(i + 1)}
		if err := book.Insert(o); err != nil {
			b.Fatal(err)
		}
	}
	return book
}

// BenchmarkBookInsert measures placement into a book with 100 levels
func BenchmarkBookInsert(b *testing.B) {
	book := fillBook(b, Buy, 1000, 100)
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		id := uint64(1_000_000 + i)
		book.Insert(&Order{ID: id, Side: Buy, Symbol: benchSym, Amount: 10, Price: uint64(1000 + i%100), Seq: id})
	}
}

// BenchmarkBookRemove measures cancellation by id, re-inserting so the
// book keeps its size
func BenchmarkBookRemove(b *testing.B) {
	book := fillBook(b, Sell, 1000, 1000)
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		id := uint64(i%1000 + 1)
		o, ok := book.Remove(id)
		if !ok {
			b.Fatalf("order %d missing", id)
		}
		book.Insert(o)
	}
}

func BenchmarkBookBest(b *testing.B) {
	book := fillBook(b, Buy, 1000, 1000)
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		_, _ = book.Best()
	}
}

// BenchmarkBookLevels measures depth aggregation used by the API and
// state hashing
func BenchmarkBookLevels(b *testing.B) {
	book := fillBook(b, Sell, 2500, 500)
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		_ = book.Levels()
	}
}
