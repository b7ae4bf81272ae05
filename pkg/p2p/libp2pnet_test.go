package p2p

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/uhyunpark/hyperdex/pkg/app/core/exchange"
	"github.com/uhyunpark/hyperdex/pkg/app/core/orderbook"
	"github.com/uhyunpark/hyperdex/pkg/app/core/token"
)

var BAT = token.MustSymbol("BAT")

type staticDepth struct{ d exchange.Depth }

func (s staticDepth) Depth(sym token.Symbol) exchange.Depth {
	d := s.d
	d.Symbol = sym
	return d
}

func newPair(t *testing.T, source DepthSource) (*Feed, *Feed) {
	t.Helper()
	ctx := context.Background()

	a, err := NewFeed(ctx, Config{ListenAddr: "/ip4/127.0.0.1/tcp/0", Topic: "test/market", Source: source})
	if err != nil {
		t.Fatalf("feed a: %v", err)
	}
	t.Cleanup(func() { a.Close() })

	b, err := NewFeed(ctx, Config{ListenAddr: "/ip4/127.0.0.1/tcp/0", Topic: "test/market", Bootstrap: a.Addrs()})
	if err != nil {
		t.Fatalf("feed b: %v", err)
	}
	t.Cleanup(func() { b.Close() })
	return a, b
}

func TestFeedGossipsTrades(t *testing.T) {
	depth := exchange.Depth{Bids: []orderbook.Level{{Price: 5, Amount: 7, Orders: 1}}}
	a, b := newPair(t, staticDepth{depth})

	trades := make(chan orderbook.Trade, 16)
	books := make(chan BookWire, 16)
	b.SetHandlers(Handlers{
		OnTrade: func(from peer.ID, tr orderbook.Trade) {
			if from == a.ID() {
				trades <- tr
			}
		},
		OnBook: func(_ peer.ID, w BookWire) { books <- w },
	})

	// a never sees its own messages
	a.SetHandlers(Handlers{OnTrade: func(peer.ID, orderbook.Trade) { t.Error("received own trade") }})

	tr := orderbook.Trade{
		ID:           "t1",
		Symbol:       BAT,
		MakerOrderID: 3,
		Maker:        common.HexToAddress("0x01"),
		Taker:        common.HexToAddress("0x02"),
		Side:         orderbook.Sell,
		Amount:       2,
		Price:        5,
	}

	// the mesh needs a few heartbeats to form; republish until it arrives
	deadline := time.After(15 * time.Second)
	tick := time.NewTicker(200 * time.Millisecond)
	defer tick.Stop()
	for {
		a.TradeExecuted(tr)
		a.BookChanged(BAT)
		select {
		case got := <-trades:
			if got != tr {
				t.Fatalf("trade mismatch: got %+v want %+v", got, tr)
			}
			select {
			case w := <-books:
				if w.Depth.Symbol != BAT || len(w.Depth.Bids) != 1 || w.Depth.Bids[0].Amount != 7 {
					t.Errorf("unexpected book %+v", w.Depth)
				}
			case <-time.After(5 * time.Second):
				t.Error("no book update")
			}
			return
		case <-tick.C:
		case <-deadline:
			t.Fatal("trade never gossiped")
		}
	}
}

func TestRequestSnapshot(t *testing.T) {
	depth := exchange.Depth{
		Bids: []orderbook.Level{{Price: 5, Amount: 7, Orders: 2}},
		Asks: []orderbook.Level{{Price: 6, Amount: 1, Orders: 1}},
	}
	a, b := newPair(t, staticDepth{depth})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	w, err := b.RequestSnapshot(ctx, a.ID(), BAT)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if w.Depth.Symbol != BAT || len(w.Depth.Bids) != 1 || len(w.Depth.Asks) != 1 || w.Depth.Bids[0].Orders != 2 {
		t.Errorf("unexpected snapshot %+v", w.Depth)
	}

	// b has no source
	if _, err := a.RequestSnapshot(ctx, b.ID(), BAT); err == nil {
		t.Error("expected error from peer without depth source")
	}
}

func TestNewFeedRequiresTopic(t *testing.T) {
	if _, err := NewFeed(context.Background(), Config{}); err == nil {
		t.Fatal("expected error without topic")
	}
}
