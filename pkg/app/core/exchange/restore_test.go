package exchange

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/uhyunpark/hyperdex/pkg/app/core/ledger"
	"github.com/uhyunpark/hyperdex/pkg/app/core/orderbook"
	"github.com/uhyunpark/hyperdex/pkg/app/core/token"
	"github.com/uhyunpark/hyperdex/pkg/storage"
)

// openNode wires an exchange to a pebble store the way the node does
func openNode(t *testing.T, path string) (*Exchange, *token.Directory, *storage.PebbleStore) {
	t.Helper()
	log := zap.NewNop().Sugar()
	store, err := storage.NewPebbleStore(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	dir, err := token.NewDirectory(admin, store, log)
	if err != nil {
		t.Fatalf("directory: %v", err)
	}
	reg := token.NewRegistry(admin, DAI)
	ex := New(Config{}, reg, ledger.New(custody, reg, log), store, log)
	err = ex.Restore(func(rec storage.TokenRecord) (token.Service, error) {
		erc, ok := dir.Lookup(rec.Address)
		if !ok {
			return nil, fmt.Errorf("no token at %s", rec.Address.Hex())
		}
		return erc, nil
	})
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	return ex, dir, store
}

func TestRestoreAfterRestart(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "db")

	ex, dir, store := openNode(t, path)
	for _, sym := range []token.Symbol{DAI, REP} {
		erc, err := dir.Deploy(sym)
		if err != nil {
			t.Fatalf("deploy: %v", err)
		}
		if err := ex.AddToken(ctx, admin, token.Token{Symbol: sym, Address: erc.Address(), Service: erc}); err != nil {
			t.Fatalf("add: %v", err)
		}
		for _, tr := range []common.Address{trader1, trader2} {
			erc.Mint(tr, 1000)
			erc.Approve(tr, custody, 1000)
		}
	}
	if _, err := ex.Deposit(ctx, trader1, DAI, 300); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, err := ex.Deposit(ctx, trader2, REP, 50); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, err := ex.CreateLimitOrder(ctx, trader1, REP, 10, 10, orderbook.Buy); err != nil {
		t.Fatalf("limit: %v", err)
	}
	if _, err := ex.CreateLimitOrder(ctx, trader1, REP, 10, 12, orderbook.Buy); err != nil {
		t.Fatalf("limit: %v", err)
	}
	if _, err := ex.CreateMarketOrder(ctx, trader2, REP, 15, orderbook.Sell); err != nil {
		t.Fatalf("market: %v", err)
	}
	wantHash := ex.StateHash()
	wantOrders := ex.GetOrders(REP, orderbook.Buy)
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	ex2, _, store2 := openNode(t, path)
	t.Cleanup(func() { store2.Close() })

	if got := ex2.StateHash(); got != wantHash {
		t.Fatalf("state hash mismatch after restart: %s vs %s", got.Hex(), wantHash.Hex())
	}
	gotOrders := ex2.GetOrders(REP, orderbook.Buy)
	if len(gotOrders) != len(wantOrders) {
		t.Fatalf("expected %d orders, got %d", len(wantOrders), len(gotOrders))
	}
	for i := range wantOrders {
		if gotOrders[i] != wantOrders[i] {
			t.Errorf("order %d differs: %+v vs %+v", i, gotOrders[i], wantOrders[i])
		}
	}
	if got := ex2.RecentTrades(REP, 10); len(got) != 2 {
		t.Errorf("expected 2 trades restored, got %d", len(got))
	}

	// new orders continue the ID sequence and the custody is intact
	o, err := ex2.CreateLimitOrder(ctx, trader2, REP, 1, 50, orderbook.Sell)
	if err != nil {
		t.Fatalf("limit after restart: %v", err)
	}
	if o.ID != 3 {
		t.Errorf("expected order id 3, got %d", o.ID)
	}
	if ok, err := ex2.Solvent(ctx, DAI); err != nil || !ok {
		t.Errorf("DAI not solvent after restart (err %v)", err)
	}
	if _, err := ex2.Withdraw(ctx, trader2, DAI, 170); err != nil {
		t.Fatalf("withdraw after restart: %v", err)
	}
}

func TestRestoreKeepsTradeOrder(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "db")

	ex, dir, store := openNode(t, path)
	for _, sym := range []token.Symbol{DAI, REP} {
		erc, err := dir.Deploy(sym)
		if err != nil {
			t.Fatalf("deploy: %v", err)
		}
		if err := ex.AddToken(ctx, admin, token.Token{Symbol: sym, Address: erc.Address(), Service: erc}); err != nil {
			t.Fatalf("add: %v", err)
		}
		for _, tr := range []common.Address{trader1, trader2} {
			erc.Mint(tr, 5000)
			erc.Approve(tr, custody, 5000)
		}
	}
	if _, err := ex.Deposit(ctx, trader1, DAI, 5000); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, err := ex.Deposit(ctx, trader2, REP, 100); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	// one market order sweeping 20 levels produces 20 trades in the same millisecond
	for price := uint64(100); price > 80; price-- {
		if _, err := ex.CreateLimitOrder(ctx, trader1, REP, 1, price, orderbook.Buy); err != nil {
			t.Fatalf("limit at %d: %v", price, err)
		}
	}
	res, err := ex.CreateMarketOrder(ctx, trader2, REP, 20, orderbook.Sell)
	if err != nil || len(res.Trades) != 20 {
		t.Fatalf("market: %v, %d trades", err, len(res.Trades))
	}
	want := ex.RecentTrades(REP, 50)
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	ex2, _, store2 := openNode(t, path)
	t.Cleanup(func() { store2.Close() })

	got := ex2.RecentTrades(REP, 50)
	if len(got) != len(want) {
		t.Fatalf("expected %d trades, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i].ID != want[i].ID || got[i].Price != want[i].Price || got[i].Seq != want[i].Seq {
			t.Errorf("trade %d: got %s@%d seq %d, want %s@%d seq %d",
				i, got[i].ID, got[i].Price, got[i].Seq, want[i].ID, want[i].Price, want[i].Seq)
		}
	}
	if n := ex2.Stats().Trades; n != 20 {
		t.Errorf("expected 20 trades counted after restart, got %d", n)
	}

	// the trade sequence continues where it stopped
	if _, err := ex2.CreateLimitOrder(ctx, trader1, REP, 1, 10, orderbook.Buy); err != nil {
		t.Fatalf("limit after restart: %v", err)
	}
	res, err = ex2.CreateMarketOrder(ctx, trader2, REP, 1, orderbook.Sell)
	if err != nil || len(res.Trades) != 1 {
		t.Fatalf("market after restart: %v", err)
	}
	if seq := res.Trades[0].Seq; seq != 21 {
		t.Errorf("expected trade seq 21, got %d", seq)
	}
}

func TestRejectedInsertNotPersisted(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "db")

	ex, dir, store := openNode(t, path)
	for _, sym := range []token.Symbol{DAI, REP} {
		erc, err := dir.Deploy(sym)
		if err != nil {
			t.Fatalf("deploy: %v", err)
		}
		if err := ex.AddToken(ctx, admin, token.Token{Symbol: sym, Address: erc.Address(), Service: erc}); err != nil {
			t.Fatalf("add: %v", err)
		}
		erc.Mint(trader1, 1000)
		erc.Approve(trader1, custody, 1000)
	}
	if _, err := ex.Deposit(ctx, trader1, DAI, 500); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	first, err := ex.CreateLimitOrder(ctx, trader1, REP, 10, 10, orderbook.Buy)
	if err != nil {
		t.Fatalf("limit: %v", err)
	}

	// reuse the id so the book refuses the next order
	ex.nextOrderID = first.ID
	if _, err := ex.CreateLimitOrder(ctx, trader1, REP, 20, 5, orderbook.Buy); err == nil {
		t.Fatal("expected duplicate order id to be rejected")
	}

	orders, err := store.LoadOrders()
	if err != nil {
		t.Fatalf("load orders: %v", err)
	}
	if len(orders) != 1 || orders[0].Amount != 10 || orders[0].Price != 10 {
		t.Fatalf("store holds %+v, want only the first order", orders)
	}
	if b := ex.Balance(trader1, DAI); b.Locked != 100 || b.Total != 500 {
		t.Errorf("unexpected balance after rejected order: %+v", b)
	}
	if got, ok := ex.Order(first.ID); !ok || got.Amount != 10 {
		t.Errorf("first order lost from the book: %+v", got)
	}
	store.Close()
}
