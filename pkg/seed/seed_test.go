package seed

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/uhyunpark/hyperdex/pkg/app/core/exchange"
	"github.com/uhyunpark/hyperdex/pkg/app/core/ledger"
	"github.com/uhyunpark/hyperdex/pkg/app/core/token"
	"github.com/uhyunpark/hyperdex/pkg/storage"
)

var (
	admin   = common.HexToAddress("0x00000000000000000000000000000000000000ad")
	custody = common.HexToAddress("0x00000000000000000000000000000000000000de")
	alice   = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob     = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	DAI     = token.MustSymbol("DAI")
	BAT     = token.MustSymbol("BAT")
)

// open builds an exchange and token directory on the pebble store at
// path, restoring whatever was persisted there
func open(t *testing.T, path string) (*exchange.Exchange, *token.Directory, *storage.PebbleStore) {
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
	x := exchange.New(exchange.Config{}, reg, ledger.New(custody, reg, log), store, log)
	err = x.Restore(func(rec storage.TokenRecord) (token.Service, error) {
		erc, ok := dir.Lookup(rec.Address)
		if !ok {
			return nil, fmt.Errorf("no contract at %s", rec.Address.Hex())
		}
		return erc, nil
	})
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	return x, dir, store
}

func TestRunFundsTraders(t *testing.T) {
	x, dir, store := open(t, filepath.Join(t.TempDir(), "db"))
	defer store.Close()
	ctx := context.Background()

	cfg := Config{Tokens: []token.Symbol{DAI, BAT}, Traders: []common.Address{alice, bob}, Amount: 500}
	res, err := Run(ctx, x, dir, admin, cfg, zap.NewNop().Sugar())
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if res != (Result{Deployed: 2, Registered: 2, Funded: 4}) {
		t.Errorf("unexpected result %+v", res)
	}

	for _, trader := range cfg.Traders {
		for _, sym := range cfg.Tokens {
			if got := x.BalanceOf(trader, sym); got != 500 {
				t.Errorf("%s %s balance = %d, want 500", trader.Hex(), sym, got)
			}
		}
	}
	for _, sym := range cfg.Tokens {
		if ok, err := x.Solvent(ctx, sym); err != nil || !ok {
			t.Errorf("%s not solvent after seeding: %v %v", sym, ok, err)
		}
	}

	// second run is a no-op
	res, err = Run(ctx, x, dir, admin, cfg, zap.NewNop().Sugar())
	if err != nil {
		t.Fatalf("reseed: %v", err)
	}
	if res != (Result{}) {
		t.Errorf("expected no-op, got %+v", res)
	}
}

func TestRunAfterRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db")
	ctx := context.Background()
	cfg := Config{Tokens: []token.Symbol{DAI, BAT}, Traders: []common.Address{alice}, Amount: 100}

	x, dir, store := open(t, path)
	if _, err := Run(ctx, x, dir, admin, cfg, zap.NewNop().Sugar()); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := x.Withdraw(ctx, alice, BAT, 100); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	store.Close()

	x, dir, store = open(t, path)
	defer store.Close()

	// alice still holds her withdrawn BAT in her wallet, so she is not
	// funded again
	res, err := Run(ctx, x, dir, admin, cfg, zap.NewNop().Sugar())
	if err != nil {
		t.Fatalf("reseed: %v", err)
	}
	if res != (Result{}) {
		t.Errorf("expected no-op after restart, got %+v", res)
	}
	if got := x.BalanceOf(alice, DAI); got != 100 {
		t.Errorf("restored DAI balance = %d, want 100", got)
	}
	erc, _ := dir.BySymbol(BAT)
	if held, _ := erc.BalanceOf(ctx, alice); held != 100 {
		t.Errorf("wallet BAT = %d, want 100", held)
	}
}

func TestRunRequiresBaseCurrency(t *testing.T) {
	x, dir, store := open(t, filepath.Join(t.TempDir(), "db"))
	defer store.Close()

	_, err := Run(context.Background(), x, dir, admin, Config{Tokens: []token.Symbol{BAT}}, zap.NewNop().Sugar())
	if err == nil {
		t.Fatal("expected error without base currency")
	}
	if _, ok := dir.BySymbol(BAT); ok {
		t.Error("nothing should be deployed")
	}
}
