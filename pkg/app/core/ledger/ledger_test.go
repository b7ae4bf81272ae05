package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/uhyunpark/hyperdex/pkg/app/core/token"
)

var (
	admin   = common.HexToAddress("0xaa")
	custody = common.HexToAddress("0xde")
	trader1 = common.HexToAddress("0x01")
	dai     = token.MustSymbol("DAI")
	rep     = token.MustSymbol("REP")
)

// failingService accepts deposits but refuses to send anything out
type failingService struct{ *token.ERC20 }

func (failingService) Transfer(context.Context, common.Address, common.Address, uint64) error {
	return errors.New("token paused")
}

func setup(t *testing.T) (*Ledger, *token.ERC20) {
	t.Helper()
	reg := token.NewRegistry(admin, dai)
	erc := token.NewERC20(dai, common.HexToAddress("0x1000"))
	if err := reg.AddToken(admin, token.Token{Symbol: dai, Address: erc.Address(), Service: erc}); err != nil {
		t.Fatalf("add token: %v", err)
	}
	if err := erc.Mint(trader1, 1000); err != nil {
		t.Fatalf("mint: %v", err)
	}
	erc.Approve(trader1, custody, 1000)
	return New(custody, reg, zap.NewNop().Sugar()), erc
}

func TestDepositWithdraw(t *testing.T) {
	ctx := context.Background()
	l, erc := setup(t)

	if _, err := l.Deposit(ctx, trader1, dai, 100); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if got := l.BalanceOf(trader1, dai); got != 100 {
		t.Fatalf("expected 100, got %d", got)
	}
	if bal, _ := erc.BalanceOf(ctx, custody); bal != 100 {
		t.Errorf("expected custody to hold 100, got %d", bal)
	}

	_, err := l.Withdraw(ctx, trader1, dai, 101)
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if err.Error() != "balance too low" {
		t.Errorf("unexpected message %q", err.Error())
	}

	if _, err := l.Withdraw(ctx, trader1, dai, 100); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if got := l.BalanceOf(trader1, dai); got != 0 {
		t.Errorf("expected 0, got %d", got)
	}
	if bal, _ := erc.BalanceOf(ctx, trader1); bal != 1000 {
		t.Errorf("expected external balance restored to 1000, got %d", bal)
	}
}

func TestDepositZeroIsNoop(t *testing.T) {
	l, erc := setup(t)
	if _, err := l.Deposit(context.Background(), trader1, dai, 0); err != nil {
		t.Fatalf("deposit 0: %v", err)
	}
	if bal, _ := erc.BalanceOf(context.Background(), trader1); bal != 1000 {
		t.Errorf("zero deposit moved tokens: %d", bal)
	}
	if len(l.Snapshot()) != 0 {
		t.Error("zero deposit recorded a balance")
	}
}

func TestUnknownTokenLeavesBalancesUntouched(t *testing.T) {
	ctx := context.Background()
	l, _ := setup(t)
	if _, err := l.Deposit(ctx, trader1, dai, 50); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	before := l.Snapshot()

	if _, err := l.Deposit(ctx, trader1, rep, 10); !errors.Is(err, token.ErrUnknownToken) {
		t.Errorf("expected unknown token on deposit, got %v", err)
	}
	if _, err := l.Withdraw(ctx, trader1, rep, 10); !errors.Is(err, token.ErrUnknownToken) {
		t.Errorf("expected unknown token on withdraw, got %v", err)
	}
	after := l.Snapshot()
	if len(before) != len(after) || before[0] != after[0] {
		t.Errorf("balances changed: %v -> %v", before, after)
	}
}

func TestDepositWithoutAllowanceFails(t *testing.T) {
	l, erc := setup(t)
	erc.Approve(trader1, custody, 5)
	if _, err := l.Deposit(context.Background(), trader1, dai, 10); !errors.Is(err, token.ErrInsufficientAllowance) {
		t.Fatalf("expected allowance error, got %v", err)
	}
	if l.BalanceOf(trader1, dai) != 0 {
		t.Error("failed deposit credited balance")
	}
}

func TestWithdrawRevertsOnTransferFailure(t *testing.T) {
	ctx := context.Background()
	reg := token.NewRegistry(admin, dai)
	erc := token.NewERC20(rep, common.HexToAddress("0x2000"))
	erc.Mint(trader1, 100)
	erc.Approve(trader1, custody, 100)
	if err := reg.AddToken(admin, token.Token{Symbol: rep, Service: failingService{erc}}); err != nil {
		t.Fatalf("add: %v", err)
	}
	l := New(custody, reg, zap.NewNop().Sugar())

	if _, err := l.Deposit(ctx, trader1, rep, 40); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, err := l.Withdraw(ctx, trader1, rep, 40); err == nil {
		t.Fatal("expected withdraw to fail")
	}
	if got := l.BalanceOf(trader1, rep); got != 40 {
		t.Errorf("expected debit reverted to 40, got %d", got)
	}
}

func TestTxStagesUntilCommit(t *testing.T) {
	ctx := context.Background()
	l, _ := setup(t)
	if _, err := l.Deposit(ctx, trader1, dai, 100); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	tx := l.Begin()
	if err := tx.Reserve(trader1, dai, 60); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := tx.Debit(trader1, dai, 50); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected reserved funds to be unavailable, got %v", err)
	}
	if err := tx.DebitReserved(trader1, dai, 20); err != nil {
		t.Fatalf("debit reserved: %v", err)
	}
	if got := l.Get(trader1, dai); got != (Balance{Total: 100}) {
		t.Fatalf("uncommitted tx leaked: %+v", got)
	}

	entries := tx.Commit()
	if len(entries) != 1 {
		t.Fatalf("expected 1 dirty entry, got %d", len(entries))
	}
	if got := l.Get(trader1, dai); got != (Balance{Total: 80, Locked: 40}) {
		t.Errorf("unexpected committed balance %+v", got)
	}

	tx = l.Begin()
	if err := tx.Release(trader1, dai, 41); err == nil {
		t.Error("expected over-release to fail")
	}
	if err := tx.Release(trader1, dai, 40); err != nil {
		t.Fatalf("release: %v", err)
	}
	tx.Commit()
	if got := l.Available(trader1, dai); got != 80 {
		t.Errorf("expected 80 available, got %d", got)
	}
}

func TestRestore(t *testing.T) {
	l, _ := setup(t)
	err := l.Restore([]Entry{{Trader: trader1, Symbol: dai, Total: 10, Locked: 20}})
	if err == nil {
		t.Fatal("expected corrupt entry to be rejected")
	}
	if err := l.Restore([]Entry{{Trader: trader1, Symbol: dai, Total: 30, Locked: 10}}); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if got := l.Available(trader1, dai); got != 20 {
		t.Errorf("expected 20 available, got %d", got)
	}
	if got := l.Balances(trader1); len(got) != 1 || got[0].Total != 30 {
		t.Errorf("unexpected balances %v", got)
	}
}
