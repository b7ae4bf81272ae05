package token

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
)

var (
	ErrTransferExceedsBalance = errors.New("transfer amount exceeds balance")
	ErrInsufficientAllowance  = errors.New("transfer amount exceeds allowance")
)

// Service is the contract surface the exchange needs from a token.
// Implementations report failures as errors; the exchange treats any
// error as a failed transfer.
//
// Calls are made while the exchange holds its write lock. The ctx passed
// in marks that; an implementation must not call exchange queries that
// take no ctx (BalanceOf, GetOrders, Depth and the like) from inside a
// call, since those block until the operation finishes.
type Service interface {
	TransferFrom(ctx context.Context, spender, from, to common.Address, amount uint64) error
	Transfer(ctx context.Context, from, to common.Address, amount uint64) error
	BalanceOf(ctx context.Context, owner common.Address) (uint64, error)
}

// ERC20State is the serialisable state of an in-memory token.
type ERC20State struct {
	Symbol     Symbol                                       `json:"symbol"`
	Address    common.Address                               `json:"address"`
	Supply     uint64                                       `json:"supply"`
	Balances   map[common.Address]uint64                    `json:"balances"`
	Allowances map[common.Address]map[common.Address]uint64 `json:"allowances"`
}

// ERC20 is an in-memory fungible token with faucet minting.
// It backs devnets and tests where no chain is available.
type ERC20 struct {
	mu    sync.RWMutex
	state ERC20State

	// onChange runs after every successful state mutation, outside the lock.
	onChange func(ERC20State)
}

// NewERC20 creates an empty token deployed at addr
func NewERC20(sym Symbol, addr common.Address) *ERC20 {
	return &ERC20{
		state: ERC20State{
			Symbol:     sym,
			Address:    addr,
			Balances:   make(map[common.Address]uint64),
			Allowances: make(map[common.Address]map[common.Address]uint64),
		},
	}
}

func (t *ERC20) Symbol() Symbol          { return t.state.Symbol }
func (t *ERC20) Address() common.Address { return t.state.Address }

// Mint credits amount to owner out of thin air (faucet)
func (t *ERC20) Mint(owner common.Address, amount uint64) error {
	t.mu.Lock()
	supply, overflow := math.SafeAdd(t.state.Supply, amount)
	if overflow {
		t.mu.Unlock()
		return fmt.Errorf("mint %d %s: supply overflow", amount, t.state.Symbol)
	}
	t.state.Supply = supply
	t.state.Balances[owner] += amount
	snap := t.pendingLocked()
	t.mu.Unlock()

	t.notify(snap)
	return nil
}

// Approve sets the amount spender may move out of owner's balance
func (t *ERC20) Approve(owner, spender common.Address, amount uint64) {
	t.mu.Lock()
	allowed, ok := t.state.Allowances[owner]
	if !ok {
		allowed = make(map[common.Address]uint64)
		t.state.Allowances[owner] = allowed
	}
	allowed[spender] = amount
	snap := t.pendingLocked()
	t.mu.Unlock()

	t.notify(snap)
}

// Allowance returns how much spender may still move out of owner's balance
func (t *ERC20) Allowance(owner, spender common.Address) uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state.Allowances[owner][spender]
}

func (t *ERC20) TransferFrom(_ context.Context, spender, from, to common.Address, amount uint64) error {
	t.mu.Lock()
	allowed := t.state.Allowances[from][spender]
	if allowed < amount {
		t.mu.Unlock()
		return ErrInsufficientAllowance
	}
	if err := t.moveLocked(from, to, amount); err != nil {
		t.mu.Unlock()
		return err
	}
	t.state.Allowances[from][spender] = allowed - amount
	snap := t.pendingLocked()
	t.mu.Unlock()

	t.notify(snap)
	return nil
}

func (t *ERC20) Transfer(_ context.Context, from, to common.Address, amount uint64) error {
	t.mu.Lock()
	if err := t.moveLocked(from, to, amount); err != nil {
		t.mu.Unlock()
		return err
	}
	snap := t.pendingLocked()
	t.mu.Unlock()

	t.notify(snap)
	return nil
}

func (t *ERC20) BalanceOf(_ context.Context, owner common.Address) (uint64, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state.Balances[owner], nil
}

// State returns a deep copy of the token state
func (t *ERC20) State() ERC20State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.snapshotLocked()
}

// restore replaces the token state with a persisted copy
func (t *ERC20) restore(st ERC20State) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state.Supply = st.Supply
	t.state.Balances = make(map[common.Address]uint64, len(st.Balances))
	for k, v := range st.Balances {
		t.state.Balances[k] = v
	}
	t.state.Allowances = make(map[common.Address]map[common.Address]uint64, len(st.Allowances))
	for owner, m := range st.Allowances {
		cp := make(map[common.Address]uint64, len(m))
		for k, v := range m {
			cp[k] = v
		}
		t.state.Allowances[owner] = cp
	}
}

func (t *ERC20) moveLocked(from, to common.Address, amount uint64) error {
	if t.state.Balances[from] < amount {
		return ErrTransferExceedsBalance
	}
	t.state.Balances[from] -= amount
	t.state.Balances[to] += amount
	return nil
}

func (t *ERC20) snapshotLocked() ERC20State {
	st := ERC20State{
		Symbol:     t.state.Symbol,
		Address:    t.state.Address,
		Supply:     t.state.Supply,
		Balances:   make(map[common.Address]uint64, len(t.state.Balances)),
		Allowances: make(map[common.Address]map[common.Address]uint64, len(t.state.Allowances)),
	}
	for k, v := range t.state.Balances {
		st.Balances[k] = v
	}
	for owner, m := range t.state.Allowances {
		cp := make(map[common.Address]uint64, len(m))
		for k, v := range m {
			cp[k] = v
		}
		st.Allowances[owner] = cp
	}
	return st
}

// pendingLocked captures state for the change hook, if one is installed.
func (t *ERC20) pendingLocked() *ERC20State {
	if t.onChange == nil {
		return nil
	}
	st := t.snapshotLocked()
	return &st
}

func (t *ERC20) notify(st *ERC20State) {
	if st != nil && t.onChange != nil {
		t.onChange(*st)
	}
}

var _ Service = (*ERC20)(nil)
