package token

import (
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"
)

// StateStore persists in-memory token state across restarts.
type StateStore interface {
	SaveTokenState(st ERC20State) error
	LoadTokenStates() ([]ERC20State, error)
}

// Directory deploys in-memory tokens at deterministic contract addresses
// and resolves a contract address back to its token.
type Directory struct {
	mu       sync.RWMutex
	deployer common.Address
	nonce    uint64
	byAddr   map[common.Address]*ERC20
	bySymbol map[Symbol]*ERC20
	store    StateStore // nil keeps tokens in memory only
	log      *zap.SugaredLogger
}

// NewDirectory creates a directory and reloads any persisted tokens
func NewDirectory(deployer common.Address, store StateStore, log *zap.SugaredLogger) (*Directory, error) {
	d := &Directory{
		deployer: deployer,
		byAddr:   make(map[common.Address]*ERC20),
		bySymbol: make(map[Symbol]*ERC20),
		store:    store,
		log:      log,
	}
	if store == nil {
		return d, nil
	}

	states, err := store.LoadTokenStates()
	if err != nil {
		return nil, fmt.Errorf("failed to load token states: %w", err)
	}
	for _, st := range states {
		t := NewERC20(st.Symbol, st.Address)
		t.restore(st)
		d.track(t)
		d.nonce++
	}
	if len(states) > 0 {
		log.Infow("token_directory_restored", "tokens", len(states))
	}
	return d, nil
}

// Deploy creates a new token contract for sym
func (d *Directory) Deploy(sym Symbol) (*ERC20, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.bySymbol[sym]; exists {
		return nil, fmt.Errorf("token %s already deployed", sym)
	}

	addr := crypto.CreateAddress(d.deployer, d.nonce)
	d.nonce++

	t := NewERC20(sym, addr)
	d.track(t)
	if d.store != nil {
		if err := d.store.SaveTokenState(t.State()); err != nil {
			return nil, fmt.Errorf("failed to persist token %s: %w", sym, err)
		}
	}

	d.log.Infow("token_deployed", "symbol", sym.String(), "address", addr.Hex())
	return t, nil
}

// Lookup returns the token deployed at addr
func (d *Directory) Lookup(addr common.Address) (*ERC20, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	t, ok := d.byAddr[addr]
	return t, ok
}

// BySymbol returns the token deployed for sym
func (d *Directory) BySymbol(sym Symbol) (*ERC20, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	t, ok := d.bySymbol[sym]
	return t, ok
}

// List returns deployed tokens ordered by symbol
func (d *Directory) List() []*ERC20 {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]*ERC20, 0, len(d.byAddr))
	for _, t := range d.byAddr {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Symbol().String() < out[j].Symbol().String()
	})
	return out
}

// track indexes t and installs the persistence hook (lock held or
// construction time).
func (d *Directory) track(t *ERC20) {
	if d.store != nil {
		t.onChange = func(st ERC20State) {
			if err := d.store.SaveTokenState(st); err != nil {
				d.log.Errorw("token_state_persist_failed", "symbol", st.Symbol.String(), "err", err)
			}
		}
	}
	d.byAddr[t.Address()] = t
	d.bySymbol[t.Symbol()] = t
}
