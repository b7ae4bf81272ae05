package ledger

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"go.uber.org/zap"

	"github.com/uhyunpark/hyperdex/pkg/app/core/token"
)

var (
	ErrInsufficientBalance = errors.New("balance too low")
	ErrBalanceOverflow     = errors.New("balance overflow")
)

type Key struct {
	Trader common.Address
	Symbol token.Symbol
}

// Balance is what the exchange records for one (trader, symbol).
// Locked is the part backing open orders; it is included in Total.
type Balance struct {
	Total  uint64 `json:"total"`
	Locked uint64 `json:"locked"`
}

func (b Balance) Available() uint64 { return b.Total - b.Locked }

// Entry is a Balance together with its key, used for persistence and queries
type Entry struct {
	Trader common.Address `json:"trader"`
	Symbol token.Symbol   `json:"symbol"`
	Total  uint64         `json:"total"`
	Locked uint64         `json:"locked"`
}

func (e Entry) Key() Key { return Key{e.Trader, e.Symbol} }

// Ledger custodies trader balances for every registered token.
// Token movements in and out go through the token's Service using
// custody as the exchange's own address.
type Ledger struct {
	mu       sync.RWMutex
	custody  common.Address
	registry *token.Registry
	balances map[Key]Balance
	log      *zap.SugaredLogger
}

func New(custody common.Address, registry *token.Registry, log *zap.SugaredLogger) *Ledger {
	return &Ledger{
		custody:  custody,
		registry: registry,
		balances: make(map[Key]Balance),
		log:      log,
	}
}

func (l *Ledger) Custody() common.Address { return l.custody }

// Deposit pulls amount of sym from trader into custody and credits it.
// The token transfer happens before the credit; a failed transfer
// leaves the ledger untouched.
func (l *Ledger) Deposit(ctx context.Context, trader common.Address, sym token.Symbol, amount uint64) (Entry, error) {
	tok, err := l.registry.Resolve(sym)
	if err != nil {
		return Entry{}, err
	}
	tx := l.Begin()
	if amount == 0 {
		return tx.Entry(trader, sym), nil
	}
	if err := tx.Credit(trader, sym, amount); err != nil {
		return Entry{}, err
	}

	if err := tok.Service.TransferFrom(ctx, l.custody, trader, l.custody, amount); err != nil {
		return Entry{}, fmt.Errorf("deposit transfer failed: %w", err)
	}

	entries := tx.Commit()
	l.log.Debugw("ledger_deposit", "trader", trader.Hex(), "symbol", sym.String(), "amount", amount)
	return entries[0], nil
}

// Withdraw debits amount of sym from trader and transfers it out of
// custody. The debit happens first; if the transfer fails it is reverted.
func (l *Ledger) Withdraw(ctx context.Context, trader common.Address, sym token.Symbol, amount uint64) (Entry, error) {
	tok, err := l.registry.Resolve(sym)
	if err != nil {
		return Entry{}, err
	}
	tx := l.Begin()
	if amount == 0 {
		return tx.Entry(trader, sym), nil
	}
	if err := tx.Debit(trader, sym, amount); err != nil {
		return Entry{}, err
	}
	entries := tx.Commit()

	if err := tok.Service.Transfer(ctx, l.custody, trader, amount); err != nil {
		revert := l.Begin()
		if cerr := revert.Credit(trader, sym, amount); cerr != nil {
			// cannot happen: the amount was just debited
			l.log.Errorw("ledger_withdraw_revert_failed", "trader", trader.Hex(), "symbol", sym.String(), "err", cerr)
		}
		revert.Commit()
		return Entry{}, fmt.Errorf("withdraw transfer failed: %w", err)
	}

	l.log.Debugw("ledger_withdraw", "trader", trader.Hex(), "symbol", sym.String(), "amount", amount)
	return entries[0], nil
}

// Get returns the recorded balance of trader in sym (zero if none)
func (l *Ledger) Get(trader common.Address, sym token.Symbol) Balance {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.balances[Key{trader, sym}]
}

// BalanceOf returns the total recorded balance, including locked funds
func (l *Ledger) BalanceOf(trader common.Address, sym token.Symbol) uint64 {
	return l.Get(trader, sym).Total
}

// Available returns the balance not backing open orders
func (l *Ledger) Available(trader common.Address, sym token.Symbol) uint64 {
	return l.Get(trader, sym).Available()
}

// Balances returns all non-empty balances of trader sorted by symbol
func (l *Ledger) Balances(trader common.Address) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []Entry
	for k, b := range l.balances {
		if k.Trader == trader && b.Total > 0 {
			out = append(out, Entry{Trader: k.Trader, Symbol: k.Symbol, Total: b.Total, Locked: b.Locked})
		}
	}
	sortEntries(out)
	return out
}

// Snapshot returns every non-zero balance in (trader, symbol) order
func (l *Ledger) Snapshot() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Entry, 0, len(l.balances))
	for k, b := range l.balances {
		if b.Total == 0 {
			continue
		}
		out = append(out, Entry{Trader: k.Trader, Symbol: k.Symbol, Total: b.Total, Locked: b.Locked})
	}
	sortEntries(out)
	return out
}

// TotalOf sums every trader's balance of sym
func (l *Ledger) TotalOf(sym token.Symbol) uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var sum uint64
	for k, b := range l.balances {
		if k.Symbol == sym {
			sum += b.Total
		}
	}
	return sum
}

// Restore replaces the in-memory balances with persisted entries
func (l *Ledger) Restore(entries []Entry) error {
	balances := make(map[Key]Balance, len(entries))
	for _, e := range entries {
		if e.Locked > e.Total {
			return fmt.Errorf("corrupt balance %s/%s: locked %d > total %d", e.Trader.Hex(), e.Symbol, e.Locked, e.Total)
		}
		balances[e.Key()] = Balance{Total: e.Total, Locked: e.Locked}
	}

	l.mu.Lock()
	l.balances = balances
	l.mu.Unlock()
	return nil
}

func sortEntries(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool {
		if c := bytes.Compare(entries[i].Trader[:], entries[j].Trader[:]); c != 0 {
			return c < 0
		}
		return bytes.Compare(entries[i].Symbol[:], entries[j].Symbol[:]) < 0
	})
}

func addBalance(a, b uint64) (uint64, error) {
	sum, overflow := math.SafeAdd(a, b)
	if overflow {
		return 0, ErrBalanceOverflow
	}
	return sum, nil
}
