package ledger

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperdex/pkg/app/core/token"
)

// Tx stages balance changes on top of the ledger. Nothing is visible to
// readers until Commit; an abandoned Tx leaves the ledger unchanged.
//
// A Tx does not lock the ledger while staging; callers must serialise
// writers so staged reads stay valid until Commit.
type Tx struct {
	l      *Ledger
	staged map[Key]Balance
	order  []Key
}

// Begin starts a new staged working set
func (l *Ledger) Begin() *Tx {
	return &Tx{l: l, staged: make(map[Key]Balance)}
}

func (tx *Tx) get(k Key) Balance {
	if b, ok := tx.staged[k]; ok {
		return b
	}
	tx.l.mu.RLock()
	defer tx.l.mu.RUnlock()
	return tx.l.balances[k]
}

func (tx *Tx) set(k Key, b Balance) {
	if _, ok := tx.staged[k]; !ok {
		tx.order = append(tx.order, k)
	}
	tx.staged[k] = b
}

// Balance returns the staged view of a balance
func (tx *Tx) Balance(trader common.Address, sym token.Symbol) Balance {
	return tx.get(Key{trader, sym})
}

// Available returns the staged unlocked balance
func (tx *Tx) Available(trader common.Address, sym token.Symbol) uint64 {
	return tx.get(Key{trader, sym}).Available()
}

func (tx *Tx) Entry(trader common.Address, sym token.Symbol) Entry {
	b := tx.get(Key{trader, sym})
	return Entry{Trader: trader, Symbol: sym, Total: b.Total, Locked: b.Locked}
}

// Credit adds amount to the trader's total
func (tx *Tx) Credit(trader common.Address, sym token.Symbol, amount uint64) error {
	k := Key{trader, sym}
	b := tx.get(k)
	total, err := addBalance(b.Total, amount)
	if err != nil {
		return fmt.Errorf("credit %s %s: %w", trader.Hex(), sym, err)
	}
	b.Total = total
	tx.set(k, b)
	return nil
}

// Debit removes amount from the trader's unlocked balance
func (tx *Tx) Debit(trader common.Address, sym token.Symbol, amount uint64) error {
	k := Key{trader, sym}
	b := tx.get(k)
	if b.Available() < amount {
		return ErrInsufficientBalance
	}
	b.Total -= amount
	tx.set(k, b)
	return nil
}

// Reserve locks amount of the unlocked balance for an open order
func (tx *Tx) Reserve(trader common.Address, sym token.Symbol, amount uint64) error {
	k := Key{trader, sym}
	b := tx.get(k)
	if b.Available() < amount {
		return ErrInsufficientBalance
	}
	b.Locked += amount
	tx.set(k, b)
	return nil
}

// Release unlocks amount previously reserved
func (tx *Tx) Release(trader common.Address, sym token.Symbol, amount uint64) error {
	k := Key{trader, sym}
	b := tx.get(k)
	if b.Locked < amount {
		return fmt.Errorf("cannot release more than locked: locked=%d, release=%d", b.Locked, amount)
	}
	b.Locked -= amount
	tx.set(k, b)
	return nil
}

// DebitReserved removes amount that was reserved for an order being filled
func (tx *Tx) DebitReserved(trader common.Address, sym token.Symbol, amount uint64) error {
	k := Key{trader, sym}
	b := tx.get(k)
	if b.Locked < amount {
		return fmt.Errorf("cannot settle more than locked: locked=%d, settle=%d", b.Locked, amount)
	}
	b.Locked -= amount
	b.Total -= amount
	tx.set(k, b)
	return nil
}

// Dirty lists every staged balance in the order it was first touched
func (tx *Tx) Dirty() []Entry {
	out := make([]Entry, 0, len(tx.order))
	for _, k := range tx.order {
		b := tx.staged[k]
		out = append(out, Entry{Trader: k.Trader, Symbol: k.Symbol, Total: b.Total, Locked: b.Locked})
	}
	return out
}

// Commit publishes the staged balances and returns them
func (tx *Tx) Commit() []Entry {
	entries := tx.Dirty()

	tx.l.mu.Lock()
	for _, k := range tx.order {
		tx.l.balances[k] = tx.staged[k]
	}
	tx.l.mu.Unlock()

	tx.staged = make(map[Key]Balance)
	tx.order = nil
	return entries
}
