package storage

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperdex/pkg/app/core/ledger"
	"github.com/uhyunpark/hyperdex/pkg/app/core/orderbook"
	"github.com/uhyunpark/hyperdex/pkg/app/core/token"
)

// TokenRecord is a registered token as persisted
type TokenRecord struct {
	Symbol  token.Symbol   `json:"symbol"`
	Address common.Address `json:"address"`
}

// PebbleStore persists exchange state. Writers go through Batch so every
// exchange operation lands atomically.
type PebbleStore struct {
	db *pebble.DB
}

// NewPebbleStore opens a Pebble database at the given path
func NewPebbleStore(path string) (*PebbleStore, error) {
	opts := &pebble.Options{
		Cache:        pebble.NewCache(64 << 20),
		MemTableSize: 32 << 20,
		MaxOpenFiles: 1000,
		BytesPerSync: 512 << 10,
	}
	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble db at %s: %w", path, err)
	}
	return &PebbleStore{db: db}, nil
}

// NewMemStore opens a Pebble database backed by an in-memory filesystem
func NewMemStore() (*PebbleStore, error) {
	db, err := pebble.Open("", &pebble.Options{FS: vfs.NewMem()})
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory pebble db: %w", err)
	}
	return &PebbleStore{db: db}, nil
}

func (s *PebbleStore) Close() error { return s.db.Close() }

// ============================================================================
// Batch writes
// ============================================================================

// Batch collects writes for one exchange operation
type Batch struct {
	b *pebble.Batch
}

func (s *PebbleStore) NewBatch() *Batch {
	return &Batch{b: s.db.NewBatch()}
}

func (b *Batch) putJSON(key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	return b.b.Set(key, data, nil)
}

func (b *Batch) PutToken(rec TokenRecord) error {
	return b.putJSON(tokenKey(rec.Symbol), rec)
}

func (b *Batch) PutBalance(e ledger.Entry) error {
	if e.Total == 0 && e.Locked == 0 {
		return b.b.Delete(balanceKey(e.Trader, e.Symbol), nil)
	}
	return b.putJSON(balanceKey(e.Trader, e.Symbol), e)
}

func (b *Batch) PutOrder(o *orderbook.Order) error {
	return b.putJSON(orderKey(o.Symbol, o.Side, o.ID), o)
}

func (b *Batch) DeleteOrder(o *orderbook.Order) error {
	return b.b.Delete(orderKey(o.Symbol, o.Side, o.ID), nil)
}

func (b *Batch) PutTrade(tr orderbook.Trade) error {
	return b.putJSON(tradeKey(tr.Symbol, tr.Seq, tr.ID), tr)
}

func (b *Batch) PutNonce(addr common.Address, nonce uint64) error {
	return b.b.Set(nonceKey(addr), encodeUint64(nonce), nil)
}

func (b *Batch) PutMeta(name string, v uint64) error {
	return b.b.Set(metaKey(name), encodeUint64(v), nil)
}

func (b *Batch) Empty() bool { return b.b.Empty() }

// Commit writes the batch durably and releases it
func (b *Batch) Commit() error {
	defer b.b.Close()
	if err := b.b.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}
	return nil
}

// Discard releases the batch without writing
func (b *Batch) Discard() {
	_ = b.b.Close()
}

// ============================================================================
// Loads
// ============================================================================

// LoadTokens returns every registered token
func (s *PebbleStore) LoadTokens() ([]TokenRecord, error) {
	return scanJSON[TokenRecord](s.db, []byte(prefixToken))
}

// LoadBalances returns every persisted ledger balance
func (s *PebbleStore) LoadBalances() ([]ledger.Entry, error) {
	return scanJSON[ledger.Entry](s.db, []byte(prefixBalance))
}

// LoadOrders returns every resting order; callers re-sort by Seq
func (s *PebbleStore) LoadOrders() ([]*orderbook.Order, error) {
	orders, err := scanJSON[orderbook.Order](s.db, []byte(prefixOrder))
	if err != nil {
		return nil, err
	}
	out := make([]*orderbook.Order, len(orders))
	for i := range orders {
		out[i] = &orders[i]
	}
	return out, nil
}

// LoadRecentTrades loads the most recent N trades for a symbol, oldest first
func (s *PebbleStore) LoadRecentTrades(sym token.Symbol, limit int) ([]orderbook.Trade, error) {
	prefix := tradePrefix(sym)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open trade iterator: %w", err)
	}
	defer iter.Close()

	var trades []orderbook.Trade
	for iter.Last(); iter.Valid() && len(trades) < limit; iter.Prev() {
		var tr orderbook.Trade
		if err := json.Unmarshal(iter.Value(), &tr); err != nil {
			return nil, fmt.Errorf("failed to unmarshal trade %s: %w", iter.Key(), err)
		}
		trades = append(trades, tr)
	}
	for i, j := 0, len(trades)-1; i < j; i, j = i+1, j-1 {
		trades[i], trades[j] = trades[j], trades[i]
	}
	return trades, nil
}

// LoadNonce returns the last accepted nonce for addr (0 if none)
func (s *PebbleStore) LoadNonce(addr common.Address) (uint64, error) {
	return s.getUint64(nonceKey(addr))
}

// LoadMeta returns a named counter (0 if unset)
func (s *PebbleStore) LoadMeta(name string) (uint64, error) {
	return s.getUint64(metaKey(name))
}

// ============================================================================
// In-memory token state (token.StateStore)
// ============================================================================

func (s *PebbleStore) SaveTokenState(st token.ERC20State) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("failed to marshal token state: %w", err)
	}
	if err := s.db.Set(erc20Key(st.Address), data, pebble.Sync); err != nil {
		return fmt.Errorf("failed to save token state: %w", err)
	}
	return nil
}

func (s *PebbleStore) LoadTokenStates() ([]token.ERC20State, error) {
	return scanJSON[token.ERC20State](s.db, []byte(prefixERC20))
}

var _ token.StateStore = (*PebbleStore)(nil)

func (s *PebbleStore) getUint64(key []byte) (uint64, error) {
	val, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get %s: %w", key, err)
	}
	defer closer.Close()
	if len(val) != 8 {
		return 0, fmt.Errorf("corrupt counter %s: %d bytes", key, len(val))
	}
	return binary.BigEndian.Uint64(val), nil
}

func scanJSON[T any](db *pebble.DB, prefix []byte) ([]T, error) {
	iter, err := db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open iterator: %w", err)
	}
	defer iter.Close()

	var out []T
	for iter.First(); iter.Valid(); iter.Next() {
		var v T
		if err := json.Unmarshal(iter.Value(), &v); err != nil {
			return nil, fmt.Errorf("failed to unmarshal %s: %w", iter.Key(), err)
		}
		out = append(out, v)
	}
	return out, iter.Error()
}

func encodeUint64(v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return b[:]
}
