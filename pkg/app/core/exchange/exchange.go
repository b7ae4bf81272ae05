package exchange

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/uhyunpark/hyperdex/pkg/app/core/ledger"
	"github.com/uhyunpark/hyperdex/pkg/app/core/orderbook"
	"github.com/uhyunpark/hyperdex/pkg/app/core/token"
	"github.com/uhyunpark/hyperdex/pkg/storage"
	"github.com/uhyunpark/hyperdex/pkg/util"
)

type Config struct {
	// CompactFilled removes fully filled makers after each market walk.
	// Otherwise they stay in the book and are skipped.
	CompactFilled bool
	TradeHistory  int // recent trades kept per symbol
	Clock         util.Clock
}

// Listener receives exchange events after the operation that produced
// them has committed. Calls are synchronous and must not block.
type Listener interface {
	TradeExecuted(tr orderbook.Trade)
	BookChanged(sym token.Symbol)
	BalanceChanged(e ledger.Entry)
}

// Exchange is the matching engine. It owns the order books and drives the
// ledger; every mutating operation runs under a single write lock and
// either fully applies or leaves no trace.
type Exchange struct {
	mu       sync.RWMutex
	cfg      Config
	registry *token.Registry
	ledger   *ledger.Ledger
	books    *orderbook.Books
	store    *storage.PebbleStore // nil keeps state in memory only
	log      *zap.SugaredLogger

	nextOrderID uint64
	nextSeq     uint64
	nextTrade   uint64 // seq of the next trade
	trades      map[token.Symbol][]orderbook.Trade

	lmu       sync.RWMutex
	listeners []Listener
}

func New(cfg Config, registry *token.Registry, led *ledger.Ledger, store *storage.PebbleStore, log *zap.SugaredLogger) *Exchange {
	if cfg.Clock == nil {
		cfg.Clock = util.RealClock{}
	}
	if cfg.TradeHistory <= 0 {
		cfg.TradeHistory = 500
	}
	return &Exchange{
		cfg:         cfg,
		registry:    registry,
		ledger:      led,
		books:       orderbook.NewBooks(),
		store:       store,
		log:         log,
		nextOrderID: 1,
		nextSeq:     1,
		nextTrade:   1,
		trades:      make(map[token.Symbol][]orderbook.Trade),
	}
}

func (x *Exchange) Registry() *token.Registry { return x.registry }
func (x *Exchange) Base() token.Symbol        { return x.registry.Base() }

// Custody is the address traders approve before depositing
func (x *Exchange) Custody() common.Address { return x.ledger.Custody() }

// Subscribe registers l for all future events
func (x *Exchange) Subscribe(l Listener) {
	x.lmu.Lock()
	x.listeners = append(x.listeners, l)
	x.lmu.Unlock()
}

// events collects notifications while the write lock is held
type events struct {
	trades   []orderbook.Trade
	books    []token.Symbol
	balances []ledger.Entry
}

func (x *Exchange) emit(ev events) {
	x.lmu.RLock()
	listeners := x.listeners
	x.lmu.RUnlock()

	for _, l := range listeners {
		for _, e := range ev.balances {
			l.BalanceChanged(e)
		}
		for _, tr := range ev.trades {
			l.TradeExecuted(tr)
		}
		for _, sym := range ev.books {
			l.BookChanged(sym)
		}
	}
}

// AddToken registers a token. Only the registry admin may call it and a
// symbol can only be registered once.
func (x *Exchange) AddToken(ctx context.Context, caller common.Address, t token.Token) error {
	if inOp(ctx) {
		return ErrReentrantCall
	}
	if caller != x.registry.Admin() {
		return token.ErrUnauthorized
	}
	if t.Symbol.IsZero() || t.Service == nil {
		return fmt.Errorf("%w: missing symbol or service", token.ErrInvalidSymbol)
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	if x.registry.Exists(t.Symbol) {
		return fmt.Errorf("%w: %s", token.ErrTokenExists, t.Symbol)
	}
	if x.store != nil {
		b := x.store.NewBatch()
		if err := b.PutToken(storage.TokenRecord{Symbol: t.Symbol, Address: t.Address}); err != nil {
			b.Discard()
			return err
		}
		if err := b.Commit(); err != nil {
			return err
		}
	}
	if err := x.registry.AddToken(caller, t); err != nil {
		return err
	}

	x.log.Infow("token_added", "symbol", t.Symbol.String(), "address", t.Address.Hex(), "base", x.registry.IsBaseCurrency(t.Symbol))
	return nil
}

// Deposit moves amount of sym from the trader's token account into the
// exchange and credits the trader
func (x *Exchange) Deposit(ctx context.Context, trader common.Address, sym token.Symbol, amount uint64) (ledger.Entry, error) {
	if inOp(ctx) {
		return ledger.Entry{}, ErrReentrantCall
	}

	x.mu.Lock()
	entry, err := x.ledger.Deposit(enterOp(ctx), trader, sym, amount)
	if err != nil {
		x.mu.Unlock()
		return ledger.Entry{}, err
	}
	if amount > 0 {
		x.persistBalances("deposit", entry)
	}
	x.mu.Unlock()

	x.log.Infow("deposit", "trader", trader.Hex(), "symbol", sym.String(), "amount", amount, "balance", entry.Total)
	if amount > 0 {
		x.emit(events{balances: []ledger.Entry{entry}})
	}
	return entry, nil
}

// Withdraw debits the trader and transfers amount of sym back out
func (x *Exchange) Withdraw(ctx context.Context, trader common.Address, sym token.Symbol, amount uint64) (ledger.Entry, error) {
	if inOp(ctx) {
		return ledger.Entry{}, ErrReentrantCall
	}

	x.mu.Lock()
	entry, err := x.ledger.Withdraw(enterOp(ctx), trader, sym, amount)
	if err != nil {
		x.mu.Unlock()
		return ledger.Entry{}, err
	}
	if amount > 0 {
		x.persistBalances("withdraw", entry)
	}
	x.mu.Unlock()

	x.log.Infow("withdraw", "trader", trader.Hex(), "symbol", sym.String(), "amount", amount, "balance", entry.Total)
	if amount > 0 {
		x.emit(events{balances: []ledger.Entry{entry}})
	}
	return entry, nil
}

// persistBalances writes balances after the token transfer already
// happened; failure here is logged rather than returned since the
// external movement cannot be undone.
func (x *Exchange) persistBalances(op string, entries ...ledger.Entry) {
	if x.store == nil {
		return
	}
	b := x.store.NewBatch()
	for _, e := range entries {
		if err := b.PutBalance(e); err != nil {
			b.Discard()
			x.log.Errorw("balance_persist_failed", "op", op, "err", err)
			return
		}
	}
	if err := b.Commit(); err != nil {
		x.log.Errorw("balance_persist_failed", "op", op, "err", err)
	}
}

// Restore rebuilds in-memory state from the store. resolve maps a
// persisted token record back to its live service.
func (x *Exchange) Restore(resolve func(storage.TokenRecord) (token.Service, error)) error {
	if x.store == nil {
		return nil
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	records, err := x.store.LoadTokens()
	if err != nil {
		return fmt.Errorf("failed to load tokens: %w", err)
	}
	for _, rec := range records {
		svc, err := resolve(rec)
		if err != nil {
			return fmt.Errorf("failed to resolve token %s: %w", rec.Symbol, err)
		}
		t := token.Token{Symbol: rec.Symbol, Address: rec.Address, Service: svc}
		if err := x.registry.AddToken(x.registry.Admin(), t); err != nil {
			return fmt.Errorf("failed to register token %s: %w", rec.Symbol, err)
		}
	}

	balances, err := x.store.LoadBalances()
	if err != nil {
		return fmt.Errorf("failed to load balances: %w", err)
	}
	if err := x.ledger.Restore(balances); err != nil {
		return err
	}

	orders, err := x.store.LoadOrders()
	if err != nil {
		return fmt.Errorf("failed to load orders: %w", err)
	}
	sort.Slice(orders, func(i, j int) bool { return orders[i].Seq < orders[j].Seq })
	for _, o := range orders {
		if err := x.books.Add(o); err != nil {
			return fmt.Errorf("failed to restore order %d: %w", o.ID, err)
		}
		if o.ID >= x.nextOrderID {
			x.nextOrderID = o.ID + 1
		}
		if o.Seq >= x.nextSeq {
			x.nextSeq = o.Seq + 1
		}
	}

	if next, err := x.store.LoadMeta(storage.MetaNextOrderID); err != nil {
		return err
	} else if next > x.nextOrderID {
		x.nextOrderID = next
	}
	if next, err := x.store.LoadMeta(storage.MetaNextSeq); err != nil {
		return err
	} else if next > x.nextSeq {
		x.nextSeq = next
	}
	if next, err := x.store.LoadMeta(storage.MetaNextTradeSeq); err != nil {
		return err
	} else if next > x.nextTrade {
		x.nextTrade = next
	}

	for _, t := range x.registry.List() {
		trades, err := x.store.LoadRecentTrades(t.Symbol, x.cfg.TradeHistory)
		if err != nil {
			return fmt.Errorf("failed to load trades for %s: %w", t.Symbol, err)
		}
		if len(trades) > 0 {
			x.trades[t.Symbol] = trades
			if last := trades[len(trades)-1].Seq; last >= x.nextTrade {
				x.nextTrade = last + 1
			}
		}
	}

	x.log.Infow("exchange_restored",
		"tokens", len(records),
		"balances", len(balances),
		"orders", len(orders),
		"next_order_id", x.nextOrderID,
		"next_trade", x.nextTrade,
	)
	return nil
}

func (x *Exchange) recordTrades(trades []orderbook.Trade) {
	for _, tr := range trades {
		hist := append(x.trades[tr.Symbol], tr)
		if over := len(hist) - x.cfg.TradeHistory; over > 0 {
			hist = append([]orderbook.Trade(nil), hist[over:]...)
		}
		x.trades[tr.Symbol] = hist
	}
	x.nextTrade += uint64(len(trades))
}
