package exchange

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/google/uuid"

	"github.com/uhyunpark/hyperdex/pkg/app/core/ledger"
	"github.com/uhyunpark/hyperdex/pkg/app/core/orderbook"
	"github.com/uhyunpark/hyperdex/pkg/app/core/token"
	"github.com/uhyunpark/hyperdex/pkg/storage"
)

// MarketResult describes what a market order consumed
type MarketResult struct {
	Requested uint64            `json:"requested"`
	Filled    uint64            `json:"filled"`
	Trades    []orderbook.Trade `json:"trades"`
}

// checkTradable resolves sym and rejects the base currency (lock held)
func (x *Exchange) checkTradable(sym token.Symbol) error {
	if _, err := x.registry.Resolve(sym); err != nil {
		return err
	}
	if x.registry.IsBaseCurrency(sym) {
		return cannotTrade(x.registry.Base())
	}
	return nil
}

// CreateLimitOrder rests a new order in the book. The funds it needs
// (amount of sym for SELL, amount*price of base for BUY) are reserved so
// they cannot back another order.
func (x *Exchange) CreateLimitOrder(ctx context.Context, trader common.Address, sym token.Symbol, amount, price uint64, side orderbook.Side) (orderbook.Order, error) {
	if inOp(ctx) {
		return orderbook.Order{}, ErrReentrantCall
	}

	if amount == 0 {
		return orderbook.Order{}, ErrInvalidAmount
	}
	if price == 0 {
		return orderbook.Order{}, ErrInvalidPrice
	}
	cost, overflow := math.SafeMul(amount, price)
	if overflow {
		return orderbook.Order{}, costOverflow()
	}

	x.mu.Lock()

	if err := x.checkTradable(sym); err != nil {
		x.mu.Unlock()
		return orderbook.Order{}, err
	}

	base := x.registry.Base()
	tx := x.ledger.Begin()
	switch side {
	case orderbook.Sell:
		if err := tx.Reserve(trader, sym, amount); err != nil {
			x.mu.Unlock()
			return orderbook.Order{}, ErrInsufficientTokenBalance
		}
	case orderbook.Buy:
		if err := tx.Reserve(trader, base, cost); err != nil {
			x.mu.Unlock()
			return orderbook.Order{}, baseBalanceTooLow(base)
		}
	}

	order := &orderbook.Order{
		ID:        x.nextOrderID,
		Trader:    trader,
		Side:      side,
		Symbol:    sym,
		Amount:    amount,
		Price:     price,
		Seq:       x.nextSeq,
		CreatedAt: x.cfg.Clock.Now().UnixMilli(),
	}

	// a failed commit takes the order back out of the book
	if err := x.books.Add(order); err != nil {
		x.mu.Unlock()
		return orderbook.Order{}, err
	}
	if x.store != nil {
		b := x.store.NewBatch()
		err := errors.Join(
			b.PutOrder(order),
			putBalances(b, tx.Dirty()),
			b.PutMeta(storage.MetaNextOrderID, order.ID+1),
			b.PutMeta(storage.MetaNextSeq, order.Seq+1),
		)
		if err != nil {
			b.Discard()
		} else {
			err = b.Commit()
		}
		if err != nil {
			x.books.Remove(order.ID)
			x.mu.Unlock()
			return orderbook.Order{}, err
		}
	}
	changed := tx.Commit()
	x.nextOrderID++
	x.nextSeq++
	placed := *order
	x.mu.Unlock()

	x.log.Infow("limit_order_placed",
		"id", placed.ID,
		"trader", trader.Hex(),
		"symbol", sym.String(),
		"side", side.String(),
		"amount", amount,
		"price", price,
	)
	x.emit(events{books: []token.Symbol{sym}, balances: changed})
	return placed, nil
}

type fill struct {
	maker  *orderbook.Order
	amount uint64
}

// CreateMarketOrder fills amount against the opposite book, best price
// first, at each maker's price. It stops when amount is filled or the
// book runs out; a partial fill is still a success.
//
// SELL requires the full amount of sym up front. BUY requires enough base
// to pay amount at the best opposite price, and each fill is additionally
// capped at what the taker can still afford.
func (x *Exchange) CreateMarketOrder(ctx context.Context, trader common.Address, sym token.Symbol, amount uint64, side orderbook.Side) (MarketResult, error) {
	if inOp(ctx) {
		return MarketResult{}, ErrReentrantCall
	}

	if amount == 0 {
		return MarketResult{}, ErrInvalidAmount
	}

	x.mu.Lock()

	if err := x.checkTradable(sym); err != nil {
		x.mu.Unlock()
		return MarketResult{}, err
	}

	base := x.registry.Base()
	tx := x.ledger.Begin()
	opposite, hasBook := x.books.Lookup(sym, side.Opposite())

	switch side {
	case orderbook.Sell:
		if tx.Available(trader, sym) < amount {
			x.mu.Unlock()
			return MarketResult{}, ErrInsufficientTokenBalance
		}
	case orderbook.Buy:
		if hasBook {
			if best, ok := opposite.Best(); ok {
				cost, overflow := math.SafeMul(amount, best.Price)
				if overflow || tx.Available(trader, base) < cost {
					x.mu.Unlock()
					return MarketResult{}, baseBalanceTooLow(base)
				}
			}
		}
	}

	var fills []fill
	remaining := amount
	if hasBook {
		for maker := range opposite.Walk() {
			if remaining == 0 {
				break
			}
			if maker.IsFilled() {
				continue
			}
			qty := min(remaining, maker.Remaining())
			if side == orderbook.Buy {
				qty = min(qty, tx.Available(trader, base)/maker.Price)
				if qty == 0 {
					break
				}
			}
			if err := settle(tx, side, trader, maker, base, qty); err != nil {
				x.mu.Unlock()
				return MarketResult{}, err
			}
			fills = append(fills, fill{maker: maker, amount: qty})
			remaining -= qty
		}
	}

	now := x.cfg.Clock.Now().UnixMilli()
	trades := make([]orderbook.Trade, 0, len(fills))
	for i, f := range fills {
		trades = append(trades, orderbook.Trade{
			ID:           uuid.NewString(),
			Symbol:       sym,
			MakerOrderID: f.maker.ID,
			Taker:        trader,
			Maker:        f.maker.Trader,
			Side:         side,
			Amount:       f.amount,
			Price:        f.maker.Price,
			Timestamp:    now,
			Seq:          x.nextTrade + uint64(i),
		})
	}

	if x.store != nil && len(fills) > 0 {
		b := x.store.NewBatch()
		var errs []error
		for _, f := range fills {
			updated := *f.maker
			updated.Filled += f.amount
			if x.cfg.CompactFilled && updated.IsFilled() {
				errs = append(errs, b.DeleteOrder(&updated))
			} else {
				errs = append(errs, b.PutOrder(&updated))
			}
		}
		for _, tr := range trades {
			errs = append(errs, b.PutTrade(tr))
		}
		errs = append(errs,
			putBalances(b, tx.Dirty()),
			b.PutMeta(storage.MetaNextTradeSeq, x.nextTrade+uint64(len(trades))),
		)
		if err := errors.Join(errs...); err != nil {
			b.Discard()
			x.mu.Unlock()
			return MarketResult{}, err
		}
		if err := b.Commit(); err != nil {
			x.mu.Unlock()
			return MarketResult{}, err
		}
	}

	changed := tx.Commit()
	for _, f := range fills {
		f.maker.Filled += f.amount
	}
	if x.cfg.CompactFilled && len(fills) > 0 {
		x.books.Compact(sym, side.Opposite())
	}
	x.recordTrades(trades)
	x.mu.Unlock()

	filled := amount - remaining
	x.log.Infow("market_order_executed",
		"trader", trader.Hex(),
		"symbol", sym.String(),
		"side", side.String(),
		"requested", amount,
		"filled", filled,
		"trades", len(trades),
	)

	ev := events{trades: trades, balances: changed}
	if len(fills) > 0 {
		ev.books = []token.Symbol{sym}
	}
	x.emit(ev)
	return MarketResult{Requested: amount, Filled: filled, Trades: trades}, nil
}

// settle stages one fill of qty at the maker's price
func settle(tx *ledger.Tx, side orderbook.Side, taker common.Address, maker *orderbook.Order, base token.Symbol, qty uint64) error {
	// qty*price never exceeds the maker's reservation (SELL taker) or the
	// taker's available base (BUY taker), so it cannot overflow
	cost := qty * maker.Price
	sym := maker.Symbol

	if side == orderbook.Sell {
		return errors.Join(
			tx.Debit(taker, sym, qty),
			tx.Credit(taker, base, cost),
			tx.DebitReserved(maker.Trader, base, cost),
			tx.Credit(maker.Trader, sym, qty),
		)
	}
	return errors.Join(
		tx.Debit(taker, base, cost),
		tx.Credit(taker, sym, qty),
		tx.DebitReserved(maker.Trader, sym, qty),
		tx.Credit(maker.Trader, base, cost),
	)
}

// CancelOrder removes one of trader's resting orders and releases the
// funds still reserved for it
func (x *Exchange) CancelOrder(ctx context.Context, trader common.Address, orderID uint64) (orderbook.Order, error) {
	if inOp(ctx) {
		return orderbook.Order{}, ErrReentrantCall
	}

	x.mu.Lock()

	order, ok := x.books.Order(orderID)
	if !ok {
		x.mu.Unlock()
		return orderbook.Order{}, ErrOrderNotFound
	}
	if order.Trader != trader {
		x.mu.Unlock()
		return orderbook.Order{}, ErrNotOrderOwner
	}

	tx := x.ledger.Begin()
	var err error
	if order.Side == orderbook.Sell {
		err = tx.Release(trader, order.Symbol, order.Remaining())
	} else {
		err = tx.Release(trader, x.registry.Base(), order.Remaining()*order.Price)
	}
	if err != nil {
		x.mu.Unlock()
		return orderbook.Order{}, err
	}

	if x.store != nil {
		b := x.store.NewBatch()
		if err := errors.Join(b.DeleteOrder(order), putBalances(b, tx.Dirty())); err != nil {
			b.Discard()
			x.mu.Unlock()
			return orderbook.Order{}, err
		}
		if err := b.Commit(); err != nil {
			x.mu.Unlock()
			return orderbook.Order{}, err
		}
	}

	x.books.Remove(orderID)
	changed := tx.Commit()
	cancelled := *order
	x.mu.Unlock()

	x.log.Infow("order_cancelled",
		"id", orderID,
		"trader", trader.Hex(),
		"symbol", cancelled.Symbol.String(),
		"released", cancelled.Remaining(),
	)
	x.emit(events{books: []token.Symbol{cancelled.Symbol}, balances: changed})
	return cancelled, nil
}

func putBalances(b *storage.Batch, entries []ledger.Entry) error {
	for _, e := range entries {
		if err := b.PutBalance(e); err != nil {
			return err
		}
	}
	return nil
}
