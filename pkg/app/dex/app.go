package dex

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/uhyunpark/hyperdex/pkg/app/core/exchange"
	"github.com/uhyunpark/hyperdex/pkg/app/core/ledger"
	"github.com/uhyunpark/hyperdex/pkg/app/core/mempool"
	"github.com/uhyunpark/hyperdex/pkg/app/core/orderbook"
	"github.com/uhyunpark/hyperdex/pkg/app/core/token"
	"github.com/uhyunpark/hyperdex/pkg/app/core/transaction"
	"github.com/uhyunpark/hyperdex/pkg/crypto"
	"github.com/uhyunpark/hyperdex/pkg/storage"
)

var (
	ErrNonceTooLow     = errors.New("nonce too low")
	ErrUnknownContract = errors.New("no token deployed at address")
	ErrMempoolFull     = errors.New("mempool full")
)

type Config struct {
	Domain      crypto.Domain
	MempoolSize int   // 0 = unbounded
	MaxDrain    int64 // bytes applied per drain, 0 = everything queued
}

// Receipt describes the effect of an applied request. Only the field
// matching Type is set.
type Receipt struct {
	Type    transaction.RequestType `json:"type"`
	Owner   common.Address          `json:"owner"`
	Nonce   uint64                  `json:"nonce"`
	Token   *token.Token            `json:"token,omitempty"`
	Balance *ledger.Entry           `json:"balance,omitempty"`
	Order   *orderbook.Order        `json:"order,omitempty"`
	Market  *exchange.MarketResult  `json:"market,omitempty"`
}

// App is the signed-request front of the exchange. It verifies EIP-712
// signatures, enforces strictly increasing per-owner nonces and then
// dispatches to the matching engine, either immediately (Apply) or in
// batches drained from the mempool (PushTx + Run).
type App struct {
	cfg      Config
	exchange *exchange.Exchange
	tokens   *token.Directory // resolves addToken contract addresses
	verifier *transaction.Verifier
	store    *storage.PebbleStore // nil keeps nonces in memory only
	journal  storage.Journal
	mempool  *mempool.Mempool
	log      *zap.SugaredLogger

	mu     sync.Mutex
	nonces map[common.Address]uint64
}

func NewApp(cfg Config, x *exchange.Exchange, tokens *token.Directory, store *storage.PebbleStore, journal storage.Journal, log *zap.SugaredLogger) *App {
	if cfg.Domain.ChainID == nil {
		cfg.Domain = crypto.DefaultDomain()
	}
	if journal == nil {
		journal = storage.NewNopJournal()
	}
	return &App{
		cfg:      cfg,
		exchange: x,
		tokens:   tokens,
		verifier: transaction.NewVerifier(cfg.Domain),
		store:    store,
		journal:  journal,
		mempool:  mempool.NewMempool(cfg.MempoolSize),
		log:      log,
		nonces:   make(map[common.Address]uint64),
	}
}

func (a *App) Exchange() *exchange.Exchange { return a.exchange }
func (a *App) Domain() crypto.Domain        { return a.cfg.Domain }
func (a *App) Pending() int                 { return a.mempool.Len() }

// Nonce returns the last nonce accepted from owner (0 if none)
func (a *App) Nonce(owner common.Address) (uint64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.nonceLocked(owner)
}

func (a *App) nonceLocked(owner common.Address) (uint64, error) {
	if n, ok := a.nonces[owner]; ok {
		return n, nil
	}
	if a.store == nil {
		return 0, nil
	}
	n, err := a.store.LoadNonce(owner)
	if err != nil {
		return 0, fmt.Errorf("failed to load nonce: %w", err)
	}
	a.nonces[owner] = n
	return n, nil
}

// useNonce consumes nonce for owner. A nonce is spent once the signature
// checks out, whether or not the exchange accepts the operation.
func (a *App) useNonce(owner common.Address, nonce uint64) error {
	last, err := a.nonceLocked(owner)
	if err != nil {
		return err
	}
	if nonce <= last {
		return fmt.Errorf("%w: got %d, last used %d", ErrNonceTooLow, nonce, last)
	}
	if a.store != nil {
		b := a.store.NewBatch()
		if err := b.PutNonce(owner, nonce); err != nil {
			b.Discard()
			return err
		}
		if err := b.Commit(); err != nil {
			return err
		}
	}
	a.nonces[owner] = nonce
	return nil
}

// Apply verifies and executes one raw signed request
func (a *App) Apply(ctx context.Context, raw []byte) (Receipt, error) {
	tx, err := transaction.ParseRequest(raw)
	if err != nil {
		return Receipt{}, err
	}
	req, err := a.verifier.Verify(tx)
	if err != nil {
		return Receipt{}, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.useNonce(req.Owner, req.Nonce); err != nil {
		return Receipt{}, err
	}

	receipt, err := a.dispatch(ctx, req)
	a.record(raw, err)
	if err != nil {
		a.log.Infow("request_rejected", "type", req.Type, "owner", req.Owner.Hex(), "nonce", req.Nonce, "err", err)
		return Receipt{}, err
	}
	return receipt, nil
}

func (a *App) dispatch(ctx context.Context, req transaction.Request) (Receipt, error) {
	receipt := Receipt{Type: req.Type, Owner: req.Owner, Nonce: req.Nonce}

	switch req.Type {
	case transaction.TypeAddToken:
		svc, ok := a.lookupToken(req.Token)
		if !ok {
			return Receipt{}, fmt.Errorf("%w: %s", ErrUnknownContract, req.Token.Hex())
		}
		t := token.Token{Symbol: req.Symbol, Address: req.Token, Service: svc}
		if err := a.exchange.AddToken(ctx, req.Owner, t); err != nil {
			return Receipt{}, err
		}
		receipt.Token = &t

	case transaction.TypeDeposit:
		entry, err := a.exchange.Deposit(ctx, req.Owner, req.Symbol, req.Amount)
		if err != nil {
			return Receipt{}, err
		}
		receipt.Balance = &entry

	case transaction.TypeWithdraw:
		entry, err := a.exchange.Withdraw(ctx, req.Owner, req.Symbol, req.Amount)
		if err != nil {
			return Receipt{}, err
		}
		receipt.Balance = &entry

	case transaction.TypeLimitOrder:
		order, err := a.exchange.CreateLimitOrder(ctx, req.Owner, req.Symbol, req.Amount, req.Price, req.Side)
		if err != nil {
			return Receipt{}, err
		}
		receipt.Order = &order

	case transaction.TypeMarketOrder:
		res, err := a.exchange.CreateMarketOrder(ctx, req.Owner, req.Symbol, req.Amount, req.Side)
		if err != nil {
			return Receipt{}, err
		}
		receipt.Market = &res

	case transaction.TypeCancelOrder:
		order, err := a.exchange.CancelOrder(ctx, req.Owner, req.OrderID)
		if err != nil {
			return Receipt{}, err
		}
		receipt.Order = &order

	default:
		return Receipt{}, fmt.Errorf("%w: unsupported type %q", transaction.ErrInvalidRequest, req.Type)
	}
	return receipt, nil
}

func (a *App) lookupToken(addr common.Address) (token.Service, bool) {
	if a.tokens == nil {
		return nil, false
	}
	t, ok := a.tokens.Lookup(addr)
	if !ok {
		return nil, false
	}
	return t, true
}

type journalEntry struct {
	Time    int64           `json:"time"`
	Request json.RawMessage `json:"request"`
	Error   string          `json:"error,omitempty"`
}

// record appends an accepted request and its outcome to the journal
func (a *App) record(raw []byte, applyErr error) {
	entry := journalEntry{Time: time.Now().UnixMilli(), Request: raw}
	if applyErr != nil {
		entry.Error = applyErr.Error()
	}
	line, err := json.Marshal(entry)
	if err != nil {
		a.log.Warnw("journal_encode_failed", "err", err)
		return
	}
	a.journal.Append(string(line))
}

// PushTx queues a raw request for the next drain. Only the envelope type
// is inspected here; verification happens when the request is applied.
func (a *App) PushTx(raw []byte) error {
	if !a.mempool.PushRaw(raw) {
		return ErrMempoolFull
	}
	return nil
}

// Drain applies queued requests in mempool order and returns how many
// succeeded
func (a *App) Drain(ctx context.Context) int {
	txs := a.mempool.Select(a.cfg.MaxDrain)
	applied := 0
	for _, raw := range txs {
		if _, err := a.Apply(ctx, raw); err != nil {
			a.log.Debugw("queued_request_failed", "err", err)
			continue
		}
		applied++
	}
	if len(txs) > 0 {
		a.log.Infow("mempool_drained", "txs", len(txs), "applied", applied, "pending", a.mempool.Len())
	}
	return applied
}

// Run drains the mempool every interval until ctx is cancelled
func (a *App) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.Drain(context.WithoutCancel(ctx))
			return
		case <-ticker.C:
			a.Drain(ctx)
		}
	}
}
