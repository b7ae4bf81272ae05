package dex

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperdex/pkg/app/core/orderbook"
	"github.com/uhyunpark/hyperdex/pkg/app/core/token"
	"github.com/uhyunpark/hyperdex/pkg/app/core/transaction"
	"github.com/uhyunpark/hyperdex/pkg/crypto"
)

// FeederConfig controls demo order flow
type FeederConfig struct {
	Interval  time.Duration // how often to push a batch
	BatchSize int
	Symbols   []token.Symbol
	MidPrice  uint64 // limit prices are drawn around this, in base units
	MaxAmount uint64
}

func DefaultFeederConfig(symbols []token.Symbol) FeederConfig {
	return FeederConfig{
		Interval:  time.Second,
		BatchSize: 5,
		Symbols:   symbols,
		MidPrice:  10,
		MaxAmount: 10,
	}
}

// Feeder generates signed demo orders for a set of funded traders and
// pushes them into the app's mempool
type Feeder struct {
	app     *App
	cfg     FeederConfig
	signers []*crypto.Signer
	typed   *crypto.TypedSigner
	rng     *rand.Rand
	nonces  map[common.Address]uint64
}

func NewFeeder(app *App, signers []*crypto.Signer, cfg FeederConfig) *Feeder {
	if cfg.MidPrice < 2 {
		cfg.MidPrice = 2
	}
	if cfg.MaxAmount == 0 {
		cfg.MaxAmount = 1
	}
	return &Feeder{
		app:     app,
		cfg:     cfg,
		signers: signers,
		typed:   crypto.NewTypedSigner(app.Domain()),
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		nonces:  make(map[common.Address]uint64),
	}
}

// nextNonce never reuses a nonce the app has already seen, even when the
// same key also signs requests elsewhere
func (f *Feeder) nextNonce(addr common.Address) (uint64, error) {
	applied, err := f.app.Nonce(addr)
	if err != nil {
		return 0, err
	}
	n := max(f.nonces[addr], applied) + 1
	f.nonces[addr] = n
	return n, nil
}

// Next builds one signed request: 70% limit orders around the mid price,
// 30% market orders
func (f *Feeder) Next() ([]byte, error) {
	if len(f.signers) == 0 || len(f.cfg.Symbols) == 0 {
		return nil, fmt.Errorf("feeder needs traders and symbols")
	}
	signer := f.signers[f.rng.Intn(len(f.signers))]
	nonce, err := f.nextNonce(signer.Address())
	if err != nil {
		return nil, err
	}

	req := transaction.Request{
		Type:   transaction.TypeLimitOrder,
		Symbol: f.cfg.Symbols[f.rng.Intn(len(f.cfg.Symbols))],
		Side:   orderbook.Buy,
		Amount: uint64(f.rng.Int63n(int64(f.cfg.MaxAmount))) + 1,
		Nonce:  nonce,
	}
	if f.rng.Intn(2) == 1 {
		req.Side = orderbook.Sell
	}

	if f.rng.Intn(100) < 30 {
		req.Type = transaction.TypeMarketOrder
	} else {
		// buyers bid at or below mid, sellers ask at or above it
		spread := uint64(f.rng.Int63n(int64(f.cfg.MidPrice / 2)))
		if req.Side == orderbook.Buy {
			req.Price = f.cfg.MidPrice - spread
		} else {
			req.Price = f.cfg.MidPrice + spread
		}
	}

	signed, err := transaction.Sign(f.typed, signer, req)
	if err != nil {
		return nil, err
	}
	return signed.Serialize()
}

func (f *Feeder) GenerateBatch(n int) [][]byte {
	out := make([][]byte, 0, n)
	for i := 0; i < n; i++ {
		raw, err := f.Next()
		if err != nil {
			f.app.log.Warnw("feeder_sign_failed", "err", err)
			continue
		}
		out = append(out, raw)
	}
	return out
}

// Start pushes a batch every interval until the returned cancel func is
// called or ctx is done
func (f *Feeder) Start(ctx context.Context) context.CancelFunc {
	feedCtx, cancel := context.WithCancel(ctx)

	go func() {
		ticker := time.NewTicker(f.cfg.Interval)
		defer ticker.Stop()

		startTime := time.Now()
		total := 0
		f.app.log.Infow("feeder_started", "traders", len(f.signers), "batch", f.cfg.BatchSize, "interval", f.cfg.Interval)

		for {
			select {
			case <-feedCtx.Done():
				f.app.log.Infow("feeder_stopped", "txs", total, "elapsed", time.Since(startTime).Round(time.Second))
				return
			case <-ticker.C:
				for _, raw := range f.GenerateBatch(f.cfg.BatchSize) {
					if err := f.app.PushTx(raw); err != nil {
						f.app.log.Warnw("feeder_push_failed", "err", err)
						break
					}
					total++
				}
			}
		}
	}()

	return cancel
}
