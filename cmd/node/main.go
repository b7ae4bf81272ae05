package main

import (
	"context"
	"fmt"
	"log"
	"math/big"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"github.com/uhyunpark/hyperdex/params"
	"github.com/uhyunpark/hyperdex/pkg/api"
	"github.com/uhyunpark/hyperdex/pkg/app/core/exchange"
	"github.com/uhyunpark/hyperdex/pkg/app/core/ledger"
	"github.com/uhyunpark/hyperdex/pkg/app/core/token"
	"github.com/uhyunpark/hyperdex/pkg/app/dex"
	"github.com/uhyunpark/hyperdex/pkg/crypto"
	"github.com/uhyunpark/hyperdex/pkg/p2p"
	"github.com/uhyunpark/hyperdex/pkg/seed"
	"github.com/uhyunpark/hyperdex/pkg/storage"
	"github.com/uhyunpark/hyperdex/pkg/util"
)

func main() {
	// Load config from .env file and environment variables
	cfg := params.LoadFromEnv("") // "" means load from .env in current directory

	var logger *zap.Logger
	var err error
	if cfg.Node.LogFile != "" {
		logger, err = util.NewLoggerWithFile(cfg.Node.LogFile, cfg.Node.LogLevel)
	} else {
		logger, err = util.NewLogger(cfg.Node.LogLevel)
	}
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, sugar); err != nil {
		sugar.Fatalw("node_failed", "err", err)
	}
}

func run(ctx context.Context, cfg params.Config, sugar *zap.SugaredLogger) error {
	// ---- Storage ----
	var store *storage.PebbleStore
	var err error
	if cfg.Node.DataDir != "" {
		if err := os.MkdirAll(cfg.Node.DataDir, 0o755); err != nil {
			return err
		}
		store, err = storage.NewPebbleStore(cfg.Node.DataDir)
	} else {
		store, err = storage.NewMemStore()
	}
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	// ---- Exchange ----
	adminAddr, err := loadAdmin(cfg.Exchange, sugar)
	if err != nil {
		return err
	}
	base, err := token.ParseSymbol(cfg.Exchange.BaseCurrency)
	if err != nil {
		return err
	}

	tokens, err := token.NewDirectory(adminAddr, store, sugar)
	if err != nil {
		return err
	}
	registry := token.NewRegistry(adminAddr, base)
	custody := custodyAddress(cfg.Signing.DomainName)
	x := exchange.New(exchange.Config{
		CompactFilled: cfg.Exchange.CompactFilled,
		TradeHistory:  cfg.Exchange.TradeHistory,
	}, registry, ledger.New(custody, registry, sugar), store, sugar)

	err = x.Restore(func(rec storage.TokenRecord) (token.Service, error) {
		erc, ok := tokens.Lookup(rec.Address)
		if !ok {
			return nil, fmt.Errorf("%w: %s", dex.ErrUnknownContract, rec.Address.Hex())
		}
		return erc, nil
	})
	if err != nil {
		return err
	}

	// ---- Seed (dev only) ----
	var traders []*crypto.Signer
	if cfg.Seed.Enabled {
		if traders, err = loadTraders(cfg.Seed.Traders, sugar); err != nil {
			return err
		}
		sc, err := seedConfig(cfg.Seed, traders)
		if err != nil {
			return err
		}
		if _, err := seed.Run(ctx, x, tokens, adminAddr, sc, sugar); err != nil {
			return fmt.Errorf("seed: %w", err)
		}
	}

	// ---- App ----
	var journal storage.Journal
	if cfg.Node.JournalFile != "" {
		fj, err := storage.NewFileJournal(cfg.Node.JournalFile)
		if err != nil {
			return err
		}
		defer fj.Close()
		journal = fj
	}
	domain := crypto.Domain{Name: cfg.Signing.DomainName, Version: "1", ChainID: big.NewInt(cfg.Signing.ChainID)}
	app := dex.NewApp(dex.Config{
		Domain:      domain,
		MempoolSize: cfg.Node.MempoolSize,
		MaxDrain:    cfg.Node.MaxDrainBytes,
	}, x, tokens, store, journal, sugar)

	go app.Run(ctx, cfg.Node.DrainInterval)

	// ---- Market data gossip (optional) ----
	if cfg.P2P.ListenAddr != "" {
		feed, err := p2p.NewFeed(ctx, p2p.Config{
			ListenAddr: cfg.P2P.ListenAddr,
			Bootstrap:  cfg.P2P.Bootstrap,
			Topic:      cfg.P2P.Topic,
			Source:     x,
			Logger:     sugar,
		})
		if err != nil {
			return fmt.Errorf("p2p: %w", err)
		}
		defer feed.Close()
		x.Subscribe(feed)
		sugar.Infow("p2p_addrs", "addrs", feed.Addrs())
	}

	// ---- Transaction Feeder (optional) ----
	if cfg.Seed.FeedInterval > 0 && len(traders) > 0 {
		var markets []token.Symbol
		for _, t := range x.Tokens() {
			if t.Symbol != base {
				markets = append(markets, t.Symbol)
			}
		}
		fc := dex.DefaultFeederConfig(markets)
		fc.Interval = cfg.Seed.FeedInterval
		fc.BatchSize = cfg.Seed.FeedBatch
		cancelFeeder := dex.NewFeeder(app, traders, fc).Start(ctx)
		defer cancelFeeder()
		sugar.Infow("feeder_enabled", "interval", fc.Interval, "batch", fc.BatchSize, "markets", len(markets))
	}

	// ---- API Server ----
	apiServer := api.NewServer(app, cfg.Node.CORSOrigins, sugar)
	errCh := make(chan error, 1)
	go func() { errCh <- apiServer.Start(cfg.Node.APIAddr) }()

	sugar.Infow("node_started",
		"admin", adminAddr.Hex(),
		"custody", custody.Hex(),
		"base", base.String(),
		"tokens", len(x.Tokens()),
		"api", cfg.Node.APIAddr)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("api server: %w", err)
		}
	}

	sugar.Info("node_shutting_down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		sugar.Warnw("api_shutdown_failed", "err", err)
	}
	return nil
}

// loadAdmin resolves the token admin from a key or a bare address
func loadAdmin(cfg params.Exchange, log *zap.SugaredLogger) (common.Address, error) {
	switch {
	case cfg.AdminKey != "":
		s, err := crypto.FromPrivateKeyHex(cfg.AdminKey)
		if err != nil {
			return common.Address{}, fmt.Errorf("admin key: %w", err)
		}
		return s.Address(), nil
	case cfg.AdminAddress != "":
		if !common.IsHexAddress(cfg.AdminAddress) {
			return common.Address{}, fmt.Errorf("invalid admin address %q", cfg.AdminAddress)
		}
		return common.HexToAddress(cfg.AdminAddress), nil
	default:
		// dev mode: print the key so tokens can be registered with sign-request
		s, err := crypto.GenerateKey()
		if err != nil {
			return common.Address{}, err
		}
		log.Warnw("admin_key_generated", "address", s.Address().Hex(), "key", s.PrivateKeyHex())
		return s.Address(), nil
	}
}

func loadTraders(keys []string, log *zap.SugaredLogger) ([]*crypto.Signer, error) {
	if len(keys) == 0 {
		var out []*crypto.Signer
		for range 2 {
			s, err := crypto.GenerateKey()
			if err != nil {
				return nil, err
			}
			log.Warnw("trader_key_generated", "address", s.Address().Hex(), "key", s.PrivateKeyHex())
			out = append(out, s)
		}
		return out, nil
	}
	out := make([]*crypto.Signer, 0, len(keys))
	for _, k := range keys {
		s, err := crypto.FromPrivateKeyHex(k)
		if err != nil {
			return nil, fmt.Errorf("trader key: %w", err)
		}
		out = append(out, s)
	}
	return out, nil
}

func seedConfig(cfg params.Seed, traders []*crypto.Signer) (seed.Config, error) {
	sc := seed.Config{Amount: cfg.Amount}
	for _, s := range cfg.Tokens {
		sym, err := token.ParseSymbol(s)
		if err != nil {
			return seed.Config{}, err
		}
		sc.Tokens = append(sc.Tokens, sym)
	}
	for _, t := range traders {
		sc.Traders = append(sc.Traders, t.Address())
	}
	return sc, nil
}

// custodyAddress is where deposited tokens are held. It only has to be
// stable across restarts and distinct from any trader.
func custodyAddress(domain string) common.Address {
	return common.BytesToAddress(ethcrypto.Keccak256([]byte(domain + "/custody"))[12:])
}
