// Package seed bootstraps a development exchange: it deploys demo token
// contracts, registers them and funds a set of traders.
package seed

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/uhyunpark/hyperdex/pkg/app/core/exchange"
	"github.com/uhyunpark/hyperdex/pkg/app/core/token"
)

type Config struct {
	Tokens  []token.Symbol // the base currency must be among them
	Traders []common.Address
	Amount  uint64 // minted and deposited per trader and token
}

type Result struct {
	Deployed   int
	Registered int
	Funded     int // (trader, token) pairs
}

// Run is safe to call on every start. Tokens already deployed or
// registered are reused, and a trader already holding a token, in its
// wallet or on the exchange, is not funded again.
func Run(ctx context.Context, x *exchange.Exchange, dir *token.Directory, admin common.Address, cfg Config, log *zap.SugaredLogger) (Result, error) {
	var res Result

	hasBase := false
	for _, sym := range cfg.Tokens {
		hasBase = hasBase || sym == x.Base()
	}
	if !hasBase {
		return res, fmt.Errorf("seed tokens must include base currency %s", x.Base())
	}

	for _, sym := range cfg.Tokens {
		erc, ok := dir.BySymbol(sym)
		if !ok {
			var err error
			if erc, err = dir.Deploy(sym); err != nil {
				return res, err
			}
			res.Deployed++
		}

		if !x.Registry().Exists(sym) {
			t := token.Token{Symbol: sym, Address: erc.Address(), Service: erc}
			if err := x.AddToken(ctx, admin, t); err != nil {
				return res, fmt.Errorf("register %s: %w", sym, err)
			}
			res.Registered++
		}

		for _, trader := range cfg.Traders {
			funded, err := fund(ctx, x, erc, trader, cfg.Amount)
			if err != nil {
				return res, fmt.Errorf("fund %s with %s: %w", trader.Hex(), sym, err)
			}
			if funded {
				res.Funded++
			}
		}
	}

	log.Infow("seed_complete", "deployed", res.Deployed, "registered", res.Registered, "funded", res.Funded)
	return res, nil
}

func fund(ctx context.Context, x *exchange.Exchange, erc *token.ERC20, trader common.Address, amount uint64) (bool, error) {
	if amount == 0 || x.BalanceOf(trader, erc.Symbol()) > 0 {
		return false, nil
	}
	held, err := erc.BalanceOf(ctx, trader)
	if err != nil {
		return false, err
	}
	if held > 0 {
		return false, nil
	}

	if err := erc.Mint(trader, amount); err != nil {
		return false, err
	}
	erc.Approve(trader, x.Custody(), amount)
	if _, err := x.Deposit(ctx, trader, erc.Symbol(), amount); err != nil {
		return false, err
	}
	return true, nil
}
