package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math/big"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/urfave/cli/v2"

	"github.com/uhyunpark/hyperdex/pkg/app/core/orderbook"
	"github.com/uhyunpark/hyperdex/pkg/app/core/token"
	"github.com/uhyunpark/hyperdex/pkg/app/core/transaction"
	"github.com/uhyunpark/hyperdex/pkg/crypto"
)

var (
	keyHex     string
	nonce      uint64
	domainName string
	chainID    int64
	node       string
)

var httpClient = &http.Client{Timeout: 10 * time.Second}

func main() {
	app := cli.NewApp()
	app.Name = "sign-request"
	app.Usage = "sign exchange requests with EIP-712 and optionally submit them to a node"
	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:        "key",
			Usage:       "hex private key of the request owner",
			EnvVars:     []string{"SIGNER_KEY"},
			Destination: &keyHex,
		},
		&cli.Uint64Flag{
			Name:        "nonce",
			Usage:       "request nonce; fetched from the node when 0 and --node is set",
			Destination: &nonce,
		},
		&cli.StringFlag{
			Name:        "domain",
			Value:       crypto.DefaultDomain().Name,
			Usage:       "EIP-712 domain name",
			Destination: &domainName,
		},
		&cli.Int64Flag{
			Name:        "chain-id",
			Value:       crypto.DefaultDomain().ChainID.Int64(),
			Usage:       "EIP-712 chain id",
			Destination: &chainID,
		},
		&cli.StringFlag{
			Name:        "node",
			Usage:       "submit the signed request to this node, e.g. http://localhost:8080",
			Destination: &node,
		},
	}
	app.Commands = []*cli.Command{
		keygenCommand,
		addTokenCommand,
		transferCommand("deposit", transaction.TypeDeposit, "move tokens from your wallet into the exchange"),
		transferCommand("withdraw", transaction.TypeWithdraw, "move tokens from the exchange back to your wallet"),
		limitOrderCommand,
		marketOrderCommand,
		cancelOrderCommand,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

var symbolFlag = &cli.StringFlag{Name: "symbol", Usage: "token ticker, e.g. BAT", Required: true}
var amountFlag = &cli.Uint64Flag{Name: "amount", Usage: "whole token units", Required: true}
var sideFlag = &cli.StringFlag{Name: "side", Usage: "buy or sell", Required: true}

var keygenCommand = &cli.Command{
	Name:  "keygen",
	Usage: "generate a new key pair",
	Action: func(c *cli.Context) error {
		s, err := crypto.GenerateKey()
		if err != nil {
			return err
		}
		fmt.Printf("Address: %s\n", s.Address().Hex())
		fmt.Printf("Private Key: %s (KEEP SECRET!)\n", s.PrivateKeyHex())
		return nil
	},
}

var addTokenCommand = &cli.Command{
	Name:  "add-token",
	Usage: "register a deployed token contract (admin only)",
	Flags: []cli.Flag{
		symbolFlag,
		&cli.StringFlag{Name: "token", Usage: "token contract address", Required: true},
	},
	Action: func(c *cli.Context) error {
		sym, err := token.ParseSymbol(c.String("symbol"))
		if err != nil {
			return err
		}
		if !common.IsHexAddress(c.String("token")) {
			return fmt.Errorf("invalid token address %q", c.String("token"))
		}
		return signAndEmit(transaction.Request{
			Type:   transaction.TypeAddToken,
			Symbol: sym,
			Token:  common.HexToAddress(c.String("token")),
		})
	},
}

func transferCommand(name string, typ transaction.RequestType, usage string) *cli.Command {
	return &cli.Command{
		Name:  name,
		Usage: usage,
		Flags: []cli.Flag{symbolFlag, amountFlag},
		Action: func(c *cli.Context) error {
			sym, err := token.ParseSymbol(c.String("symbol"))
			if err != nil {
				return err
			}
			return signAndEmit(transaction.Request{Type: typ, Symbol: sym, Amount: c.Uint64("amount")})
		},
	}
}

var limitOrderCommand = &cli.Command{
	Name:  "limit",
	Usage: "place a resting limit order",
	Flags: []cli.Flag{
		symbolFlag, sideFlag, amountFlag,
		&cli.Uint64Flag{Name: "price", Usage: "base currency per token", Required: true},
	},
	Action: func(c *cli.Context) error {
		req, err := orderRequest(c, transaction.TypeLimitOrder)
		if err != nil {
			return err
		}
		req.Price = c.Uint64("price")
		return signAndEmit(req)
	},
}

var marketOrderCommand = &cli.Command{
	Name:  "market",
	Usage: "fill immediately against resting limit orders",
	Flags: []cli.Flag{symbolFlag, sideFlag, amountFlag},
	Action: func(c *cli.Context) error {
		req, err := orderRequest(c, transaction.TypeMarketOrder)
		if err != nil {
			return err
		}
		return signAndEmit(req)
	},
}

var cancelOrderCommand = &cli.Command{
	Name:  "cancel",
	Usage: "cancel one of your resting orders",
	Flags: []cli.Flag{
		&cli.Uint64Flag{Name: "order", Usage: "order id", Required: true},
	},
	Action: func(c *cli.Context) error {
		return signAndEmit(transaction.Request{Type: transaction.TypeCancelOrder, OrderID: c.Uint64("order")})
	},
}

func orderRequest(c *cli.Context, typ transaction.RequestType) (transaction.Request, error) {
	sym, err := token.ParseSymbol(c.String("symbol"))
	if err != nil {
		return transaction.Request{}, err
	}
	side, err := orderbook.ParseSide(c.String("side"))
	if err != nil {
		return transaction.Request{}, err
	}
	return transaction.Request{Type: typ, Symbol: sym, Side: side, Amount: c.Uint64("amount")}, nil
}

func signAndEmit(req transaction.Request) error {
	if keyHex == "" {
		return errors.New("--key (or SIGNER_KEY) is required")
	}
	signer, err := crypto.FromPrivateKeyHex(keyHex)
	if err != nil {
		return err
	}

	req.Nonce = nonce
	if req.Nonce == 0 {
		if node == "" {
			return errors.New("--nonce is required without --node")
		}
		last, err := fetchNonce(signer.Address())
		if err != nil {
			return err
		}
		req.Nonce = last + 1
	}

	domain := crypto.Domain{Name: domainName, Version: "1", ChainID: big.NewInt(chainID)}
	signed, err := transaction.Sign(crypto.NewTypedSigner(domain), signer, req)
	if err != nil {
		return err
	}

	// verify before printing so a bad domain shows up here, not at the node
	if _, err := transaction.NewVerifier(domain).Verify(signed); err != nil {
		return err
	}

	out, err := json.MarshalIndent(signed, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))

	if node == "" {
		return nil
	}
	raw, err := signed.Serialize()
	if err != nil {
		return err
	}
	resp, err := httpClient.Post(strings.TrimRight(node, "/")+"/api/v1/tx", "application/json", bytes.NewReader(raw))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	fmt.Printf("\n%s\n%s\n", resp.Status, body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("node rejected request: %s", resp.Status)
	}
	return nil
}

func fetchNonce(addr common.Address) (uint64, error) {
	resp, err := httpClient.Get(strings.TrimRight(node, "/") + "/api/v1/accounts/" + addr.Hex() + "/nonce")
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("fetch nonce: %s", resp.Status)
	}
	var info struct {
		Nonce uint64 `json:"nonce"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return 0, err
	}
	return info.Nonce, nil
}
