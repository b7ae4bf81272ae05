package orderbook

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperdex/pkg/app/core/token"
)

type Side uint8

const (
	Buy Side = iota
	Sell
)

func (s Side) String() string {
	if s == Buy {
		return "BUY"
	}
	return "SELL"
}

func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// ParseSide accepts BUY/SELL in any case
func ParseSide(s string) (Side, error) {
	switch strings.ToUpper(s) {
	case "BUY":
		return Buy, nil
	case "SELL":
		return Sell, nil
	}
	return 0, fmt.Errorf("invalid side %q", s)
}

func (s Side) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Side) UnmarshalText(text []byte) error {
	v, err := ParseSide(string(text))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Order is a resting limit order. Amount and Price never change after
// placement; only Filled grows as the order is matched.
type Order struct {
	ID        uint64         `json:"id"`
	Trader    common.Address `json:"trader"`
	Side      Side           `json:"side"`
	Symbol    token.Symbol   `json:"symbol"`
	Amount    uint64         `json:"amount"`
	Filled    uint64         `json:"filled"`
	Price     uint64         `json:"price"`
	Seq       uint64         `json:"seq"`       // time priority, unique per exchange
	CreatedAt int64          `json:"createdAt"` // unix millis
}

func (o *Order) Remaining() uint64 { return o.Amount - o.Filled }
func (o *Order) IsFilled() bool    { return o.Filled >= o.Amount }
