package token

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// SymbolLength matches the bytes32 ticker width used by token contracts.
const SymbolLength = 32

var ErrInvalidSymbol = errors.New("invalid token symbol")

// Symbol is a fixed-width token ticker, right-padded with zero bytes.
type Symbol [SymbolLength]byte

// ParseSymbol converts a ticker string into a Symbol. Tickers are limited
// to A-Z and 0-9 so they can be embedded in storage keys.
func ParseSymbol(s string) (Symbol, error) {
	var sym Symbol
	if s == "" || len(s) > SymbolLength {
		return sym, fmt.Errorf("%w: %q", ErrInvalidSymbol, s)
	}
	for i := 0; i < len(s); i++ {
		if c := s[i]; (c < 'A' || c > 'Z') && (c < '0' || c > '9') {
			return sym, fmt.Errorf("%w: %q must be upper-case letters and digits", ErrInvalidSymbol, s)
		}
	}
	copy(sym[:], s)
	return sym, nil
}

// MustSymbol is ParseSymbol for constants; it panics on bad input.
func MustSymbol(s string) Symbol {
	sym, err := ParseSymbol(s)
	if err != nil {
		panic(err)
	}
	return sym
}

func (s Symbol) String() string {
	return string(bytes.TrimRight(s[:], "\x00"))
}

// Hex returns the 0x-prefixed bytes32 encoding used in signed payloads.
func (s Symbol) Hex() string {
	return hexutil.Encode(s[:])
}

func (s Symbol) IsZero() bool {
	return s == Symbol{}
}

func (s Symbol) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Symbol) UnmarshalText(text []byte) error {
	sym, err := ParseSymbol(string(text))
	if err != nil {
		return err
	}
	*s = sym
	return nil
}
