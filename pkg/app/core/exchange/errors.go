package exchange

import (
	"context"
	"errors"
	"strings"

	"github.com/uhyunpark/hyperdex/pkg/app/core/token"
)

var (
	ErrCannotTradeBaseCurrency  = errors.New("cannot trade base currency")
	ErrInsufficientTokenBalance = errors.New("token balance too low")
	ErrInsufficientBaseBalance  = errors.New("base currency balance too low")
	ErrInvalidAmount            = errors.New("amount must be positive")
	ErrInvalidPrice             = errors.New("price must be positive")
	ErrOrderNotFound            = errors.New("order not found")
	ErrNotOrderOwner            = errors.New("not order owner")
	ErrReentrantCall            = errors.New("reentrant call")
)

// Error is returned where the boundary message depends on configuration,
// e.g. "cannot trade DAI" when DAI is the base currency. It unwraps to
// the sentinel so callers can use errors.Is.
type Error struct {
	msg string
	err error
}

func (e *Error) Error() string { return e.msg }
func (e *Error) Unwrap() error { return e.err }

func cannotTrade(base token.Symbol) error {
	return &Error{msg: "cannot trade " + base.String(), err: ErrCannotTradeBaseCurrency}
}

func costOverflow() error {
	return &Error{msg: "amount times price overflows", err: ErrInvalidAmount}
}

func baseBalanceTooLow(base token.Symbol) error {
	return &Error{msg: strings.ToLower(base.String()) + " balance too low", err: ErrInsufficientBaseBalance}
}

type opKey struct{}

// enterOp marks ctx as belonging to a running exchange operation. Token
// services receive the marked context; anything they call back into the
// exchange with it is rejected.
func enterOp(ctx context.Context) context.Context {
	return context.WithValue(ctx, opKey{}, true)
}

func inOp(ctx context.Context) bool {
	v, _ := ctx.Value(opKey{}).(bool)
	return v
}
