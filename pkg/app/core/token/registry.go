package token

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrUnknownToken = errors.New("this token does not exist")
	ErrUnauthorized = errors.New("only admin")
	ErrTokenExists  = errors.New("token already registered")
)

// Token is a registered tradable (or base) asset.
type Token struct {
	Symbol  Symbol         `json:"symbol"`
	Address common.Address `json:"address"`
	Service Service        `json:"-"`
}

// Registry maps symbols to token services in a thread-safe manner.
// Only the admin may register tokens and a symbol can be registered once.
type Registry struct {
	mu     sync.RWMutex
	admin  common.Address
	base   Symbol
	tokens map[Symbol]Token
}

// NewRegistry creates an empty registry. base names the reference currency;
// it still has to be registered with AddToken before it can be used.
func NewRegistry(admin common.Address, base Symbol) *Registry {
	return &Registry{
		admin:  admin,
		base:   base,
		tokens: make(map[Symbol]Token),
	}
}

// AddToken registers a token on behalf of caller
func (r *Registry) AddToken(caller common.Address, t Token) error {
	if t.Symbol.IsZero() {
		return ErrInvalidSymbol
	}
	if t.Service == nil {
		return fmt.Errorf("token %s: nil service", t.Symbol)
	}
	if caller != r.admin {
		return ErrUnauthorized
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tokens[t.Symbol]; exists {
		return fmt.Errorf("%w: %s", ErrTokenExists, t.Symbol)
	}
	r.tokens[t.Symbol] = t
	return nil
}

// Resolve returns the token registered under sym
func (r *Registry) Resolve(sym Symbol) (Token, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tokens[sym]
	if !ok {
		return Token{}, ErrUnknownToken
	}
	return t, nil
}

func (r *Registry) Exists(sym Symbol) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tokens[sym]
	return ok
}

func (r *Registry) IsBaseCurrency(sym Symbol) bool { return sym == r.base }
func (r *Registry) Base() Symbol                   { return r.base }
func (r *Registry) Admin() common.Address          { return r.admin }

// List returns all registered tokens sorted by symbol
func (r *Registry) List() []Token {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Token, 0, len(r.tokens))
	for _, t := range r.tokens {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Symbol.String() < out[j].Symbol.String()
	})
	return out
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tokens)
}
