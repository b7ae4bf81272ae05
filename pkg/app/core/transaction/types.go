package transaction

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/uhyunpark/hyperdex/pkg/app/core/orderbook"
	"github.com/uhyunpark/hyperdex/pkg/app/core/token"
	"github.com/uhyunpark/hyperdex/pkg/crypto"
)

var (
	ErrInvalidRequest = errors.New("invalid request")
	ErrBadSignature   = errors.New("invalid signature")
)

// RequestType names a mutating exchange operation
type RequestType string

const (
	TypeAddToken    RequestType = "addToken"
	TypeDeposit     RequestType = "deposit"
	TypeWithdraw    RequestType = "withdraw"
	TypeLimitOrder  RequestType = "limitOrder"
	TypeMarketOrder RequestType = "marketOrder"
	TypeCancelOrder RequestType = "cancelOrder"
)

// primaryType maps a request to its EIP-712 struct name
func (t RequestType) primaryType() (string, bool) {
	switch t {
	case TypeAddToken:
		return crypto.TypeAddToken, true
	case TypeDeposit:
		return crypto.TypeDeposit, true
	case TypeWithdraw:
		return crypto.TypeWithdraw, true
	case TypeLimitOrder:
		return crypto.TypeLimitOrder, true
	case TypeMarketOrder:
		return crypto.TypeMarketOrder, true
	case TypeCancelOrder:
		return crypto.TypeCancelOrder, true
	}
	return "", false
}

// SignedRequest is the wire envelope for every mutating call. Exactly one
// payload is set, matching Type.
type SignedRequest struct {
	Type      RequestType      `json:"type"`
	AddToken  *AddTokenPayload `json:"addToken,omitempty"`
	Transfer  *TransferPayload `json:"transfer,omitempty"` // deposit, withdraw
	Order     *OrderPayload    `json:"order,omitempty"`    // limitOrder, marketOrder
	Cancel    *CancelPayload   `json:"cancel,omitempty"`
	Signature string           `json:"signature"` // hex, 65 bytes
}

type AddTokenPayload struct {
	Symbol string `json:"symbol"`
	Token  string `json:"token"` // contract address
	Nonce  string `json:"nonce"`
	Owner  string `json:"owner"`
}

type TransferPayload struct {
	Symbol string `json:"symbol"`
	Amount string `json:"amount"` // decimal
	Nonce  string `json:"nonce"`
	Owner  string `json:"owner"`
}

type OrderPayload struct {
	Symbol string `json:"symbol"`
	Side   uint8  `json:"side"` // 0=BUY, 1=SELL
	Amount string `json:"amount"`
	Price  string `json:"price,omitempty"` // limit orders only
	Nonce  string `json:"nonce"`
	Owner  string `json:"owner"`
}

type CancelPayload struct {
	OrderID string `json:"orderId"`
	Nonce   string `json:"nonce"`
	Owner   string `json:"owner"`
}

// Request is a decoded, typed request. Owner is the address claimed by the
// payload; it only becomes the caller once the signature checks out.
type Request struct {
	Type    RequestType
	Owner   common.Address
	Nonce   uint64
	Symbol  token.Symbol
	Token   common.Address
	Side    orderbook.Side
	Amount  uint64
	Price   uint64
	OrderID uint64
}

func (tx *SignedRequest) Serialize() ([]byte, error) {
	return json.Marshal(tx)
}

func Deserialize(data []byte) (*SignedRequest, error) {
	var tx SignedRequest
	if err := json.Unmarshal(data, &tx); err != nil {
		return nil, fmt.Errorf("%w: failed to unmarshal request: %v", ErrInvalidRequest, err)
	}
	return &tx, nil
}

// ParseRequest decodes and structurally validates a raw request
func ParseRequest(data []byte) (*SignedRequest, error) {
	tx, err := Deserialize(data)
	if err != nil {
		return nil, err
	}
	if err := tx.Validate(); err != nil {
		return nil, err
	}
	return tx, nil
}

// Validate checks that the payload matching Type is present
func (tx *SignedRequest) Validate() error {
	if tx.Type == "" {
		return fmt.Errorf("%w: missing request type", ErrInvalidRequest)
	}
	if tx.Signature == "" {
		return fmt.Errorf("%w: missing signature", ErrInvalidRequest)
	}

	var present bool
	switch tx.Type {
	case TypeAddToken:
		present = tx.AddToken != nil
	case TypeDeposit, TypeWithdraw:
		present = tx.Transfer != nil
	case TypeLimitOrder, TypeMarketOrder:
		present = tx.Order != nil
	case TypeCancelOrder:
		present = tx.Cancel != nil
	default:
		return fmt.Errorf("%w: unknown request type %q", ErrInvalidRequest, tx.Type)
	}
	if !present {
		return fmt.Errorf("%w: %s requires its payload", ErrInvalidRequest, tx.Type)
	}
	return nil
}

// Decode converts the string payload into a typed Request
func (tx *SignedRequest) Decode() (Request, error) {
	if err := tx.Validate(); err != nil {
		return Request{}, err
	}
	req := Request{Type: tx.Type}
	var err error

	switch tx.Type {
	case TypeAddToken:
		p := tx.AddToken
		if req.Owner, err = parseAddress("owner", p.Owner); err != nil {
			return Request{}, err
		}
		if req.Token, err = parseAddress("token", p.Token); err != nil {
			return Request{}, err
		}
		if req.Symbol, err = parseSymbol(p.Symbol); err != nil {
			return Request{}, err
		}
		req.Nonce, err = parseUint("nonce", p.Nonce)

	case TypeDeposit, TypeWithdraw:
		p := tx.Transfer
		if req.Owner, err = parseAddress("owner", p.Owner); err != nil {
			return Request{}, err
		}
		if req.Symbol, err = parseSymbol(p.Symbol); err != nil {
			return Request{}, err
		}
		if req.Amount, err = parseUint("amount", p.Amount); err != nil {
			return Request{}, err
		}
		req.Nonce, err = parseUint("nonce", p.Nonce)

	case TypeLimitOrder, TypeMarketOrder:
		p := tx.Order
		if req.Owner, err = parseAddress("owner", p.Owner); err != nil {
			return Request{}, err
		}
		if req.Symbol, err = parseSymbol(p.Symbol); err != nil {
			return Request{}, err
		}
		if p.Side > uint8(orderbook.Sell) {
			return Request{}, fmt.Errorf("%w: invalid side %d", ErrInvalidRequest, p.Side)
		}
		req.Side = orderbook.Side(p.Side)
		if req.Amount, err = parseUint("amount", p.Amount); err != nil {
			return Request{}, err
		}
		if tx.Type == TypeLimitOrder {
			if req.Price, err = parseUint("price", p.Price); err != nil {
				return Request{}, err
			}
		} else if p.Price != "" {
			return Request{}, fmt.Errorf("%w: market orders carry no price", ErrInvalidRequest)
		}
		req.Nonce, err = parseUint("nonce", p.Nonce)

	case TypeCancelOrder:
		p := tx.Cancel
		if req.Owner, err = parseAddress("owner", p.Owner); err != nil {
			return Request{}, err
		}
		if req.OrderID, err = parseUint("orderId", p.OrderID); err != nil {
			return Request{}, err
		}
		req.Nonce, err = parseUint("nonce", p.Nonce)
	}

	if err != nil {
		return Request{}, err
	}
	return req, nil
}

// Encode builds the unsigned envelope for req
func Encode(req Request) *SignedRequest {
	tx := &SignedRequest{Type: req.Type}
	nonce := strconv.FormatUint(req.Nonce, 10)
	owner := req.Owner.Hex()

	switch req.Type {
	case TypeAddToken:
		tx.AddToken = &AddTokenPayload{Symbol: req.Symbol.String(), Token: req.Token.Hex(), Nonce: nonce, Owner: owner}
	case TypeDeposit, TypeWithdraw:
		tx.Transfer = &TransferPayload{
			Symbol: req.Symbol.String(),
			Amount: strconv.FormatUint(req.Amount, 10),
			Nonce:  nonce,
			Owner:  owner,
		}
	case TypeLimitOrder, TypeMarketOrder:
		p := &OrderPayload{
			Symbol: req.Symbol.String(),
			Side:   uint8(req.Side),
			Amount: strconv.FormatUint(req.Amount, 10),
			Nonce:  nonce,
			Owner:  owner,
		}
		if req.Type == TypeLimitOrder {
			p.Price = strconv.FormatUint(req.Price, 10)
		}
		tx.Order = p
	case TypeCancelOrder:
		tx.Cancel = &CancelPayload{OrderID: strconv.FormatUint(req.OrderID, 10), Nonce: nonce, Owner: owner}
	}
	return tx
}

// Message returns the EIP-712 primary type and message for req
func (req Request) Message() (string, apitypes.TypedDataMessage, error) {
	primary, ok := req.Type.primaryType()
	if !ok {
		return "", nil, fmt.Errorf("%w: unknown request type %q", ErrInvalidRequest, req.Type)
	}

	msg := apitypes.TypedDataMessage{
		"nonce": strconv.FormatUint(req.Nonce, 10),
		"owner": req.Owner.Hex(),
	}
	switch req.Type {
	case TypeAddToken:
		msg["symbol"] = req.Symbol.Hex()
		msg["token"] = req.Token.Hex()
	case TypeDeposit, TypeWithdraw:
		msg["symbol"] = req.Symbol.Hex()
		msg["amount"] = strconv.FormatUint(req.Amount, 10)
	case TypeLimitOrder:
		msg["symbol"] = req.Symbol.Hex()
		msg["side"] = strconv.FormatUint(uint64(req.Side), 10)
		msg["amount"] = strconv.FormatUint(req.Amount, 10)
		msg["price"] = strconv.FormatUint(req.Price, 10)
	case TypeMarketOrder:
		msg["symbol"] = req.Symbol.Hex()
		msg["side"] = strconv.FormatUint(uint64(req.Side), 10)
		msg["amount"] = strconv.FormatUint(req.Amount, 10)
	case TypeCancelOrder:
		msg["orderId"] = strconv.FormatUint(req.OrderID, 10)
	}
	return primary, msg, nil
}

func parseAddress(field, s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%w: invalid %s address %q", ErrInvalidRequest, field, s)
	}
	return common.HexToAddress(s), nil
}

func parseSymbol(s string) (token.Symbol, error) {
	sym, err := token.ParseSymbol(s)
	if err != nil {
		return token.Symbol{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return sym, nil
}

// parseUint accepts decimal strings only; values must fit in 64 bits
func parseUint(field, s string) (uint64, error) {
	if s == "" {
		return 0, fmt.Errorf("%w: missing %s", ErrInvalidRequest, field)
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid %s %q", ErrInvalidRequest, field, s)
	}
	return v, nil
}
