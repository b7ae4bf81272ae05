package crypto

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// Typed request names. Every request carries the signer as "owner" and a
// per-owner "nonce" for replay protection.
const (
	TypeAddToken    = "AddToken"
	TypeDeposit     = "Deposit"
	TypeWithdraw    = "Withdraw"
	TypeLimitOrder  = "LimitOrder"
	TypeMarketOrder = "MarketOrder"
	TypeCancelOrder = "CancelOrder"
)

var domainType = []apitypes.Type{
	{Name: "name", Type: "string"},
	{Name: "version", Type: "string"},
	{Name: "chainId", Type: "uint256"},
	{Name: "verifyingContract", Type: "address"},
}

var requestTypes = map[string][]apitypes.Type{
	TypeAddToken: {
		{Name: "symbol", Type: "bytes32"},
		{Name: "token", Type: "address"},
		{Name: "nonce", Type: "uint256"},
		{Name: "owner", Type: "address"},
	},
	TypeDeposit: {
		{Name: "symbol", Type: "bytes32"},
		{Name: "amount", Type: "uint256"},
		{Name: "nonce", Type: "uint256"},
		{Name: "owner", Type: "address"},
	},
	TypeWithdraw: {
		{Name: "symbol", Type: "bytes32"},
		{Name: "amount", Type: "uint256"},
		{Name: "nonce", Type: "uint256"},
		{Name: "owner", Type: "address"},
	},
	TypeLimitOrder: {
		{Name: "symbol", Type: "bytes32"},
		{Name: "side", Type: "uint8"}, // 0 = BUY, 1 = SELL
		{Name: "amount", Type: "uint256"},
		{Name: "price", Type: "uint256"},
		{Name: "nonce", Type: "uint256"},
		{Name: "owner", Type: "address"},
	},
	TypeMarketOrder: {
		{Name: "symbol", Type: "bytes32"},
		{Name: "side", Type: "uint8"},
		{Name: "amount", Type: "uint256"},
		{Name: "nonce", Type: "uint256"},
		{Name: "owner", Type: "address"},
	},
	TypeCancelOrder: {
		{Name: "orderId", Type: "uint256"},
		{Name: "nonce", Type: "uint256"},
		{Name: "owner", Type: "address"},
	},
}

// Domain is the EIP-712 domain separator input
type Domain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract common.Address // zero for off-chain signing
}

func DefaultDomain() Domain {
	return Domain{
		Name:    "HyperDex",
		Version: "1",
		ChainID: big.NewInt(1337),
	}
}

// TypedSigner hashes, signs and recovers typed exchange requests
type TypedSigner struct {
	domain Domain
}

func NewTypedSigner(domain Domain) *TypedSigner {
	return &TypedSigner{domain: domain}
}

func (e *TypedSigner) Domain() Domain { return e.domain }

// KnownType reports whether primaryType is a request this signer can hash
func KnownType(primaryType string) bool {
	_, ok := requestTypes[primaryType]
	return ok
}

// TypedData builds the eth_signTypedData_v4 payload for a request
func (e *TypedSigner) TypedData(primaryType string, message apitypes.TypedDataMessage) (apitypes.TypedData, error) {
	fields, ok := requestTypes[primaryType]
	if !ok {
		return apitypes.TypedData{}, fmt.Errorf("unknown request type %q", primaryType)
	}
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": domainType,
			primaryType:    fields,
		},
		PrimaryType: primaryType,
		Domain: apitypes.TypedDataDomain{
			Name:              e.domain.Name,
			Version:           e.domain.Version,
			ChainId:           (*math.HexOrDecimal256)(e.domain.ChainID),
			VerifyingContract: e.domain.VerifyingContract.Hex(),
		},
		Message: message,
	}, nil
}

// Hash returns the digest to sign:
// keccak256("\x19\x01" || domainSeparator || hashStruct(message))
func (e *TypedSigner) Hash(primaryType string, message apitypes.TypedDataMessage) ([]byte, error) {
	typedData, err := e.TypedData(primaryType, message)
	if err != nil {
		return nil, err
	}

	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("failed to hash domain: %w", err)
	}
	typedDataHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return nil, fmt.Errorf("failed to hash message: %w", err)
	}

	rawData := make([]byte, 0, 2+len(domainSeparator)+len(typedDataHash))
	rawData = append(rawData, 0x19, 0x01)
	rawData = append(rawData, domainSeparator...)
	rawData = append(rawData, typedDataHash...)
	return crypto.Keccak256(rawData), nil
}

// Sign hashes and signs a request
func (e *TypedSigner) Sign(signer *Signer, primaryType string, message apitypes.TypedDataMessage) ([]byte, error) {
	hash, err := e.Hash(primaryType, message)
	if err != nil {
		return nil, fmt.Errorf("failed to hash %s: %w", primaryType, err)
	}
	return signer.Sign(hash)
}

// Recover returns the address that signed a request
func (e *TypedSigner) Recover(primaryType string, message apitypes.TypedDataMessage, signature []byte) (common.Address, error) {
	hash, err := e.Hash(primaryType, message)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to hash %s: %w", primaryType, err)
	}
	return RecoverAddress(hash, signature)
}
