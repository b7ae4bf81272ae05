package transaction

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperdex/pkg/crypto"
)

// Verifier checks request signatures against the exchange's EIP-712 domain
type Verifier struct {
	signer *crypto.TypedSigner
}

func NewVerifier(domain crypto.Domain) *Verifier {
	return &Verifier{signer: crypto.NewTypedSigner(domain)}
}

// Verify decodes tx and returns it once the signature is proven to come
// from the payload owner
func (v *Verifier) Verify(tx *SignedRequest) (Request, error) {
	req, err := tx.Decode()
	if err != nil {
		return Request{}, err
	}

	sig, err := decodeSignature(tx.Signature)
	if err != nil {
		return Request{}, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}

	signer, err := v.recover(req, sig)
	if err != nil {
		return Request{}, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	if signer != req.Owner {
		return Request{}, fmt.Errorf("%w: signed by %s, owner is %s", ErrBadSignature, signer.Hex(), req.Owner.Hex())
	}
	return req, nil
}

// RecoverSigner returns whoever signed tx, without comparing to the owner
func (v *Verifier) RecoverSigner(tx *SignedRequest) (common.Address, error) {
	req, err := tx.Decode()
	if err != nil {
		return common.Address{}, err
	}
	sig, err := decodeSignature(tx.Signature)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	return v.recover(req, sig)
}

func (v *Verifier) recover(req Request, sig []byte) (common.Address, error) {
	primary, msg, err := req.Message()
	if err != nil {
		return common.Address{}, err
	}
	return v.signer.Recover(primary, msg, sig)
}

// Sign produces a signed envelope for req. Owner is set to the signer.
func Sign(ts *crypto.TypedSigner, signer *crypto.Signer, req Request) (*SignedRequest, error) {
	req.Owner = signer.Address()
	primary, msg, err := req.Message()
	if err != nil {
		return nil, err
	}
	sig, err := ts.Sign(signer, primary, msg)
	if err != nil {
		return nil, err
	}
	tx := Encode(req)
	tx.Signature = "0x" + hex.EncodeToString(sig)
	return tx, nil
}

// decodeSignature decodes hex-encoded signature (with or without 0x prefix)
func decodeSignature(sig string) ([]byte, error) {
	sig = strings.TrimPrefix(sig, "0x")

	sigBytes, err := hex.DecodeString(sig)
	if err != nil {
		return nil, fmt.Errorf("invalid hex signature: %w", err)
	}

	if len(sigBytes) != 65 {
		return nil, fmt.Errorf("signature must be 65 bytes, got %d", len(sigBytes))
	}

	return sigBytes, nil
}
