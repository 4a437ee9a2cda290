// Package ethsign recovers signer addresses from EIP-191 personal-message
// signatures.
package ethsign

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// ErrInvalidSignature marks a signature that is malformed or does not decode
// to a recoverable secp256k1 signature.
var ErrInvalidSignature = errors.New("invalid signature")

// SignatureLength is the expected byte length of an r||s||v signature.
const SignatureLength = 65

// Recover returns the address that signed message with the personal-message
// prefix. The signature is 65 bytes r||s||v with v in {0,1,27,28}.
func Recover(message string, signature []byte) (common.Address, error) {
	if len(signature) != SignatureLength {
		return common.Address{}, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidSignature, SignatureLength, len(signature))
	}

	// Recovery id is transmitted as 27/28 by wallets; crypto expects 0/1.
	sig := make([]byte, SignatureLength)
	copy(sig, signature)
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	if sig[64] != 0 && sig[64] != 1 {
		return common.Address{}, fmt.Errorf("%w: recovery id %d out of range", ErrInvalidSignature, signature[64])
	}

	pub, err := crypto.SigToPub(accounts.TextHash([]byte(message)), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// ParseSignature decodes a hex signature with or without a 0x prefix.
func ParseSignature(raw string) ([]byte, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	sig, err := hex.DecodeString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return sig, nil
}

// IsHexAddress reports whether raw is a well-formed 20-byte hex address.
func IsHexAddress(raw string) bool {
	return common.IsHexAddress(strings.TrimSpace(raw))
}

// Normalize canonicalizes an address to its lowercase hex form for storage
// and comparison.
func Normalize(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

// Equal compares two addresses case-insensitively.
func Equal(a, b string) bool {
	return Normalize(a) == Normalize(b)
}
