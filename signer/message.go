package signer

import (
	"crypto/ecdsa"
	"encoding/hex"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/pilacorp/go-twin-sdk/failure"
)

// HashMessage returns the EIP-191 personal message digest of message:
// keccak256("\x19Ethereum Signed Message:\n" + len(message) + message).
func HashMessage(message []byte) []byte {
	return accounts.TextHash(message)
}

// Sign signs message with priv. The result is deterministic (RFC 6979).
func Sign(message []byte, priv *ecdsa.PrivateKey) ([]byte, error) {
	return SignMessage(NewProviderFromKey(priv), message)
}

// SignMessage signs message through p and normalizes v to 27 or 28.
func SignMessage(p SignerProvider, message []byte) ([]byte, error) {
	sig, err := p.Sign(HashMessage(message))
	if err != nil {
		return nil, err
	}
	if len(sig) != SignatureLength {
		return nil, failure.New(failure.Validation, failure.ReasonMalformedInput,
			"invalid signature length: expected %d bytes, got %d", SignatureLength, len(sig))
	}

	out := make([]byte, SignatureLength)
	copy(out, sig)
	if out[64] < 27 {
		out[64] += 27
	}

	return out, nil
}

// Failure classifies an error returned by a SignerProvider. A provider that
// fails to sign is treated as an unreachable service, so unclassified errors
// become Transport failures. Errors that are already classified pass through
// unchanged.
func Failure(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	if _, ok := failure.KindOf(err); ok {
		return err
	}

	return failure.Wrap(failure.Transport, failure.ReasonSigner, err, format, args...)
}

// RecoverSigner returns the address that produced sig over message.
//
// It does not compare against any expected signer: a well formed signature
// made by a different key, or over a different message, simply recovers to a
// different address. An error is returned only when sig is structurally
// invalid.
func RecoverSigner(message, sig []byte) (common.Address, error) {
	pub, err := RecoverPublicKey(message, sig)
	if err != nil {
		return common.Address{}, err
	}

	return crypto.PubkeyToAddress(*pub), nil
}

// RecoverPublicKey returns the public key that produced sig over message.
func RecoverPublicKey(message, sig []byte) (*ecdsa.PublicKey, error) {
	if len(sig) != SignatureLength {
		return nil, failure.New(failure.Validation, failure.ReasonMalformedInput,
			"invalid signature length: expected %d bytes, got %d", SignatureLength, len(sig))
	}

	normalized := make([]byte, SignatureLength)
	copy(normalized, sig)
	if normalized[64] >= 27 {
		normalized[64] -= 27
	}
	if normalized[64] > 1 {
		return nil, failure.New(failure.Validation, failure.ReasonMalformedInput, "invalid signature recovery id %d", sig[64])
	}

	pub, err := crypto.SigToPub(HashMessage(message), normalized)
	if err != nil {
		return nil, failure.Wrap(failure.Validation, failure.ReasonMalformedInput, err, "failed to recover public key")
	}

	return pub, nil
}

// EncodeSignature returns the "0x" prefixed lowercase hex form of sig.
func EncodeSignature(sig []byte) string {
	return "0x" + hex.EncodeToString(sig)
}

// DecodeSignature parses a hex signature, with or without "0x", and checks
// its length.
func DecodeSignature(s string) ([]byte, error) {
	b, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(s), "0x"))
	if err != nil {
		return nil, failure.Wrap(failure.Validation, failure.ReasonMalformedInput, err, "failed to decode signature hex")
	}
	if len(b) != SignatureLength {
		return nil, failure.New(failure.Validation, failure.ReasonMalformedInput,
			"invalid signature length: expected %d bytes, got %d", SignatureLength, len(b))
	}

	return b, nil
}
