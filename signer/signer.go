// Package signer signs and recovers EIP-191 personal messages and signs
// transaction digests.
//
// Signatures are 65 bytes laid out as r (32) || s (32) || v (1). Message
// signatures carry v normalized to 27 or 28 so they are interchangeable with
// signatures produced by wallets through personal_sign.
package signer

import (
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/pilacorp/go-twin-sdk/did"
)

// SignatureLength is the length of a recoverable secp256k1 signature.
const SignatureLength = 65

// SignerProvider signs 32-byte digests on behalf of one account.
//
// Implementations may keep the key in process, in an HSM or behind a remote
// wallet. Sign must return a 65-byte signature with v in {0, 1}.
type SignerProvider interface {
	Sign(hash []byte) ([]byte, error)
	GetAddress() string
}

// DefaultProvider is a SignerProvider backed by an in-memory private key.
type DefaultProvider struct {
	priv *ecdsa.PrivateKey
}

// NewDefaultProvider creates a provider from a hex encoded private key.
func NewDefaultProvider(privHex string) (*DefaultProvider, error) {
	priv, err := did.ParsePrivateKeyHex(privHex)
	if err != nil {
		return nil, err
	}

	return &DefaultProvider{priv: priv}, nil
}

// NewProviderFromKey creates a provider from an already parsed private key.
func NewProviderFromKey(priv *ecdsa.PrivateKey) *DefaultProvider {
	return &DefaultProvider{priv: priv}
}

// Sign signs a 32-byte digest.
func (p *DefaultProvider) Sign(hash []byte) ([]byte, error) {
	signature, err := crypto.Sign(hash, p.priv)
	if err != nil {
		return nil, fmt.Errorf("failed to sign payload: %w", err)
	}

	if len(signature) != SignatureLength {
		return nil, fmt.Errorf("invalid signature length: expected %d bytes, got %d", SignatureLength, len(signature))
	}

	return signature, nil
}

// GetAddress returns the lowercase hex address of the signer.
func (p *DefaultProvider) GetAddress() string {
	return strings.ToLower(crypto.PubkeyToAddress(p.priv.PublicKey).Hex())
}
