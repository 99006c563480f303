// Package did provides key material and identifiers for objects and users:
// secp256k1 key pair generation, public key to address derivation and the
// did:<scheme>:<address> identifier format.
package did

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/pilacorp/go-twin-sdk/failure"
)

// PublicKeyLength is the length of an uncompressed secp256k1 public key
// including its 0x04 prefix.
const PublicKeyLength = 65

// KeyPair represents a generated secp256k1 key pair.
type KeyPair struct {
	PublicKey  *ecdsa.PublicKey
	PrivateKey *ecdsa.PrivateKey
}

// GenerateECDSAKeyPair generates a new key pair from a cryptographically
// secure source.
func GenerateECDSAKeyPair() (*KeyPair, error) {
	privateKey, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate private key: %w", err)
	}

	return &KeyPair{
		PublicKey:  &privateKey.PublicKey,
		PrivateKey: privateKey,
	}, nil
}

// KeyPairFromPrivateKeyHex restores a key pair from a hex encoded private key.
func KeyPairFromPrivateKeyHex(privHex string) (*KeyPair, error) {
	priv, err := ParsePrivateKeyHex(privHex)
	if err != nil {
		return nil, err
	}

	return &KeyPair{PublicKey: &priv.PublicKey, PrivateKey: priv}, nil
}

// ParsePrivateKeyHex parses a 32-byte private key, with or without "0x".
func ParsePrivateKeyHex(privHex string) (*ecdsa.PrivateKey, error) {
	key := strings.TrimPrefix(strings.TrimSpace(privHex), "0x")
	if len(key) == 0 || len(key)%2 != 0 {
		return nil, failure.New(failure.Validation, failure.ReasonMalformedInput, "invalid private key: empty or odd length")
	}

	priv, err := crypto.HexToECDSA(key)
	if err != nil {
		return nil, failure.Wrap(failure.Validation, failure.ReasonMalformedInput, err, "failed to parse private key")
	}

	return priv, nil
}

// GetAddress returns the address of the key pair.
func (k *KeyPair) GetAddress() common.Address {
	return crypto.PubkeyToAddress(*k.PublicKey)
}

// GetDID returns the DID of the key pair under the given method.
func (k *KeyPair) GetDID(method string) string {
	return ToDID(method, k.GetAddress().Hex())
}

// GetPublicKeyBytes returns the 65-byte uncompressed public key.
func (k *KeyPair) GetPublicKeyBytes() []byte {
	return crypto.FromECDSAPub(k.PublicKey)
}

// GetPrivateKeyHex returns the private key in lowercase hex with "0x".
func (k *KeyPair) GetPrivateKeyHex() string {
	return "0x" + hex.EncodeToString(crypto.FromECDSA(k.PrivateKey))
}

// AddressOf derives the 20-byte address of an uncompressed public key: the
// last 20 bytes of keccak256 over the 64 coordinate bytes.
//
// The key must be exactly 65 bytes, start with 0x04 and lie on the curve.
func AddressOf(publicKey []byte) (common.Address, error) {
	if len(publicKey) != PublicKeyLength {
		return common.Address{}, failure.New(failure.Validation, failure.ReasonMalformedInput,
			"public key must be %d bytes, got %d", PublicKeyLength, len(publicKey))
	}
	if publicKey[0] != 0x04 {
		return common.Address{}, failure.New(failure.Validation, failure.ReasonMalformedInput,
			"public key must start with 0x04, got 0x%02x", publicKey[0])
	}
	if _, err := crypto.UnmarshalPubkey(publicKey); err != nil {
		return common.Address{}, failure.Wrap(failure.Validation, failure.ReasonMalformedInput, err, "public key is not on the curve")
	}

	return common.BytesToAddress(crypto.Keccak256(publicKey[1:])[12:]), nil
}

// ParsePublicKey accepts a compressed (33-byte) or uncompressed (65-byte)
// public key and returns its uncompressed form.
func ParsePublicKey(b []byte) ([]byte, error) {
	switch {
	case len(b) == 33 && (b[0] == 0x02 || b[0] == 0x03):
	case len(b) == PublicKeyLength && b[0] == 0x04:
	default:
		return nil, failure.New(failure.Validation, failure.ReasonMalformedInput,
			"unsupported public key format: expected 33 bytes (compressed) or 65 bytes (uncompressed), got %d bytes", len(b))
	}

	pk, err := btcec.ParsePubKey(b)
	if err != nil {
		return nil, failure.Wrap(failure.Validation, failure.ReasonMalformedInput, err, "failed to parse public key")
	}

	return pk.SerializeUncompressed(), nil
}

// ParsePublicKeyHex is ParsePublicKey over a hex string, with or without "0x".
func ParsePublicKeyHex(s string) ([]byte, error) {
	b, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return nil, failure.Wrap(failure.Validation, failure.ReasonMalformedInput, err, "failed to decode public key hex")
	}

	return ParsePublicKey(b)
}
