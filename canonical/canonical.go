// Package canonical produces the single canonical JSON form that every signed
// or hashed document in this SDK is serialized with.
//
// The encoding is RFC 8785 (JSON Canonicalization Scheme): object members are
// sorted by UTF-16 code units, insignificant whitespace is removed and numbers
// use the ECMAScript shortest form. Producers and verifiers must both go
// through Marshal, otherwise signatures will not reproduce.
package canonical

import (
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gowebpki/jcs"
)

// Marshal encodes v as canonical JSON.
func Marshal(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal document: %w", err)
	}

	return Transform(raw)
}

// Transform canonicalizes an already encoded JSON document.
func Transform(raw []byte) ([]byte, error) {
	out, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to canonicalize document: %w", err)
	}

	return out, nil
}

// Hash returns the Keccak-256 hash of the canonical encoding of v.
func Hash(v any) (common.Hash, error) {
	b, err := Marshal(v)
	if err != nil {
		return common.Hash{}, err
	}

	return crypto.Keccak256Hash(b), nil
}
