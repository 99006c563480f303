// Package pubkey splits an uncompressed secp256k1 public key into the two
// 32-byte coordinates the ledger stores, and joins them back.
package pubkey

import (
	"github.com/pilacorp/go-twin-sdk/failure"
)

const (
	// CoordinateLength is the byte length of one curve coordinate.
	CoordinateLength = 32
	// UncompressedLength is the byte length of 0x04 || x || y.
	UncompressedLength = 1 + 2*CoordinateLength
)

// Split returns the x and y coordinates of a 65-byte uncompressed key.
func Split(pk []byte) (x, y [CoordinateLength]byte, err error) {
	if len(pk) != UncompressedLength {
		return x, y, failure.New(failure.Validation, failure.ReasonMalformedInput,
			"public key must be %d bytes, got %d", UncompressedLength, len(pk))
	}
	if pk[0] != 0x04 {
		return x, y, failure.New(failure.Validation, failure.ReasonMalformedInput,
			"public key must start with 0x04, got 0x%02x", pk[0])
	}

	copy(x[:], pk[1:1+CoordinateLength])
	copy(y[:], pk[1+CoordinateLength:])

	return x, y, nil
}

// Reconstruct returns 0x04 || x || y. Both coordinates must be exactly 32
// bytes; leading zero bytes are significant and must not be trimmed.
func Reconstruct(x, y []byte) ([]byte, error) {
	if len(x) != CoordinateLength || len(y) != CoordinateLength {
		return nil, failure.New(failure.Validation, failure.ReasonMalformedInput,
			"coordinates must be %d bytes each, got %d and %d", CoordinateLength, len(x), len(y))
	}

	out := make([]byte, 0, UncompressedLength)
	out = append(out, 0x04)
	out = append(out, x...)
	out = append(out, y...)

	return out, nil
}
