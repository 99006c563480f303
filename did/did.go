package did

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/pilacorp/go-twin-sdk/failure"
)

// DefaultMethod is the method prefix used when none is configured.
const DefaultMethod = "did:ethr"

// Identifier is a parsed did:<scheme>:<address>.
type Identifier struct {
	// Method is everything before the address, e.g. "did:ethr" or
	// "did:ethr:testnet".
	Method  string
	Address common.Address
}

// String returns the lowercase DID.
func (id Identifier) String() string {
	return ToDID(id.Method, id.Address.Hex())
}

// ToDID joins a method and an address into a lowercase DID.
func ToDID(method, address string) string {
	return strings.ToLower(method + ":" + address)
}

// Parse parses did:<scheme>:<address>. The scheme may itself contain ':'
// separated segments; the address is always the last segment and must be
// "0x" followed by 40 hex digits.
func Parse(s string) (*Identifier, error) {
	if !strings.HasPrefix(strings.ToLower(s), "did:") {
		return nil, failure.New(failure.Validation, failure.ReasonMalformedInput, "%q is not a DID", s)
	}

	i := strings.LastIndex(s, ":")
	method, addr := s[:i], s[i+1:]
	if strings.EqualFold(method, "did") {
		return nil, failure.New(failure.Validation, failure.ReasonMalformedInput, "DID %q has no scheme", s)
	}
	if len(addr) != 42 || !strings.HasPrefix(addr, "0x") || !common.IsHexAddress(addr) {
		return nil, failure.New(failure.Validation, failure.ReasonMalformedInput, "DID %q does not end in a 20-byte hex address", s)
	}

	return &Identifier{
		Method:  strings.ToLower(method),
		Address: common.HexToAddress(addr),
	}, nil
}

// AddressFromDID returns the address part of a DID.
func AddressFromDID(s string) (common.Address, error) {
	id, err := Parse(s)
	if err != nil {
		return common.Address{}, err
	}

	return id.Address, nil
}

// Equal compares two DIDs case-insensitively.
func Equal(a, b string) bool {
	return strings.EqualFold(a, b)
}
