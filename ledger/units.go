package ledger

import (
	"fmt"
	"math/big"
	"strings"
)

var weiPerEther = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// ParseEther converts a decimal ether amount such as "0.001" to wei.
// Negative amounts and amounts finer than one wei are rejected.
func ParseEther(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return new(big.Int), nil
	}

	r, ok := new(big.Rat).SetString(s)
	if !ok {
		return nil, fmt.Errorf("invalid ether amount %q", s)
	}
	if r.Sign() < 0 {
		return nil, fmt.Errorf("ether amount %q is negative", s)
	}

	r.Mul(r, new(big.Rat).SetInt(weiPerEther))
	if !r.IsInt() {
		return nil, fmt.Errorf("ether amount %q has more than 18 decimals", s)
	}

	return new(big.Int).Set(r.Num()), nil
}

// FormatEther renders wei as a decimal ether amount without trailing zeros.
func FormatEther(wei *big.Int) string {
	if wei == nil {
		return "0"
	}

	r := new(big.Rat).SetFrac(wei, weiPerEther)
	out := r.FloatString(18)
	out = strings.TrimRight(out, "0")
	out = strings.TrimSuffix(out, ".")

	return out
}
