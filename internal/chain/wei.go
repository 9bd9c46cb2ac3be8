package chain

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/params"
)

const etherDecimals = 18

var weiPerEther = big.NewInt(params.Ether)

// ParseEther converts a decimal ether amount ("1.5") into wei. The input must
// be a plain non-negative decimal with at most 18 fractional digits; anything
// else is rejected.
func ParseEther(amount string) (*big.Int, error) {
	s := strings.TrimSpace(amount)
	if s == "" {
		return nil, fmt.Errorf("empty amount")
	}
	whole, frac, hasFrac := strings.Cut(s, ".")
	if whole == "" {
		whole = "0"
	}
	if !digitsOnly(whole) || (hasFrac && (frac == "" || !digitsOnly(frac))) {
		return nil, fmt.Errorf("invalid amount %q", amount)
	}
	if len(frac) > etherDecimals {
		return nil, fmt.Errorf("amount %q exceeds %d decimal places", amount, etherDecimals)
	}

	wei, ok := new(big.Int).SetString(whole, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", amount)
	}
	wei.Mul(wei, weiPerEther)

	if frac != "" {
		fracWei, ok := new(big.Int).SetString(frac+strings.Repeat("0", etherDecimals-len(frac)), 10)
		if !ok {
			return nil, fmt.Errorf("invalid amount %q", amount)
		}
		wei.Add(wei, fracWei)
	}
	return wei, nil
}

// FormatEther renders a wei amount as a decimal ether string with trailing
// zeros trimmed.
func FormatEther(wei *big.Int) string {
	if wei == nil {
		return "0"
	}
	quo, rem := new(big.Int).QuoRem(wei, weiPerEther, new(big.Int))
	if rem.Sign() == 0 {
		return quo.String()
	}
	frac := strings.TrimRight(fmt.Sprintf("%018s", rem.String()), "0")
	return quo.String() + "." + frac
}

func digitsOnly(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}
