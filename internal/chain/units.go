package chain

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/celo-runner/internal/domain"
)

// Decimals of the native currency.
const Decimals = 18

var weiPerEther = new(big.Int).Exp(big.NewInt(10), big.NewInt(Decimals), nil)

// FormatEther renders wei as a decimal string in whole currency units,
// trimming trailing zeros.
func FormatEther(wei *big.Int) string {
	if wei == nil {
		return "0"
	}
	sign := ""
	v := new(big.Int).Set(wei)
	if v.Sign() < 0 {
		sign = "-"
		v.Neg(v)
	}

	whole, frac := new(big.Int).QuoRem(v, weiPerEther, new(big.Int))
	if frac.Sign() == 0 {
		return sign + whole.String()
	}
	fracStr := frac.String()
	fracStr = strings.Repeat("0", Decimals-len(fracStr)) + fracStr
	return sign + whole.String() + "." + strings.TrimRight(fracStr, "0")
}

// ParseEther converts a decimal string in whole currency units to wei.
func ParseEther(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.HasPrefix(s, "-") {
		return nil, domain.ErrInvalidPrice
	}

	whole, frac, _ := strings.Cut(s, ".")
	if len(frac) > Decimals {
		return nil, fmt.Errorf("%w: more than %d decimals", domain.ErrInvalidPrice, Decimals)
	}
	if whole == "" {
		whole = "0"
	}
	digits := whole + frac + strings.Repeat("0", Decimals-len(frac))

	wei, ok := new(big.Int).SetString(digits, 10)
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidPrice, s)
	}
	return wei, nil
}
