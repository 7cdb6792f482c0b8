package db

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/russross/meddler"
)

// uint256DigitWidth is the number of zero-padded decimal digits written after
// the sign character: 2^256-1 has 78 decimal digits, so every 256-bit
// magnitude fits.
const uint256DigitWidth = 78

func init() {
	meddler.Register("uint256", Uint256Meddler{})
}

// Uint256Meddler encodes a *big.Int as a sign-prefixed, zero-padded decimal
// string so that lexicographic byte comparison of the stored text matches
// numeric comparison of the underlying integer. The encoding is "+" or "-"
// followed by 78 zero-padded decimal digits.
type Uint256Meddler struct{}

func EncodeUint256(v *big.Int) string {
	if v == nil {
		v = new(big.Int)
	}
	sign := "+"
	abs := v
	if v.Sign() < 0 {
		sign = "-"
		abs = new(big.Int).Abs(v)
	}
	digits := abs.String()
	if len(digits) < uint256DigitWidth {
		digits = strings.Repeat("0", uint256DigitWidth-len(digits)) + digits
	}
	return sign + digits
}

func DecodeUint256(s string) (*big.Int, error) {
	if len(s) < 2 {
		return nil, fmt.Errorf("uint256: malformed encoded value %q", s)
	}
	v, ok := new(big.Int).SetString(s[1:], 10)
	if !ok {
		return nil, fmt.Errorf("uint256: malformed digits in %q", s)
	}
	if s[0] == '-' {
		v.Neg(v)
	}
	return v, nil
}

func (u Uint256Meddler) PreRead(fieldAddr interface{}) (scanTarget interface{}, err error) {
	return new(string), nil
}

func (u Uint256Meddler) PostRead(fieldAddr, scanTarget interface{}) error {
	s, ok := scanTarget.(*string)
	if !ok {
		return fmt.Errorf("uint256: expected *string scan target, got %T", scanTarget)
	}
	v, err := DecodeUint256(*s)
	if err != nil {
		return err
	}

	switch ptr := fieldAddr.(type) {
	case **big.Int:
		*ptr = v
	case *big.Int:
		ptr.Set(v)
	default:
		return fmt.Errorf("uint256: expected *big.Int or **big.Int, got %T", fieldAddr)
	}
	return nil
}

func (u Uint256Meddler) PreWrite(field interface{}) (saveValue interface{}, err error) {
	switch v := field.(type) {
	case *big.Int:
		return EncodeUint256(v), nil
	case big.Int:
		return EncodeUint256(&v), nil
	default:
		return nil, fmt.Errorf("uint256: expected big.Int or *big.Int, got %T", field)
	}
}
