// Package amount converts between user-entered decimal strings and the exact
// fixed-point integers token contracts operate on. All conversions are string
// based; floating point never touches an amount.
package amount

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/holiman/uint256"
)

// DisplayCap is the default number of fractional digits shown to users.
const DisplayCap = 6

var (
	// ErrInvalidAmount is returned for empty or non-numeric input.
	ErrInvalidAmount = errors.New("amount: invalid amount")
	// ErrOverflow is returned when a value does not fit a uint256 contract argument.
	ErrOverflow = errors.New("amount: exceeds uint256")
)

var ten = big.NewInt(10)

// ToInteger converts a decimal string into its integer representation scaled
// by 10^precision. Characters other than digits and the decimal point are
// dropped; a second decimal point truncates the input at that position.
// Fractional digits beyond precision are floored away.
func ToInteger(input string, precision uint8) (*big.Int, error) {
	cleaned := sanitize(input)
	if cleaned == "" || cleaned == "." {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAmount, input)
	}
	whole, frac, _ := strings.Cut(cleaned, ".")
	if whole == "" {
		whole = "0"
	}
	p := int(precision)
	if len(frac) > p {
		frac = frac[:p]
	}
	frac += strings.Repeat("0", p-len(frac))

	value, ok := new(big.Int).SetString(whole+frac, 10)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAmount, input)
	}
	return value, nil
}

// sanitize keeps digits and at most one decimal separator.
func sanitize(input string) string {
	var b strings.Builder
	b.Grow(len(input))
	seenDot := false
	for _, r := range input {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.':
			if seenDot {
				return b.String()
			}
			seenDot = true
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ToDisplay renders value as "whole.fraction" using min(precision, displayCap)
// fractional digits. Digits past the cap are truncated, never rounded, so the
// rendered figure never exceeds the held amount. A non-positive cap renders
// only the whole part.
func ToDisplay(value *big.Int, precision uint8, displayCap int) string {
	if value == nil {
		value = new(big.Int)
	}
	sign := ""
	abs := new(big.Int).Set(value)
	if abs.Sign() < 0 {
		sign = "-"
		abs.Neg(abs)
	}
	if precision == 0 {
		return sign + abs.String()
	}
	divisor := pow10(precision)
	whole, rem := new(big.Int).QuoRem(abs, divisor, new(big.Int))

	digits := int(precision)
	if displayCap < digits {
		digits = displayCap
	}
	if digits <= 0 {
		return sign + whole.String()
	}
	frac := rem.String()
	frac = strings.Repeat("0", int(precision)-len(frac)) + frac
	return sign + whole.String() + "." + frac[:digits]
}

// Format renders value with the default display cap.
func Format(value *big.Int, precision uint8) string {
	return ToDisplay(value, precision, DisplayCap)
}

// Normalize trims insignificant zeros so decimal strings can be compared
// after a round trip: "001.500" becomes "1.5" and "2.000" becomes "2".
func Normalize(decimal string) string {
	whole, frac, hasFrac := strings.Cut(strings.TrimSpace(decimal), ".")
	whole = strings.TrimLeft(whole, "0")
	if whole == "" {
		whole = "0"
	}
	if hasFrac {
		frac = strings.TrimRight(frac, "0")
	}
	if frac == "" {
		return whole
	}
	return whole + "." + frac
}

// FitsUint256 reports whether value can be passed as a uint256 contract
// argument and returns its fixed-width form.
func FitsUint256(value *big.Int) (*uint256.Int, error) {
	if value == nil || value.Sign() < 0 {
		return nil, fmt.Errorf("%w: negative or missing value", ErrInvalidAmount)
	}
	out, overflow := uint256.FromBig(value)
	if overflow {
		return nil, ErrOverflow
	}
	return out, nil
}

func pow10(precision uint8) *big.Int {
	return new(big.Int).Exp(ten, big.NewInt(int64(precision)), nil)
}
