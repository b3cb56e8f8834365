// Package amount parses and formats the decimal token amounts used for
// purchase prices, earnest deposits and account balances.
//
// Amounts carry six fractional digits. Internally they are big.Int values in
// the smallest unit (1 token = 1,000,000 units), so comparisons never touch
// floating point.
package amount

import (
	"math/big"
	"strings"
)

// Decimals is the number of fractional digits an amount carries.
const Decimals = 6

// Parse converts a decimal string such as "10" or "2.5" to smallest units.
// An empty string parses as zero. Negative values, more than one decimal
// point, non-digit characters and more than Decimals fractional digits are
// rejected.
func Parse(s string) (*big.Int, bool) {
	if s == "" {
		return big.NewInt(0), true
	}
	if strings.HasPrefix(s, "-") || strings.HasPrefix(s, "+") {
		return nil, false
	}

	whole, frac, found := strings.Cut(s, ".")
	if found && strings.Contains(frac, ".") {
		return nil, false
	}
	if whole == "" {
		whole = "0"
	}
	if len(frac) > Decimals {
		return nil, false
	}
	frac += strings.Repeat("0", Decimals-len(frac))

	v, ok := new(big.Int).SetString(whole+frac, 10)
	if !ok || v.Sign() < 0 {
		return nil, false
	}
	return v, true
}

// Format renders smallest units as a decimal string with exactly Decimals
// fractional digits, e.g. 1500000 -> "1.500000".
func Format(v *big.Int) string {
	if v == nil {
		return "0.000000"
	}
	neg := v.Sign() < 0
	s := new(big.Int).Abs(v).String()
	if len(s) <= Decimals {
		s = strings.Repeat("0", Decimals+1-len(s)) + s
	}
	point := len(s) - Decimals
	out := s[:point] + "." + s[point:]
	if neg {
		out = "-" + out
	}
	return out
}

// Positive reports whether s parses to a value greater than zero.
func Positive(s string) bool {
	v, ok := Parse(s)
	return ok && v.Sign() > 0
}

// Cmp compares two decimal strings. Unparseable input compares as zero.
func Cmp(a, b string) int {
	return orZero(a).Cmp(orZero(b))
}

// Add returns a+b formatted. Unparseable input counts as zero.
func Add(a, b string) string {
	return Format(new(big.Int).Add(orZero(a), orZero(b)))
}

// Normalize re-formats s so equal amounts compare equal as strings
// ("10" and "10.0" both become "10.000000").
func Normalize(s string) string {
	return Format(orZero(s))
}

func orZero(s string) *big.Int {
	v, ok := Parse(s)
	if !ok {
		return big.NewInt(0)
	}
	return v
}
