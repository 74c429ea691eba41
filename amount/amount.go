// Package amount implements the compact 4-byte logarithmic encoding used
// for every on-chain amount and fee: a 28-bit mantissa paired with a 4-bit
// base-256 exponent, holding any u128 value with bounded relative error.
package amount

import "math/big"

// Size is the wire width of a compact amount.
const Size = 4

// Coin is one whole unit of the native asset (10^18 base units).
var Coin = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// Decimals is the number of base-unit digits per whole coin, used by
// ToString/FromString.
const Decimals = 18

// Encode returns the largest compact amount whose decoded value does not
// exceed x. x must be non-negative and fit in 128 bits; values outside that
// range are truncated the same way a u128 overflow would be in the source
// implementation.
func Encode(x *big.Int) [Size]byte {
	var out [Size]byte
	if x.Sign() <= 0 {
		return out
	}
	full := toBE16(x)

	lead := 0
	for lead < 16 && full[lead] == 0 {
		lead++
	}
	if lead == 16 {
		return out
	}
	size := byte(15 - lead)

	for j := 0; j < Size; j++ {
		k := lead + j
		if k == 16 {
			break
		}
		out[j] = full[k]
	}
	out[Size-1] = (out[Size-1] & 0xf0) | (size & 0x0f)
	return out
}

// Decode expands a compact amount back into its full u128 value.
func Decode(b [Size]byte) *big.Int {
	size := int(b[Size-1] & 0x0f)
	var full [16]byte
	for i := 0; i < Size; i++ {
		j := 15 - size + i
		if j < 0 || j >= 16 {
			break
		}
		if i == Size-1 {
			full[j] = b[i] & 0xf0
			break
		}
		full[j] = b[i]
	}
	return fromBE16(full)
}

// Floor returns the largest value representable by the compact codec that
// does not exceed x: decode(encode(x)).
func Floor(x *big.Int) *big.Int {
	return Decode(Encode(x))
}

// IsFloor reports whether x is already a fixed point of the codec, i.e.
// Floor(x) == x. Used to reject wire amounts that cannot round-trip.
func IsFloor(x *big.Int) bool {
	return Floor(x).Cmp(x) == 0
}

func toBE16(x *big.Int) [16]byte {
	var out [16]byte
	b := x.Bytes()
	if len(b) > 16 {
		b = b[len(b)-16:]
	}
	copy(out[16-len(b):], b)
	return out
}

func fromBE16(b [16]byte) *big.Int {
	return new(big.Int).SetBytes(b[:])
}

// ToString renders a base-unit amount with Decimals fractional digits,
// trimming trailing zeros, the way the original wallet CLI prints balances.
func ToString(x *big.Int) string {
	if x.Sign() == 0 {
		return "0"
	}
	s := x.String()
	neg := false
	if s[0] == '-' {
		neg = true
		s = s[1:]
	}
	for len(s) <= Decimals {
		s = "0" + s
	}
	point := len(s) - Decimals
	whole, frac := s[:point], s[point:]
	for len(frac) > 0 && frac[len(frac)-1] == '0' {
		frac = frac[:len(frac)-1]
	}
	for len(whole) > 1 && whole[0] == '0' {
		whole = whole[1:]
	}
	out := whole
	if frac != "" {
		out += "." + frac
	}
	if neg {
		out = "-" + out
	}
	return out
}
