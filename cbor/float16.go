package cbor

import "math"

// DecodeFloat16 converts an IEEE 754 half-precision bit pattern to a float64.
func DecodeFloat16(bits uint16) float64 {
	sign := 1.0
	if bits&0x8000 != 0 {
		sign = -1.0
	}
	exponent := int(bits>>10) & 0x1f
	fraction := float64(bits & 0x3ff)

	switch exponent {
	case 0:
		// subnormal
		return sign * math.Ldexp(fraction/1024, -14)
	case 0x1f:
		if fraction != 0 {
			return math.NaN()
		}
		return math.Inf(int(sign))
	default:
		return sign * math.Ldexp(1+fraction/1024, exponent-15)
	}
}
