// Package q18 implements the kernel's Q18 fixed-point arithmetic: every
// real value x is represented as round(x * 2^18) in an int64. All
// operations are integer-only and overflow-checked so that no float
// ever enters a hashed structure.
package q18

import (
	"math/bits"

	"github.com/cohkernel/gmk/kernel/kerrors"
)

// Scale is 2^18, the fixed-point denominator.
const Scale = 1 << 18

// Rounding selects the rounding direction for multiply/divide.
type Rounding int

const (
	Down Rounding = iota
	Up
)

// One is the Q18 representation of 1.0.
const One int64 = Scale

// Add returns a+b, erroring on int64 overflow.
func Add(a, b int64) (int64, error) {
	sum := a + b
	if (b > 0 && sum < a) || (b < 0 && sum > a) {
		return 0, kerrors.WrapOverflow("q18.Add")
	}
	return sum, nil
}

// Sub returns a-b, erroring on int64 overflow.
func Sub(a, b int64) (int64, error) {
	diff := a - b
	if (b < 0 && diff < a) || (b > 0 && diff > a) {
		return 0, kerrors.WrapOverflow("q18.Sub")
	}
	return diff, nil
}

// Mul returns a*b in Q18 space with the requested rounding.
// Mul(a,b,Up) = ceil(a*b / 2^18); Mul(a,b,Down) = floor(a*b / 2^18).
func Mul(a, b int64, round Rounding) (int64, error) {
	neg := (a < 0) != (b < 0)
	hi, lo := bits.Mul64(uint64(abs64(a)), uint64(abs64(b)))

	// bits.Div64 requires the quotient to fit in 64 bits, i.e. hi < Scale.
	if hi>>18 != 0 {
		return 0, kerrors.WrapOverflow("q18.Mul")
	}
	q, r := bits.Div64(hi, lo, Scale)
	// q is the truncated magnitude: Up (ceil) steps a positive inexact
	// result away from zero, Down (floor) steps a negative one.
	if r != 0 && (round == Up) != neg {
		q++
	}
	if q > uint64(1)<<63 {
		return 0, kerrors.WrapOverflow("q18.Mul")
	}
	signed := int64(q)
	if signed < 0 {
		return 0, kerrors.WrapOverflow("q18.Mul")
	}
	if neg {
		signed = -signed
	}
	return signed, nil
}

// Div returns a/b in Q18 space with the requested rounding.
// Div(a,b,UP) = ceil(a*2^18 / b); Div(a,b,DOWN) = floor(a*2^18 / b).
// Division by zero fails with E_DIV_ZERO.
func Div(a, b int64, round Rounding) (int64, error) {
	if b == 0 {
		return 0, kerrors.WrapDivZero("q18.Div")
	}
	neg := (a < 0) != (b < 0)
	ua, ub := abs64(a), abs64(b)

	hi, lo := bits.Mul64(uint64(ua), Scale)
	if hi >= uint64(ub) {
		return 0, kerrors.WrapOverflow("q18.Div")
	}
	q, r := bits.Div64(hi, lo, uint64(ub))

	if r != 0 && (round == Up) != neg {
		q++
	}
	if q > uint64(1)<<63 {
		return 0, kerrors.WrapOverflow("q18.Div")
	}
	signed := int64(q)
	if signed < 0 {
		return 0, kerrors.WrapOverflow("q18.Div")
	}
	if neg {
		signed = -signed
	}
	return signed, nil
}

// ISqrt returns the floor of the Q18 square root of a non-negative Q18
// value: ISqrt(x) approximates sqrt(x/Scale)*Scale, rounded down. The
// rounding policy is floor.
func ISqrt(x int64) (int64, error) {
	if x < 0 {
		return 0, kerrors.WrapOverflow("q18.ISqrt")
	}
	if x == 0 {
		return 0, nil
	}
	// Compute floor(sqrt(x * Scale)) using big-enough integer math:
	// target = x * Scale (a Q36 quantity), then integer sqrt of that
	// gives a Q18 result directly.
	hi, lo := bits.Mul64(uint64(x), Scale)
	if hi != 0 {
		return 0, kerrors.WrapOverflow("q18.ISqrt")
	}
	return int64(isqrt64(lo)), nil
}

// isqrt64 computes floor(sqrt(n)) for a uint64 via Newton's method.
func isqrt64(n uint64) uint64 {
	if n == 0 {
		return 0
	}
	x := n
	y := (x + 1) / 2
	for y < x {
		x = y
		y = (x + n/x) / 2
	}
	return x
}

func abs64(x int64) int64 {
	if x < 0 {
		return -x
	}
	return x
}
