package accrual

import (
	"math/big"
	"sync"
)

// BpsScale is the denominator for rates expressed in basis points.
const BpsScale int64 = 10_000

// Int128 is a pooled big.Int for intermediate calculations
var int128Pool = &sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

func getInt128() *big.Int {
	return int128Pool.Get().(*big.Int)
}

func putInt128(v *big.Int) {
	v.SetInt64(0) // Clear before returning to pool
	int128Pool.Put(v)
}

type RoundingMode int

const (
	RoundHalfEven RoundingMode = iota // Banker's rounding
	RoundDown
	RoundUp
)

// MultiplyInt128 performs a * b using int128 to prevent overflow.
// The caller owns the result and should release it with putInt128.
func MultiplyInt128(a, b int64) *big.Int {
	result := getInt128()
	result.Mul(big.NewInt(a), big.NewInt(b))
	return result
}

// DivideInt128 performs numerator / denominator with rounding.
// Operands are expected to be non-negative; denominator must be positive.
func DivideInt128(numerator *big.Int, denominator int64, roundingMode RoundingMode) int64 {
	denom := big.NewInt(denominator)
	quotient := getInt128()
	remainder := getInt128()

	quotient.DivMod(numerator, denom, remainder)

	result := quotient.Int64()

	switch roundingMode {
	case RoundUp:
		if remainder.Sign() != 0 {
			result++
		}
	case RoundHalfEven:
		// remainder*2 compared against denominator avoids truncating odd denominators
		twice := getInt128()
		twice.Lsh(remainder, 1)
		cmp := twice.Cmp(denom)
		if cmp > 0 || (cmp == 0 && result%2 != 0) {
			result++
		}
		putInt128(twice)
	}

	putInt128(quotient)
	putInt128(remainder)

	return result
}

// MulDiv computes a * b / c with the given rounding, without overflowing
// on the intermediate product.
func MulDiv(a, b, c int64, mode RoundingMode) int64 {
	product := MultiplyInt128(a, b)
	result := DivideInt128(product, c, mode)
	putInt128(product)
	return result
}
