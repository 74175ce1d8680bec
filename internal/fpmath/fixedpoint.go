package fpmath

import (
	"math"
	"math/big"
	"math/bits"
	"sync"
)

// All engine prices, strikes and vols are unsigned fixed point with 6
// decimal places. Collateral amounts use each asset's native decimals and
// are converted at the margin boundary via Rescale.
const (
	UnitDecimals = 6
	Unit         = 1_000_000 // 10^UnitDecimals

	// Discount ratios and liquidation proportions are expressed in
	// basis points.
	BPS = 10_000
)

// Pooled big.Int for 128-bit intermediates.
var intPool = &sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

func getInt() *big.Int {
	return intPool.Get().(*big.Int)
}

func putInt(v *big.Int) {
	v.SetInt64(0)
	intPool.Put(v)
}

// MulDiv computes a * b / den with a 128-bit intermediate, truncating
// toward zero. Quotients above the uint64 range saturate at MaxUint64
// rather than wrapping; margin requirements must stay monotone in
// position size, so the top of the range is the worst case, not zero.
// den must be non-zero.
func MulDiv(a, b, den uint64) uint64 {
	prod := getInt()
	tmp := getInt()

	prod.SetUint64(a)
	tmp.SetUint64(b)
	prod.Mul(prod, tmp)

	tmp.SetUint64(den)
	prod.Quo(prod, tmp)

	out := uint64(math.MaxUint64)
	if prod.IsUint64() {
		out = prod.Uint64()
	}
	putInt(prod)
	putInt(tmp)
	return out
}

// AddClamp returns a + b, saturating at MaxUint64.
func AddClamp(a, b uint64) uint64 {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return math.MaxUint64
	}
	return sum
}

// SubClamp returns a - b, clamped at zero. The margin formula never
// produces negative requirements; a fully offsetting long leg floors the
// result at zero rather than going negative.
func SubClamp(a, b uint64) uint64 {
	if b >= a {
		return 0
	}
	return a - b
}

// Sqrt returns the integer square root of x (largest r with r*r <= x).
// Newton iteration; converges in <= 32 steps for 64-bit inputs.
func Sqrt(x uint64) uint64 {
	if x < 2 {
		return x
	}

	// Start from the smallest power of two at or above sqrt(x); Newton
	// from above converges monotonically and r + x/r stays well inside
	// 64 bits for every input.
	r := uint64(1) << ((bits.Len64(x) + 1) / 2)
	next := (r + x/r) / 2
	for next < r {
		r = next
		next = (r + x/r) / 2
	}
	return r
}

// Rescale converts x from one decimal precision to another by
// power-of-ten scaling. Downscaling truncates; upscaling saturates at
// MaxUint64.
func Rescale(x uint64, fromDecimals, toDecimals uint8) uint64 {
	if fromDecimals == toDecimals {
		return x
	}
	if fromDecimals > toDecimals {
		return x / pow10(fromDecimals-toDecimals)
	}
	hi, lo := bits.Mul64(x, pow10(toDecimals-fromDecimals))
	if hi != 0 {
		return math.MaxUint64
	}
	return lo
}

func pow10(n uint8) uint64 {
	out := uint64(1)
	for ; n > 0; n-- {
		out *= 10
	}
	return out
}

// Interpolate maps x from [x0, x1] onto [y0, y1] linearly, clamping x to
// the input range. x1 must be > x0; y1 may be above or below y0.
func Interpolate(x, x0, x1, y0, y1 uint64) uint64 {
	if x <= x0 {
		return y0
	}
	if x >= x1 {
		return y1
	}
	if y1 >= y0 {
		return y0 + MulDiv(y1-y0, x-x0, x1-x0)
	}
	return y0 - MulDiv(y0-y1, x-x0, x1-x0)
}
