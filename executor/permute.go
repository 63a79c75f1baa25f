package executor

import (
	"math/bits"
	"math/rand/v2"
)

// permutation lazily emits every index in [0, n) exactly once in a
// pseudo-random order, using O(1) state and no allocation. It is used to
// pick the order in which a stealing worker visits victims, so that
// low-indexed workers are not systematically preferred under contention.
//
// The order is built from an invertible mixing function over the next
// power of two m >= n: an additive displacement, two odd multipliers and
// a half-width xor-shift. Outputs >= n are filtered out, and a final
// additive rotation makes the first emitted index uniform over [0, n).
type permutation struct {
	n         uint32
	modulus   uint32
	mask      uint32
	halfwidth uint32
	displace  uint32
	odd1      uint32
	odd2      uint32
	rotate    uint32
	i         uint32
}

func newPermutation(n uint32, rng *rand.Rand) permutation {
	modulus := nextPowerOfTwo(n)
	return permutation{
		n:         n,
		modulus:   modulus,
		mask:      modulus - 1,
		halfwidth: uint32(bits.TrailingZeros32(modulus)) / 2,
		displace:  rng.Uint32(),
		odd1:      rng.Uint32() | 1,
		odd2:      rng.Uint32() | 1,
		rotate:    uint32((uint64(rng.Uint32()) * uint64(n)) >> 32),
	}
}

// next returns the following index, or ok=false once all n indices have
// been emitted.
func (p *permutation) next() (uint32, bool) {
	for p.i < p.modulus {
		i := p.i
		p.i++

		// Invertible permutation on [0, modulus).
		i += p.displace
		i *= p.odd1
		i ^= (i & p.mask) >> p.halfwidth
		i *= p.odd2
		i &= p.mask

		if i >= p.n {
			continue
		}
		i += p.rotate
		if i >= p.n {
			i -= p.n
		}
		return i, true
	}
	return 0, false
}

func nextPowerOfTwo(n uint32) uint32 {
	if n <= 1 {
		return 1
	}
	return 1 << bits.Len32(n-1)
}
