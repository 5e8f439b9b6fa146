// Package util provides shared helper utilities.
//revive:disable:var-naming // Package name follows project convention.
package util

import (
	"math"
	"math/rand"
	"sort"
	"time"
)

// roundSeedStride separates the seed spaces of consecutive rounds.
const roundSeedStride = 1_000_003

// RoundSeed derives the seed of one (round, table) pair. A zero base seed
// means the run is not reproducible and the wall clock is mixed in.
func RoundSeed(base int64, round, table int) int64 {
	if base == 0 {
		base = time.Now().UnixNano()
	}
	return base + int64(round)*roundSeedStride + int64(table)
}

// SampleSize returns the number of rows kept when sampling frac of n rows.
func SampleSize(n int, frac float64) int {
	if n <= 0 || frac <= 0 {
		return 0
	}
	if frac >= 1 {
		return n
	}
	k := int(math.Round(float64(n) * frac))
	if k > n {
		k = n
	}
	return k
}

// PickIndices selects k distinct indices in [0, n) without replacement and
// returns them in ascending order.
func PickIndices(r *rand.Rand, n, k int) []int {
	if k <= 0 || n <= 0 {
		return nil
	}
	if k >= n {
		out := make([]int, n)
		for i := range out {
			out[i] = i
		}
		return out
	}
	perm := make([]int, n)
	for i := range perm {
		perm[i] = i
	}
	for i := 0; i < k; i++ {
		j := i + r.Intn(n-i)
		perm[i], perm[j] = perm[j], perm[i]
	}
	out := append([]int(nil), perm[:k]...)
	sort.Ints(out)
	return out
}
