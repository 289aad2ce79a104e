package momentum

import (
	"math"
	"sort"
)

const (
	MinRank = 1
	MaxRank = 99
)

// PercentileRank maps a cross-section of values to integer ranks in [1, 99].
//
// Each defined value gets its average 1-based rank among the defined values (ties share
// the mean of the positions they span), divided by the number of defined values, scaled
// by 99, rounded half-to-even and clipped. Undefined entries get rank 0.
func PercentileRank(values []*float64) []int {
	ranks := make([]int, len(values))

	idx := make([]int, 0, len(values))
	for i, v := range values {
		if v != nil && !math.IsNaN(*v) {
			idx = append(idx, i)
		}
	}
	n := len(idx)
	if n == 0 {
		return ranks
	}

	sort.SliceStable(idx, func(a, b int) bool { return *values[idx[a]] < *values[idx[b]] })

	for start := 0; start < n; {
		end := start + 1
		for end < n && *values[idx[end]] == *values[idx[start]] {
			end++
		}
		// positions start..end-1 (0-based) share the average 1-based rank
		avg := float64(start+1+end) / 2
		r := clip(int(math.RoundToEven(avg / float64(n) * MaxRank)))
		for k := start; k < end; k++ {
			ranks[idx[k]] = r
		}
		start = end
	}
	return ranks
}

// Defined counts the non-nil entries of values.
func Defined(values []*float64) int {
	n := 0
	for _, v := range values {
		if v != nil && !math.IsNaN(*v) {
			n++
		}
	}
	return n
}

func clip(r int) int {
	if r < MinRank {
		return MinRank
	}
	if r > MaxRank {
		return MaxRank
	}
	return r
}
