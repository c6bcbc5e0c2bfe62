package core

// JitterStats summarizes a set of interval samples, all in the same unit
// (microseconds or cycles)
type JitterStats struct {
	Count  uint32
	Min    uint32
	Max    uint32
	Mean   uint32
	StdDev uint32
	P50    uint32
	P95    uint32
	P99    uint32
}

// Jitter computes the statistics of samples without modifying them
func Jitter(samples []uint32) JitterStats {
	if len(samples) == 0 {
		return JitterStats{}
	}

	sorted := make([]uint32, len(samples))
	copy(sorted, samples)
	bubbleSort(sorted)

	var total uint64
	for _, s := range samples {
		total += uint64(s)
	}
	mean := total / uint64(len(samples))

	var sumSquaredDiff uint64
	for _, s := range samples {
		diff := int64(s) - int64(mean)
		sumSquaredDiff += uint64(diff * diff)
	}

	n := len(sorted)
	return JitterStats{
		Count:  uint32(n),
		Min:    sorted[0],
		Max:    sorted[n-1],
		Mean:   uint32(mean),
		StdDev: uint32(isqrt(sumSquaredDiff / uint64(n))),
		P50:    sorted[n*50/100],
		P95:    sorted[n*95/100],
		P99:    sorted[n*99/100],
	}
}

// Range is the spread between the fastest and slowest sample
func (s JitterStats) Range() uint32 {
	return s.Max - s.Min
}

func (s JitterStats) String() string {
	return "n=" + utoa(s.Count) +
		" mean=" + utoa(s.Mean) +
		" sd=" + utoa(s.StdDev) +
		" min=" + utoa(s.Min) +
		" p50=" + utoa(s.P50) +
		" p95=" + utoa(s.P95) +
		" p99=" + utoa(s.P99) +
		" max=" + utoa(s.Max) +
		" range=" + utoa(s.Range())
}

// bubbleSort sorts in place; sample sets are a few hundred entries at most
func bubbleSort(arr []uint32) {
	n := len(arr)
	for i := 0; i < n-1; i++ {
		for j := 0; j < n-i-1; j++ {
			if arr[j] > arr[j+1] {
				arr[j], arr[j+1] = arr[j+1], arr[j]
			}
		}
	}
}

// isqrt is the integer square root (Babylonian method)
func isqrt(n uint64) uint64 {
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
