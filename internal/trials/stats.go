package trials

import "math"

// Mean returns the arithmetic mean of values, or NaN for an empty slice.
func Mean(values []int) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	var sum float64
	for _, v := range values {
		sum += float64(v)
	}
	return sum / float64(len(values))
}

// SampleStdDev returns the n-1 standard deviation of values, or NaN when
// fewer than two values are given.
func SampleStdDev(values []int) float64 {
	if len(values) < 2 {
		return math.NaN()
	}
	mean := Mean(values)
	var ss float64
	for _, v := range values {
		d := float64(v) - mean
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(values)-1))
}

// SampleVariance returns the n-1 variance of values, or NaN when fewer than
// two values are given.
func SampleVariance(values []int) float64 {
	sd := SampleStdDev(values)
	return sd * sd
}

// WithinTolerance reports whether actual is within tolerance relative error
// of target. NaN never satisfies the check.
func WithinTolerance(actual, target, tolerance float64) bool {
	if math.IsNaN(actual) || target == 0 {
		return false
	}
	return math.Abs((actual-target)/target) < tolerance
}
