// Package timeseries holds the pure statistics used to turn raw metric samples
// into utilization signals: trend forecasting, spike detection and
// hour-of-day seasonality.
package timeseries

import (
	"math"
	"sort"
	"time"
)

// Point is one timestamped sample.
type Point struct {
	Timestamp time.Time
	Value     float64
}

// Series is a sequence of samples. Functions in this package expect it sorted
// by timestamp ascending; use Sort when the source order is unknown.
type Series []Point

// Sort orders the series by timestamp ascending in place.
func (s Series) Sort() {
	sort.Slice(s, func(i, j int) bool { return s[i].Timestamp.Before(s[j].Timestamp) })
}

// Values returns the sample values in order.
func (s Series) Values() []float64 {
	out := make([]float64, len(s))
	for i, p := range s {
		out[i] = p.Value
	}
	return out
}

// Mean returns the arithmetic mean, or 0 for an empty series.
func (s Series) Mean() float64 {
	return Mean(s.Values())
}

// Max returns the largest value, or 0 for an empty series.
func (s Series) Max() float64 {
	if len(s) == 0 {
		return 0
	}
	m := s[0].Value
	for _, p := range s[1:] {
		if p.Value > m {
			m = p.Value
		}
	}
	return m
}

// Sum returns the total of all values.
func (s Series) Sum() float64 {
	var total float64
	for _, p := range s {
		total += p.Value
	}
	return total
}

// LastAbove returns the timestamp of the latest sample strictly above threshold.
func (s Series) LastAbove(threshold float64) (time.Time, bool) {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i].Value > threshold {
			return s[i].Timestamp, true
		}
	}
	return time.Time{}, false
}

// Mean returns the arithmetic mean of values, or 0 when empty.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var total float64
	for _, v := range values {
		total += v
	}
	return total / float64(len(values))
}

// StdDev returns the population standard deviation of values.
func StdDev(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	mean := Mean(values)
	var sq float64
	for _, v := range values {
		d := v - mean
		sq += d * d
	}
	return math.Sqrt(sq / float64(len(values)))
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
