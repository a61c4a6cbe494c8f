package timeseries

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/wastespectre/internal/model"
)

func TestForecastLinear_ConstantSeriesIsStableWithZeroWidth(t *testing.T) {
	for _, n := range []int{3, 4, 10, 50} {
		values := make([]float64, n)
		for i := range values {
			values[i] = 42.5
		}
		f := ForecastLinear(values, 24)
		assert.Equal(t, model.TrendStable, f.Trend, "n=%d", n)
		assert.Equal(t, 0.0, f.Upper-f.Lower, "n=%d", n)
		assert.Equal(t, 42.5, f.Predicted)
	}
}

func TestForecastLinear_DegenerateInput(t *testing.T) {
	f := ForecastLinear([]float64{3, 9}, 5)
	assert.Equal(t, 9.0, f.Predicted)
	assert.Equal(t, f.Lower, f.Upper)
	assert.Equal(t, model.TrendStable, f.Trend)

	f = ForecastLinear(nil, 5)
	assert.Zero(t, f.Predicted)
	assert.Equal(t, model.TrendStable, f.Trend)
}

func TestForecastLinear_PerfectLine(t *testing.T) {
	values := []float64{10, 12, 14, 16, 18, 20}
	f := ForecastLinear(values, 2)

	assert.InDelta(t, 2.0, f.Slope, 1e-9)
	assert.InDelta(t, 24.0, f.Predicted, 1e-9)
	assert.InDelta(t, 0.0, f.StdErr, 1e-9)
	assert.InDelta(t, 1.0, f.TrendStrength, 1e-9)
	assert.Equal(t, model.TrendIncreasing, f.Trend)
}

func TestForecastLinear_Decreasing(t *testing.T) {
	f := ForecastLinear([]float64{50, 45, 41, 35, 30, 26}, 1)
	assert.Equal(t, model.TrendDecreasing, f.Trend)
	assert.GreaterOrEqual(t, f.TrendStrength, 0.0)
	assert.LessOrEqual(t, f.TrendStrength, 1.0)
}

func TestForecastLinear_SmallSlopeIsStable(t *testing.T) {
	// Slope 0.1 per step against a mean near 100 is below the 1% threshold.
	f := ForecastLinear([]float64{100, 100.1, 100.2, 100.3}, 1)
	assert.Equal(t, model.TrendStable, f.Trend)
}

func TestForecastLinear_LowerBoundClampedAtZero(t *testing.T) {
	f := ForecastLinear([]float64{9, 1, 8, 0, 7, 1, 0}, 10)
	assert.GreaterOrEqual(t, f.Lower, 0.0)
	assert.GreaterOrEqual(t, f.Upper, f.Lower)
}

func TestDetectSpike(t *testing.T) {
	tests := []struct {
		name   string
		values []float64
		k      float64
		want   bool
	}{
		{"too short", []float64{1, 1, 1, 90}, 2, false},
		{"flat history then spike", []float64{5, 5, 5, 5, 40}, 2, true},
		{"noisy history no spike", []float64{10, 20, 10, 20, 21}, 2, false},
		{"default k", []float64{10, 11, 9, 10, 11, 10, 30}, 0, true},
		{"drop is not a spike", []float64{50, 52, 49, 51, 2}, 2, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectSpike(tt.values, tt.k).IsSpike)
		})
	}
}

func hourly(start time.Time, hours int, value func(time.Time) float64) Series {
	s := make(Series, 0, hours)
	for i := 0; i < hours; i++ {
		ts := start.Add(time.Duration(i) * time.Hour)
		s = append(s, Point{Timestamp: ts, Value: value(ts)})
	}
	return s
}

func TestDetectSeasonality_DailyPeak(t *testing.T) {
	start := time.Date(2026, 2, 2, 0, 0, 0, 0, time.UTC)
	s := hourly(start, 72, func(ts time.Time) float64 {
		if ts.Hour() == 9 || ts.Hour() == 10 {
			return 80
		}
		return 10
	})

	p := DetectSeasonality(s, true)
	assert.Equal(t, model.SeasonalityDaily, p.Pattern)
	assert.Equal(t, []int{9, 10}, p.PeakHours)
}

func TestDetectSeasonality_WeeklyPeak(t *testing.T) {
	start := time.Date(2026, 2, 2, 0, 0, 0, 0, time.UTC) // Monday
	s := hourly(start, 14*24, func(ts time.Time) float64 {
		if ts.Weekday() == time.Saturday {
			return 90
		}
		return 10
	})

	p := DetectSeasonality(s, true)
	require.Equal(t, model.SeasonalityWeekly, p.Pattern)
	assert.Equal(t, []time.Weekday{time.Saturday}, p.PeakWeekdays)
}

func TestDetectSeasonality_WeeklyNeedsSevenDays(t *testing.T) {
	start := time.Date(2026, 2, 6, 0, 0, 0, 0, time.UTC) // Friday
	s := hourly(start, 3*24, func(ts time.Time) float64 {
		if ts.Weekday() == time.Saturday {
			return 90
		}
		return 10
	})

	p := DetectSeasonality(s, true)
	assert.Empty(t, p.PeakWeekdays)
	assert.NotEqual(t, model.SeasonalityWeekly, p.Pattern)
}

func TestDetectSeasonality_FlatAndEmpty(t *testing.T) {
	start := time.Date(2026, 2, 2, 0, 0, 0, 0, time.UTC)
	flat := hourly(start, 48, func(time.Time) float64 { return 20 })
	assert.Equal(t, model.SeasonalityNone, DetectSeasonality(flat, true).Pattern)
	assert.Equal(t, model.SeasonalityNone, DetectSeasonality(nil, true).Pattern)

	zero := hourly(start, 48, func(time.Time) float64 { return 0 })
	assert.Equal(t, model.SeasonalityNone, DetectSeasonality(zero, false).Pattern)
}

func TestSeries_Helpers(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := Series{
		{Timestamp: base.Add(2 * time.Hour), Value: 0},
		{Timestamp: base, Value: 4},
		{Timestamp: base.Add(time.Hour), Value: 8},
	}
	s.Sort()
	assert.Equal(t, []float64{4, 8, 0}, s.Values())
	assert.Equal(t, 8.0, s.Max())
	assert.Equal(t, 12.0, s.Sum())
	assert.InDelta(t, 4.0, s.Mean(), 1e-9)

	ts, ok := s.LastAbove(1)
	require.True(t, ok)
	assert.Equal(t, base.Add(time.Hour), ts)

	_, ok = s.LastAbove(100)
	assert.False(t, ok)
}
