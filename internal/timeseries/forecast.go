package timeseries

import (
	"math"

	"github.com/ppiankov/wastespectre/internal/model"
)

const (
	// trendSlopeFraction is the per-step slope, relative to the series mean,
	// above which a series counts as trending.
	trendSlopeFraction = 0.01
	// z95 is the two-sided 95% normal quantile.
	z95 = 1.96
	// minForecastPoints is the smallest series a line is fitted to.
	minForecastPoints = 3
)

// Forecast is a linear-trend prediction with a 95% interval.
type Forecast struct {
	Predicted     float64
	Lower         float64
	Upper         float64
	Slope         float64
	Intercept     float64
	StdErr        float64
	Trend         model.Trend
	TrendStrength float64
}

// ForecastLinear fits an ordinary least-squares line to (index, value) and
// predicts the value horizon steps after the last sample.
// Fewer than three points return the last observed value with a zero-width
// interval and a stable trend.
func ForecastLinear(values []float64, horizon int) Forecast {
	n := len(values)
	if n < minForecastPoints {
		var last float64
		if n > 0 {
			last = values[n-1]
		}
		return Forecast{Predicted: last, Lower: last, Upper: last, Intercept: last, Trend: model.TrendStable}
	}
	if isConstant(values) {
		v := values[0]
		return Forecast{Predicted: v, Lower: v, Upper: v, Intercept: v, Trend: model.TrendStable}
	}

	var sumX, sumY float64
	for i, v := range values {
		sumX += float64(i)
		sumY += v
	}
	fn := float64(n)
	meanX := sumX / fn
	meanY := sumY / fn

	var sxx, sxy float64
	for i, v := range values {
		dx := float64(i) - meanX
		sxx += dx * dx
		sxy += dx * (v - meanY)
	}
	slope := sxy / sxx
	intercept := meanY - slope*meanX

	var sse, sst float64
	for i, v := range values {
		fit := intercept + slope*float64(i)
		sse += (v - fit) * (v - fit)
		sst += (v - meanY) * (v - meanY)
	}
	stderr := math.Sqrt(sse / (fn - 2))

	var r2 float64
	if sst > 0 {
		r2 = clamp(1-sse/sst, 0, 1)
	}

	x := float64(n-1) + float64(horizon)
	predicted := intercept + slope*x
	lower := predicted - z95*stderr
	if lower < 0 {
		lower = 0
	}

	return Forecast{
		Predicted:     predicted,
		Lower:         lower,
		Upper:         predicted + z95*stderr,
		Slope:         slope,
		Intercept:     intercept,
		StdErr:        stderr,
		Trend:         classifyTrend(slope, meanY),
		TrendStrength: r2,
	}
}

func classifyTrend(slope, mean float64) model.Trend {
	threshold := trendSlopeFraction * math.Abs(mean)
	switch {
	case slope > threshold:
		return model.TrendIncreasing
	case slope < -threshold:
		return model.TrendDecreasing
	default:
		return model.TrendStable
	}
}

func isConstant(values []float64) bool {
	for _, v := range values[1:] {
		if v != values[0] {
			return false
		}
	}
	return true
}
