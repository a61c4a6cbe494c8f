package aws

import (
	"math"

	"github.com/ppiankov/wastespectre/internal/model"
	"github.com/ppiankov/wastespectre/internal/timeseries"
)

// forecastHorizon is how many hourly steps ahead the trend forecast looks.
const forecastHorizon = 24

// usage is one utilization axis. avg and peak are percentages; series drives
// trend, seasonality and completeness.
type usage struct {
	metric string
	avg    float64
	peak   float64
	series timeseries.Series
}

// percentUsage treats series values as percentages.
func percentUsage(metric string, s timeseries.Series) usage {
	return usage{metric: metric, avg: s.Mean(), peak: s.Max(), series: s}
}

// activityUsage measures the share of hours with any activity. The average is
// over the whole window and the peak is the busiest UTC day.
func activityUsage(metric string, s timeseries.Series) usage {
	u := usage{metric: metric, series: s}
	if len(s) == 0 {
		return u
	}

	type day struct{ active, total int }
	days := make(map[string]*day)
	var active int
	for _, p := range s {
		key := p.Timestamp.UTC().Format("2006-01-02")
		d, ok := days[key]
		if !ok {
			d = &day{}
			days[key] = d
		}
		d.total++
		if p.Value > 0 {
			d.active++
			active++
		}
	}
	u.avg = 100 * float64(active) / float64(len(s))
	for _, d := range days {
		if share := 100 * float64(d.active) / float64(d.total); share > u.peak {
			u.peak = share
		}
	}
	return u
}

// ratioUsage expresses series values as a percentage of capacity.
func ratioUsage(metric string, s timeseries.Series, capacity float64) usage {
	if capacity <= 0 {
		return usage{metric: metric, series: s}
	}
	scaled := make(timeseries.Series, len(s))
	for i, p := range s {
		scaled[i] = timeseries.Point{Timestamp: p.Timestamp, Value: math.Min(100*p.Value/capacity, 100)}
	}
	return percentUsage(metric, scaled)
}

// buildUtilization summarizes up to two axes into a UtilizationPattern.
// Trend and seasonality come from the primary axis.
func buildUtilization(primary usage, secondary *usage, lookbackDays int) model.UtilizationPattern {
	u := model.UtilizationPattern{
		PrimaryMetric: primary.metric,
		PeakHours:     []int{},
		Trend:         model.TrendStable,
		Seasonality:   model.SeasonalityNone,
	}
	if len(primary.series) == 0 {
		return u
	}

	u.HasRealMetrics = true
	u.AvgPrimary = primary.avg
	u.PeakPrimary = primary.peak
	if secondary != nil && len(secondary.series) > 0 {
		u.SecondaryMetric = secondary.metric
		u.AvgSecondary = secondary.avg
		u.PeakSecondary = secondary.peak
		u.HasSecondary = true
	}

	if expected := lookbackDays * 24; expected > 0 {
		u.DataCompleteness = math.Min(float64(len(primary.series))/float64(expected), 1)
	}

	f := timeseries.ForecastLinear(primary.series.Values(), forecastHorizon)
	u.Trend = f.Trend
	u.TrendStrength = f.TrendStrength

	profile := timeseries.DetectSeasonality(primary.series, true)
	u.Seasonality = profile.Pattern
	if len(profile.PeakHours) > 0 {
		u.PeakHours = profile.PeakHours
	}
	return u
}
