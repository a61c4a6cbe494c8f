package timeseries

import (
	"time"

	"github.com/ppiankov/wastespectre/internal/model"
)

const (
	// peakFactor marks a bucket as peak when its average exceeds the overall
	// average by more than 50%.
	peakFactor = 1.5
	// weeklyMinSpan is the minimum data span needed to judge weekday buckets.
	weeklyMinSpan = 7 * 24 * time.Hour
)

// SeasonalProfile is the hour-of-day (and optionally day-of-week) breakdown of a series.
type SeasonalProfile struct {
	HourlyAverages  [24]float64
	WeekdayAverages [7]float64
	PeakHours       []int
	PeakWeekdays    []time.Weekday
	Overall         float64
	Pattern         model.Seasonality
}

// DetectSeasonality buckets samples by UTC hour of day, and by weekday when
// byWeekday is set, and flags buckets whose average exceeds the overall
// average by more than 50%. Weekly seasonality needs at least seven days of data.
func DetectSeasonality(points Series, byWeekday bool) SeasonalProfile {
	profile := SeasonalProfile{Pattern: model.SeasonalityNone}
	if len(points) == 0 {
		return profile
	}

	var (
		hourSum   [24]float64
		hourCount [24]int
		daySum    [7]float64
		dayCount  [7]int
		total     float64
	)
	first, last := points[0].Timestamp, points[0].Timestamp
	for _, p := range points {
		ts := p.Timestamp.UTC()
		h := ts.Hour()
		d := int(ts.Weekday())
		hourSum[h] += p.Value
		hourCount[h]++
		daySum[d] += p.Value
		dayCount[d]++
		total += p.Value
		if ts.Before(first) {
			first = ts
		}
		if ts.After(last) {
			last = ts
		}
	}

	profile.Overall = total / float64(len(points))
	for h := 0; h < 24; h++ {
		if hourCount[h] > 0 {
			profile.HourlyAverages[h] = hourSum[h] / float64(hourCount[h])
		}
	}
	for d := 0; d < 7; d++ {
		if dayCount[d] > 0 {
			profile.WeekdayAverages[d] = daySum[d] / float64(dayCount[d])
		}
	}
	if profile.Overall <= 0 {
		return profile
	}

	cutoff := profile.Overall * peakFactor
	for h := 0; h < 24; h++ {
		if hourCount[h] > 0 && profile.HourlyAverages[h] > cutoff {
			profile.PeakHours = append(profile.PeakHours, h)
		}
	}
	if byWeekday && last.Sub(first) >= weeklyMinSpan {
		for d := 0; d < 7; d++ {
			if dayCount[d] > 0 && profile.WeekdayAverages[d] > cutoff {
				profile.PeakWeekdays = append(profile.PeakWeekdays, time.Weekday(d))
			}
		}
	}

	switch {
	case len(profile.PeakWeekdays) > 0:
		profile.Pattern = model.SeasonalityWeekly
	case len(profile.PeakHours) > 0:
		profile.Pattern = model.SeasonalityDaily
	}
	return profile
}
