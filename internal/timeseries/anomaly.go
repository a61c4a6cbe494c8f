package timeseries

const (
	// DefaultSpikeK is the default number of standard deviations for a spike.
	DefaultSpikeK = 2.0
	// minAnomalyPoints is the shortest series spike detection runs on.
	minAnomalyPoints = 5
)

// Spike describes whether the latest sample stands out from the samples before it.
type Spike struct {
	IsSpike   bool
	Value     float64
	Mean      float64
	StdDev    float64
	Threshold float64
	ZScore    float64
}

// DetectSpike flags the most recent value as a spike when it exceeds
// mean + k·stddev of the preceding samples. Series shorter than five points
// never report a spike. k <= 0 uses DefaultSpikeK.
func DetectSpike(values []float64, k float64) Spike {
	if len(values) < minAnomalyPoints {
		return Spike{}
	}
	if k <= 0 {
		k = DefaultSpikeK
	}

	history := values[:len(values)-1]
	last := values[len(values)-1]
	mean := Mean(history)
	sd := StdDev(history)
	threshold := mean + k*sd

	var z float64
	if sd > 0 {
		z = (last - mean) / sd
	}

	return Spike{
		IsSpike:   last > threshold,
		Value:     last,
		Mean:      mean,
		StdDev:    sd,
		Threshold: threshold,
		ZScore:    z,
	}
}
