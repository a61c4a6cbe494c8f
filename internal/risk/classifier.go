// Package risk scores how safe it is to act on a waste finding. Six signals
// derived from the finding's utilization, dependencies and data quality are
// combined with a convex weighting into a score and a level.
package risk

import (
	"fmt"

	"github.com/ppiankov/wastespectre/internal/model"
)

// Level thresholds on the combined score.
const (
	lowBelow    = 0.3
	mediumBelow = 0.6

	// signalThreshold is the value above which a signal contributes reasoning.
	signalThreshold = 0.5
	// neutralRisk is used when a signal cannot be derived.
	neutralRisk = 0.5
	// dependencySaturation is the dependency count at which dependencyRisk reaches 1.
	dependencySaturation = 5
	// narrowPeakHours is the widest peak window still considered narrow.
	narrowPeakHours = 3
)

// utilizationCeiling is the utilization (percent) at which acting becomes
// maximally risky. Terminating tolerates far less activity than resizing.
var utilizationCeiling = map[model.RecommendationType]float64{
	model.RecommendTerminate: 10,
	model.RecommendDownsize:  40,
	model.RecommendOptimize:  50,
	model.RecommendAutoScale: 60,
	model.RecommendMigrate:   70,
}

// Weights are the ensemble weights for the six signals.
type Weights struct {
	Utilization float64 `yaml:"utilization" json:"utilization"`
	Trend       float64 `yaml:"trend" json:"trend"`
	Seasonality float64 `yaml:"seasonality" json:"seasonality"`
	Stability   float64 `yaml:"stability" json:"stability"`
	Dependency  float64 `yaml:"dependency" json:"dependency"`
	DataQuality float64 `yaml:"data_quality" json:"dataQuality"`
}

// DefaultWeights returns the standard weighting.
func DefaultWeights() Weights {
	return Weights{
		Utilization: 0.25,
		Trend:       0.15,
		Seasonality: 0.15,
		Stability:   0.20,
		Dependency:  0.15,
		DataQuality: 0.10,
	}
}

func (w Weights) sum() float64 {
	return w.Utilization + w.Trend + w.Seasonality + w.Stability + w.Dependency + w.DataQuality
}

// Normalize clamps negative weights to zero and rescales so the weights sum
// to 1. All-zero weights fall back to DefaultWeights.
func (w Weights) Normalize() Weights {
	for _, p := range []*float64{&w.Utilization, &w.Trend, &w.Seasonality, &w.Stability, &w.Dependency, &w.DataQuality} {
		if *p < 0 {
			*p = 0
		}
	}
	total := w.sum()
	if total <= 0 {
		return DefaultWeights()
	}
	return Weights{
		Utilization: w.Utilization / total,
		Trend:       w.Trend / total,
		Seasonality: w.Seasonality / total,
		Stability:   w.Stability / total,
		Dependency:  w.Dependency / total,
		DataQuality: w.DataQuality / total,
	}
}

// Input is everything classification looks at.
type Input struct {
	RecommendationType model.RecommendationType
	Utilization        model.UtilizationPattern
	Dependencies       []model.ResourceDependency
	Metadata           map[string]any
}

// Classifier is a stateless risk scorer. It is safe for concurrent use.
type Classifier struct {
	weights Weights
}

// New creates a classifier with the given weights, renormalized.
func New(w Weights) *Classifier {
	return &Classifier{weights: w.Normalize()}
}

// WithWeights returns a new classifier using w, renormalized.
func (c *Classifier) WithWeights(w Weights) *Classifier {
	return New(w)
}

// Weights returns the normalized weights in use.
func (c *Classifier) Weights() Weights {
	return c.weights
}

// Classify scores a finding. It is total over its input and never fails.
func (c *Classifier) Classify(in Input) model.RiskClassification {
	signals := Signals(in)
	score := c.Score(signals)
	level := Level(score)
	reasoning, mitigation := explain(in, signals, level)
	return model.RiskClassification{
		Level:      level,
		Score:      score,
		Signals:    signals,
		Reasoning:  reasoning,
		Mitigation: mitigation,
	}
}

// Score is the weighted sum of the signals, clamped to [0,1].
func (c *Classifier) Score(s model.RiskSignals) float64 {
	w := c.weights
	score := w.Utilization*s.UtilizationRisk +
		w.Trend*s.TrendRisk +
		w.Seasonality*s.SeasonalityRisk +
		w.Stability*s.StabilityRisk +
		w.Dependency*s.DependencyRisk +
		w.DataQuality*s.DataQualityRisk
	return clamp01(score)
}

// Level maps a score to a risk level.
func Level(score float64) model.RiskLevel {
	switch {
	case score < lowBelow:
		return model.RiskLow
	case score < mediumBelow:
		return model.RiskMedium
	default:
		return model.RiskHigh
	}
}

// Signals derives the six normalized signals for in.
func Signals(in Input) model.RiskSignals {
	u := in.Utilization
	return model.RiskSignals{
		UtilizationRisk: utilizationRisk(in.RecommendationType, u),
		TrendRisk:       trendRisk(in.RecommendationType, u.Trend),
		SeasonalityRisk: seasonalityRisk(u),
		StabilityRisk:   clamp01(u.Spread() / 100),
		DependencyRisk:  dependencyRisk(len(in.Dependencies)),
		DataQualityRisk: clamp01(1 - u.DataCompleteness),
	}
}

func utilizationRisk(rt model.RecommendationType, u model.UtilizationPattern) float64 {
	ceiling, ok := utilizationCeiling[rt]
	if !ok || !u.HasRealMetrics {
		return neutralRisk
	}
	return clamp01(u.AverageUtilization() / ceiling)
}

func trendRisk(rt model.RecommendationType, t model.Trend) float64 {
	if rt.ReducesCapacity() {
		switch t {
		case model.TrendIncreasing:
			return 0.9
		case model.TrendDecreasing:
			return 0.1
		default:
			return 0.3
		}
	}
	switch t {
	case model.TrendIncreasing:
		return 0.5
	case model.TrendDecreasing:
		return 0.1
	default:
		return 0.2
	}
}

func seasonalityRisk(u model.UtilizationPattern) float64 {
	switch u.Seasonality {
	case model.SeasonalityWeekly:
		return 0.6
	case model.SeasonalityDaily:
		if n := len(u.PeakHours); n > 0 && n <= narrowPeakHours {
			return 0.7
		}
		return 0.4
	default:
		return 0.1
	}
}

func dependencyRisk(n int) float64 {
	return clamp01(float64(n) / dependencySaturation)
}

func explain(in Input, s model.RiskSignals, level model.RiskLevel) ([]string, []string) {
	reasoning := []string{}
	mitigation := []string{}

	if s.UtilizationRisk > signalThreshold {
		reasoning = append(reasoning, fmt.Sprintf("utilization is high for a %s action", in.RecommendationType))
		mitigation = append(mitigation, "monitor 24-48h before implementing")
	}
	if s.TrendRisk > signalThreshold {
		reasoning = append(reasoning, "utilization is trending upward")
		mitigation = append(mitigation, "re-evaluate after the trend stabilizes")
	}
	if s.SeasonalityRisk > signalThreshold {
		reasoning = append(reasoning, fmt.Sprintf("%s seasonal peaks detected", in.Utilization.Seasonality))
		mitigation = append(mitigation, "schedule the change outside peak periods")
	}
	if s.StabilityRisk > signalThreshold {
		reasoning = append(reasoning, "peak utilization is far above average")
		mitigation = append(mitigation, "size for peak load rather than average")
	}
	if s.DependencyRisk > signalThreshold {
		reasoning = append(reasoning, fmt.Sprintf("resource has %d dependencies", len(in.Dependencies)))
		mitigation = append(mitigation, "verify dependent resources before changing")
	}
	if s.DataQualityRisk > signalThreshold {
		reasoning = append(reasoning, "metric history is incomplete")
		mitigation = append(mitigation, "collect more metric history before acting")
	}
	if spike, _ := in.Metadata["recentSpike"].(bool); spike {
		reasoning = append(reasoning, "recent usage spike observed")
	}
	if len(reasoning) == 0 {
		reasoning = append(reasoning, "no elevated risk signals")
	}
	if level == model.RiskHigh {
		mitigation = append(mitigation, "create backup/snapshot", "have rollback plan ready")
	}
	return reasoning, mitigation
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
