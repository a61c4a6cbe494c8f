package risk

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/wastespectre/internal/model"
)

func deps(n int) []model.ResourceDependency {
	out := make([]model.ResourceDependency, n)
	for i := range out {
		out[i] = model.ResourceDependency{ResourceID: fmt.Sprintf("vol-%d", i), ResourceType: "ebs", DependencyType: model.DependencyAttachedTo}
	}
	return out
}

func TestScore_WeightedSum(t *testing.T) {
	c := New(DefaultWeights())
	signals := model.RiskSignals{
		UtilizationRisk: 0.8,
		TrendRisk:       0.8,
		SeasonalityRisk: 0.4,
		StabilityRisk:   0.6,
		DependencyRisk:  0.2,
		DataQualityRisk: 0.3,
	}
	score := c.Score(signals)
	assert.InDelta(t, 0.575, score, 1e-9)
	assert.Equal(t, model.RiskMedium, Level(score))
}

func TestLevel(t *testing.T) {
	assert.Equal(t, model.RiskLow, Level(0))
	assert.Equal(t, model.RiskLow, Level(0.2999))
	assert.Equal(t, model.RiskMedium, Level(0.3))
	assert.Equal(t, model.RiskMedium, Level(0.5999))
	assert.Equal(t, model.RiskHigh, Level(0.6))
	assert.Equal(t, model.RiskHigh, Level(1))
}

func TestWeights_Normalize(t *testing.T) {
	w := Weights{Utilization: 2, Trend: 1, Seasonality: 1, Stability: 0, Dependency: 0, DataQuality: -3}.Normalize()
	assert.InDelta(t, 1.0, w.sum(), 1e-12)
	assert.InDelta(t, 0.5, w.Utilization, 1e-12)
	assert.Zero(t, w.DataQuality)

	assert.Equal(t, DefaultWeights(), Weights{}.Normalize())
	assert.InDelta(t, 1.0, DefaultWeights().sum(), 1e-12)
}

func TestWithWeights_Renormalizes(t *testing.T) {
	c := New(DefaultWeights()).WithWeights(Weights{Utilization: 10, Dependency: 10})
	w := c.Weights()
	assert.InDelta(t, 0.5, w.Utilization, 1e-12)
	assert.InDelta(t, 0.5, w.Dependency, 1e-12)

	s := model.RiskSignals{UtilizationRisk: 1, DependencyRisk: 0.4}
	assert.InDelta(t, 0.7, c.Score(s), 1e-12)
}

func TestClassify_DependencyMonotonic(t *testing.T) {
	c := New(DefaultWeights())
	base := Input{
		RecommendationType: model.RecommendDownsize,
		Utilization: model.UtilizationPattern{
			AvgPrimary: 20, PeakPrimary: 50, HasRealMetrics: true,
			DataCompleteness: 0.9, Trend: model.TrendStable, Seasonality: model.SeasonalityNone,
		},
	}
	prevDep, prevScore := -1.0, -1.0
	for n := 0; n <= 8; n++ {
		in := base
		in.Dependencies = deps(n)
		rc := c.Classify(in)
		assert.GreaterOrEqual(t, rc.Signals.DependencyRisk, prevDep, "n=%d", n)
		assert.GreaterOrEqual(t, rc.Score, prevScore, "n=%d", n)
		prevDep, prevScore = rc.Signals.DependencyRisk, rc.Score
	}
	assert.Equal(t, 1.0, prevDep)
}

func TestSignals_UtilizationCeilings(t *testing.T) {
	u := model.UtilizationPattern{AvgPrimary: 8, HasRealMetrics: true, DataCompleteness: 1}

	terminate := Signals(Input{RecommendationType: model.RecommendTerminate, Utilization: u})
	downsize := Signals(Input{RecommendationType: model.RecommendDownsize, Utilization: u})
	assert.InDelta(t, 0.8, terminate.UtilizationRisk, 1e-12)
	assert.InDelta(t, 0.2, downsize.UtilizationRisk, 1e-12)
	assert.Greater(t, terminate.UtilizationRisk, downsize.UtilizationRisk)
}

func TestSignals_NeutralBaselines(t *testing.T) {
	u := model.UtilizationPattern{AvgPrimary: 90, HasRealMetrics: true, DataCompleteness: 1}
	unknown := Signals(Input{RecommendationType: "rearchitect", Utilization: u})
	assert.Equal(t, neutralRisk, unknown.UtilizationRisk)

	noMetrics := Signals(Input{RecommendationType: model.RecommendTerminate})
	assert.Equal(t, neutralRisk, noMetrics.UtilizationRisk)
	assert.Equal(t, 1.0, noMetrics.DataQualityRisk)
}

func TestSignals_TrendAndSeasonality(t *testing.T) {
	inc := model.UtilizationPattern{Trend: model.TrendIncreasing}
	assert.Equal(t, 0.9, Signals(Input{RecommendationType: model.RecommendTerminate, Utilization: inc}).TrendRisk)
	assert.Equal(t, 0.5, Signals(Input{RecommendationType: model.RecommendMigrate, Utilization: inc}).TrendRisk)
	dec := model.UtilizationPattern{Trend: model.TrendDecreasing}
	assert.Equal(t, 0.1, Signals(Input{RecommendationType: model.RecommendDownsize, Utilization: dec}).TrendRisk)

	narrow := model.UtilizationPattern{Seasonality: model.SeasonalityDaily, PeakHours: []int{9, 10}}
	wide := model.UtilizationPattern{Seasonality: model.SeasonalityDaily, PeakHours: []int{8, 9, 10, 11, 12, 13}}
	weekly := model.UtilizationPattern{Seasonality: model.SeasonalityWeekly}
	assert.Equal(t, 0.7, Signals(Input{Utilization: narrow}).SeasonalityRisk)
	assert.Equal(t, 0.4, Signals(Input{Utilization: wide}).SeasonalityRisk)
	assert.Equal(t, 0.6, Signals(Input{Utilization: weekly}).SeasonalityRisk)
	assert.Equal(t, 0.1, Signals(Input{}).SeasonalityRisk)
}

func TestClassify_HighAlwaysAddsBackupAndRollback(t *testing.T) {
	c := New(DefaultWeights())
	rc := c.Classify(Input{
		RecommendationType: model.RecommendTerminate,
		Utilization: model.UtilizationPattern{
			AvgPrimary: 30, PeakPrimary: 95, HasRealMetrics: true, DataCompleteness: 0.2,
			Trend: model.TrendIncreasing, Seasonality: model.SeasonalityDaily, PeakHours: []int{9},
		},
		Dependencies: deps(6),
	})
	require.Equal(t, model.RiskHigh, rc.Level)
	assert.Contains(t, rc.Mitigation, "create backup/snapshot")
	assert.Contains(t, rc.Mitigation, "have rollback plan ready")
	assert.Contains(t, rc.Mitigation, "monitor 24-48h before implementing")
	assert.Len(t, rc.Reasoning, 6)
}

func TestClassify_LowRiskHasReasoning(t *testing.T) {
	c := New(DefaultWeights())
	rc := c.Classify(Input{
		RecommendationType: model.RecommendTerminate,
		Utilization: model.UtilizationPattern{
			HasRealMetrics: true, DataCompleteness: 1,
			Trend: model.TrendDecreasing, Seasonality: model.SeasonalityNone,
		},
	})
	assert.Equal(t, model.RiskLow, rc.Level)
	assert.Equal(t, []string{"no elevated risk signals"}, rc.Reasoning)
	assert.Empty(t, rc.Mitigation)
}

func TestClassify_RecentSpikeNoted(t *testing.T) {
	c := New(DefaultWeights())
	rc := c.Classify(Input{
		RecommendationType: model.RecommendDownsize,
		Utilization:        model.UtilizationPattern{HasRealMetrics: true, DataCompleteness: 1},
		Metadata:           map[string]any{"recentSpike": true},
	})
	assert.Contains(t, rc.Reasoning, "recent usage spike observed")
}
