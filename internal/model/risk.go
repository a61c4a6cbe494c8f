package model

// RiskLevel is the categorical outcome of risk classification.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// RiskSignals are the six named inputs of the risk ensemble, each in [0,1].
type RiskSignals struct {
	UtilizationRisk float64 `json:"utilizationRisk"`
	TrendRisk       float64 `json:"trendRisk"`
	SeasonalityRisk float64 `json:"seasonalityRisk"`
	StabilityRisk   float64 `json:"stabilityRisk"`
	DependencyRisk  float64 `json:"dependencyRisk"`
	DataQualityRisk float64 `json:"dataQualityRisk"`
}

// RiskClassification is the explainable safety score attached to a finding.
type RiskClassification struct {
	Level      RiskLevel   `json:"level"`
	Score      float64     `json:"score"`
	Signals    RiskSignals `json:"signals"`
	Reasoning  []string    `json:"reasoning"`
	Mitigation []string    `json:"mitigation"`
}
