package model

import "time"

// RecommendationType is the action proposed for a wasteful resource.
type RecommendationType string

const (
	RecommendTerminate RecommendationType = "terminate"
	RecommendDownsize  RecommendationType = "downsize"
	RecommendAutoScale RecommendationType = "auto-scale"
	RecommendOptimize  RecommendationType = "optimize"
	RecommendMigrate   RecommendationType = "migrate"
)

// ReducesCapacity reports whether acting on the recommendation removes capacity.
func (r RecommendationType) ReducesCapacity() bool {
	return r == RecommendTerminate || r == RecommendDownsize
}

// ResourceType identifies the category of AWS resource a finding refers to.
type ResourceType string

const (
	ResourceEC2    ResourceType = "ec2"
	ResourceRDS    ResourceType = "rds"
	ResourceLambda ResourceType = "lambda"
	ResourceALB    ResourceType = "alb"
	ResourceNLB    ResourceType = "nlb"
)

// Trend is the categorical direction of a utilization series.
type Trend string

const (
	TrendIncreasing Trend = "increasing"
	TrendStable     Trend = "stable"
	TrendDecreasing Trend = "decreasing"
)

// Seasonality is the categorical periodic pattern of a utilization series.
type Seasonality string

const (
	SeasonalityDaily  Seasonality = "daily"
	SeasonalityWeekly Seasonality = "weekly"
	SeasonalityNone   Seasonality = "none"
)

// DependencyType is the direction of an edge between two resources.
type DependencyType string

const (
	DependencyUses       DependencyType = "uses"
	DependencyUsedBy     DependencyType = "used-by"
	DependencyAttachedTo DependencyType = "attached-to"
)

// StepRisk tags a single implementation step.
type StepRisk string

const (
	StepSafe        StepRisk = "safe"
	StepReview      StepRisk = "review"
	StepDestructive StepRisk = "destructive"
)

// UtilizationPattern summarizes historical usage of a resource along up to two axes.
// Values are percentages in [0,100]. It is never mutated after an analyzer builds it.
type UtilizationPattern struct {
	PrimaryMetric    string      `json:"primaryMetric,omitempty"`
	AvgPrimary       float64     `json:"avgPrimary"`
	PeakPrimary      float64     `json:"peakPrimary"`
	SecondaryMetric  string      `json:"secondaryMetric,omitempty"`
	AvgSecondary     float64     `json:"avgSecondary"`
	PeakSecondary    float64     `json:"peakSecondary"`
	HasSecondary     bool        `json:"hasSecondary"`
	PeakHours        []int       `json:"peakHours"`
	HasRealMetrics   bool        `json:"hasRealMetrics"`
	DataCompleteness float64     `json:"dataCompleteness"`
	Trend            Trend       `json:"trend"`
	TrendStrength    float64     `json:"trendStrength"`
	Seasonality      Seasonality `json:"seasonality"`
}

// AverageUtilization returns the higher of the two axis averages.
func (u UtilizationPattern) AverageUtilization() float64 {
	if u.HasSecondary && u.AvgSecondary > u.AvgPrimary {
		return u.AvgSecondary
	}
	return u.AvgPrimary
}

// Spread returns the largest peak-minus-average gap across both axes.
func (u UtilizationPattern) Spread() float64 {
	spread := u.PeakPrimary - u.AvgPrimary
	if u.HasSecondary {
		if s := u.PeakSecondary - u.AvgSecondary; s > spread {
			spread = s
		}
	}
	if spread < 0 {
		return 0
	}
	return spread
}

// ResourceDependency is a directed edge from a finding's resource to another resource.
type ResourceDependency struct {
	ResourceID     string         `json:"resourceId"`
	ResourceType   string         `json:"resourceType"`
	DependencyType DependencyType `json:"dependencyType"`
}

// PlanStep is one ordered action in an implementation plan.
type PlanStep struct {
	Order       int      `json:"order"`
	Description string   `json:"description"`
	Command     string   `json:"command,omitempty"`
	Risk        StepRisk `json:"risk"`
}

// ImplementationPlan is the generated step-by-step procedure for acting on a finding.
type ImplementationPlan struct {
	Steps            []PlanStep `json:"steps"`
	RequiresDowntime bool       `json:"requiresDowntime"`
}

// HasDestructiveStep reports whether any step is tagged destructive.
func (p ImplementationPlan) HasDestructiveStep() bool {
	for _, s := range p.Steps {
		if s.Risk == StepDestructive {
			return true
		}
	}
	return false
}

// WasteFinding is one resource-level recommendation.
type WasteFinding struct {
	ID                       string               `json:"id"`
	AccountID                string               `json:"accountId"`
	ResourceID               string               `json:"resourceId"`
	ResourceARN              string               `json:"resourceArn"`
	ResourceName             string               `json:"resourceName,omitempty"`
	ResourceType             ResourceType         `json:"resourceType"`
	ResourceSubtype          string               `json:"resourceSubtype,omitempty"`
	Region                   string               `json:"region"`
	Pattern                  string               `json:"pattern"`
	Message                  string               `json:"message"`
	CurrentConfiguration     string               `json:"currentConfiguration"`
	CurrentMonthlyCost       float64              `json:"currentMonthlyCost"`
	CurrentHourlyCost        float64              `json:"currentHourlyCost"`
	RecommendationType       RecommendationType   `json:"recommendationType"`
	RecommendationPriority   int                  `json:"recommendationPriority"`
	RecommendedConfiguration string               `json:"recommendedConfiguration,omitempty"`
	PotentialMonthlySavings  float64              `json:"potentialMonthlySavings"`
	PotentialAnnualSavings   float64              `json:"potentialAnnualSavings"`
	Confidence               float64              `json:"confidence"`
	Utilization              UtilizationPattern   `json:"utilizationPattern"`
	Dependencies             []ResourceDependency `json:"dependencies"`
	ImplementationPlan       ImplementationPlan   `json:"implementationPlan"`
	Risk                     RiskClassification   `json:"riskClassification"`
	LastActivityAt           *time.Time           `json:"lastActivityAt"`
	DaysSinceActivity        *int                 `json:"daysSinceActivity"`
	Metadata                 map[string]any       `json:"metadata,omitempty"`
}

// SetSavings records monthly savings and derives the annual figure.
func (f *WasteFinding) SetSavings(monthly float64) {
	if monthly < 0 {
		monthly = 0
	}
	f.PotentialMonthlySavings = monthly
	f.PotentialAnnualSavings = monthly * 12
}

// SetLastActivity records when the resource was last seen active, relative to now.
// A zero time clears both fields.
func (f *WasteFinding) SetLastActivity(at, now time.Time) {
	if at.IsZero() {
		f.LastActivityAt = nil
		f.DaysSinceActivity = nil
		return
	}
	t := at.UTC()
	days := int(now.Sub(t).Hours() / 24)
	if days < 0 {
		days = 0
	}
	f.LastActivityAt = &t
	f.DaysSinceActivity = &days
}
