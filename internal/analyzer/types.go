package analyzer

import "github.com/ppiankov/wastespectre/internal/model"

// Summary holds aggregated statistics about an execution's findings.
type Summary struct {
	TotalFindings         int                `json:"totalFindings"`
	TotalMonthlySavings   float64            `json:"totalMonthlySavings"`
	TotalAnnualSavings    float64            `json:"totalAnnualSavings"`
	ByRecommendation      map[string]int     `json:"byRecommendation"`
	ByRiskLevel           map[string]int     `json:"byRiskLevel"`
	ByResourceType        map[string]int     `json:"byResourceType"`
	SavingsByResourceType map[string]float64 `json:"savingsByResourceType"`
	RegionsWithFindings   int                `json:"regionsWithFindings"`
}

// AnalysisResult is an execution result with filtered findings and a summary.
type AnalysisResult struct {
	model.ExecutionResult
	Summary Summary `json:"summary"`
}

// Config controls summarization.
type Config struct {
	MinMonthlySavings float64
}
