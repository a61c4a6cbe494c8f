package analyzer

import (
	"sort"

	"github.com/ppiankov/wastespectre/internal/model"
)

// Summarize filters findings by minimum monthly savings and computes
// aggregated statistics. Terminate recommendations are kept regardless of
// savings. Findings are ordered by savings, largest first.
func Summarize(result *model.ExecutionResult, cfg Config) *AnalysisResult {
	filtered := make([]model.WasteFinding, 0, len(result.Findings))
	for _, f := range result.Findings {
		if f.RecommendationType == model.RecommendTerminate || f.PotentialMonthlySavings >= cfg.MinMonthlySavings {
			filtered = append(filtered, f)
		}
	}
	sort.SliceStable(filtered, func(i, j int) bool {
		if filtered[i].PotentialMonthlySavings != filtered[j].PotentialMonthlySavings {
			return filtered[i].PotentialMonthlySavings > filtered[j].PotentialMonthlySavings
		}
		return filtered[i].ResourceARN < filtered[j].ResourceARN
	})

	summary := Summary{
		TotalFindings:         len(filtered),
		ByRecommendation:      make(map[string]int),
		ByRiskLevel:           make(map[string]int),
		ByResourceType:        make(map[string]int),
		SavingsByResourceType: make(map[string]float64),
	}
	regions := make(map[string]bool)
	for _, f := range filtered {
		summary.TotalMonthlySavings += f.PotentialMonthlySavings
		summary.TotalAnnualSavings += f.PotentialAnnualSavings
		summary.ByRecommendation[string(f.RecommendationType)]++
		summary.ByRiskLevel[string(f.Risk.Level)]++
		summary.ByResourceType[string(f.ResourceType)]++
		summary.SavingsByResourceType[string(f.ResourceType)] += f.PotentialMonthlySavings
		regions[f.Region] = true
	}
	summary.RegionsWithFindings = len(regions)

	out := &AnalysisResult{ExecutionResult: *result, Summary: summary}
	out.Findings = filtered
	return out
}
