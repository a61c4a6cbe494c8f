package aws

import "github.com/ppiankov/wastespectre/internal/analyzer"

// DefaultAnalyzers returns every built-in analyzer sharing deps.
func DefaultAnalyzers(deps Deps) []analyzer.ResourceAnalyzer {
	return []analyzer.ResourceAnalyzer{
		NewEC2Analyzer(deps),
		NewRDSAnalyzer(deps),
		NewLambdaAnalyzer(deps),
		NewELBAnalyzer(deps),
	}
}
