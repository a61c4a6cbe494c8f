package report

import (
	"fmt"
	"sort"

	"github.com/goccy/go-json"

	"github.com/ppiankov/wastespectre/internal/model"
)

const sarifSchema = "https://raw.githubusercontent.com/oasis-tcs/sarif-spec/main/sarif-2.1/schema/sarif-schema-2.1.0.json"

// sarifReport is the top-level SARIF v2.1.0 structure.
type sarifReport struct {
	Schema  string     `json:"$schema"`
	Version string     `json:"version"`
	Runs    []sarifRun `json:"runs"`
}

type sarifRun struct {
	Tool    sarifTool     `json:"tool"`
	Results []sarifResult `json:"results"`
}

type sarifTool struct {
	Driver sarifDriver `json:"driver"`
}

type sarifDriver struct {
	Name    string      `json:"name"`
	Version string      `json:"version"`
	Rules   []sarifRule `json:"rules"`
}

type sarifRule struct {
	ID               string            `json:"id"`
	ShortDescription sarifMessage      `json:"shortDescription"`
	DefaultConfig    sarifDefaultLevel `json:"defaultConfiguration"`
}

type sarifDefaultLevel struct {
	Level string `json:"level"`
}

type sarifMessage struct {
	Text string `json:"text"`
}

type sarifResult struct {
	RuleID    string         `json:"ruleId"`
	Level     string         `json:"level"`
	Message   sarifMessage   `json:"message"`
	Locations []sarifLoc     `json:"locations,omitempty"`
	Props     map[string]any `json:"properties,omitempty"`
}

type sarifLoc struct {
	PhysicalLocation sarifPhysical `json:"physicalLocation"`
}

type sarifPhysical struct {
	ArtifactLocation sarifArtifact `json:"artifactLocation"`
}

type sarifArtifact struct {
	URI string `json:"uri"`
}

// Generate writes SARIF v2.1.0 output. Each resource type and pattern pair is a rule.
func (r *SARIFReporter) Generate(data Data) error {
	findings := data.Result.Findings
	results := make([]sarifResult, 0, len(findings))
	rules := make(map[string]sarifRule)

	for _, f := range findings {
		id := ruleID(f)
		level := sarifLevel(f.RecommendationPriority)
		if _, ok := rules[id]; !ok {
			rules[id] = sarifRule{
				ID:               id,
				ShortDescription: sarifMessage{Text: fmt.Sprintf("%s %s: %s", f.ResourceType, f.Pattern, f.RecommendationType)},
				DefaultConfig:    sarifDefaultLevel{Level: level},
			}
		}
		results = append(results, sarifResult{
			RuleID:  id,
			Level:   level,
			Message: sarifMessage{Text: f.Message},
			Locations: []sarifLoc{
				{
					PhysicalLocation: sarifPhysical{
						ArtifactLocation: sarifArtifact{
							URI: fmt.Sprintf("aws://%s/%s/%s", f.Region, f.ResourceType, f.ResourceID),
						},
					},
				},
			},
			Props: map[string]any{
				"resourceArn":             f.ResourceARN,
				"resourceName":            f.ResourceName,
				"potentialMonthlySavings": f.PotentialMonthlySavings,
				"confidence":              f.Confidence,
				"riskLevel":               f.Risk.Level,
				"recommendedConfig":       f.RecommendedConfiguration,
			},
		})
	}

	report := sarifReport{
		Schema:  sarifSchema,
		Version: "2.1.0",
		Runs: []sarifRun{
			{
				Tool: sarifTool{
					Driver: sarifDriver{
						Name:    data.Tool,
						Version: data.Version,
						Rules:   sortedRules(rules),
					},
				},
				Results: results,
			},
		},
	}

	enc := json.NewEncoder(r.Writer)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return fmt.Errorf("encode SARIF report: %w", err)
	}
	return nil
}

func ruleID(f model.WasteFinding) string {
	return fmt.Sprintf("%s/%s", f.ResourceType, f.Pattern)
}

func sarifLevel(priority int) string {
	switch {
	case priority >= 4:
		return "error"
	case priority >= 3:
		return "warning"
	default:
		return "note"
	}
}

func sortedRules(m map[string]sarifRule) []sarifRule {
	out := make([]sarifRule, 0, len(m))
	for _, r := range m {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
