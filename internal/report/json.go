package report

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/ppiankov/wastespectre/internal/analyzer"
)

const jsonSchema = "spectre/v1"

type jsonEnvelope struct {
	Schema    string       `json:"$schema"`
	Tool      string       `json:"tool"`
	Version   string       `json:"version"`
	Timestamp time.Time    `json:"timestamp"`
	Target    Target       `json:"target"`
	Config    ReportConfig `json:"config"`
	analyzer.AnalysisResult
}

// Generate writes the envelope with the execution result fields inlined.
func (r *JSONReporter) Generate(data Data) error {
	env := jsonEnvelope{
		Schema:         jsonSchema,
		Tool:           data.Tool,
		Version:        data.Version,
		Timestamp:      data.Timestamp,
		Target:         data.Target,
		Config:         data.Config,
		AnalysisResult: data.Result,
	}
	enc := json.NewEncoder(r.Writer)
	enc.SetIndent("", "  ")
	if err := enc.Encode(env); err != nil {
		return fmt.Errorf("encode JSON report: %w", err)
	}
	return nil
}
