// Package report renders execution results for the CLI.
package report

import (
	"fmt"
	"io"
	"time"

	"github.com/ppiankov/wastespectre/internal/analyzer"
)

// Data is everything a reporter renders.
type Data struct {
	Tool      string                  `json:"tool"`
	Version   string                  `json:"version"`
	Timestamp time.Time               `json:"timestamp"`
	Target    Target                  `json:"target"`
	Config    ReportConfig            `json:"config"`
	Result    analyzer.AnalysisResult `json:"result"`
}

// Target identifies what was scanned without exposing account details.
type Target struct {
	Type    string `json:"type"`
	URIHash string `json:"uri_hash"`
}

// ReportConfig echoes the scan parameters.
type ReportConfig struct {
	Regions           []string `json:"regions"`
	Depth             string   `json:"depth"`
	LookbackDays      int      `json:"lookback_days"`
	MinMonthlySavings float64  `json:"min_monthly_savings"`
	Deadline          string   `json:"deadline"`
}

// Reporter writes one rendering of Data.
type Reporter interface {
	Generate(data Data) error
}

// JSONReporter writes the execution result inside a spectre/v1 envelope.
type JSONReporter struct {
	Writer io.Writer
}

// TextReporter writes a human-readable table.
type TextReporter struct {
	Writer io.Writer
}

// SARIFReporter writes SARIF v2.1.0.
type SARIFReporter struct {
	Writer io.Writer
}

// NewReporter returns the reporter for format.
func NewReporter(format string, w io.Writer) (Reporter, error) {
	switch format {
	case "json", "":
		return &JSONReporter{Writer: w}, nil
	case "text":
		return &TextReporter{Writer: w}, nil
	case "sarif":
		return &SARIFReporter{Writer: w}, nil
	default:
		return nil, fmt.Errorf("unsupported format %q (use json, text or sarif)", format)
	}
}
