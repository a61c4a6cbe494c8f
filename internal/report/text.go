package report

import (
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/ppiankov/wastespectre/internal/model"
)

// Generate writes a findings table followed by a summary.
func (r *TextReporter) Generate(data Data) error {
	res := data.Result
	w := r.Writer

	fmt.Fprintf(w, "%s %s  account %s  execution %s\n", data.Tool, data.Version, res.AccountID, res.ExecutionID)
	fmt.Fprintf(w, "Regions: %s  Depth: %s  Lookback: %dd\n\n", strings.Join(data.Config.Regions, ", "), data.Config.Depth, data.Config.LookbackDays)

	if len(res.Findings) == 0 {
		fmt.Fprintln(w, "No wasteful resources found.")
	} else {
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "RESOURCE\tTYPE\tREGION\tPATTERN\tACTION\tRISK\tSAVINGS/MO")
		for _, f := range res.Findings {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t$%.2f\n",
				displayName(f), f.ResourceType, f.Region, f.Pattern, f.RecommendationType, f.Risk.Level, f.PotentialMonthlySavings)
		}
		if err := tw.Flush(); err != nil {
			return fmt.Errorf("write text report: %w", err)
		}
	}

	s := res.Summary
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Summary")
	fmt.Fprintf(w, "  Findings:        %d\n", s.TotalFindings)
	fmt.Fprintf(w, "  Monthly savings: $%.2f\n", s.TotalMonthlySavings)
	fmt.Fprintf(w, "  Annual savings:  $%.2f\n", s.TotalAnnualSavings)
	if len(s.ByRiskLevel) > 0 {
		fmt.Fprintf(w, "  By risk:         %s\n", formatCounts(s.ByRiskLevel))
	}
	if len(s.ByResourceType) > 0 {
		fmt.Fprintf(w, "  By type:         %s\n", formatCounts(s.ByResourceType))
	}

	p := res.Progress
	fmt.Fprintf(w, "  Tasks:           %d/%d completed, %d failed, %d skipped in %s\n",
		p.CompletedTasks, p.TotalTasks, p.FailedTasks, p.SkippedTasks, p.Elapsed.Round(time.Millisecond))
	if res.PartialResults {
		fmt.Fprintln(w, "  Results are partial.")
	}
	for _, e := range res.Errors {
		fmt.Fprintf(w, "  ! %s/%s: %s\n", e.Analyzer, e.Region, e.Error)
	}
	return nil
}

func displayName(f model.WasteFinding) string {
	if f.ResourceName != "" && f.ResourceName != f.ResourceID {
		return fmt.Sprintf("%s (%s)", f.ResourceID, f.ResourceName)
	}
	return f.ResourceID
}

func formatCounts(m map[string]int) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%d", k, m[k])
	}
	return strings.Join(parts, " ")
}
