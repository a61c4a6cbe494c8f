package commands

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/wastespectre/internal/config"
	"github.com/ppiankov/wastespectre/internal/executor"
	"github.com/ppiankov/wastespectre/internal/model"
)

func defaultScanOptions() scanOptions {
	return scanOptions{
		format:            "text",
		depth:             "standard",
		lookbackDays:      14,
		minMonthlySavings: 1.0,
		maxConcurrency:    executor.DefaultMaxConcurrency,
		deadline:          executor.DefaultDeadline,
	}
}

func sampleFileConfig() config.Config {
	live := false
	return config.Config{
		Format:            "json",
		MinMonthlySavings: 10,
		Account:           config.Account{ID: "123456789012", RoleARN: "arn:aws:iam::123456789012:role/x", ExternalID: "ext"},
		Executor: config.Executor{
			MaxConcurrency:   2,
			Deadline:         "90s",
			SafetyMargin:     "1s",
			GracePeriod:      "3s",
			BudgetMultiplier: 1.5,
			MinPriority:      2,
		},
		Analysis: config.Analysis{Depth: "deep", LookbackDays: 45, MaxResources: 50, IdleCPUThreshold: 3},
		Pricing:  config.Pricing{Live: &live},
		Database: config.Database{DSN: "postgres://localhost/ws"},
		Exclude:  config.Exclude{ResourceIDs: []string{"i-1"}, Tags: []string{"keep"}},
	}
}

func TestApplyConfigDefaults_FileFillsUnsetFlags(t *testing.T) {
	opts := defaultScanOptions()
	applyConfigDefaults(nil, &opts, sampleFileConfig())

	assert.Equal(t, "json", opts.format)
	assert.Equal(t, "deep", opts.depth)
	assert.Equal(t, 45, opts.lookbackDays)
	assert.Equal(t, 50, opts.maxResources)
	assert.Equal(t, 10.0, opts.minMonthlySavings)
	assert.Equal(t, 3.0, opts.idleCPUThreshold)
	assert.Equal(t, 2, opts.maxConcurrency)
	assert.Equal(t, 90*time.Second, opts.deadline)
	assert.Equal(t, "123456789012", opts.accountID)
	assert.Equal(t, "ext", opts.externalID)
	assert.Equal(t, "postgres://localhost/ws", opts.dsn)
	assert.True(t, opts.noLivePricing)
}

func TestApplyConfigDefaults_FlagsWin(t *testing.T) {
	cmd := &cobra.Command{Use: "scan"}
	opts := defaultScanOptions()
	cmd.Flags().StringVar(&opts.format, "format", "text", "")
	cmd.Flags().DurationVar(&opts.deadline, "deadline", executor.DefaultDeadline, "")
	require.NoError(t, cmd.Flags().Set("format", "sarif"))
	require.NoError(t, cmd.Flags().Set("deadline", "30s"))

	applyConfigDefaults(cmd, &opts, sampleFileConfig())

	assert.Equal(t, "sarif", opts.format)
	assert.Equal(t, 30*time.Second, opts.deadline)
	assert.Equal(t, "deep", opts.depth)
}

func TestExecutorConfig(t *testing.T) {
	opts := defaultScanOptions()
	c := sampleFileConfig()
	applyConfigDefaults(nil, &opts, c)

	ec, err := executorConfig(opts, c)
	require.NoError(t, err)
	assert.Equal(t, 2, ec.MaxConcurrency)
	assert.Equal(t, 90*time.Second, ec.Deadline)
	assert.Equal(t, time.Second, ec.SafetyMargin)
	assert.Equal(t, 3*time.Second, ec.GracePeriod)
	assert.Equal(t, 1.5, ec.BudgetMultiplier)
	assert.Equal(t, 2, ec.MinPriority)

	c.Executor.GracePeriod = "later"
	_, err = executorConfig(opts, c)
	assert.Error(t, err)
}

func TestAnalyzeOptions(t *testing.T) {
	opts := defaultScanOptions()
	c := sampleFileConfig()
	applyConfigDefaults(nil, &opts, c)

	ao := analyzeOptions(opts, c)
	assert.Equal(t, model.DepthDeep, ao.Depth)
	assert.Equal(t, 45, ao.LookbackDays)
	assert.Equal(t, 50, ao.MaxResources)
	assert.True(t, ao.Exclude.ShouldExclude("i-1", nil))
	assert.True(t, ao.Exclude.ShouldExclude("i-2", map[string]string{"keep": "yes"}))
	assert.False(t, ao.Exclude.ShouldExclude("i-2", map[string]string{"other": "yes"}))
}

func TestProgressPrinter(t *testing.T) {
	var buf bytes.Buffer
	progressPrinter(&buf)(model.ExecutionProgress{
		TotalTasks:         8,
		CompletedTasks:     3,
		FailedTasks:        1,
		SkippedTasks:       1,
		CurrentAnalyzer:    "ec2",
		CurrentRegion:      "us-east-1",
		Elapsed:            12 * time.Second,
		EstimatedRemaining: 30 * time.Second,
	})

	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "\r[5/8]"))
	assert.Contains(t, out, "ec2 us-east-1")
	assert.Contains(t, out, "eta 30s")
}
