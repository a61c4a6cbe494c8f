package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ppiankov/wastespectre/internal/risk"
)

// Config holds wastespectre configuration loaded from .wastespectre.yaml.
type Config struct {
	Regions           []string `yaml:"regions"`
	Profile           string   `yaml:"profile"`
	Account           Account  `yaml:"account"`
	Executor          Executor `yaml:"executor"`
	Analysis          Analysis `yaml:"analysis"`
	Risk              Risk     `yaml:"risk"`
	Pricing           Pricing  `yaml:"pricing"`
	Database          Database `yaml:"database"`
	MinMonthlySavings float64  `yaml:"min_monthly_savings"`
	Format            string   `yaml:"format"`
	Exclude           Exclude  `yaml:"exclude"`
}

// Account is the target account. RoleARN empty means use base credentials.
type Account struct {
	ID          string `yaml:"id"`
	RoleARN     string `yaml:"role_arn"`
	ExternalID  string `yaml:"external_id"`
	SessionName string `yaml:"session_name"`
}

// Executor tunes scheduling. Durations use Go duration syntax.
type Executor struct {
	MaxConcurrency   int     `yaml:"max_concurrency"`
	Deadline         string  `yaml:"deadline"`
	SafetyMargin     string  `yaml:"safety_margin"`
	GracePeriod      string  `yaml:"grace_period"`
	BudgetMultiplier float64 `yaml:"budget_multiplier"`
	MinPriority      int     `yaml:"min_priority"`
}

// Analysis tunes analyzer thresholds.
type Analysis struct {
	Depth                string  `yaml:"depth"`
	LookbackDays         int     `yaml:"lookback_days"`
	MaxResources         int     `yaml:"max_resources"`
	IdleCPUThreshold     float64 `yaml:"idle_cpu_threshold"`
	HighMemoryThreshold  float64 `yaml:"high_memory_threshold"`
	StoppedThresholdDays int     `yaml:"stopped_threshold_days"`
}

// Risk overrides the classifier weights. Missing weights keep their defaults.
type Risk struct {
	Weights *risk.Weights `yaml:"weights"`
}

// Pricing controls price resolution.
type Pricing struct {
	CacheTTL string `yaml:"cache_ttl"`
	Live     *bool  `yaml:"live"`
}

// Database is the optional persistence target.
type Database struct {
	DSN string `yaml:"dsn"`
}

// Exclude defines resources to skip during scanning.
type Exclude struct {
	ResourceIDs []string `yaml:"resource_ids"`
	Tags        []string `yaml:"tags"`
}

// ParseTags converts tag strings ("Key=Value" or "Key") into a map.
// Key-only entries have an empty string value, meaning "match any value".
func (e Exclude) ParseTags() map[string]string {
	if len(e.Tags) == 0 {
		return nil
	}
	m := make(map[string]string, len(e.Tags))
	for _, s := range e.Tags {
		if k, v, ok := strings.Cut(s, "="); ok {
			m[k] = v
		} else {
			m[s] = ""
		}
	}
	return m
}

// IDSet returns the excluded resource IDs as a set.
func (e Exclude) IDSet() map[string]bool {
	if len(e.ResourceIDs) == 0 {
		return nil
	}
	m := make(map[string]bool, len(e.ResourceIDs))
	for _, id := range e.ResourceIDs {
		m[id] = true
	}
	return m
}

// DeadlineDuration parses executor.deadline, returning 0 when unset.
func (e Executor) DeadlineDuration() (time.Duration, error) {
	return parseDuration("executor.deadline", e.Deadline)
}

// SafetyMarginDuration parses executor.safety_margin.
func (e Executor) SafetyMarginDuration() (time.Duration, error) {
	return parseDuration("executor.safety_margin", e.SafetyMargin)
}

// GracePeriodDuration parses executor.grace_period.
func (e Executor) GracePeriodDuration() (time.Duration, error) {
	return parseDuration("executor.grace_period", e.GracePeriod)
}

// CacheTTLDuration parses pricing.cache_ttl.
func (p Pricing) CacheTTLDuration() (time.Duration, error) {
	return parseDuration("pricing.cache_ttl", p.CacheTTL)
}

// LiveEnabled reports whether live price lookups are on. Default true.
func (p Pricing) LiveEnabled() bool {
	return p.Live == nil || *p.Live
}

// RiskWeights returns the configured weights, or the defaults when none are set.
func (c Config) RiskWeights() risk.Weights {
	if c.Risk.Weights == nil {
		return risk.DefaultWeights()
	}
	return *c.Risk.Weights
}

func parseDuration(field, s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", field, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: negative duration %s", field, s)
	}
	return d, nil
}

// Load searches for .wastespectre.yaml or .wastespectre.yml in the given directory
// and returns the parsed config. Returns an empty Config if no file is found.
func Load(dir string) (Config, error) {
	candidates := []string{
		filepath.Join(dir, ".wastespectre.yaml"),
		filepath.Join(dir, ".wastespectre.yml"),
	}

	for _, path := range candidates {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}

		defaults := risk.DefaultWeights()
		cfg := Config{Risk: Risk{Weights: &defaults}}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
		return cfg, nil
	}

	return Config{}, nil
}
