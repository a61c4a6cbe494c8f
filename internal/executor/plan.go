// Package executor runs analyzers across regions under one global deadline
// and bounded concurrency, returning partial results instead of failing when
// time runs out.
package executor

import (
	"time"

	"github.com/ppiankov/wastespectre/internal/analyzer"
)

// Defaults for Config fields left at their zero value.
const (
	DefaultMaxConcurrency   = 5
	DefaultDeadline         = 5 * time.Minute
	DefaultSafetyMargin     = 2 * time.Second
	DefaultGracePeriod      = 5 * time.Second
	DefaultBudgetMultiplier = 2.0
)

// Config controls scheduling. Zero values take the package defaults.
type Config struct {
	// MaxConcurrency is the worker pool size, capped at the number of regions.
	MaxConcurrency int
	// Deadline is the total wall-clock allowance for a run.
	Deadline time.Duration
	// SafetyMargin is the minimum remaining time needed to start a task.
	SafetyMargin time.Duration
	// GracePeriod is how long Run waits past Deadline for running tasks.
	GracePeriod time.Duration
	// BudgetMultiplier scales an analyzer's estimated duration into its task budget.
	BudgetMultiplier float64
	// MinPriority drops analyzers below this priority from the plan.
	MinPriority int
}

func (c Config) withDefaults() Config {
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = DefaultMaxConcurrency
	}
	if c.Deadline <= 0 {
		c.Deadline = DefaultDeadline
	}
	if c.SafetyMargin <= 0 {
		c.SafetyMargin = DefaultSafetyMargin
	}
	if c.GracePeriod <= 0 {
		c.GracePeriod = DefaultGracePeriod
	}
	if c.BudgetMultiplier <= 0 {
		c.BudgetMultiplier = DefaultBudgetMultiplier
	}
	return c
}

// Task is one analyzer run against one region.
type Task struct {
	Analyzer analyzer.ResourceAnalyzer
	Region   string
}

// ExecutionPlan is the priority-ordered analyzer × region cross product.
// It is immutable once built.
type ExecutionPlan struct {
	analyzers []analyzer.ResourceAnalyzer
	regions   []string
	tasks     []Task
	cfg       Config
}

// BuildPlan crosses the registry's analyzers, highest priority first, with
// regions. Empty and duplicate regions are dropped.
func BuildPlan(reg *analyzer.Registry, regions []string, cfg Config) ExecutionPlan {
	cfg = cfg.withDefaults()
	return newPlan(reg.AllByPriorityDescending(cfg.MinPriority), regions, cfg)
}

func newPlan(analyzers []analyzer.ResourceAnalyzer, regions []string, cfg Config) ExecutionPlan {
	seen := make(map[string]bool, len(regions))
	uniq := make([]string, 0, len(regions))
	for _, r := range regions {
		if r == "" || seen[r] {
			continue
		}
		seen[r] = true
		uniq = append(uniq, r)
	}

	if len(uniq) > 0 && cfg.MaxConcurrency > len(uniq) {
		cfg.MaxConcurrency = len(uniq)
	}

	tasks := make([]Task, 0, len(analyzers)*len(uniq))
	for _, a := range analyzers {
		for _, r := range uniq {
			tasks = append(tasks, Task{Analyzer: a, Region: r})
		}
	}

	return ExecutionPlan{
		analyzers: append([]analyzer.ResourceAnalyzer(nil), analyzers...),
		regions:   uniq,
		tasks:     tasks,
		cfg:       cfg,
	}
}

// Tasks returns a copy of the ordered task list.
func (p ExecutionPlan) Tasks() []Task {
	return append([]Task(nil), p.tasks...)
}

// Regions returns the plan's regions in order.
func (p ExecutionPlan) Regions() []string {
	return append([]string(nil), p.regions...)
}

// AnalyzerCodes returns analyzer codes in scheduling order.
func (p ExecutionPlan) AnalyzerCodes() []string {
	codes := make([]string, len(p.analyzers))
	for i, a := range p.analyzers {
		codes[i] = a.Code()
	}
	return codes
}

// MaxConcurrency is the effective worker pool size.
func (p ExecutionPlan) MaxConcurrency() int {
	return p.cfg.MaxConcurrency
}

// Deadline is the total time allowance.
func (p ExecutionPlan) Deadline() time.Duration {
	return p.cfg.Deadline
}

// Config returns the effective configuration after defaults.
func (p ExecutionPlan) Config() Config {
	return p.cfg
}

// taskBudget is min(remaining, estimated × multiplier).
func (c Config) taskBudget(estimated, remaining time.Duration) time.Duration {
	budget := time.Duration(float64(estimated) * c.BudgetMultiplier)
	if budget <= 0 || budget > remaining {
		return remaining
	}
	return budget
}
