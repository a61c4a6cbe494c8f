package model

import "time"

// Depth controls how much data an analyzer gathers per resource.
type Depth string

const (
	DepthStandard Depth = "standard"
	DepthDeep     Depth = "deep"
)

// ParseDepth maps a config string to a Depth, defaulting to standard.
func ParseDepth(s string) Depth {
	if Depth(s) == DepthDeep {
		return DepthDeep
	}
	return DepthStandard
}

// Account is the stored account record a scan runs against.
type Account struct {
	ID          string `json:"accountId"`
	RoleARN     string `json:"roleArn,omitempty"`
	ExternalID  string `json:"-"`
	SessionName string `json:"-"`
}

// Budget is an advisory time allowance for one analyzer task.
// Analyzers check it before expensive steps and stop early once it runs out.
type Budget struct {
	Start time.Time
	Limit time.Duration
}

// NewBudget starts a budget of the given length at the current time.
func NewBudget(limit time.Duration) Budget {
	return Budget{Start: time.Now(), Limit: limit}
}

// Deadline returns the instant the budget runs out.
func (b Budget) Deadline() time.Time {
	return b.Start.Add(b.Limit)
}

// Remaining returns the unspent part of the budget, never negative.
// A zero-value budget is treated as unlimited.
func (b Budget) Remaining() time.Duration {
	if b.Limit <= 0 {
		return time.Duration(1<<63 - 1)
	}
	left := b.Limit - time.Since(b.Start)
	if left < 0 {
		return 0
	}
	return left
}

// Exhausted reports whether less than reserve is left.
func (b Budget) Exhausted(reserve time.Duration) bool {
	return b.Remaining() <= reserve
}

// AnalyzeOptions are the per-task inputs handed to an analyzer.
type AnalyzeOptions struct {
	Budget               Budget
	MaxResources         int
	Depth                Depth
	LookbackDays         int
	IdleCPUThreshold     float64
	HighMemoryThreshold  float64
	StoppedThresholdDays int
	Exclude              ExcludeConfig
}

// ExcludeConfig holds resource exclusion rules.
type ExcludeConfig struct {
	ResourceIDs map[string]bool
	Tags        map[string]string
}

// ShouldExclude reports whether a resource matches an ID or tag exclusion.
// A tag rule with an empty value matches any value for that key.
func (e ExcludeConfig) ShouldExclude(resourceID string, tags map[string]string) bool {
	if e.ResourceIDs[resourceID] {
		return true
	}
	if len(e.Tags) == 0 || tags == nil {
		return false
	}
	for k, v := range e.Tags {
		tv, ok := tags[k]
		if !ok {
			continue
		}
		if v == "" || v == tv {
			return true
		}
	}
	return false
}

// ExecutionProgress is a snapshot of the executor's counters for one invocation.
type ExecutionProgress struct {
	TotalTasks         int           `json:"totalTasks"`
	CompletedTasks     int           `json:"completedTasks"`
	FailedTasks        int           `json:"failedTasks"`
	SkippedTasks       int           `json:"skippedTasks"`
	CurrentAnalyzer    string        `json:"currentAnalyzer,omitempty"`
	CurrentRegion      string        `json:"currentRegion,omitempty"`
	Elapsed            time.Duration `json:"elapsed"`
	EstimatedRemaining time.Duration `json:"estimatedRemaining"`
}

// TaskError records one failed analyzer/region task.
type TaskError struct {
	Analyzer string `json:"analyzer"`
	Region   string `json:"region"`
	Error    string `json:"error"`
}

// ExecutionResult is everything one executor run produced.
type ExecutionResult struct {
	ExecutionID    string            `json:"executionId"`
	AccountID      string            `json:"accountId"`
	StartedAt      time.Time         `json:"startedAt"`
	FinishedAt     time.Time         `json:"finishedAt"`
	Findings       []WasteFinding    `json:"findings"`
	Progress       ExecutionProgress `json:"progress"`
	Errors         []TaskError       `json:"errors"`
	PartialResults bool              `json:"partialResults"`
}

// PriceSource says where a quote came from.
type PriceSource string

const (
	PriceLive    PriceSource = "live"
	PriceStatic  PriceSource = "static"
	PriceUnknown PriceSource = "unknown"
)

// PriceQuote is a resolved unit price. Quotes are replaced on refresh, never mutated.
type PriceQuote struct {
	Category    string      `json:"category"`
	ConfigKey   string      `json:"configKey"`
	Region      string      `json:"region"`
	BillingMode string      `json:"billingMode"`
	UnitPrice   float64     `json:"unitPrice"`
	Source      PriceSource `json:"source"`
	FetchedAt   time.Time   `json:"fetchedAt"`
}
