package aws

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	elbtypes "github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2/types"
	rdstypes "github.com/aws/aws-sdk-go-v2/service/rds/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ppiankov/wastespectre/internal/cache"
	"github.com/ppiankov/wastespectre/internal/model"
	"github.com/ppiankov/wastespectre/internal/pricing"
	"github.com/ppiankov/wastespectre/internal/timeseries"
)

const (
	// budgetReserve is the time an analyzer keeps in hand to return what it has.
	budgetReserve = time.Second
	// defaultLookbackDays applies when options carry no lookback.
	defaultLookbackDays = 14
	// deepLookbackDays is the minimum lookback for deep analysis.
	deepLookbackDays = 30
	// spikeConfidencePenalty is subtracted from a finding's confidence on a recent spike.
	spikeConfidencePenalty = 0.1
)

// PriceQuoter resolves unit prices.
type PriceQuoter interface {
	Quote(ctx context.Context, key pricing.Key) model.PriceQuote
}

// Deps are the collaborators shared by all analyzers.
type Deps struct {
	// BaseConfig is copied per task with the task's region and credentials.
	BaseConfig aws.Config
	Clients    ClientFactory
	Prices     PriceQuoter
	// SeriesCache is shared across tasks; nil disables metric caching.
	SeriesCache *cache.TTL[timeseries.Series]
	Logger      zerolog.Logger
	Now         func() time.Time
}

func (d Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// task holds the per-invocation state of one analyzer run.
type task struct {
	deps      Deps
	region    string
	accountID string
	opts      model.AnalyzeOptions
	lookback  int
	metrics   *MetricsFetcher
	logger    zerolog.Logger
}

func newTask(deps Deps, code, region, accountID string, creds aws.CredentialsProvider, opts model.AnalyzeOptions) (*task, aws.Config) {
	cfg := regionConfig(deps.BaseConfig, region, creds)
	lookback := opts.LookbackDays
	if lookback <= 0 {
		lookback = defaultLookbackDays
	}
	if opts.Depth == model.DepthDeep && lookback < deepLookbackDays {
		lookback = deepLookbackDays
	}
	return &task{
		deps:      deps,
		region:    region,
		accountID: accountID,
		opts:      opts,
		lookback:  lookback,
		metrics:   NewMetricsFetcher(deps.Clients.CloudWatch(cfg), region, deps.SeriesCache, deps.Now),
		logger:    deps.Logger.With().Str("analyzer", code).Str("region", region).Logger(),
	}, cfg
}

// stop reports whether the analyzer should return what it has.
func (t *task) stop(ctx context.Context, analyzed int) bool {
	if ctx.Err() != nil {
		t.logger.Info().Int("analyzed", analyzed).Msg("Context done, returning partial findings")
		return true
	}
	if t.opts.Budget.Exhausted(budgetReserve) {
		t.logger.Info().Int("analyzed", analyzed).Msg("Budget exhausted, returning partial findings")
		return true
	}
	if t.opts.MaxResources > 0 && analyzed >= t.opts.MaxResources {
		t.logger.Debug().Int("max_resources", t.opts.MaxResources).Msg("Resource limit reached")
		return true
	}
	return false
}

func (t *task) deep() bool {
	return t.opts.Depth == model.DepthDeep
}

func (t *task) quote(ctx context.Context, category, config, billingMode string) model.PriceQuote {
	return t.deps.Prices.Quote(ctx, pricing.Key{
		Category:    category,
		Config:      config,
		Region:      t.region,
		BillingMode: billingMode,
	})
}

// finding starts a finding with identity fields and empty collections.
func (t *task) finding(rt model.ResourceType, id, arn, name string) model.WasteFinding {
	return model.WasteFinding{
		ID:           uuid.NewString(),
		AccountID:    t.accountID,
		ResourceID:   id,
		ResourceARN:  arn,
		ResourceName: name,
		ResourceType: rt,
		Region:       t.region,
		Dependencies: []model.ResourceDependency{},
		Metadata:     map[string]any{},
	}
}

// applyPattern copies a matched pattern's recommendation onto f.
func applyPattern[T any](f *model.WasteFinding, p pattern[T]) {
	f.Pattern = p.Name
	f.RecommendationType = p.Type
	f.RecommendationPriority = p.Priority
	f.Confidence = p.Confidence
}

// markSpike flags a recent spike on the primary series in deep mode.
func (t *task) markSpike(f *model.WasteFinding, s timeseries.Series) {
	if !t.deep() {
		return
	}
	spike := timeseries.DetectSpike(s.Values(), timeseries.DefaultSpikeK)
	if !spike.IsSpike {
		return
	}
	f.Metadata["recentSpike"] = true
	f.Metadata["spikeZScore"] = spike.ZScore
	f.Confidence -= spikeConfidencePenalty
	if f.Confidence < 0 {
		f.Confidence = 0
	}
}

func arn(service, region, accountID, resource string) string {
	return "arn:aws:" + service + ":" + region + ":" + accountID + ":" + resource
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func ec2TagsToMap(tags []ec2types.Tag) map[string]string {
	m := make(map[string]string, len(tags))
	for _, t := range tags {
		m[deref(t.Key)] = deref(t.Value)
	}
	return m
}

func rdsTagsToMap(tags []rdstypes.Tag) map[string]string {
	m := make(map[string]string, len(tags))
	for _, t := range tags {
		m[deref(t.Key)] = deref(t.Value)
	}
	return m
}

func elbTagsToMap(tags []elbtypes.Tag) map[string]string {
	m := make(map[string]string, len(tags))
	for _, t := range tags {
		m[deref(t.Key)] = deref(t.Value)
	}
	return m
}

// monthlyFactor scales a lookback-window total to a 730-hour month.
func monthlyFactor(lookbackDays int) float64 {
	if lookbackDays <= 0 {
		return 0
	}
	return float64(pricing.HoursPerMonth) / float64(lookbackDays*24)
}

const (
	defaultIdleCPUThreshold     = 5.0
	defaultHighMemoryThreshold  = 50.0
	defaultStoppedThresholdDays = 30
)

func (t *task) idleCPU() float64 {
	if t.opts.IdleCPUThreshold > 0 {
		return t.opts.IdleCPUThreshold
	}
	return defaultIdleCPUThreshold
}

func (t *task) highMemory() float64 {
	if t.opts.HighMemoryThreshold > 0 {
		return t.opts.HighMemoryThreshold
	}
	return defaultHighMemoryThreshold
}

func (t *task) stoppedDays() int {
	if t.opts.StoppedThresholdDays > 0 {
		return t.opts.StoppedThresholdDays
	}
	return defaultStoppedThresholdDays
}
