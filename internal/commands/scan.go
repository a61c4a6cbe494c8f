package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awspricing "github.com/aws/aws-sdk-go-v2/service/pricing"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/ppiankov/wastespectre/internal/analyzer"
	awsx "github.com/ppiankov/wastespectre/internal/aws"
	"github.com/ppiankov/wastespectre/internal/cache"
	"github.com/ppiankov/wastespectre/internal/config"
	"github.com/ppiankov/wastespectre/internal/executor"
	"github.com/ppiankov/wastespectre/internal/model"
	"github.com/ppiankov/wastespectre/internal/pricing"
	"github.com/ppiankov/wastespectre/internal/report"
	"github.com/ppiankov/wastespectre/internal/risk"
	"github.com/ppiankov/wastespectre/internal/store"
	"github.com/ppiankov/wastespectre/internal/telemetry"
	"github.com/ppiankov/wastespectre/internal/timeseries"
)

// priceListRegion is where the AWS Price List API is served.
const priceListRegion = "us-east-1"

// stsFallbackRegion is used for caller identity when no region is configured.
const stsFallbackRegion = "us-east-1"

// seriesCacheTTL bounds reuse of fetched metric series within one process.
const seriesCacheTTL = 15 * time.Minute

type scanOptions struct {
	regions              []string
	allRegions           bool
	analyzers            []string
	format               string
	outputFile           string
	depth                string
	lookbackDays         int
	maxResources         int
	minMonthlySavings    float64
	idleCPUThreshold     float64
	highMemoryThreshold  float64
	stoppedThresholdDays int
	maxConcurrency       int
	deadline             time.Duration
	roleARN              string
	externalID           string
	accountID            string
	noProgress           bool
	noLivePricing        bool
	persist              bool
	dsn                  string
	metricsTextfile      string
}

var scanFlags scanOptions

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Analyze AWS resources for cost waste",
	Long: `Analyze EC2, RDS, Lambda and ELB resources across regions. Each finding
reports the recommended action, estimated monthly savings, a risk level and the
steps to apply it. The scan stops dispatching work near --deadline and returns
whatever finished.`,
	RunE: runScan,
}

func init() {
	f := scanCmd.Flags()
	f.StringSliceVar(&scanFlags.regions, "regions", nil, "Comma-separated region filter")
	f.BoolVar(&scanFlags.allRegions, "all-regions", true, "Scan all enabled regions")
	f.StringSliceVar(&scanFlags.analyzers, "analyzers", nil, "Analyzer codes to run (default: all)")
	f.StringVar(&scanFlags.format, "format", "text", "Output format: text, json, sarif")
	f.StringVarP(&scanFlags.outputFile, "output", "o", "", "Output file path (default: stdout)")
	f.StringVar(&scanFlags.depth, "depth", string(model.DepthStandard), "Analysis depth: standard or deep")
	f.IntVar(&scanFlags.lookbackDays, "lookback-days", 14, "Metric lookback window (days)")
	f.IntVar(&scanFlags.maxResources, "max-resources", 0, "Maximum resources per analyzer and region (0: unlimited)")
	f.Float64Var(&scanFlags.minMonthlySavings, "min-monthly-savings", 1.0, "Minimum monthly savings to report ($); terminate recommendations are always reported")
	f.Float64Var(&scanFlags.idleCPUThreshold, "idle-cpu-threshold", 0, "CPU % below which a resource is idle (default: 5)")
	f.Float64Var(&scanFlags.highMemoryThreshold, "high-memory-threshold", 0, "Memory % above which a resource is not idle (default: 50)")
	f.IntVar(&scanFlags.stoppedThresholdDays, "stopped-threshold-days", 0, "Days stopped before flagging EC2 (default: 30)")
	f.IntVar(&scanFlags.maxConcurrency, "max-concurrency", executor.DefaultMaxConcurrency, "Concurrent analyzer tasks")
	f.DurationVar(&scanFlags.deadline, "deadline", executor.DefaultDeadline, "Global scan deadline")
	f.StringVar(&scanFlags.roleARN, "role-arn", "", "IAM role to assume in the target account")
	f.StringVar(&scanFlags.externalID, "external-id", "", "External ID for --role-arn")
	f.StringVar(&scanFlags.accountID, "account-id", "", "Target account ID (default: caller identity)")
	f.BoolVar(&scanFlags.noProgress, "no-progress", false, "Disable progress output")
	f.BoolVar(&scanFlags.noLivePricing, "no-live-pricing", false, "Use the embedded price table only")
	f.BoolVar(&scanFlags.persist, "persist", false, "Write results to Postgres (database.dsn or --dsn)")
	f.StringVar(&scanFlags.dsn, "dsn", "", "Postgres connection string for --persist")
	f.StringVar(&scanFlags.metricsTextfile, "metrics-textfile", "", "Write Prometheus metrics to this file after the scan")
}

func runScan(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	opts := scanFlags
	applyConfigDefaults(cmd, &opts, cfg)

	execCfg, err := executorConfig(opts, cfg)
	if err != nil {
		return err
	}

	prof := profile
	if prof == "" {
		prof = cfg.Profile
	}

	client, err := awsx.NewClient(ctx, prof, "")
	if err != nil {
		return enhanceError("initialize AWS client", err)
	}

	regions, err := resolveRegions(ctx, opts, cfg, client)
	if err != nil {
		return enhanceError("resolve regions", err)
	}
	log.Info().Int("count", len(regions)).Strs("regions", regions).Msg("Scanning regions")

	account, err := resolveAccount(ctx, opts, cfg, client)
	if err != nil {
		return enhanceError("resolve account", err)
	}

	metrics := telemetry.New()
	prices, err := newPriceService(opts, cfg, client.Config(), metrics)
	if err != nil {
		return err
	}

	deps := awsx.Deps{
		BaseConfig:  client.Config(),
		Clients:     awsx.SDKClients{},
		Prices:      prices,
		SeriesCache: cache.New[timeseries.Series](seriesCacheTTL),
		Logger:      log.Logger,
	}
	registry, err := analyzer.NewRegistry(awsx.DefaultAnalyzers(deps)...)
	if err != nil {
		return err
	}
	registry, err = registry.Select(opts.analyzers)
	if err != nil {
		return err
	}

	plan := executor.BuildPlan(registry, regions, execCfg)
	exec := executor.New(awsx.NewRoleResolver(client.Config()), log.Logger,
		executor.WithMetrics(metrics),
		executor.WithClassifier(risk.New(cfg.RiskWeights())),
	)
	if !opts.noProgress {
		exec.SetProgressFn(progressPrinter(os.Stderr))
	}

	result := exec.Run(ctx, plan, account, executor.RunOptions{Analyze: analyzeOptions(opts, cfg)})
	if !opts.noProgress {
		fmt.Fprintln(os.Stderr)
	}

	if opts.persist {
		if err := persist(ctx, opts, result); err != nil {
			return enhanceError("persist results", err)
		}
	}
	if opts.metricsTextfile != "" {
		if err := metrics.WriteTextfile(opts.metricsTextfile); err != nil {
			log.Warn().Err(err).Str("path", opts.metricsTextfile).Msg("Failed to write metrics textfile")
		}
	}

	analysis := analyzer.Summarize(result, analyzer.Config{MinMonthlySavings: opts.minMonthlySavings})
	data := report.Data{
		Tool:      "wastespectre",
		Version:   version,
		Timestamp: time.Now().UTC(),
		Target: report.Target{
			Type:    "aws-account",
			URIHash: computeTargetHash(prof, regions),
		},
		Config: report.ReportConfig{
			Regions:           regions,
			Depth:             opts.depth,
			LookbackDays:      opts.lookbackDays,
			MinMonthlySavings: opts.minMonthlySavings,
			Deadline:          plan.Deadline().String(),
		},
		Result: *analysis,
	}

	w, closeOut, err := openOutput(opts.outputFile)
	if err != nil {
		return err
	}
	defer closeOut()

	reporter, err := report.NewReporter(opts.format, w)
	if err != nil {
		return err
	}
	return reporter.Generate(data)
}

// applyConfigDefaults fills options the user did not set on the command line
// from the config file.
func applyConfigDefaults(cmd *cobra.Command, opts *scanOptions, c config.Config) {
	changed := func(name string) bool {
		return cmd != nil && cmd.Flags().Changed(name)
	}
	a := c.Analysis

	if !changed("format") && c.Format != "" {
		opts.format = c.Format
	}
	if !changed("depth") && a.Depth != "" {
		opts.depth = a.Depth
	}
	if !changed("lookback-days") && a.LookbackDays > 0 {
		opts.lookbackDays = a.LookbackDays
	}
	if !changed("max-resources") && a.MaxResources > 0 {
		opts.maxResources = a.MaxResources
	}
	if !changed("min-monthly-savings") && c.MinMonthlySavings > 0 {
		opts.minMonthlySavings = c.MinMonthlySavings
	}
	if !changed("idle-cpu-threshold") && a.IdleCPUThreshold > 0 {
		opts.idleCPUThreshold = a.IdleCPUThreshold
	}
	if !changed("high-memory-threshold") && a.HighMemoryThreshold > 0 {
		opts.highMemoryThreshold = a.HighMemoryThreshold
	}
	if !changed("stopped-threshold-days") && a.StoppedThresholdDays > 0 {
		opts.stoppedThresholdDays = a.StoppedThresholdDays
	}
	if !changed("max-concurrency") && c.Executor.MaxConcurrency > 0 {
		opts.maxConcurrency = c.Executor.MaxConcurrency
	}
	if !changed("deadline") {
		if d, err := c.Executor.DeadlineDuration(); err == nil && d > 0 {
			opts.deadline = d
		}
	}
	if !changed("role-arn") && c.Account.RoleARN != "" {
		opts.roleARN = c.Account.RoleARN
	}
	if !changed("external-id") && c.Account.ExternalID != "" {
		opts.externalID = c.Account.ExternalID
	}
	if !changed("account-id") && c.Account.ID != "" {
		opts.accountID = c.Account.ID
	}
	if !changed("dsn") && c.Database.DSN != "" {
		opts.dsn = c.Database.DSN
	}
	if !changed("no-live-pricing") && !c.Pricing.LiveEnabled() {
		opts.noLivePricing = true
	}
}

func executorConfig(opts scanOptions, c config.Config) (executor.Config, error) {
	margin, err := c.Executor.SafetyMarginDuration()
	if err != nil {
		return executor.Config{}, err
	}
	grace, err := c.Executor.GracePeriodDuration()
	if err != nil {
		return executor.Config{}, err
	}
	if _, err := c.Executor.DeadlineDuration(); err != nil {
		return executor.Config{}, err
	}
	return executor.Config{
		MaxConcurrency:   opts.maxConcurrency,
		Deadline:         opts.deadline,
		SafetyMargin:     margin,
		GracePeriod:      grace,
		BudgetMultiplier: c.Executor.BudgetMultiplier,
		MinPriority:      c.Executor.MinPriority,
	}, nil
}

func analyzeOptions(opts scanOptions, c config.Config) model.AnalyzeOptions {
	return model.AnalyzeOptions{
		MaxResources:         opts.maxResources,
		Depth:                model.ParseDepth(opts.depth),
		LookbackDays:         opts.lookbackDays,
		IdleCPUThreshold:     opts.idleCPUThreshold,
		HighMemoryThreshold:  opts.highMemoryThreshold,
		StoppedThresholdDays: opts.stoppedThresholdDays,
		Exclude: model.ExcludeConfig{
			ResourceIDs: c.Exclude.IDSet(),
			Tags:        c.Exclude.ParseTags(),
		},
	}
}

func resolveRegions(ctx context.Context, opts scanOptions, c config.Config, client *awsx.Client) ([]string, error) {
	if len(opts.regions) > 0 {
		return opts.regions, nil
	}
	if len(c.Regions) > 0 {
		return c.Regions, nil
	}
	if opts.allRegions {
		return client.ListEnabledRegions(ctx)
	}

	region := client.Config().Region
	if region == "" {
		return nil, fmt.Errorf("no region specified; use --regions, --all-regions, or set AWS_REGION")
	}
	return []string{region}, nil
}

func resolveAccount(ctx context.Context, opts scanOptions, c config.Config, client *awsx.Client) (model.Account, error) {
	account := model.Account{
		ID:          opts.accountID,
		RoleARN:     opts.roleARN,
		ExternalID:  opts.externalID,
		SessionName: c.Account.SessionName,
	}
	if account.ID != "" {
		return account, nil
	}

	base := client.Config()
	if base.Region == "" {
		base.Region = stsFallbackRegion
	}
	if account.RoleARN != "" {
		creds, err := awsx.NewRoleResolver(base).Resolve(ctx, account, base.Region)
		if err != nil {
			return model.Account{}, err
		}
		base.Credentials = creds
	}
	id, err := awsx.CallerAccountID(ctx, awsx.NewSTSClient(base))
	if err != nil {
		return model.Account{}, err
	}
	account.ID = id
	return account, nil
}

func newPriceService(opts scanOptions, c config.Config, base aws.Config, metrics *telemetry.Metrics) (*pricing.Service, error) {
	ttl, err := c.Pricing.CacheTTLDuration()
	if err != nil {
		return nil, err
	}
	if ttl == 0 {
		ttl = pricing.DefaultTTL
	}

	svcOpts := []pricing.Option{
		pricing.WithRecorder(metrics),
		pricing.WithCache(cache.New[model.PriceQuote](ttl)),
	}
	if !opts.noLivePricing {
		plCfg := base.Copy()
		plCfg.Region = priceListRegion
		svcOpts = append(svcOpts, pricing.WithLiveSource(pricing.NewPriceListSource(awspricing.NewFromConfig(plCfg))))
	}
	return pricing.NewService(log.Logger, svcOpts...), nil
}

func persist(ctx context.Context, opts scanOptions, result *model.ExecutionResult) error {
	if opts.dsn == "" {
		return fmt.Errorf("no database DSN; set database.dsn in .wastespectre.yaml or pass --dsn")
	}
	sink, conn, err := store.Connect(ctx, opts.dsn, log.Logger)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close(ctx) }()
	return sink.Save(ctx, result)
}

// progressPrinter renders one status line, rewritten in place.
func progressPrinter(w io.Writer) func(model.ExecutionProgress) {
	return func(p model.ExecutionProgress) {
		done := p.CompletedTasks + p.FailedTasks + p.SkippedTasks
		line := fmt.Sprintf("\r[%d/%d] failed %d skipped %d elapsed %s", done, p.TotalTasks, p.FailedTasks, p.SkippedTasks, p.Elapsed.Round(time.Second))
		if p.CurrentAnalyzer != "" {
			line += fmt.Sprintf(" | %s %s", p.CurrentAnalyzer, p.CurrentRegion)
		}
		if p.EstimatedRemaining > 0 {
			line += fmt.Sprintf(" | eta %s", p.EstimatedRemaining.Round(time.Second))
		}
		fmt.Fprintf(w, "%-100s", line)
	}
}

func openOutput(path string) (io.Writer, func(), error) {
	if path == "" {
		return os.Stdout, func() {}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("create output file: %w", err)
	}
	return f, func() { _ = f.Close() }, nil
}
