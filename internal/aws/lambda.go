package aws

import (
	"context"
	"fmt"
	"time"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	lambdatypes "github.com/aws/aws-sdk-go-v2/service/lambda/types"

	"github.com/ppiankov/wastespectre/internal/model"
	"github.com/ppiankov/wastespectre/internal/pricing"
)

const (
	// lowProvisionedUtilization is the average share of provisioned
	// concurrency in use below which it is not worth paying for.
	lowProvisionedUtilization = 20.0
	lambdaLastModifiedLayout  = "2006-01-02T15:04:05.000-0700"
	lambdaRequestsRow         = "requests"
)

// LambdaAPI is the minimal interface for Lambda operations.
type LambdaAPI interface {
	ListFunctions(ctx context.Context, input *lambda.ListFunctionsInput, opts ...func(*lambda.Options)) (*lambda.ListFunctionsOutput, error)
	ListProvisionedConcurrencyConfigs(ctx context.Context, input *lambda.ListProvisionedConcurrencyConfigsInput, opts ...func(*lambda.Options)) (*lambda.ListProvisionedConcurrencyConfigsOutput, error)
	ListTags(ctx context.Context, input *lambda.ListTagsInput, opts ...func(*lambda.Options)) (*lambda.ListTagsOutput, error)
}

// LambdaAnalyzer finds idle functions, underused provisioned concurrency and
// x86 functions that would run cheaper on arm64.
type LambdaAnalyzer struct {
	deps Deps
}

// NewLambdaAnalyzer creates the Lambda analyzer.
func NewLambdaAnalyzer(deps Deps) *LambdaAnalyzer {
	return &LambdaAnalyzer{deps: deps}
}

func (a *LambdaAnalyzer) Code() string                     { return "lambda" }
func (a *LambdaAnalyzer) Name() string                     { return "Lambda functions" }
func (a *LambdaAnalyzer) Priority() int                    { return 6 }
func (a *LambdaAnalyzer) EstimatedDuration() time.Duration { return 30 * time.Second }

type lambdaSubject struct {
	invocations    float64
	provisioned    int32
	hasConcurrency bool
	provisionedAvg float64
	arch           string
}

var lambdaPatterns = []pattern[lambdaSubject]{
	{
		Name: "zero-invocations-provisioned", Type: model.RecommendTerminate, Priority: 5, Confidence: 0.9,
		Match: func(s lambdaSubject) bool {
			return s.provisioned > 0 && s.invocations == 0
		},
	},
	{
		Name: "low-utilization-provisioned", Type: model.RecommendOptimize, Priority: 4, Confidence: 0.8,
		Match: func(s lambdaSubject) bool {
			return s.provisioned > 0 && s.hasConcurrency && s.provisionedAvg < lowProvisionedUtilization
		},
	},
	{
		Name: "arm64-migration", Type: model.RecommendMigrate, Priority: 2, Confidence: 0.6,
		Match: func(s lambdaSubject) bool {
			return s.arch == string(lambdatypes.ArchitectureX8664) && s.invocations > 0
		},
	},
	{
		Name: "zero-invocations", Type: model.RecommendTerminate, Priority: 1, Confidence: 0.7,
		Match: func(s lambdaSubject) bool {
			return s.invocations == 0
		},
	},
}

// lambdaCost is the monthly cost breakdown of one function.
type lambdaCost struct {
	requests    float64
	duration    float64
	provisioned float64
	// gbSeconds is monthly compute in GB-seconds.
	gbSeconds float64
}

func (c lambdaCost) total() float64 {
	return c.requests + c.duration + c.provisioned
}

// Analyze examines the region's functions and their provisioned concurrency.
func (a *LambdaAnalyzer) Analyze(ctx context.Context, creds awssdk.CredentialsProvider, region, accountID string, opts model.AnalyzeOptions) ([]model.WasteFinding, error) {
	t, cfg := newTask(a.deps, a.Code(), region, accountID, creds, opts)
	client := a.deps.Clients.Lambda(cfg)

	if t.stop(ctx, 0) {
		return nil, nil
	}
	functions, err := listFunctions(ctx, client)
	if err != nil {
		return nil, fmt.Errorf("list Lambda functions: %w", err)
	}

	var findings []model.WasteFinding
	analyzed := 0
	for _, fn := range functions {
		name := deref(fn.FunctionName)
		if opts.Exclude.ShouldExclude(name, nil) {
			continue
		}
		if t.stop(ctx, analyzed) {
			break
		}
		// Tags are read only when a tag rule exists.
		if len(opts.Exclude.Tags) > 0 {
			tags, err := functionTags(ctx, client, functionARN(t, fn))
			if err != nil {
				t.logger.Warn().Err(err).Str("function", name).Msg("Skipping function")
				continue
			}
			if opts.Exclude.ShouldExclude(name, tags) {
				continue
			}
		}
		analyzed++

		f, ok, err := a.analyzeFunction(ctx, t, client, fn)
		if err != nil {
			t.logger.Warn().Err(err).Str("function", name).Msg("Skipping function")
			continue
		}
		if ok {
			findings = append(findings, f)
		}
	}
	return findings, nil
}

func (a *LambdaAnalyzer) analyzeFunction(ctx context.Context, t *task, client LambdaAPI, fn lambdatypes.FunctionConfiguration) (model.WasteFinding, bool, error) {
	name := deref(fn.FunctionName)
	arch := functionArchitecture(fn)

	provisioned, err := provisionedConcurrency(ctx, client, name)
	if err != nil {
		return model.WasteFinding{}, false, fmt.Errorf("provisioned concurrency: %w", err)
	}

	dims := []Dimension{{Name: "FunctionName", Value: name}}
	series, err := t.metrics.Fetch(ctx, t.lookback,
		MetricQuery{Key: "invocations", Namespace: "AWS/Lambda", Metric: "Invocations", Stat: "Sum", Dimensions: dims},
		MetricQuery{Key: "duration", Namespace: "AWS/Lambda", Metric: "Duration", Stat: "Average", Dimensions: dims},
		MetricQuery{Key: "concurrency", Namespace: "AWS/Lambda", Metric: "ConcurrentExecutions", Stat: "Maximum", Dimensions: dims},
	)
	if err != nil {
		return model.WasteFinding{}, false, err
	}

	invocations := series["invocations"]
	var primary usage
	if provisioned > 0 {
		primary = ratioUsage("provisioned-concurrency", series["concurrency"], float64(provisioned))
	} else {
		primary = activityUsage("invocations", invocations)
	}

	// A function with no Invocations datapoints was not invoked in the window.
	subject := lambdaSubject{
		invocations:    invocations.Sum(),
		provisioned:    provisioned,
		hasConcurrency: len(series["concurrency"]) > 0,
		provisionedAvg: primary.avg,
		arch:           arch,
	}

	p, ok := firstMatch(lambdaPatterns, subject)
	if !ok {
		return model.WasteFinding{}, false, nil
	}

	f := t.finding(model.ResourceLambda, name, functionARN(t, fn), name)
	applyPattern(&f, p)
	f.ResourceSubtype = string(fn.Runtime)
	memMB := memorySize(fn)
	f.CurrentConfiguration = lambdaConfiguration(memMB, arch, provisioned)
	f.Utilization = buildUtilization(primary, nil, t.lookback)
	f.Dependencies = lambdaDependencies(fn)

	cost := a.cost(ctx, t, arch, memMB, provisioned, subject.invocations, series["duration"].Mean())
	f.CurrentMonthlyCost = cost.total()
	f.CurrentHourlyCost = cost.total() / pricing.HoursPerMonth
	f.Metadata["runtime"] = string(fn.Runtime)
	f.Metadata["memoryMB"] = memMB
	f.Metadata["architecture"] = arch
	f.Metadata["provisionedConcurrency"] = provisioned
	f.Metadata["priceSource"] = string(model.PriceStatic)

	switch p.Name {
	case "zero-invocations-provisioned":
		f.Message = fmt.Sprintf("Provisioned concurrency of %d with zero invocations over %d days", provisioned, t.lookback)
		f.RecommendedConfiguration = lambdaConfiguration(memMB, arch, 0)
		f.SetSavings(cost.provisioned)
		f.ImplementationPlan = lambdaRemoveProvisionedPlan(name, t.region, false)
	case "low-utilization-provisioned":
		f.Message = fmt.Sprintf("Provisioned concurrency %.1f%% utilized on average over %d days", primary.avg, t.lookback)
		f.RecommendedConfiguration = lambdaConfiguration(memMB, arch, 0)
		onDemand := a.cost(ctx, t, arch, memMB, 0, subject.invocations, series["duration"].Mean())
		f.SetSavings(cost.total() - onDemand.total())
		f.ImplementationPlan = lambdaRemoveProvisionedPlan(name, t.region, true)
	case "arm64-migration":
		f.Message = fmt.Sprintf("%s runs on x86_64; arm64 has a lower GB-second rate", name)
		f.RecommendedConfiguration = lambdaConfiguration(memMB, string(lambdatypes.ArchitectureArm64), provisioned)
		arm := a.cost(ctx, t, string(lambdatypes.ArchitectureArm64), memMB, provisioned, subject.invocations, series["duration"].Mean())
		f.SetSavings(cost.total() - arm.total())
		f.ImplementationPlan = lambdaArmPlan(name, t.region)
	case "zero-invocations":
		f.Message = fmt.Sprintf("Zero invocations over %d days", t.lookback)
		f.SetSavings(cost.total())
		f.ImplementationPlan = lambdaDeletePlan(name, t.region)
	}

	if at, ok := invocations.LastAbove(0); ok {
		f.SetLastActivity(at, a.deps.now())
	} else if modified, err := time.Parse(lambdaLastModifiedLayout, deref(fn.LastModified)); err == nil {
		f.Metadata["lastModified"] = modified.UTC()
	}
	t.markSpike(&f, invocations)
	return f, true, nil
}

// cost estimates a month of requests, compute and provisioned concurrency
// from the lookback window's invocations and average duration in ms.
func (a *LambdaAnalyzer) cost(ctx context.Context, t *task, arch string, memMB, provisioned int32, invocations, avgDurationMs float64) lambdaCost {
	scale := monthlyFactor(t.lookback)
	memGB := float64(memMB) / 1024
	c := lambdaCost{gbSeconds: invocations * scale * (avgDurationMs / 1000) * memGB}

	c.requests = invocations * scale * t.quote(ctx, pricing.CategoryLambda, lambdaRequestsRow, "").UnitPrice
	if provisioned > 0 {
		c.duration = c.gbSeconds * t.quote(ctx, pricing.CategoryLambda, arch, pricing.BillingProvisionedDuration).UnitPrice
		c.provisioned = float64(provisioned) * memGB * pricing.SecondsPerMonth *
			t.quote(ctx, pricing.CategoryLambda, arch, pricing.BillingProvisioned).UnitPrice
	} else {
		c.duration = c.gbSeconds * t.quote(ctx, pricing.CategoryLambda, arch, "").UnitPrice
	}
	return c
}

func functionArchitecture(fn lambdatypes.FunctionConfiguration) string {
	if len(fn.Architectures) > 0 {
		return string(fn.Architectures[0])
	}
	return string(lambdatypes.ArchitectureX8664)
}

func memorySize(fn lambdatypes.FunctionConfiguration) int32 {
	if fn.MemorySize != nil {
		return *fn.MemorySize
	}
	return 128
}

func lambdaConfiguration(memMB int32, arch string, provisioned int32) string {
	s := fmt.Sprintf("%d MB %s", memMB, arch)
	if provisioned > 0 {
		s += fmt.Sprintf(", provisioned concurrency %d", provisioned)
	}
	return s
}

func functionARN(t *task, fn lambdatypes.FunctionConfiguration) string {
	if fn.FunctionArn != nil {
		return *fn.FunctionArn
	}
	return arn("lambda", t.region, t.accountID, "function:"+deref(fn.FunctionName))
}

func functionTags(ctx context.Context, client LambdaAPI, resource string) (map[string]string, error) {
	out, err := client.ListTags(ctx, &lambda.ListTagsInput{Resource: &resource})
	if err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	if out.Tags == nil {
		return map[string]string{}, nil
	}
	return out.Tags, nil
}

// provisionedConcurrency sums allocated concurrency across all aliases and versions.
func provisionedConcurrency(ctx context.Context, client LambdaAPI, name string) (int32, error) {
	var total int32
	paginator := lambda.NewListProvisionedConcurrencyConfigsPaginator(client, &lambda.ListProvisionedConcurrencyConfigsInput{
		FunctionName: &name,
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return 0, err
		}
		for _, c := range page.ProvisionedConcurrencyConfigs {
			switch {
			case c.AllocatedProvisionedConcurrentExecutions != nil:
				total += *c.AllocatedProvisionedConcurrentExecutions
			case c.RequestedProvisionedConcurrentExecutions != nil:
				total += *c.RequestedProvisionedConcurrentExecutions
			}
		}
	}
	return total, nil
}

func lambdaDependencies(fn lambdatypes.FunctionConfiguration) []model.ResourceDependency {
	deps := []model.ResourceDependency{}
	if fn.Role != nil {
		deps = append(deps, model.ResourceDependency{
			ResourceID:     *fn.Role,
			ResourceType:   "iam-role",
			DependencyType: model.DependencyUses,
		})
	}
	for _, l := range fn.Layers {
		if l.Arn != nil {
			deps = append(deps, model.ResourceDependency{
				ResourceID:     *l.Arn,
				ResourceType:   "lambda-layer",
				DependencyType: model.DependencyUses,
			})
		}
	}
	if fn.VpcConfig != nil {
		for _, sg := range fn.VpcConfig.SecurityGroupIds {
			deps = append(deps, model.ResourceDependency{
				ResourceID:     sg,
				ResourceType:   "security-group",
				DependencyType: model.DependencyUses,
			})
		}
	}
	return deps
}

func listFunctions(ctx context.Context, client LambdaAPI) ([]lambdatypes.FunctionConfiguration, error) {
	var functions []lambdatypes.FunctionConfiguration
	paginator := lambda.NewListFunctionsPaginator(client, &lambda.ListFunctionsInput{})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		functions = append(functions, page.Functions...)
	}
	return functions, nil
}

func lambdaRemoveProvisionedPlan(name, region string, keepFunction bool) model.ImplementationPlan {
	desc := "Remove provisioned concurrency"
	if keepFunction {
		desc = "Remove provisioned concurrency and run on demand"
	}
	return newPlan(false,
		safe("List provisioned concurrency configurations",
			fmt.Sprintf("aws lambda list-provisioned-concurrency-configs --function-name %s --region %s", name, region)),
		review(desc+" for each qualifier",
			fmt.Sprintf("aws lambda delete-provisioned-concurrency-config --function-name %s --qualifier <alias> --region %s", name, region)),
		safe("Watch cold-start latency for a week",
			fmt.Sprintf("aws logs tail /aws/lambda/%s --filter-pattern 'Init Duration' --region %s", name, region)),
	)
}

func lambdaArmPlan(name, region string) model.ImplementationPlan {
	return newPlan(false,
		safe("Confirm dependencies and layers ship arm64 builds",
			fmt.Sprintf("aws lambda get-function-configuration --function-name %s --region %s", name, region)),
		review("Publish an arm64 build and shift an alias gradually",
			fmt.Sprintf("aws lambda update-function-code --function-name %s --architectures arm64 --zip-file fileb://function.zip --region %s", name, region)),
		safe("Compare duration and error rate against the x86_64 version",
			fmt.Sprintf("aws cloudwatch get-metric-statistics --namespace AWS/Lambda --metric-name Errors --dimensions Name=FunctionName,Value=%s --statistics Sum --period 3600 --start-time $(date -u -d '-1 day' +%%FT%%TZ) --end-time $(date -u +%%FT%%TZ) --region %s", name, region)),
	)
}

func lambdaDeletePlan(name, region string) model.ImplementationPlan {
	return newPlan(false,
		safe("Check for event source mappings and triggers",
			fmt.Sprintf("aws lambda list-event-source-mappings --function-name %s --region %s", name, region)),
		safe("Download the deployment package",
			fmt.Sprintf("aws lambda get-function --function-name %s --query Code.Location --output text --region %s", name, region)),
		destructive("Delete the function",
			fmt.Sprintf("aws lambda delete-function --function-name %s --region %s", name, region)),
	)
}
