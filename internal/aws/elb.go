package aws

import (
	"context"
	"fmt"
	"strings"
	"time"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2"
	elbtypes "github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2/types"

	"github.com/ppiankov/wastespectre/internal/model"
	"github.com/ppiankov/wastespectre/internal/pricing"
)

const (
	// lowTrafficActiveShare is the share of hours with traffic below which a
	// load balancer is a consolidation candidate.
	lowTrafficActiveShare = 10.0
	// maxDescribeTagsARNs is the most resource ARNs DescribeTags accepts per call.
	maxDescribeTagsARNs = 20
)

// ELBAPI is the minimal interface for ELBv2 operations.
type ELBAPI interface {
	DescribeLoadBalancers(ctx context.Context, input *elasticloadbalancingv2.DescribeLoadBalancersInput, opts ...func(*elasticloadbalancingv2.Options)) (*elasticloadbalancingv2.DescribeLoadBalancersOutput, error)
	DescribeTargetGroups(ctx context.Context, input *elasticloadbalancingv2.DescribeTargetGroupsInput, opts ...func(*elasticloadbalancingv2.Options)) (*elasticloadbalancingv2.DescribeTargetGroupsOutput, error)
	DescribeTargetHealth(ctx context.Context, input *elasticloadbalancingv2.DescribeTargetHealthInput, opts ...func(*elasticloadbalancingv2.Options)) (*elasticloadbalancingv2.DescribeTargetHealthOutput, error)
	DescribeTags(ctx context.Context, input *elasticloadbalancingv2.DescribeTagsInput, opts ...func(*elasticloadbalancingv2.Options)) (*elasticloadbalancingv2.DescribeTagsOutput, error)
}

// ELBAnalyzer finds application and network load balancers with nothing
// behind them or no traffic through them.
type ELBAnalyzer struct {
	deps Deps
}

// NewELBAnalyzer creates the load balancer analyzer.
func NewELBAnalyzer(deps Deps) *ELBAnalyzer {
	return &ELBAnalyzer{deps: deps}
}

func (a *ELBAnalyzer) Code() string                     { return "elb" }
func (a *ELBAnalyzer) Name() string                     { return "Load balancers" }
func (a *ELBAnalyzer) Priority() int                    { return 5 }
func (a *ELBAnalyzer) EstimatedDuration() time.Duration { return 20 * time.Second }

type elbSubject struct {
	targets     int
	healthy     int
	requests    float64
	activeShare float64
}

var elbPatterns = []pattern[elbSubject]{
	{
		Name: "no-targets", Type: model.RecommendTerminate, Priority: 5, Confidence: 0.95,
		Match: func(s elbSubject) bool {
			return s.targets == 0
		},
	},
	{
		Name: "no-healthy-targets", Type: model.RecommendTerminate, Priority: 4, Confidence: 0.8,
		Match: func(s elbSubject) bool {
			return s.healthy == 0
		},
	},
	{
		Name: "zero-requests", Type: model.RecommendTerminate, Priority: 4, Confidence: 0.85,
		Match: func(s elbSubject) bool {
			return s.requests == 0
		},
	},
	{
		Name: "low-traffic", Type: model.RecommendOptimize, Priority: 2, Confidence: 0.5,
		Match: func(s elbSubject) bool {
			return s.activeShare < lowTrafficActiveShare
		},
	},
}

// targetSummary is what sits behind a load balancer.
type targetSummary struct {
	groups  []string
	targets []string
	healthy int
}

// Analyze examines the region's ALBs and NLBs. Gateway load balancers are skipped.
func (a *ELBAnalyzer) Analyze(ctx context.Context, creds awssdk.CredentialsProvider, region, accountID string, opts model.AnalyzeOptions) ([]model.WasteFinding, error) {
	t, cfg := newTask(a.deps, a.Code(), region, accountID, creds, opts)
	client := a.deps.Clients.ELB(cfg)

	if t.stop(ctx, 0) {
		return nil, nil
	}
	lbs, err := listLoadBalancers(ctx, client)
	if err != nil {
		return nil, fmt.Errorf("list load balancers: %w", err)
	}

	var candidates []elbtypes.LoadBalancer
	for _, lb := range lbs {
		if lb.Type == elbtypes.LoadBalancerTypeEnumApplication || lb.Type == elbtypes.LoadBalancerTypeEnumNetwork {
			candidates = append(candidates, lb)
		}
	}
	var tags map[string]map[string]string
	if len(opts.Exclude.Tags) > 0 {
		tags = a.loadBalancerTags(ctx, t, client, candidates)
	}

	var findings []model.WasteFinding
	analyzed := 0
	for _, lb := range candidates {
		lbARN := deref(lb.LoadBalancerArn)
		lbTags := tags[lbARN]
		if tags != nil && lbTags == nil {
			t.logger.Warn().Str("lb", deref(lb.LoadBalancerName)).Msg("Skipping load balancer, tags unavailable")
			continue
		}
		if opts.Exclude.ShouldExclude(lbARN, lbTags) || opts.Exclude.ShouldExclude(deref(lb.LoadBalancerName), lbTags) {
			continue
		}
		if t.stop(ctx, analyzed) {
			break
		}
		analyzed++

		f, ok, err := a.analyzeLoadBalancer(ctx, t, client, lb)
		if err != nil {
			t.logger.Warn().Err(err).Str("lb", deref(lb.LoadBalancerName)).Msg("Skipping load balancer")
			continue
		}
		if ok {
			findings = append(findings, f)
		}
	}
	return findings, nil
}

func (a *ELBAnalyzer) analyzeLoadBalancer(ctx context.Context, t *task, client ELBAPI, lb elbtypes.LoadBalancer) (model.WasteFinding, bool, error) {
	lbARN := deref(lb.LoadBalancerArn)
	name := deref(lb.LoadBalancerName)

	targets, err := describeTargets(ctx, client, lbARN)
	if err != nil {
		return model.WasteFinding{}, false, fmt.Errorf("describe targets: %w", err)
	}

	namespace, metric, rt, row := "AWS/ApplicationELB", "RequestCount", model.ResourceALB, "application"
	if lb.Type == elbtypes.LoadBalancerTypeEnumNetwork {
		namespace, metric, rt, row = "AWS/NetworkELB", "NewFlowCount", model.ResourceNLB, "network"
	}

	subject := elbSubject{targets: len(targets.targets), healthy: targets.healthy}
	var traffic usage
	// Without targets there is nothing to measure.
	if subject.targets > 0 {
		dim := extractLBDimension(lbARN)
		if dim == "" {
			return model.WasteFinding{}, false, fmt.Errorf("no CloudWatch dimension in ARN %q", lbARN)
		}
		series, err := t.metrics.Fetch(ctx, t.lookback, MetricQuery{
			Key:        "traffic",
			Namespace:  namespace,
			Metric:     metric,
			Stat:       "Sum",
			Dimensions: []Dimension{{Name: "LoadBalancer", Value: dim}},
		})
		if err != nil {
			return model.WasteFinding{}, false, err
		}
		traffic = activityUsage(strings.ToLower(metric), series["traffic"])
		subject.requests = series["traffic"].Sum()
		subject.activeShare = traffic.avg
	} else {
		traffic = usage{metric: strings.ToLower(metric)}
	}

	p, ok := firstMatch(elbPatterns, subject)
	if !ok {
		return model.WasteFinding{}, false, nil
	}

	f := t.finding(rt, name, lbARN, name)
	applyPattern(&f, p)
	f.ResourceSubtype = string(lb.Scheme)
	f.CurrentConfiguration = fmt.Sprintf("%s load balancer, %d target groups, %d targets", row, len(targets.groups), len(targets.targets))
	f.Utilization = buildUtilization(traffic, nil, t.lookback)
	f.Dependencies = elbDependencies(targets)

	quote := t.quote(ctx, pricing.CategoryELB, row, "")
	monthly := pricing.MonthlyFromHourly(quote.UnitPrice)
	f.CurrentHourlyCost = quote.UnitPrice
	f.CurrentMonthlyCost = monthly
	f.SetSavings(monthly)
	f.Metadata["priceSource"] = string(quote.Source)
	f.Metadata["scheme"] = string(lb.Scheme)
	f.Metadata["vpcId"] = deref(lb.VpcId)

	switch p.Name {
	case "no-targets":
		f.Message = fmt.Sprintf("Load balancer %q has no registered targets", name)
		f.ImplementationPlan = elbDeletePlan(lbARN, t.region)
	case "no-healthy-targets":
		f.Message = fmt.Sprintf("Load balancer %q has %d targets and none are healthy", name, subject.targets)
		f.ImplementationPlan = elbDeletePlan(lbARN, t.region)
	case "zero-requests":
		f.Message = fmt.Sprintf("Zero %s over %d days", strings.ToLower(metric), t.lookback)
		f.ImplementationPlan = elbDeletePlan(lbARN, t.region)
	case "low-traffic":
		f.Message = fmt.Sprintf("Traffic in %.1f%% of hours over %d days", subject.activeShare, t.lookback)
		f.RecommendedConfiguration = "consolidated into a shared " + row + " load balancer"
		f.ImplementationPlan = elbConsolidatePlan(lbARN, t.region)
	}

	if at, ok := traffic.series.LastAbove(0); ok {
		f.SetLastActivity(at, a.deps.now())
	}
	t.markSpike(&f, traffic.series)
	return f, true, nil
}

// loadBalancerTags reads tags in batches, keyed by load balancer ARN.
// Load balancers in a failed batch have no entry.
func (a *ELBAnalyzer) loadBalancerTags(ctx context.Context, t *task, client ELBAPI, lbs []elbtypes.LoadBalancer) map[string]map[string]string {
	arns := make([]string, 0, len(lbs))
	for _, lb := range lbs {
		arns = append(arns, deref(lb.LoadBalancerArn))
	}

	out := make(map[string]map[string]string, len(arns))
	for _, b := range batch(arns, maxDescribeTagsARNs) {
		resp, err := client.DescribeTags(ctx, &elasticloadbalancingv2.DescribeTagsInput{ResourceArns: b})
		if err != nil {
			t.logger.Warn().Err(err).Int("count", len(b)).Msg("Failed to describe load balancer tags")
			continue
		}
		for _, lbARN := range b {
			out[lbARN] = map[string]string{}
		}
		for _, desc := range resp.TagDescriptions {
			if desc.ResourceArn != nil {
				out[*desc.ResourceArn] = elbTagsToMap(desc.Tags)
			}
		}
	}
	return out
}

func listLoadBalancers(ctx context.Context, client ELBAPI) ([]elbtypes.LoadBalancer, error) {
	var lbs []elbtypes.LoadBalancer
	var marker *string

	for {
		out, err := client.DescribeLoadBalancers(ctx, &elasticloadbalancingv2.DescribeLoadBalancersInput{
			Marker: marker,
		})
		if err != nil {
			return nil, err
		}
		lbs = append(lbs, out.LoadBalancers...)
		if out.NextMarker == nil {
			break
		}
		marker = out.NextMarker
	}
	return lbs, nil
}

func describeTargets(ctx context.Context, client ELBAPI, lbARN string) (targetSummary, error) {
	var s targetSummary
	tgOut, err := client.DescribeTargetGroups(ctx, &elasticloadbalancingv2.DescribeTargetGroupsInput{
		LoadBalancerArn: &lbARN,
	})
	if err != nil {
		return s, err
	}

	seen := make(map[string]bool)
	for _, tg := range tgOut.TargetGroups {
		if tg.TargetGroupArn == nil {
			continue
		}
		s.groups = append(s.groups, *tg.TargetGroupArn)
		healthOut, err := client.DescribeTargetHealth(ctx, &elasticloadbalancingv2.DescribeTargetHealthInput{
			TargetGroupArn: tg.TargetGroupArn,
		})
		if err != nil {
			return s, err
		}
		for _, desc := range healthOut.TargetHealthDescriptions {
			if desc.Target == nil || desc.Target.Id == nil {
				continue
			}
			id := *desc.Target.Id
			if !seen[id] {
				seen[id] = true
				s.targets = append(s.targets, id)
			}
			if desc.TargetHealth != nil && desc.TargetHealth.State == elbtypes.TargetHealthStateEnumHealthy {
				s.healthy++
			}
		}
	}
	return s, nil
}

func elbDependencies(s targetSummary) []model.ResourceDependency {
	deps := []model.ResourceDependency{}
	for _, tg := range s.groups {
		deps = append(deps, model.ResourceDependency{
			ResourceID:     tg,
			ResourceType:   "target-group",
			DependencyType: model.DependencyUsedBy,
		})
	}
	for _, id := range s.targets {
		deps = append(deps, model.ResourceDependency{
			ResourceID:     id,
			ResourceType:   "target",
			DependencyType: model.DependencyUsedBy,
		})
	}
	return deps
}

// extractLBDimension extracts the CloudWatch dimension value from an ELBv2 ARN.
// Input:  arn:aws:elasticloadbalancing:us-east-1:123456:loadbalancer/app/my-lb/abc123
// Output: app/my-lb/abc123
func extractLBDimension(arn string) string {
	const prefix = "loadbalancer/"
	if i := strings.Index(arn, prefix); i >= 0 {
		return arn[i+len(prefix):]
	}
	return ""
}

func elbDeletePlan(lbARN, region string) model.ImplementationPlan {
	return newPlan(false,
		safe("Check DNS records and clients pointing at the load balancer",
			fmt.Sprintf("aws elbv2 describe-load-balancers --load-balancer-arns %s --query 'LoadBalancers[].DNSName' --region %s", lbARN, region)),
		review("Remove listeners and confirm nothing breaks",
			fmt.Sprintf("aws elbv2 describe-listeners --load-balancer-arn %s --region %s", lbARN, region)),
		destructive("Delete the load balancer",
			fmt.Sprintf("aws elbv2 delete-load-balancer --load-balancer-arn %s --region %s", lbARN, region)),
	)
}

func elbConsolidatePlan(lbARN, region string) model.ImplementationPlan {
	return newPlan(false,
		safe("Export listener rules",
			fmt.Sprintf("aws elbv2 describe-listeners --load-balancer-arn %s --region %s", lbARN, region)),
		review("Recreate the rules on a shared load balancer and move DNS", ""),
		destructive("Delete the load balancer once traffic has moved",
			fmt.Sprintf("aws elbv2 delete-load-balancer --load-balancer-arn %s --region %s", lbARN, region)),
	)
}
