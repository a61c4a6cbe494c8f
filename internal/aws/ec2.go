package aws

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"

	"github.com/ppiankov/wastespectre/internal/model"
	"github.com/ppiankov/wastespectre/internal/pricing"
	"github.com/ppiankov/wastespectre/internal/timeseries"
)

const (
	// zeroActivityCPU is the peak hourly CPU below which an instance did nothing.
	zeroActivityCPU = 2.0
	// zeroActivityNetworkBytes is the total traffic over the lookback treated as none.
	zeroActivityNetworkBytes = 5 * 1024 * 1024
	// oversizedCPUAvg and oversizedCPUPeak bound an instance that fits one size down.
	oversizedCPUAvg  = 20.0
	oversizedCPUPeak = 40.0
	oversizedMemory  = 40.0
	// burstyCPUPeak marks short high peaks over a low average.
	burstyCPUPeak = 80.0
	burstyCPUAvg  = 20.0
	// autoScaleSavingsFraction is the expected saving from scaling with demand.
	autoScaleSavingsFraction = 0.3
	// migrateFallbackFraction applies when the successor type has no price.
	migrateFallbackFraction = 0.1
)

// stopReasonTime matches the timestamp in a StateTransitionReason such as
// "User initiated (2024-01-15 10:30:00 GMT)".
var stopReasonTime = regexp.MustCompile(`\((\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}) GMT\)`)

// EC2API is the minimal interface for EC2 instance operations.
type EC2API interface {
	DescribeInstances(ctx context.Context, input *ec2.DescribeInstancesInput, opts ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error)
}

// EC2Analyzer finds idle, stopped, oversized, bursty and previous-generation instances.
type EC2Analyzer struct {
	deps Deps
}

// NewEC2Analyzer creates the EC2 analyzer.
func NewEC2Analyzer(deps Deps) *EC2Analyzer {
	return &EC2Analyzer{deps: deps}
}

func (a *EC2Analyzer) Code() string                     { return "ec2" }
func (a *EC2Analyzer) Name() string                     { return "EC2 instances" }
func (a *EC2Analyzer) Priority() int                    { return 9 }
func (a *EC2Analyzer) EstimatedDuration() time.Duration { return 45 * time.Second }

type ec2Subject struct {
	running          bool
	daysStopped      int
	hasMetrics       bool
	cpuAvg           float64
	cpuPeak          float64
	networkBytes     float64
	hasMem           bool
	memAvg           float64
	smaller          string
	successor        string
	idleCPU          float64
	highMem          float64
	stoppedThreshold int
}

var ec2Patterns = []pattern[ec2Subject]{
	{
		Name: "zero-activity", Type: model.RecommendTerminate, Priority: 5, Confidence: 0.9,
		Match: func(s ec2Subject) bool {
			return s.running && s.hasMetrics && s.cpuPeak < zeroActivityCPU && s.networkBytes < zeroActivityNetworkBytes
		},
	},
	{
		Name: "idle", Type: model.RecommendTerminate, Priority: 4, Confidence: 0.75,
		Match: func(s ec2Subject) bool {
			return s.running && s.hasMetrics && s.cpuAvg < s.idleCPU && !(s.hasMem && s.memAvg >= s.highMem)
		},
	},
	{
		Name: "stopped-long", Type: model.RecommendTerminate, Priority: 3, Confidence: 0.85,
		Match: func(s ec2Subject) bool {
			return !s.running && s.daysStopped >= s.stoppedThreshold
		},
	},
	{
		Name: "oversized", Type: model.RecommendDownsize, Priority: 3, Confidence: 0.7,
		Match: func(s ec2Subject) bool {
			return s.running && s.hasMetrics && s.smaller != "" &&
				s.cpuAvg < oversizedCPUAvg && s.cpuPeak < oversizedCPUPeak &&
				(!s.hasMem || s.memAvg < oversizedMemory)
		},
	},
	{
		Name: "bursty", Type: model.RecommendAutoScale, Priority: 2, Confidence: 0.6,
		Match: func(s ec2Subject) bool {
			return s.running && s.hasMetrics && s.cpuPeak >= burstyCPUPeak && s.cpuAvg < burstyCPUAvg
		},
	},
	{
		Name: "previous-generation", Type: model.RecommendMigrate, Priority: 2, Confidence: 0.8,
		Match: func(s ec2Subject) bool {
			return s.running && s.successor != ""
		},
	},
}

// Analyze examines running and stopped instances in the region.
func (a *EC2Analyzer) Analyze(ctx context.Context, creds awssdk.CredentialsProvider, region, accountID string, opts model.AnalyzeOptions) ([]model.WasteFinding, error) {
	t, cfg := newTask(a.deps, a.Code(), region, accountID, creds, opts)
	client := a.deps.Clients.EC2(cfg)

	if t.stop(ctx, 0) {
		return nil, nil
	}
	instances, err := listInstances(ctx, client)
	if err != nil {
		return nil, fmt.Errorf("list EC2 instances: %w", err)
	}

	var selected []ec2types.Instance
	for _, inst := range instances {
		if opts.Exclude.ShouldExclude(deref(inst.InstanceId), ec2TagsToMap(inst.Tags)) {
			continue
		}
		if t.stop(ctx, len(selected)) {
			break
		}
		selected = append(selected, inst)
	}
	metrics := a.prefetchMetrics(ctx, t, selected)

	var findings []model.WasteFinding
	for i, inst := range selected {
		id := deref(inst.InstanceId)
		if t.stop(ctx, i) {
			break
		}

		f, ok, err := a.analyzeInstance(ctx, t, inst, metrics[id])
		if err != nil {
			t.logger.Warn().Err(err).Str("instance", id).Msg("Skipping instance")
			continue
		}
		if ok {
			findings = append(findings, f)
		}
	}
	return findings, nil
}

// prefetchMetrics loads the series of every running instance in as few
// GetMetricData calls as possible, keyed by instance ID. When the batched
// fetch fails it returns nil and each instance fetches its own series.
func (a *EC2Analyzer) prefetchMetrics(ctx context.Context, t *task, instances []ec2types.Instance) map[string]map[string]timeseries.Series {
	var queries []MetricQuery
	running := 0
	for _, inst := range instances {
		if !isRunning(inst) {
			continue
		}
		running++
		id := deref(inst.InstanceId)
		for _, q := range ec2Queries(id, t.deep()) {
			q.Key = id + "|" + q.Key
			queries = append(queries, q)
		}
	}
	if running < 2 {
		return nil
	}

	all, err := t.metrics.Fetch(ctx, t.lookback, queries...)
	if err != nil {
		t.logger.Warn().Err(err).Int("instances", running).Msg("Batched metric fetch failed, fetching per instance")
		return nil
	}
	out := make(map[string]map[string]timeseries.Series, running)
	for key, s := range all {
		id, name, _ := strings.Cut(key, "|")
		if out[id] == nil {
			out[id] = make(map[string]timeseries.Series)
		}
		out[id][name] = s
	}
	return out
}

func ec2Queries(id string, deep bool) []MetricQuery {
	queries := []MetricQuery{
		ec2Metric("cpu", "AWS/EC2", "CPUUtilization", "Average", id),
		ec2Metric("netIn", "AWS/EC2", "NetworkIn", "Sum", id),
		ec2Metric("netOut", "AWS/EC2", "NetworkOut", "Sum", id),
	}
	if deep {
		queries = append(queries, ec2Metric("mem", "CWAgent", "mem_used_percent", "Average", id))
	}
	return queries
}

func isRunning(inst ec2types.Instance) bool {
	return inst.State != nil && inst.State.Name == ec2types.InstanceStateNameRunning
}

// analyzeInstance evaluates one instance. series holds its prefetched
// metrics; when nil they are fetched here.
func (a *EC2Analyzer) analyzeInstance(ctx context.Context, t *task, inst ec2types.Instance, series map[string]timeseries.Series) (model.WasteFinding, bool, error) {
	id := deref(inst.InstanceId)
	instanceType := string(inst.InstanceType)
	now := a.deps.now()

	subject := ec2Subject{
		running:          isRunning(inst),
		smaller:          smallerInstanceType(instanceType),
		successor:        successorInstanceType(instanceType),
		idleCPU:          t.idleCPU(),
		highMem:          t.highMemory(),
		stoppedThreshold: t.stoppedDays(),
	}

	var (
		util      model.UtilizationPattern
		cpu       usage
		stoppedAt time.Time
	)
	if subject.running {
		if series == nil {
			var err error
			series, err = t.metrics.Fetch(ctx, t.lookback, ec2Queries(id, t.deep())...)
			if err != nil {
				return model.WasteFinding{}, false, err
			}
		}

		cpu = percentUsage("cpu", series["cpu"])
		subject.hasMetrics = len(cpu.series) > 0
		subject.cpuAvg = cpu.avg
		subject.cpuPeak = cpu.peak
		subject.networkBytes = series["netIn"].Sum() + series["netOut"].Sum()

		var secondary *usage
		if mem := series["mem"]; len(mem) > 0 {
			m := percentUsage("memory", mem)
			secondary = &m
			subject.hasMem = true
			subject.memAvg = m.avg
		}
		util = buildUtilization(cpu, secondary, t.lookback)
	} else {
		stoppedAt = stoppedSince(inst)
		if stoppedAt.IsZero() {
			return model.WasteFinding{}, false, nil
		}
		subject.daysStopped = int(now.Sub(stoppedAt).Hours() / 24)
		util = buildUtilization(usage{}, nil, t.lookback)
	}

	p, ok := firstMatch(ec2Patterns, subject)
	if !ok {
		return model.WasteFinding{}, false, nil
	}

	f := t.finding(model.ResourceEC2, id, arn("ec2", t.region, t.accountID, "instance/"+id), instanceName(inst))
	applyPattern(&f, p)
	f.ResourceSubtype = instanceType
	f.CurrentConfiguration = instanceType
	f.Utilization = util
	f.Dependencies = ec2Dependencies(inst)

	monthly, quote := 0.0, t.quote(ctx, pricing.CategoryEC2, instanceType, "")
	if subject.running {
		monthly = pricing.MonthlyFromHourly(quote.UnitPrice)
		f.CurrentHourlyCost = quote.UnitPrice
	}
	f.CurrentMonthlyCost = monthly
	f.Metadata["priceSource"] = string(quote.Source)
	f.Metadata["state"] = "stopped"
	if subject.running {
		f.Metadata["state"] = "running"
	}

	switch p.Name {
	case "zero-activity":
		f.Message = fmt.Sprintf("Peak CPU %.1f%% and %.1f MB network traffic over %d days", subject.cpuPeak, subject.networkBytes/1024/1024, t.lookback)
		f.RecommendedConfiguration = "terminated"
		f.SetSavings(monthly)
		f.ImplementationPlan = ec2TerminatePlan(id, t.region, true)
	case "idle":
		f.Message = idleMessage(subject.cpuAvg, subject.memAvg, subject.hasMem, t.lookback)
		f.RecommendedConfiguration = "terminated"
		f.SetSavings(monthly)
		f.ImplementationPlan = ec2TerminatePlan(id, t.region, true)
	case "stopped-long":
		f.Message = fmt.Sprintf("Stopped for %d days; attached volumes are still billed", subject.daysStopped)
		f.RecommendedConfiguration = "terminated"
		f.SetSavings(0)
		f.Metadata["daysStopped"] = subject.daysStopped
		f.ImplementationPlan = ec2TerminatePlan(id, t.region, false)
	case "oversized":
		f.Message = fmt.Sprintf("Average CPU %.1f%%, peak %.1f%% over %d days", subject.cpuAvg, subject.cpuPeak, t.lookback)
		f.RecommendedConfiguration = subject.smaller
		f.SetSavings(monthly - a.monthlyOrFraction(ctx, t, subject.smaller, monthly, 0.5))
		f.ImplementationPlan = ec2ResizePlan(id, subject.smaller, t.region)
	case "bursty":
		f.Message = fmt.Sprintf("Average CPU %.1f%% with peaks of %.1f%%", subject.cpuAvg, subject.cpuPeak)
		f.RecommendedConfiguration = "auto scaling group (min 1)"
		f.SetSavings(monthly * autoScaleSavingsFraction)
		f.ImplementationPlan = ec2AutoScalePlan(id, instanceType, t.region)
	case "previous-generation":
		f.Message = fmt.Sprintf("%s is a previous-generation type; %s is cheaper and faster", instanceType, subject.successor)
		f.RecommendedConfiguration = subject.successor
		f.SetSavings(monthly - a.monthlyOrFraction(ctx, t, subject.successor, monthly, 1-migrateFallbackFraction))
		f.ImplementationPlan = ec2ResizePlan(id, subject.successor, t.region)
	}

	if subject.running {
		if at, ok := cpu.series.LastAbove(subject.idleCPU); ok {
			f.SetLastActivity(at, now)
		}
		t.markSpike(&f, cpu.series)
	} else {
		f.SetLastActivity(stoppedAt, now)
	}
	return f, true, nil
}

// monthlyOrFraction prices instanceType, or returns fraction of fallback when unpriced.
func (a *EC2Analyzer) monthlyOrFraction(ctx context.Context, t *task, instanceType string, fallback, fraction float64) float64 {
	q := t.quote(ctx, pricing.CategoryEC2, instanceType, "")
	if q.Source == model.PriceUnknown || q.UnitPrice <= 0 {
		return fallback * fraction
	}
	return pricing.MonthlyFromHourly(q.UnitPrice)
}

func ec2Metric(key, namespace, metric, stat, instanceID string) MetricQuery {
	return MetricQuery{
		Key:        key,
		Namespace:  namespace,
		Metric:     metric,
		Stat:       stat,
		Dimensions: []Dimension{{Name: "InstanceId", Value: instanceID}},
	}
}

func listInstances(ctx context.Context, client EC2API) ([]ec2types.Instance, error) {
	var instances []ec2types.Instance
	paginator := ec2.NewDescribeInstancesPaginator(client, &ec2.DescribeInstancesInput{
		Filters: []ec2types.Filter{
			{
				Name:   awssdk.String("instance-state-name"),
				Values: []string{"running", "stopped"},
			},
		},
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, res := range page.Reservations {
			instances = append(instances, res.Instances...)
		}
	}
	return instances, nil
}

func ec2Dependencies(inst ec2types.Instance) []model.ResourceDependency {
	deps := []model.ResourceDependency{}
	for _, bdm := range inst.BlockDeviceMappings {
		if bdm.Ebs != nil && bdm.Ebs.VolumeId != nil {
			deps = append(deps, model.ResourceDependency{
				ResourceID:     *bdm.Ebs.VolumeId,
				ResourceType:   "ebs-volume",
				DependencyType: model.DependencyAttachedTo,
			})
		}
	}
	for _, sg := range inst.SecurityGroups {
		if sg.GroupId != nil {
			deps = append(deps, model.ResourceDependency{
				ResourceID:     *sg.GroupId,
				ResourceType:   "security-group",
				DependencyType: model.DependencyUses,
			})
		}
	}
	return deps
}

func instanceName(inst ec2types.Instance) string {
	for _, tag := range inst.Tags {
		if deref(tag.Key) == "Name" {
			return deref(tag.Value)
		}
	}
	return ""
}

// stoppedSince parses the stop time from the state transition reason,
// falling back to the launch time.
func stoppedSince(inst ec2types.Instance) time.Time {
	if m := stopReasonTime.FindStringSubmatch(deref(inst.StateTransitionReason)); m != nil {
		if t, err := time.Parse("2006-01-02 15:04:05", m[1]); err == nil {
			return t.UTC()
		}
	}
	if inst.LaunchTime != nil {
		return *inst.LaunchTime
	}
	return time.Time{}
}

func idleMessage(avgCPU, avgMem float64, hasMem bool, days int) string {
	if hasMem {
		return fmt.Sprintf("CPU %.1f%%, memory %.1f%% over %d days", avgCPU, avgMem, days)
	}
	return fmt.Sprintf("CPU %.1f%% over %d days", avgCPU, days)
}

func ec2TerminatePlan(id, region string, running bool) model.ImplementationPlan {
	steps := []model.PlanStep{
		safe("Confirm the instance has no owner or scheduled workload",
			fmt.Sprintf("aws ec2 describe-instances --instance-ids %s --region %s", id, region)),
		safe("Create an AMI backup",
			fmt.Sprintf("aws ec2 create-image --instance-id %s --name %s-final --no-reboot --region %s", id, id, region)),
	}
	if running {
		steps = append(steps, review("Stop the instance and watch for breakage for 24-48h",
			fmt.Sprintf("aws ec2 stop-instances --instance-ids %s --region %s", id, region)))
	}
	steps = append(steps, destructive("Terminate the instance",
		fmt.Sprintf("aws ec2 terminate-instances --instance-ids %s --region %s", id, region)))
	return newPlan(running, steps...)
}

func ec2ResizePlan(id, target, region string) model.ImplementationPlan {
	return newPlan(true,
		safe("Create an AMI backup",
			fmt.Sprintf("aws ec2 create-image --instance-id %s --name %s-pre-resize --no-reboot --region %s", id, id, region)),
		review("Stop the instance",
			fmt.Sprintf("aws ec2 stop-instances --instance-ids %s --region %s", id, region)),
		review("Change the instance type to "+target,
			fmt.Sprintf("aws ec2 modify-instance-attribute --instance-id %s --instance-type Value=%s --region %s", id, target, region)),
		review("Start the instance and verify the workload",
			fmt.Sprintf("aws ec2 start-instances --instance-ids %s --region %s", id, region)),
	)
}

func ec2AutoScalePlan(id, instanceType, region string) model.ImplementationPlan {
	return newPlan(false,
		safe("Create an AMI of the instance",
			fmt.Sprintf("aws ec2 create-image --instance-id %s --name %s-asg --no-reboot --region %s", id, id, region)),
		review("Create a launch template from the AMI",
			fmt.Sprintf("aws ec2 create-launch-template --launch-template-name %s-lt --launch-template-data '{\"InstanceType\":\"%s\"}' --region %s", id, instanceType, region)),
		review("Create an Auto Scaling group with CPU target tracking",
			fmt.Sprintf("aws autoscaling create-auto-scaling-group --auto-scaling-group-name %s-asg --launch-template LaunchTemplateName=%s-lt --min-size 1 --max-size 4 --region %s", id, id, region)),
		destructive("Terminate the original instance once the group serves traffic",
			fmt.Sprintf("aws ec2 terminate-instances --instance-ids %s --region %s", id, region)),
	)
}
