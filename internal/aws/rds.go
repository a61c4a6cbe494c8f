package aws

import (
	"context"
	"fmt"
	"strings"
	"time"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/rds"
	rdstypes "github.com/aws/aws-sdk-go-v2/service/rds/types"

	"github.com/ppiankov/wastespectre/internal/model"
	"github.com/ppiankov/wastespectre/internal/pricing"
	"github.com/ppiankov/wastespectre/internal/timeseries"
)

const (
	rdsOversizedCPUAvg  = 20.0
	rdsOversizedCPUPeak = 50.0
	rdsOversizedMemory  = 40.0
)

// nonProductionEnvs are environment tag values that do not need Multi-AZ.
var nonProductionEnvs = map[string]bool{
	"dev": true, "development": true, "test": true, "testing": true,
	"qa": true, "staging": true, "stage": true, "sandbox": true,
}

// RDSAPI is the minimal interface for RDS operations.
type RDSAPI interface {
	DescribeDBInstances(ctx context.Context, input *rds.DescribeDBInstancesInput, opts ...func(*rds.Options)) (*rds.DescribeDBInstancesOutput, error)
}

// RDSAnalyzer finds unused, oversized and misconfigured database instances.
type RDSAnalyzer struct {
	deps Deps
}

// NewRDSAnalyzer creates the RDS analyzer.
func NewRDSAnalyzer(deps Deps) *RDSAnalyzer {
	return &RDSAnalyzer{deps: deps}
}

func (a *RDSAnalyzer) Code() string                     { return "rds" }
func (a *RDSAnalyzer) Name() string                     { return "RDS instances" }
func (a *RDSAnalyzer) Priority() int                    { return 8 }
func (a *RDSAnalyzer) EstimatedDuration() time.Duration { return 30 * time.Second }

type rdsSubject struct {
	hasMetrics     bool
	maxConnections float64
	cpuAvg         float64
	cpuPeak        float64
	hasMem         bool
	memPct         float64
	multiAZ        bool
	nonProduction  bool
	smaller        string
	successor      string
	idleCPU        float64
	highMem        float64
}

var rdsPatterns = []pattern[rdsSubject]{
	{
		Name: "no-connections", Type: model.RecommendTerminate, Priority: 5, Confidence: 0.85,
		Match: func(s rdsSubject) bool {
			return s.hasMetrics && s.maxConnections == 0
		},
	},
	{
		Name: "idle", Type: model.RecommendTerminate, Priority: 4, Confidence: 0.7,
		Match: func(s rdsSubject) bool {
			return s.hasMetrics && s.cpuAvg < s.idleCPU && !(s.hasMem && s.memPct >= s.highMem)
		},
	},
	{
		Name: "multi-az-non-production", Type: model.RecommendOptimize, Priority: 3, Confidence: 0.8,
		Match: func(s rdsSubject) bool {
			return s.multiAZ && s.nonProduction
		},
	},
	{
		Name: "oversized", Type: model.RecommendDownsize, Priority: 3, Confidence: 0.7,
		Match: func(s rdsSubject) bool {
			return s.hasMetrics && s.smaller != "" &&
				s.cpuAvg < rdsOversizedCPUAvg && s.cpuPeak < rdsOversizedCPUPeak &&
				(!s.hasMem || s.memPct < rdsOversizedMemory)
		},
	},
	{
		Name: "previous-generation", Type: model.RecommendMigrate, Priority: 2, Confidence: 0.8,
		Match: func(s rdsSubject) bool {
			return s.successor != ""
		},
	},
}

// Analyze examines available DB instances in the region.
func (a *RDSAnalyzer) Analyze(ctx context.Context, creds awssdk.CredentialsProvider, region, accountID string, opts model.AnalyzeOptions) ([]model.WasteFinding, error) {
	t, cfg := newTask(a.deps, a.Code(), region, accountID, creds, opts)
	client := a.deps.Clients.RDS(cfg)

	if t.stop(ctx, 0) {
		return nil, nil
	}
	instances, err := listDBInstances(ctx, client)
	if err != nil {
		return nil, fmt.Errorf("list RDS instances: %w", err)
	}

	var findings []model.WasteFinding
	analyzed := 0
	for _, inst := range instances {
		id := deref(inst.DBInstanceIdentifier)
		if opts.Exclude.ShouldExclude(id, rdsTagsToMap(inst.TagList)) {
			continue
		}
		// Only check instances that are "available" (running)
		if deref(inst.DBInstanceStatus) != "available" {
			continue
		}
		if t.stop(ctx, analyzed) {
			break
		}
		analyzed++

		f, ok, err := a.analyzeInstance(ctx, t, inst)
		if err != nil {
			t.logger.Warn().Err(err).Str("db_instance", id).Msg("Skipping DB instance")
			continue
		}
		if ok {
			findings = append(findings, f)
		}
	}
	return findings, nil
}

func (a *RDSAnalyzer) analyzeInstance(ctx context.Context, t *task, inst rdstypes.DBInstance) (model.WasteFinding, bool, error) {
	id := deref(inst.DBInstanceIdentifier)
	class := deref(inst.DBInstanceClass)
	multiAZ := inst.MultiAZ != nil && *inst.MultiAZ

	series, err := t.metrics.Fetch(ctx, t.lookback,
		rdsMetric("cpu", "CPUUtilization", "Average", id),
		rdsMetric("connections", "DatabaseConnections", "Maximum", id),
		rdsMetric("freeable", "FreeableMemory", "Average", id),
	)
	if err != nil {
		return model.WasteFinding{}, false, err
	}

	cpu := percentUsage("cpu", series["cpu"])
	conns := series["connections"]
	subject := rdsSubject{
		hasMetrics:     len(cpu.series) > 0 || len(conns) > 0,
		maxConnections: conns.Max(),
		cpuAvg:         cpu.avg,
		cpuPeak:        cpu.peak,
		multiAZ:        multiAZ,
		nonProduction:  isNonProduction(rdsTagsToMap(inst.TagList)),
		smaller:        smallerInstanceType(class),
		successor:      successorInstanceType(class),
		idleCPU:        t.idleCPU(),
		highMem:        t.highMemory(),
	}

	// FreeableMemory is bytes free; convert to percent used of the class total.
	var secondary *usage
	if total, known := pricing.RDSInstanceMemoryBytes(class); known && len(series["freeable"]) > 0 {
		used := make(timeseries.Series, len(series["freeable"]))
		for i, p := range series["freeable"] {
			used[i] = timeseries.Point{Timestamp: p.Timestamp, Value: clampPercent(100 * (1 - p.Value/float64(total)))}
		}
		m := percentUsage("memory", used)
		secondary = &m
		subject.hasMem = true
		subject.memPct = m.avg
	}

	p, ok := firstMatch(rdsPatterns, subject)
	if !ok {
		return model.WasteFinding{}, false, nil
	}

	f := t.finding(model.ResourceRDS, id, deref(inst.DBInstanceArn), id)
	if f.ResourceARN == "" {
		f.ResourceARN = arn("rds", t.region, t.accountID, "db:"+id)
	}
	applyPattern(&f, p)
	f.ResourceSubtype = deref(inst.Engine)
	f.CurrentConfiguration = rdsConfiguration(class, multiAZ)
	f.Utilization = buildUtilization(cpu, secondary, t.lookback)
	f.Dependencies = rdsDependencies(inst)

	hourly, quote := a.hourly(ctx, t, class, multiAZ)
	monthly := pricing.MonthlyFromHourly(hourly)
	f.CurrentHourlyCost = hourly
	f.CurrentMonthlyCost = monthly
	f.Metadata["priceSource"] = string(quote.Source)
	f.Metadata["engine"] = deref(inst.Engine)
	f.Metadata["multiAZ"] = multiAZ

	switch p.Name {
	case "no-connections":
		f.Message = fmt.Sprintf("Zero connections over %d days, CPU %.1f%%", t.lookback, subject.cpuAvg)
		f.RecommendedConfiguration = "deleted (final snapshot kept)"
		f.SetSavings(monthly)
		f.ImplementationPlan = rdsDeletePlan(id, t.region)
	case "idle":
		f.Message = rdsIdleMessage(subject.cpuAvg, subject.memPct, subject.hasMem, subject.maxConnections, t.lookback)
		f.RecommendedConfiguration = "deleted (final snapshot kept)"
		f.SetSavings(monthly)
		f.ImplementationPlan = rdsDeletePlan(id, t.region)
	case "multi-az-non-production":
		f.Message = "Multi-AZ enabled on a non-production database"
		f.RecommendedConfiguration = rdsConfiguration(class, false)
		f.SetSavings(monthly / 2)
		f.ImplementationPlan = rdsModifyPlan(id, t.region, "Disable Multi-AZ", "--no-multi-az", false)
	case "oversized":
		f.Message = fmt.Sprintf("Average CPU %.1f%%, peak %.1f%% over %d days", subject.cpuAvg, subject.cpuPeak, t.lookback)
		f.RecommendedConfiguration = rdsConfiguration(subject.smaller, multiAZ)
		smaller, _ := a.hourly(ctx, t, subject.smaller, multiAZ)
		f.SetSavings(monthly - monthlyOrHalf(smaller, monthly))
		f.ImplementationPlan = rdsModifyPlan(id, t.region, "Change the instance class to "+subject.smaller, "--db-instance-class "+subject.smaller, true)
	case "previous-generation":
		f.Message = fmt.Sprintf("%s is a previous-generation class; %s is cheaper and faster", class, subject.successor)
		f.RecommendedConfiguration = rdsConfiguration(subject.successor, multiAZ)
		next, _ := a.hourly(ctx, t, subject.successor, multiAZ)
		if next > 0 {
			f.SetSavings(monthly - pricing.MonthlyFromHourly(next))
		} else {
			f.SetSavings(monthly * migrateFallbackFraction)
		}
		f.ImplementationPlan = rdsModifyPlan(id, t.region, "Change the instance class to "+subject.successor, "--db-instance-class "+subject.successor, true)
	}

	if at, ok := conns.LastAbove(0); ok {
		f.SetLastActivity(at, a.deps.now())
	}
	t.markSpike(&f, cpu.series)
	return f, true, nil
}

func rdsIdleMessage(cpuAvg, memPct float64, hasMem bool, maxConns float64, lookback int) string {
	memSuffix := ""
	if hasMem {
		memSuffix = fmt.Sprintf(", memory %.1f%%", memPct)
	}
	return fmt.Sprintf("Average CPU %.1f%%%s with at most %.0f connections over %d days", cpuAvg, memSuffix, maxConns, lookback)
}

// hourly is the instance-hour price, doubled for Multi-AZ.
func (a *RDSAnalyzer) hourly(ctx context.Context, t *task, class string, multiAZ bool) (float64, model.PriceQuote) {
	q := t.quote(ctx, pricing.CategoryRDS, class, "")
	price := q.UnitPrice
	if multiAZ {
		price *= 2
	}
	return price, q
}

func monthlyOrHalf(hourly, fallbackMonthly float64) float64 {
	if hourly <= 0 {
		return fallbackMonthly / 2
	}
	return pricing.MonthlyFromHourly(hourly)
}

func rdsMetric(key, metric, stat, id string) MetricQuery {
	return MetricQuery{
		Key:        key,
		Namespace:  "AWS/RDS",
		Metric:     metric,
		Stat:       stat,
		Dimensions: []Dimension{{Name: "DBInstanceIdentifier", Value: id}},
	}
}

func rdsConfiguration(class string, multiAZ bool) string {
	if multiAZ {
		return class + " (Multi-AZ)"
	}
	return class + " (Single-AZ)"
}

func isNonProduction(tags map[string]string) bool {
	for _, key := range []string{"Environment", "environment", "Env", "env", "Stage", "stage"} {
		if v, ok := tags[key]; ok && nonProductionEnvs[strings.ToLower(v)] {
			return true
		}
	}
	return false
}

func clampPercent(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

func rdsDependencies(inst rdstypes.DBInstance) []model.ResourceDependency {
	deps := []model.ResourceDependency{}
	for _, sg := range inst.VpcSecurityGroups {
		if sg.VpcSecurityGroupId != nil {
			deps = append(deps, model.ResourceDependency{
				ResourceID:     *sg.VpcSecurityGroupId,
				ResourceType:   "security-group",
				DependencyType: model.DependencyUses,
			})
		}
	}
	if inst.DBSubnetGroup != nil && inst.DBSubnetGroup.DBSubnetGroupName != nil {
		deps = append(deps, model.ResourceDependency{
			ResourceID:     *inst.DBSubnetGroup.DBSubnetGroupName,
			ResourceType:   "db-subnet-group",
			DependencyType: model.DependencyUses,
		})
	}
	for _, replica := range inst.ReadReplicaDBInstanceIdentifiers {
		deps = append(deps, model.ResourceDependency{
			ResourceID:     replica,
			ResourceType:   "rds-read-replica",
			DependencyType: model.DependencyUsedBy,
		})
	}
	return deps
}

func listDBInstances(ctx context.Context, client RDSAPI) ([]rdstypes.DBInstance, error) {
	var instances []rdstypes.DBInstance
	paginator := rds.NewDescribeDBInstancesPaginator(client, &rds.DescribeDBInstancesInput{})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		instances = append(instances, page.DBInstances...)
	}
	return instances, nil
}

func rdsDeletePlan(id, region string) model.ImplementationPlan {
	return newPlan(true,
		safe("Confirm no application connection strings reference the instance",
			fmt.Sprintf("aws rds describe-db-instances --db-instance-identifier %s --region %s", id, region)),
		safe("Take a manual snapshot",
			fmt.Sprintf("aws rds create-db-snapshot --db-instance-identifier %s --db-snapshot-identifier %s-final --region %s", id, id, region)),
		review("Stop the instance for up to 7 days and watch for errors",
			fmt.Sprintf("aws rds stop-db-instance --db-instance-identifier %s --region %s", id, region)),
		destructive("Delete the instance keeping a final snapshot",
			fmt.Sprintf("aws rds delete-db-instance --db-instance-identifier %s --final-db-snapshot-identifier %s-deleted --region %s", id, id, region)),
	)
}

func rdsModifyPlan(id, region, desc, flag string, downtime bool) model.ImplementationPlan {
	return newPlan(downtime,
		safe("Take a manual snapshot",
			fmt.Sprintf("aws rds create-db-snapshot --db-instance-identifier %s --db-snapshot-identifier %s-pre-change --region %s", id, id, region)),
		review(desc+" during the next maintenance window",
			fmt.Sprintf("aws rds modify-db-instance --db-instance-identifier %s %s --region %s", id, flag, region)),
		safe("Verify connections and latency after the change",
			fmt.Sprintf("aws cloudwatch get-metric-statistics --namespace AWS/RDS --metric-name DatabaseConnections --dimensions Name=DBInstanceIdentifier,Value=%s --statistics Maximum --period 3600 --start-time $(date -u -d '-1 day' +%%FT%%TZ) --end-time $(date -u +%%FT%%TZ) --region %s", id, region)),
	)
}
