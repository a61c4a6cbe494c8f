package aws

import (
	"context"
	"errors"
	"testing"
	"time"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"

	"github.com/ppiankov/wastespectre/internal/model"
)

type mockEC2Client struct {
	instances []ec2types.Instance
	err       error
	calls     int
}

func (m *mockEC2Client) DescribeInstances(_ context.Context, _ *ec2.DescribeInstancesInput, _ ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return &ec2.DescribeInstancesOutput{
		Reservations: []ec2types.Reservation{{Instances: m.instances}},
	}, nil
}

func runningInstance(id string, it ec2types.InstanceType) ec2types.Instance {
	return ec2types.Instance{
		InstanceId:     awssdk.String(id),
		InstanceType:   it,
		State:          &ec2types.InstanceState{Name: ec2types.InstanceStateNameRunning},
		SecurityGroups: []ec2types.GroupIdentifier{{GroupId: awssdk.String("sg-web")}},
		BlockDeviceMappings: []ec2types.InstanceBlockDeviceMapping{
			{Ebs: &ec2types.EbsInstanceBlockDevice{VolumeId: awssdk.String("vol-root")}},
		},
	}
}

func analyzeEC2(t *testing.T, inst []ec2types.Instance, cw *fakeCloudWatch, opts model.AnalyzeOptions) []model.WasteFinding {
	t.Helper()
	a := NewEC2Analyzer(testDeps(fakeClients{ec2: &mockEC2Client{instances: inst}, cw: cw}))
	findings, err := a.Analyze(context.Background(), nil, testRegion, testAccount, opts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return findings
}

func TestEC2Analyzer_IdleInstance(t *testing.T) {
	inst := runningInstance("i-idle001", ec2types.InstanceTypeT3Large)
	inst.Tags = []ec2types.Tag{{Key: awssdk.String("Name"), Value: awssdk.String("idle-web")}}
	cw := &fakeCloudWatch{series: map[string][]float64{
		"CPUUtilization|i-idle001": constant(twoWeeks, 2.3),
		"NetworkIn|i-idle001":      constant(twoWeeks, 50*1024*1024),
	}}

	findings := analyzeEC2(t, []ec2types.Instance{inst}, cw, standardOpts())
	if len(findings) != 1 {
		t.Fatalf("expected 1 finding, got %d", len(findings))
	}

	f := findings[0]
	if f.Pattern != "idle" || f.RecommendationType != model.RecommendTerminate {
		t.Fatalf("expected idle/terminate, got %s/%s", f.Pattern, f.RecommendationType)
	}
	if f.ResourceName != "idle-web" {
		t.Fatalf("expected name idle-web, got %s", f.ResourceName)
	}
	if f.ResourceARN != "arn:aws:ec2:us-east-1:123456789012:instance/i-idle001" {
		t.Fatalf("unexpected ARN %s", f.ResourceARN)
	}
	if !approx(f.PotentialMonthlySavings, 0.0832*730) {
		t.Fatalf("expected savings %.4f, got %.4f", 0.0832*730, f.PotentialMonthlySavings)
	}
	if !approx(f.PotentialAnnualSavings, f.PotentialMonthlySavings*12) {
		t.Fatalf("annual savings %.4f is not 12x monthly", f.PotentialAnnualSavings)
	}
	if !f.Utilization.HasRealMetrics || f.Utilization.DataCompleteness != 1 {
		t.Fatalf("expected complete real metrics, got %+v", f.Utilization)
	}
	if f.LastActivityAt != nil {
		t.Fatalf("expected no activity above the idle threshold, got %v", f.LastActivityAt)
	}
	if len(f.Dependencies) != 2 {
		t.Fatalf("expected volume and security group dependencies, got %+v", f.Dependencies)
	}
	if f.Metadata["priceSource"] != string(model.PriceStatic) {
		t.Fatalf("expected static price source, got %v", f.Metadata["priceSource"])
	}
	if !f.ImplementationPlan.HasDestructiveStep() || !f.ImplementationPlan.RequiresDowntime {
		t.Fatal("expected a destructive plan with downtime")
	}
}

func TestEC2Analyzer_ZeroActivity(t *testing.T) {
	cw := &fakeCloudWatch{series: map[string][]float64{
		"CPUUtilization|i-zero": constant(twoWeeks, 0.4),
	}}
	findings := analyzeEC2(t, []ec2types.Instance{runningInstance("i-zero", ec2types.InstanceTypeM5Large)}, cw, standardOpts())
	if len(findings) != 1 || findings[0].Pattern != "zero-activity" {
		t.Fatalf("expected zero-activity finding, got %+v", findings)
	}
	if findings[0].Confidence != 0.9 {
		t.Fatalf("expected confidence 0.9, got %f", findings[0].Confidence)
	}
}

func TestEC2Analyzer_HealthyInstance(t *testing.T) {
	cw := &fakeCloudWatch{series: map[string][]float64{
		"CPUUtilization|i-healthy001": constant(twoWeeks, 45),
	}}
	findings := analyzeEC2(t, []ec2types.Instance{runningInstance("i-healthy001", ec2types.InstanceTypeM5Large)}, cw, standardOpts())
	if len(findings) != 0 {
		t.Fatalf("expected no findings for healthy instance, got %d", len(findings))
	}
}

func TestEC2Analyzer_PreviousGeneration(t *testing.T) {
	cw := &fakeCloudWatch{series: map[string][]float64{
		"CPUUtilization|i-old": constant(twoWeeks, 30),
	}}
	findings := analyzeEC2(t, []ec2types.Instance{runningInstance("i-old", ec2types.InstanceTypeM4Large)}, cw, standardOpts())
	if len(findings) != 1 {
		t.Fatalf("expected 1 finding, got %d", len(findings))
	}
	f := findings[0]
	if f.RecommendationType != model.RecommendMigrate || f.RecommendedConfiguration != "m5.large" {
		t.Fatalf("expected migrate to m5.large, got %s to %s", f.RecommendationType, f.RecommendedConfiguration)
	}
	if !approx(f.PotentialMonthlySavings, (0.1-0.096)*730) {
		t.Fatalf("unexpected savings %.4f", f.PotentialMonthlySavings)
	}
}

func TestEC2Analyzer_Oversized(t *testing.T) {
	cw := &fakeCloudWatch{series: map[string][]float64{
		"CPUUtilization|i-big": constant(twoWeeks, 12),
	}}
	findings := analyzeEC2(t, []ec2types.Instance{runningInstance("i-big", ec2types.InstanceTypeM5Xlarge)}, cw, standardOpts())
	if len(findings) != 1 || findings[0].Pattern != "oversized" {
		t.Fatalf("expected oversized finding, got %+v", findings)
	}
	if !approx(findings[0].PotentialMonthlySavings, (0.192-0.096)*730) {
		t.Fatalf("unexpected savings %.4f", findings[0].PotentialMonthlySavings)
	}
}

func TestEC2Analyzer_StoppedLong(t *testing.T) {
	cw := &fakeCloudWatch{}
	inst := ec2types.Instance{
		InstanceId:            awssdk.String("i-stopped"),
		InstanceType:          ec2types.InstanceTypeT3Micro,
		State:                 &ec2types.InstanceState{Name: ec2types.InstanceStateNameStopped},
		StateTransitionReason: awssdk.String("User initiated (2026-01-01 12:00:00 GMT)"),
	}

	findings := analyzeEC2(t, []ec2types.Instance{inst}, cw, standardOpts())
	if len(findings) != 1 || findings[0].Pattern != "stopped-long" {
		t.Fatalf("expected stopped-long finding, got %+v", findings)
	}
	f := findings[0]
	if f.DaysSinceActivity == nil || *f.DaysSinceActivity != 60 {
		t.Fatalf("expected 60 days since activity, got %v", f.DaysSinceActivity)
	}
	if f.PotentialMonthlySavings != 0 || f.CurrentMonthlyCost != 0 {
		t.Fatalf("stopped instance has no compute cost, got %+v", f)
	}
	if cw.callCount() != 0 {
		t.Fatalf("expected no metric calls for a stopped instance, got %d", cw.callCount())
	}
}

func TestEC2Analyzer_RecentlyStoppedIgnored(t *testing.T) {
	inst := ec2types.Instance{
		InstanceId:            awssdk.String("i-paused"),
		InstanceType:          ec2types.InstanceTypeT3Micro,
		State:                 &ec2types.InstanceState{Name: ec2types.InstanceStateNameStopped},
		StateTransitionReason: awssdk.String("User initiated (2026-02-25 12:00:00 GMT)"),
	}
	if findings := analyzeEC2(t, []ec2types.Instance{inst}, &fakeCloudWatch{}, standardOpts()); len(findings) != 0 {
		t.Fatalf("expected no findings, got %d", len(findings))
	}
}

func TestEC2Analyzer_DeepSpikeLowersConfidence(t *testing.T) {
	cpu := constant(twoWeeks, 3)
	cpu[len(cpu)-1] = 90
	cw := &fakeCloudWatch{series: map[string][]float64{"CPUUtilization|i-spike": cpu}}

	opts := standardOpts()
	opts.Depth = model.DepthDeep
	findings := analyzeEC2(t, []ec2types.Instance{runningInstance("i-spike", ec2types.InstanceTypeT3Large)}, cw, opts)
	if len(findings) != 1 {
		t.Fatalf("expected 1 finding, got %d", len(findings))
	}
	f := findings[0]
	if f.Metadata["recentSpike"] != true {
		t.Fatalf("expected recentSpike metadata, got %v", f.Metadata)
	}
	if !approx(f.Confidence, 0.65) {
		t.Fatalf("expected confidence 0.65, got %f", f.Confidence)
	}
	if f.LastActivityAt == nil {
		t.Fatal("expected last activity at the spike")
	}
}

func TestEC2Analyzer_Exclusions(t *testing.T) {
	tagged := runningInstance("i-keep", ec2types.InstanceTypeT3Large)
	tagged.Tags = []ec2types.Tag{{Key: awssdk.String("spectre"), Value: awssdk.String("ignore")}}
	byID := runningInstance("i-skip", ec2types.InstanceTypeT3Large)
	cw := &fakeCloudWatch{series: map[string][]float64{
		"CPUUtilization|i-keep": constant(twoWeeks, 1),
		"CPUUtilization|i-skip": constant(twoWeeks, 1),
	}}

	opts := standardOpts()
	opts.Exclude = model.ExcludeConfig{
		ResourceIDs: map[string]bool{"i-skip": true},
		Tags:        map[string]string{"spectre": ""},
	}
	if findings := analyzeEC2(t, []ec2types.Instance{tagged, byID}, cw, opts); len(findings) != 0 {
		t.Fatalf("expected all instances excluded, got %d findings", len(findings))
	}
}

func TestEC2Analyzer_MaxResources(t *testing.T) {
	cw := &fakeCloudWatch{series: map[string][]float64{
		"CPUUtilization|i-a": constant(twoWeeks, 1),
		"CPUUtilization|i-b": constant(twoWeeks, 1),
	}}
	opts := standardOpts()
	opts.MaxResources = 1
	findings := analyzeEC2(t, []ec2types.Instance{
		runningInstance("i-a", ec2types.InstanceTypeT3Large),
		runningInstance("i-b", ec2types.InstanceTypeT3Large),
	}, cw, opts)
	if len(findings) != 1 {
		t.Fatalf("expected 1 finding under the resource cap, got %d", len(findings))
	}
}

func TestEC2Analyzer_BatchesMetricsAcrossInstances(t *testing.T) {
	cw := &fakeCloudWatch{series: map[string][]float64{
		"CPUUtilization|i-a": constant(twoWeeks, 1),
		"CPUUtilization|i-b": constant(twoWeeks, 50),
		"CPUUtilization|i-c": constant(twoWeeks, 1),
	}}
	findings := analyzeEC2(t, []ec2types.Instance{
		runningInstance("i-a", ec2types.InstanceTypeT3Large),
		runningInstance("i-b", ec2types.InstanceTypeT3Large),
		runningInstance("i-c", ec2types.InstanceTypeT3Large),
	}, cw, standardOpts())

	if cw.callCount() != 1 {
		t.Fatalf("expected one GetMetricData call for three instances, got %d", cw.callCount())
	}
	if len(findings) != 2 {
		t.Fatalf("expected 2 findings, got %d", len(findings))
	}
	for _, f := range findings {
		if f.ResourceID == "i-b" {
			t.Fatal("busy instance i-b should not be flagged")
		}
		if f.Pattern != "zero-activity" {
			t.Fatalf("expected zero-activity for %s, got %s", f.ResourceID, f.Pattern)
		}
	}
}

func TestEC2Analyzer_MetricFailureSkipsOnlyThatInstance(t *testing.T) {
	cw := &fakeCloudWatch{
		series: map[string][]float64{
			"CPUUtilization|i-bad":  constant(twoWeeks, 1),
			"CPUUtilization|i-good": constant(twoWeeks, 1),
		},
		errs: map[string]error{"i-bad": errors.New("throttled")},
	}
	a := NewEC2Analyzer(testDeps(fakeClients{ec2: &mockEC2Client{instances: []ec2types.Instance{
		runningInstance("i-bad", ec2types.InstanceTypeT3Large),
		runningInstance("i-good", ec2types.InstanceTypeT3Large),
	}}, cw: cw}))

	findings, err := a.Analyze(context.Background(), nil, testRegion, testAccount, standardOpts())
	if err != nil {
		t.Fatalf("a per-instance failure must not fail the task: %v", err)
	}
	if len(findings) != 1 || findings[0].ResourceID != "i-good" {
		t.Fatalf("expected only i-good, got %+v", findings)
	}
	// One failed batch, then one call per instance.
	if cw.callCount() != 3 {
		t.Fatalf("expected 3 GetMetricData calls, got %d", cw.callCount())
	}
}

func TestEC2Analyzer_ExhaustedBudgetReturnsEmpty(t *testing.T) {
	mock := &mockEC2Client{instances: []ec2types.Instance{runningInstance("i-a", ec2types.InstanceTypeT3Large)}}
	a := NewEC2Analyzer(testDeps(fakeClients{ec2: mock}))

	opts := standardOpts()
	opts.Budget = model.Budget{Start: time.Now().Add(-time.Minute), Limit: time.Second}
	findings, err := a.Analyze(context.Background(), nil, testRegion, testAccount, opts)
	if err != nil {
		t.Fatalf("budget exhaustion is not an error: %v", err)
	}
	if len(findings) != 0 || mock.calls != 0 {
		t.Fatalf("expected no work after budget exhaustion, got %d findings and %d calls", len(findings), mock.calls)
	}
}

func TestEC2Analyzer_ListErrorFailsTask(t *testing.T) {
	a := NewEC2Analyzer(testDeps(fakeClients{ec2: &mockEC2Client{err: errors.New("access denied")}}))
	if _, err := a.Analyze(context.Background(), nil, testRegion, testAccount, standardOpts()); err == nil {
		t.Fatal("expected error when listing instances fails")
	}
}

func TestStoppedSince(t *testing.T) {
	launch := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	inst := ec2types.Instance{StateTransitionReason: awssdk.String("User initiated"), LaunchTime: &launch}
	if got := stoppedSince(inst); !got.Equal(launch) {
		t.Fatalf("expected launch time fallback, got %v", got)
	}

	inst.StateTransitionReason = awssdk.String("User initiated (2026-01-15 10:30:00 GMT)")
	want := time.Date(2026, 1, 15, 10, 30, 0, 0, time.UTC)
	if got := stoppedSince(inst); !got.Equal(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}
