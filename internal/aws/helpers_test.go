package aws

import (
	"context"
	"sync"
	"time"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/rs/zerolog"

	"github.com/ppiankov/wastespectre/internal/model"
	"github.com/ppiankov/wastespectre/internal/pricing"
)

const (
	testRegion  = "us-east-1"
	testAccount = "123456789012"
	// twoWeeks is one hourly sample per hour of the default lookback.
	twoWeeks = 14 * 24
)

var testNow = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

// fakeCloudWatch serves hourly series keyed by "MetricName|first dimension value".
// A call fails when any of its queries has a dimension value listed in errs.
type fakeCloudWatch struct {
	series map[string][]float64
	errs   map[string]error

	mu    sync.Mutex
	calls int
}

func (f *fakeCloudWatch) GetMetricData(_ context.Context, input *cloudwatch.GetMetricDataInput, _ ...func(*cloudwatch.Options)) (*cloudwatch.GetMetricDataOutput, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	for _, q := range input.MetricDataQueries {
		if err, ok := f.errs[*q.MetricStat.Metric.Dimensions[0].Value]; ok {
			return nil, err
		}
	}
	out := &cloudwatch.GetMetricDataOutput{}
	for _, q := range input.MetricDataQueries {
		m := q.MetricStat.Metric
		values, ok := f.series[*m.MetricName+"|"+*m.Dimensions[0].Value]
		if !ok {
			continue
		}
		ts := make([]time.Time, len(values))
		for i := range values {
			ts[i] = input.StartTime.Add(time.Duration(i) * time.Hour)
		}
		out.MetricDataResults = append(out.MetricDataResults, cwtypes.MetricDataResult{
			Id:         q.Id,
			Timestamps: ts,
			Values:     values,
		})
	}
	return out, nil
}

func (f *fakeCloudWatch) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeClients struct {
	ec2    EC2API
	rds    RDSAPI
	lambda LambdaAPI
	elb    ELBAPI
	cw     CloudWatchAPI
}

func (c fakeClients) EC2(awssdk.Config) EC2API               { return c.ec2 }
func (c fakeClients) RDS(awssdk.Config) RDSAPI               { return c.rds }
func (c fakeClients) Lambda(awssdk.Config) LambdaAPI         { return c.lambda }
func (c fakeClients) ELB(awssdk.Config) ELBAPI               { return c.elb }
func (c fakeClients) CloudWatch(awssdk.Config) CloudWatchAPI { return c.cw }

func testDeps(c fakeClients) Deps {
	if c.cw == nil {
		c.cw = &fakeCloudWatch{}
	}
	return Deps{
		Clients: c,
		Prices:  pricing.NewService(zerolog.Nop()),
		Logger:  zerolog.Nop(),
		Now:     func() time.Time { return testNow },
	}
}

func constant(n int, v float64) []float64 {
	values := make([]float64, n)
	for i := range values {
		values[i] = v
	}
	return values
}

func standardOpts() model.AnalyzeOptions {
	return model.AnalyzeOptions{Depth: model.DepthStandard, LookbackDays: 14}
}

func approx(a, b float64) bool {
	d := a - b
	return d < 1e-6 && d > -1e-6
}
