package aws

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/rs/zerolog/log"

	"github.com/ppiankov/wastespectre/internal/cache"
	"github.com/ppiankov/wastespectre/internal/timeseries"
)

const (
	// maxMetricDataQueries is the maximum number of metric queries per GetMetricData call.
	maxMetricDataQueries = 500
	// metricPeriodSeconds is the aggregation period for CloudWatch metrics (1 hour).
	metricPeriodSeconds = 3600
)

// CloudWatchAPI is the minimal interface for CloudWatch operations needed by the metrics fetcher.
type CloudWatchAPI interface {
	GetMetricData(ctx context.Context, input *cloudwatch.GetMetricDataInput, opts ...func(*cloudwatch.Options)) (*cloudwatch.GetMetricDataOutput, error)
}

// Dimension is one CloudWatch metric dimension.
type Dimension struct {
	Name  string
	Value string
}

// MetricQuery names one hourly metric series to fetch.
type MetricQuery struct {
	// Key identifies the series in the returned map.
	Key        string
	Namespace  string
	Metric     string
	Stat       string
	Dimensions []Dimension
}

func (q MetricQuery) cacheKey(region string, lookbackDays int) string {
	var b strings.Builder
	b.WriteString(region)
	for _, part := range []string{q.Namespace, q.Metric, q.Stat} {
		b.WriteByte('|')
		b.WriteString(part)
	}
	for _, d := range q.Dimensions {
		b.WriteByte('|')
		b.WriteString(d.Name)
		b.WriteByte('=')
		b.WriteString(d.Value)
	}
	b.WriteByte('|')
	b.WriteString(strconv.Itoa(lookbackDays))
	return b.String()
}

// MetricsFetcher retrieves hourly CloudWatch series, batching queries and
// following pagination. Series are cached when a cache is supplied.
type MetricsFetcher struct {
	client CloudWatchAPI
	region string
	cache  *cache.TTL[timeseries.Series]
	now    func() time.Time
}

// NewMetricsFetcher creates a fetcher using the given CloudWatch client.
// seriesCache and now may be nil.
func NewMetricsFetcher(client CloudWatchAPI, region string, seriesCache *cache.TTL[timeseries.Series], now func() time.Time) *MetricsFetcher {
	if now == nil {
		now = time.Now
	}
	return &MetricsFetcher{client: client, region: region, cache: seriesCache, now: now}
}

// Fetch returns one sorted hourly series per query, keyed by MetricQuery.Key.
// A metric with no datapoints yields an empty series.
func (f *MetricsFetcher) Fetch(ctx context.Context, lookbackDays int, queries ...MetricQuery) (map[string]timeseries.Series, error) {
	out := make(map[string]timeseries.Series, len(queries))
	var missing []MetricQuery
	for _, q := range queries {
		if f.cache != nil {
			if s, ok := f.cache.Get(q.cacheKey(f.region, lookbackDays)); ok {
				out[q.Key] = s
				continue
			}
		}
		missing = append(missing, q)
	}
	if len(missing) == 0 {
		return out, nil
	}

	end := f.now().UTC().Truncate(time.Hour)
	start := end.Add(-time.Duration(lookbackDays) * 24 * time.Hour)

	batches := batch(missing, maxMetricDataQueries)
	for batchIdx, b := range batches {
		log.Debug().
			Int("batch", batchIdx+1).
			Int("total_batches", len(batches)).
			Int("count", len(b)).
			Str("region", f.region).
			Msg("Fetching CloudWatch metrics")

		series, err := f.fetchBatch(ctx, b, start, end)
		if err != nil {
			return nil, err
		}
		for i, q := range b {
			s := series[i]
			s.Sort()
			out[q.Key] = s
			if f.cache != nil {
				f.cache.Set(q.cacheKey(f.region, lookbackDays), s)
			}
		}
	}
	return out, nil
}

func (f *MetricsFetcher) fetchBatch(ctx context.Context, queries []MetricQuery, start, end time.Time) ([]timeseries.Series, error) {
	input := &cloudwatch.GetMetricDataInput{
		MetricDataQueries: make([]cwtypes.MetricDataQuery, 0, len(queries)),
		StartTime:         awssdk.Time(start),
		EndTime:           awssdk.Time(end),
		ScanBy:            cwtypes.ScanByTimestampAscending,
	}
	for i, q := range queries {
		dims := make([]cwtypes.Dimension, 0, len(q.Dimensions))
		for _, d := range q.Dimensions {
			dims = append(dims, cwtypes.Dimension{Name: awssdk.String(d.Name), Value: awssdk.String(d.Value)})
		}
		input.MetricDataQueries = append(input.MetricDataQueries, cwtypes.MetricDataQuery{
			Id: awssdk.String(fmt.Sprintf("m%d", i)),
			MetricStat: &cwtypes.MetricStat{
				Metric: &cwtypes.Metric{
					Namespace:  awssdk.String(q.Namespace),
					MetricName: awssdk.String(q.Metric),
					Dimensions: dims,
				},
				Period: awssdk.Int32(metricPeriodSeconds),
				Stat:   awssdk.String(q.Stat),
			},
		})
	}

	series := make([]timeseries.Series, len(queries))
	for {
		out, err := f.client.GetMetricData(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("get metric data (%s/%s): %w", queries[0].Namespace, queries[0].Metric, err)
		}

		for _, result := range out.MetricDataResults {
			if result.Id == nil {
				continue
			}
			// Parse the index from the query ID to map back to the query
			var idx int
			if _, err := fmt.Sscanf(*result.Id, "m%d", &idx); err != nil || idx >= len(queries) {
				continue
			}
			for i, v := range result.Values {
				if i >= len(result.Timestamps) {
					break
				}
				series[idx] = append(series[idx], timeseries.Point{Timestamp: result.Timestamps[i], Value: v})
			}
		}

		if out.NextToken == nil || *out.NextToken == "" {
			break
		}
		input.NextToken = out.NextToken
	}
	return series, nil
}

// batch splits items into chunks of at most size.
func batch[T any](items []T, size int) [][]T {
	if size <= 0 {
		size = maxMetricDataQueries
	}

	var batches [][]T
	for i := 0; i < len(items); i += size {
		end := i + size
		if end > len(items) {
			end = len(items)
		}
		batches = append(batches, items[i:end])
	}
	return batches
}
