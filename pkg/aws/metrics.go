package aws

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

type cloudwatchAPI interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// MetricsOptions configure a MetricsClient. Dimensions are attached to every data point;
// per-call dimensions with the same name win.
type MetricsOptions struct {
	Namespace  string
	Enabled    bool
	Dimensions map[string]string
}

// MetricsClient puts single data points to CloudWatch.
type MetricsClient struct {
	client cloudwatchAPI
	opts   MetricsOptions
	now    func() time.Time
}

func NewMetricsClient(cfg aws.Config, opts MetricsOptions) *MetricsClient {
	return newMetricsClient(cloudwatch.NewFromConfig(cfg), opts)
}

func newMetricsClient(api cloudwatchAPI, opts MetricsOptions) *MetricsClient {
	if opts.Namespace == "" {
		opts.Namespace = "Storefront"
	}
	return &MetricsClient{client: api, opts: opts, now: time.Now}
}

// PutMetric sends one data point. A disabled client drops it.
func (m *MetricsClient) PutMetric(ctx context.Context, metricName string, value float64, unit types.StandardUnit, dimensions map[string]string) error {
	if !m.opts.Enabled {
		return nil
	}

	_, err := m.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(m.opts.Namespace),
		MetricData: []types.MetricDatum{{
			MetricName: aws.String(metricName),
			Value:      aws.Float64(value),
			Unit:       unit,
			Timestamp:  aws.Time(m.now()),
			Dimensions: m.dimensions(dimensions),
		}},
	})
	if err != nil {
		return fmt.Errorf("failed to put metric %s: %w", metricName, err)
	}
	return nil
}

// dimensions merges defaults with extra, sorted by name so identical series hash alike.
func (m *MetricsClient) dimensions(extra map[string]string) []types.Dimension {
	merged := make(map[string]string, len(m.opts.Dimensions)+len(extra))
	for k, v := range m.opts.Dimensions {
		merged[k] = v
	}
	for k, v := range extra {
		merged[k] = v
	}
	names := make([]string, 0, len(merged))
	for k := range merged {
		names = append(names, k)
	}
	sort.Strings(names)

	dims := make([]types.Dimension, 0, len(names))
	for _, k := range names {
		dims = append(dims, types.Dimension{Name: aws.String(k), Value: aws.String(merged[k])})
	}
	return dims
}

func (m *MetricsClient) RecordCount(ctx context.Context, metricName string, dimensions map[string]string) error {
	return m.PutMetric(ctx, metricName, 1, types.StandardUnitCount, dimensions)
}

// RecordLatency records a duration in milliseconds.
func (m *MetricsClient) RecordLatency(ctx context.Context, metricName string, duration time.Duration, dimensions map[string]string) error {
	return m.PutMetric(ctx, metricName, float64(duration.Milliseconds()), types.StandardUnitMilliseconds, dimensions)
}

func (m *MetricsClient) IsEnabled() bool {
	return m.opts.Enabled
}

// Metric names emitted by the checkout core.
const (
	MetricCheckoutCompleted  = "CheckoutCompleted"
	MetricCheckoutFailed     = "CheckoutFailed"
	MetricPaymentConfirmed   = "PaymentConfirmed"
	MetricPartialFailure     = "PaymentCapturedOrderMissing"
	MetricOrderWriteLatency  = "OrderWriteLatency"
	MetricCartRefreshStale   = "CartRefreshStale"
	MetricSessionTokenExpiry = "SessionTokenExpired"
)

// HTTP metric names emitted by the BFF surface.
const (
	MetricHTTPRequests = "HTTPRequests"
	MetricHTTPLatency  = "HTTPLatency"
	MetricHTTPErrors   = "HTTPErrors"
)
