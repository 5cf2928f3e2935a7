// Package metrics publishes pool metric snapshots to the outside world,
// both pushed to CloudWatch on a timer and pulled by Prometheus scrapes.
package metrics

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwTypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/skypoolhq/skypool/pool"
	"github.com/skypoolhq/skypool/utils"
)

// metricNamespace is where the pool's metrics live in CloudWatch.
const metricNamespace = "SkyPool"

// CloudWatchSink pushes pool metric snapshots to CloudWatch.
type CloudWatchSink struct {
	client *cloudwatch.Client
}

// NewCloudWatchSink builds a sink publishing to the given region.
func NewCloudWatchSink(ctx context.Context, region string) (*CloudWatchSink, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, utils.MakeError("unable to load AWS SDK config for CloudWatch: %s", err)
	}

	return &CloudWatchSink{
		client: cloudwatch.NewFromConfig(cfg),
	}, nil
}

// Publish sends one snapshot as a batch of metric data points, dimensioned
// by region.
func (s *CloudWatchSink) Publish(ctx context.Context, metrics pool.PoolMetrics) error {
	dimensions := []cwTypes.Dimension{
		{
			Name:  aws.String("Region"),
			Value: aws.String(metrics.Region),
		},
	}

	datum := func(name string, value float64, unit cwTypes.StandardUnit) cwTypes.MetricDatum {
		return cwTypes.MetricDatum{
			MetricName: aws.String(name),
			Value:      aws.Float64(value),
			Unit:       unit,
			Dimensions: dimensions,
		}
	}

	input := &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(metricNamespace),
		MetricData: []cwTypes.MetricDatum{
			datum("TotalInstances", float64(metrics.TotalInstances), cwTypes.StandardUnitCount),
			datum("ActiveInstances", float64(metrics.ActiveInstances), cwTypes.StandardUnitCount),
			datum("PendingInstances", float64(metrics.PendingInstances), cwTypes.StandardUnitCount),
			datum("WarmInstances", float64(metrics.WarmInstances), cwTypes.StandardUnitCount),
			datum("SpotInstances", float64(metrics.SpotInstances), cwTypes.StandardUnitCount),
			datum("OnDemandInstances", float64(metrics.OnDemandInstances), cwTypes.StandardUnitCount),
			datum("ActiveSessions", float64(metrics.ActiveSessions), cwTypes.StandardUnitCount),
			datum("HourlyCost", metrics.HourlyCost, cwTypes.StandardUnitNone),
			datum("SpotSavings", metrics.SpotSavings, cwTypes.StandardUnitNone),
			datum("Utilization", metrics.Utilization, cwTypes.StandardUnitPercent),
			datum("AvgStartupTime", metrics.AvgStartupTime.Seconds(), cwTypes.StandardUnitSeconds),
			datum("ProvisionSuccessRate", metrics.SuccessRate, cwTypes.StandardUnitNone),
		},
	}

	if _, err := s.client.PutMetricData(ctx, input); err != nil {
		return utils.MakeError("failed to push metrics to CloudWatch: %s", err)
	}

	return nil
}
