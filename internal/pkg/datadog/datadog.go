package datadog

import (
	"context"
	"fmt"
	"time"

	"github.com/DataDog/datadog-api-client-go/v2/api/datadog"
	"github.com/DataDog/datadog-api-client-go/v2/api/datadogV2"
	"github.com/andrewmarklloyd/device-monitor/internal/pkg/telemetry"
)

const metricPrefix = "device_monitor"

type Client struct {
	api     *datadogV2.MetricsApi
	apiKey  string
	appKey  string
	appName string
}

func NewDatadogClient(apiKey, appKey, appName string) Client {
	configuration := datadog.NewConfiguration()
	apiClient := datadog.NewAPIClient(configuration)
	api := datadogV2.NewMetricsApi(apiClient)

	return Client{
		api:     api,
		apiKey:  apiKey,
		appKey:  appKey,
		appName: appName,
	}
}

// PublishSummary submits one gauge per device class plus the malformed and
// unclassified record counts.
func (c *Client) PublishSummary(ctx context.Context, summary telemetry.Summary) error {
	valueCtx := context.WithValue(
		ctx,
		datadog.ContextAPIKeys,
		map[string]datadog.APIKey{
			"apiKeyAuth": {
				Key: c.apiKey,
			},
			"appKeyAuth": {
				Key: c.appKey,
			},
		},
	)

	body := summaryPayload(summary, c.appName, time.Now())
	_, _, err := c.api.SubmitMetrics(valueCtx, body, *datadogV2.NewSubmitMetricsOptionalParameters())
	if err != nil {
		return fmt.Errorf("submitting metrics: %s", err)
	}

	return nil
}

func summaryPayload(summary telemetry.Summary, appName string, now time.Time) datadogV2.MetricPayload {
	gauges := []struct {
		name  string
		value int
	}{
		{"devices.doors", summary.Doors},
		{"devices.buttons", summary.Buttons},
		{"devices.radar", summary.Radar},
		{"devices.tube_trailers", summary.TubeTrailers},
		{"records.radar_usb", summary.RadarUSB},
		{"records.control", summary.Control},
		{"records.malformed", summary.Malformed},
		{"records.unclassified", summary.Unclassified},
	}

	series := make([]datadogV2.MetricSeries, 0, len(gauges))
	for _, g := range gauges {
		series = append(series, datadogV2.MetricSeries{
			Metric: fmt.Sprintf("%s.%s", metricPrefix, g.name),
			Type:   datadogV2.METRICINTAKETYPE_GAUGE.Ptr(),
			Points: []datadogV2.MetricPoint{
				{
					Timestamp: datadog.PtrInt64(now.Unix()),
					Value:     datadog.PtrFloat64(float64(g.value)),
				},
			},
			Resources: []datadogV2.MetricResource{
				{
					Type: datadog.PtrString("app"),
					Name: datadog.PtrString(appName),
				},
			},
		})
	}

	return datadogV2.MetricPayload{Series: series}
}
