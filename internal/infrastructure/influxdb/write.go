package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteMetricValue mirrors one committed numeric sample. The point
// lands in the metric_values measurement tagged by device and metric,
// stamped with the sample time from the wire message. Non-blocking;
// the point is buffered and flushed by the batching write API. Dropped
// silently when the mirror is not connected.
func (c *Client) WriteMetricValue(deviceName string, metricName string, value float64, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"metric_values",
		map[string]string{
			"device": deviceName,
			"metric": metricName,
		},
		map[string]interface{}{
			"value": value,
		},
		timestamp,
	)

	c.writeAPI.WritePoint(point)
}
