package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// measurementDeviceState is the InfluxDB measurement for device state fields.
const measurementDeviceState = "device_state"

// WriteDeviceMetric records one numeric device state field.
//
//	client.WriteDeviceMetric("thermostat-hall", "temperature", 21.5)
//
// It is a no-op once the client is closed.
func (c *Client) WriteDeviceMetric(deviceID, field string, value float64) {
	c.WriteDeviceMetricAt(deviceID, field, value, time.Now())
}

// WriteDeviceMetricAt is WriteDeviceMetric with an explicit timestamp.
func (c *Client) WriteDeviceMetricAt(deviceID, field string, value float64, ts time.Time) {
	if !c.IsConnected() {
		return
	}

	c.points.WritePoint(write.NewPoint(
		measurementDeviceState,
		map[string]string{
			"device_id": deviceID,
			"field":     field,
		},
		map[string]any{"value": value},
		ts,
	))
}
