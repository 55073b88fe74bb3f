package device

import (
	"github.com/nerrad567/gray-logic-sync/internal/taskproc"
)

// MetricWriter writes one device measurement to the time-series store
// without blocking. *influxdb.Client implements it.
type MetricWriter interface {
	WriteDeviceMetric(deviceID string, measurement string, value float64)
}

// Telemetry forwards numeric device state to the time-series store. Numbers
// are written as-is, booleans as 1 or 0; other fields are skipped.
type Telemetry struct {
	writer MetricWriter
}

// NewTelemetry creates a telemetry observer writing to w.
func NewTelemetry(w MetricWriter) *Telemetry {
	return &Telemetry{writer: w}
}

// Observe implements taskproc.Observer.
func (t *Telemetry) Observe(ev taskproc.Event) {
	if ev.Name.Type != TypeDevice || ev.Kind == taskproc.KindRemoved {
		return
	}
	if ev.Kind == taskproc.KindChanged && ev.Name.Attribute != AttrState {
		return
	}
	dev, ok := ev.Object.(*Device)
	if !ok {
		return
	}

	for field, val := range dev.State {
		switch v := val.(type) {
		case float64:
			t.writer.WriteDeviceMetric(dev.ID, field, v)
		case int:
			t.writer.WriteDeviceMetric(dev.ID, field, float64(v))
		case bool:
			boolVal := 0.0
			if v {
				boolVal = 1.0
			}
			t.writer.WriteDeviceMetric(dev.ID, field, boolVal)
		}
	}
}
