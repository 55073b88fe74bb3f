package device

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nerrad567/gray-logic-sync/internal/name"
	"github.com/nerrad567/gray-logic-sync/internal/taskproc"
)

type metricPoint struct {
	deviceID    string
	measurement string
	value       float64
}

type fakeMetricWriter struct {
	mu     sync.Mutex
	points []metricPoint
}

func (w *fakeMetricWriter) WriteDeviceMetric(deviceID string, measurement string, value float64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.points = append(w.points, metricPoint{deviceID, measurement, value})
}

func TestTelemetry_WritesNumericState(t *testing.T) {
	w := &fakeMetricWriter{}
	tel := NewTelemetry(w)

	dev := New("thermo-1")
	dev.State = State{"temperature": 21.5, "heating": true, "cooling": false, "mode": "heat", "zones": []any{1.0}}

	tel.Observe(taskproc.Event{Kind: taskproc.KindChanged, Name: dev.ObjectName().WithAttribute(AttrState), Object: dev})

	assert.ElementsMatch(t, []metricPoint{
		{"thermo-1", "temperature", 21.5},
		{"thermo-1", "heating", 1},
		{"thermo-1", "cooling", 0},
	}, w.points)
}

func TestTelemetry_WritesOnAdd(t *testing.T) {
	w := &fakeMetricWriter{}
	tel := NewTelemetry(w)

	dev := New("meter-1")
	dev.State = State{"power": 1200.0}
	tel.Observe(taskproc.Event{Kind: taskproc.KindAdded, Name: dev.ObjectName(), Object: dev})

	assert.Equal(t, []metricPoint{{"meter-1", "power", 1200}}, w.points)
}

func TestTelemetry_IgnoresOtherEvents(t *testing.T) {
	w := &fakeMetricWriter{}
	tel := NewTelemetry(w)

	dev := New("meter-1")
	dev.State = State{"power": 1200.0}

	tel.Observe(taskproc.Event{Kind: taskproc.KindChanged, Name: dev.ObjectName().WithAttribute(AttrName), Object: dev})
	tel.Observe(taskproc.Event{Kind: taskproc.KindRemoved, Name: dev.ObjectName(), Object: dev})
	tel.Observe(taskproc.Event{Kind: taskproc.KindAdded, Name: name.New("record", "meter-1")})

	assert.Empty(t, w.points)
}
