package taskproc

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the processor's Prometheus collectors. A nil *Metrics
// records nothing.
type Metrics struct {
	queueDepth    prometheus.Gauge
	tasksTotal    *prometheus.CounterVec // by kind
	taskPanics    prometheus.Counter
	taskDuration  *prometheus.HistogramVec // by kind
	connections   prometheus.Gauge
	notifications *prometheus.CounterVec // by kind
	storeTimeouts prometheus.Counter
}

// NewMetrics creates the processor collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "graylogic",
			Subsystem: "taskproc",
			Name:      "queue_depth",
			Help:      "Tasks waiting for the worker",
		}),
		tasksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "graylogic",
			Subsystem: "taskproc",
			Name:      "tasks_total",
			Help:      "Tasks executed by the worker",
		}, []string{"kind"}),
		taskPanics: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "graylogic",
			Subsystem: "taskproc",
			Name:      "task_panics_total",
			Help:      "Tasks that panicked and were recovered",
		}),
		taskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "graylogic",
			Subsystem: "taskproc",
			Name:      "task_duration_seconds",
			Help:      "Task execution time on the worker",
			Buckets:   []float64{0.00001, 0.0001, 0.001, 0.01, 0.1, 1}, // 10µs to 1s
		}, []string{"kind"}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "graylogic",
			Subsystem: "taskproc",
			Name:      "connections",
			Help:      "Registered client connections",
		}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "graylogic",
			Subsystem: "taskproc",
			Name:      "notifications_total",
			Help:      "Notifications delivered to connections",
		}, []string{"kind"}), // added, changed, removed
		storeTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "graylogic",
			Subsystem: "taskproc",
			Name:      "store_timeouts_total",
			Help:      "Synchronous stores abandoned after the wait budget",
		}),
	}

	for _, c := range []prometheus.Collector{
		m.queueDepth, m.tasksTotal, m.taskPanics, m.taskDuration,
		m.connections, m.notifications, m.storeTimeouts,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) setQueueDepth(n int) {
	if m != nil {
		m.queueDepth.Set(float64(n))
	}
}

func (m *Metrics) observeTask(kind string, d time.Duration) {
	if m != nil {
		m.tasksTotal.WithLabelValues(kind).Inc()
		m.taskDuration.WithLabelValues(kind).Observe(d.Seconds())
	}
}

func (m *Metrics) panicked() {
	if m != nil {
		m.taskPanics.Inc()
	}
}

func (m *Metrics) setConnections(n int) {
	if m != nil {
		m.connections.Set(float64(n))
	}
}

func (m *Metrics) notified(kind Kind) {
	if m != nil {
		m.notifications.WithLabelValues(string(kind)).Inc()
	}
}

func (m *Metrics) storeTimedOut() {
	if m != nil {
		m.storeTimeouts.Inc()
	}
}
