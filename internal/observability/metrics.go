package observability

import (
	"fmt"
	"sort"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Metrics holds the Prometheus collectors for snapshot persistence.
type Metrics struct {
	registry *prometheus.Registry

	// SnapshotOperations counts snapshot calls by op (list, save, load,
	// delete) and result (ok, error, not_found).
	SnapshotOperations *prometheus.CounterVec
	// SnapshotDuration observes snapshot call latency by op.
	SnapshotDuration *prometheus.HistogramVec
	// SnapshotRooms is the room count of the last saved or loaded snapshot.
	SnapshotRooms prometheus.Gauge
}

// NewMetrics creates a Metrics bound to a fresh registry.
//
// Postcondition: Returns a Metrics with all collectors registered.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{registry: reg}

	m.SnapshotOperations = promauto.With(reg).NewCounterVec(
		prometheus.CounterOpts{
			Name: "automapper_snapshot_operations_total",
			Help: "Total number of snapshot operations",
		},
		[]string{"op", "result"},
	)

	m.SnapshotDuration = promauto.With(reg).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "automapper_snapshot_operation_duration_seconds",
			Help:    "Duration of snapshot operations in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"op"},
	)

	m.SnapshotRooms = promauto.With(reg).NewGauge(
		prometheus.GaugeOpts{
			Name: "automapper_snapshot_rooms",
			Help: "Room count of the most recently saved or loaded snapshot",
		},
	)

	return m
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Samples gathers the registry into a flat map keyed by metric name and
// labels, e.g. automapper_snapshot_operations_total{op="save",result="ok"}.
// Histograms contribute their sample count under a _count suffix.
func (m *Metrics) Samples() (map[string]float64, error) {
	families, err := m.registry.Gather()
	if err != nil {
		return nil, fmt.Errorf("gathering metrics: %w", err)
	}
	out := make(map[string]float64)
	for _, mf := range families {
		for _, metric := range mf.GetMetric() {
			labels := make([]string, 0, len(metric.GetLabel()))
			for _, lp := range metric.GetLabel() {
				labels = append(labels, fmt.Sprintf("%s=%q", lp.GetName(), lp.GetValue()))
			}
			suffix := ""
			if len(labels) > 0 {
				suffix = "{" + strings.Join(labels, ",") + "}"
			}
			switch {
			case metric.GetCounter() != nil:
				out[mf.GetName()+suffix] = metric.GetCounter().GetValue()
			case metric.GetGauge() != nil:
				out[mf.GetName()+suffix] = metric.GetGauge().GetValue()
			case metric.GetHistogram() != nil:
				out[mf.GetName()+"_count"+suffix] = float64(metric.GetHistogram().GetSampleCount())
			}
		}
	}
	return out, nil
}

// LogSummary writes every sample to logger at debug level in one entry.
func (m *Metrics) LogSummary(logger *zap.Logger) {
	samples, err := m.Samples()
	if err != nil {
		logger.Warn("summarizing metrics", zap.Error(err))
		return
	}
	names := make([]string, 0, len(samples))
	for name := range samples {
		names = append(names, name)
	}
	sort.Strings(names)
	fields := make([]zap.Field, 0, len(names))
	for _, name := range names {
		fields = append(fields, zap.Float64(name, samples[name]))
	}
	logger.Debug("metrics summary", fields...)
}
