package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewMetrics_Registered(t *testing.T) {
	m := NewMetrics()
	m.SnapshotOperations.WithLabelValues("save", "ok").Inc()
	m.SnapshotRooms.Set(3)

	families, err := m.Registry().Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "automapper_snapshot_operations_total")
	assert.Contains(t, names, "automapper_snapshot_rooms")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SnapshotOperations.WithLabelValues("save", "ok")))
}

func TestNewMetrics_Independent(t *testing.T) {
	a := NewMetrics()
	b := NewMetrics()
	a.SnapshotRooms.Set(7)
	assert.Equal(t, 0.0, testutil.ToFloat64(b.SnapshotRooms))
}

func TestMetrics_Samples(t *testing.T) {
	m := NewMetrics()
	m.SnapshotOperations.WithLabelValues("save", "ok").Inc()
	m.SnapshotOperations.WithLabelValues("save", "ok").Inc()
	m.SnapshotDuration.WithLabelValues("save").Observe(0.01)
	m.SnapshotRooms.Set(4)

	samples, err := m.Samples()
	require.NoError(t, err)
	assert.Equal(t, 2.0, samples[`automapper_snapshot_operations_total{op="save",result="ok"}`])
	assert.Equal(t, 1.0, samples[`automapper_snapshot_operation_duration_seconds_count{op="save"}`])
	assert.Equal(t, 4.0, samples["automapper_snapshot_rooms"])
}

func TestMetrics_LogSummary(t *testing.T) {
	m := NewMetrics()
	m.SnapshotOperations.WithLabelValues("load", "not_found").Inc()

	core, logs := observer.New(zap.DebugLevel)
	m.LogSummary(zap.New(core))

	entries := logs.FilterMessage("metrics summary").All()
	require.Len(t, entries, 1)
	assert.Equal(t, 1.0, entries[0].ContextMap()[`automapper_snapshot_operations_total{op="load",result="not_found"}`])
}
