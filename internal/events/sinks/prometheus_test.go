package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/lancachetools/cacheops/internal/events"
	"github.com/lancachetools/cacheops/internal/ops"
)

// TestPrometheusSinkRecordsMetrics ensures counters, the running gauge, and
// the reclamation totals move with the event stream.
func TestPrometheusSinkRecordsMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	success := true
	batch := []events.Event{
		{
			Type:        events.TypeStarted,
			OperationID: "op-1",
			Kind:        ops.KindGameRemoval,
			TS:          time.Now(),
		},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.opsStarted.WithLabelValues(string(ops.KindGameRemoval))))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.opsRunning))

	done := []events.Event{
		{
			Type:        events.TypeCompleted,
			OperationID: "op-1",
			Kind:        ops.KindGameRemoval,
			Success:     &success,
			TS:          time.Now().Add(5 * time.Second),
			Metadata: &ops.GameRemovalMetadata{
				FilesDeleted: 12,
				BytesFreed:   4096,
			},
		},
	}
	require.NoError(t, sink.Consume(context.Background(), done))

	require.Equal(t, 1.0, testutil.ToFloat64(sink.opsCompleted.WithLabelValues(string(ops.KindGameRemoval), "success")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.opsCompleted.WithLabelValues(string(ops.KindGameRemoval), "failure")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.opsRunning))
	require.Equal(t, 12.0, testutil.ToFloat64(sink.cacheFilesDeleted))
	require.Equal(t, 4096.0, testutil.ToFloat64(sink.cacheBytesFreed))
	require.Equal(t, 1, testutil.CollectAndCount(sink.opDuration, "cacheops_operation_duration_seconds"))
}

// TestPrometheusSinkDuplicateStart verifies the running gauge does not double
// count replayed start events.
func TestPrometheusSinkDuplicateStart(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	evt := events.Event{
		Type:        events.TypeStarted,
		OperationID: "op-dup",
		Kind:        ops.KindLogProcessing,
		TS:          time.Now(),
	}
	require.NoError(t, sink.Consume(context.Background(), []events.Event{evt, evt}))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.opsRunning))
}
