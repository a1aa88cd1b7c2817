package metrics

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rand/docgraph/internal/diagnostics"
	"github.com/rand/docgraph/internal/lifecycle"
	"github.com/rand/docgraph/internal/triplestore"
)

func TestObserveOperation(t *testing.T) {
	m := New()

	m.ObserveOperation(lifecycle.ModeCreate, lifecycle.StatusCreated, 5*time.Millisecond)
	m.ObserveOperation(lifecycle.ModeCreate, lifecycle.StatusCreated, time.Millisecond)
	m.ObserveOperation(lifecycle.ModeUpdate, lifecycle.StatusFailed, time.Second)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.operations.WithLabelValues("create", "created")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.operations.WithLabelValues("update", "failed")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.duration))
}

func TestObserveScanAndRepair(t *testing.T) {
	m := New()
	report := &diagnostics.DriftReport{
		Scope:         "g",
		DanglingEdges: []diagnostics.Finding{{URI: "urn:e1"}, {URI: "urn:e2"}},
	}

	m.ObserveScan(report)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.drift.WithLabelValues(string(diagnostics.CategoryDanglingEdge))))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.drift.WithLabelValues(string(diagnostics.CategoryOrphanedChild))))

	m.ObserveRepair(&diagnostics.RepairResult{Counts: map[diagnostics.Category]int{diagnostics.CategoryDanglingEdge: 2}})
	m.ObserveRepair(&diagnostics.RepairResult{Counts: map[diagnostics.Category]int{diagnostics.CategoryDanglingEdge: 1}})
	assert.Equal(t, 3.0, testutil.ToFloat64(m.repairs.WithLabelValues(string(diagnostics.CategoryDanglingEdge))))
}

func TestObserverWiring(t *testing.T) {
	m := New()
	store := triplestore.NewMemoryStore()

	_, err := lifecycle.New(store, lifecycle.WithObserver(m)).Delete(t.Context(), "g", "urn:R")
	require.Error(t, err)
	_, err = diagnostics.New(store, diagnostics.WithObserver(m)).Scan(t.Context(), "g")
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.operations.WithLabelValues("delete", "failed")))
	assert.Equal(t, 3, testutil.CollectAndCount(m.drift))
}

func TestWriteTextfile(t *testing.T) {
	m := New()
	m.ObserveOperation(lifecycle.ModeDelete, lifecycle.StatusDeleted, time.Millisecond)

	path := filepath.Join(t.TempDir(), "docgraph.prom")
	require.NoError(t, m.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `docgraph_operations_total{op="delete",status="deleted"} 1`)
	assert.Contains(t, string(data), "docgraph_operation_duration_seconds_bucket")
}
