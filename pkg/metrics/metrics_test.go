package metrics

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/cuemby/payrecon/pkg/types"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectProgress(t *testing.T) {
	CollectProgress(map[types.Status]int{
		types.StatusFetched:                2,
		types.StatusPaymentCanceledSuccess: 5,
	})

	assert.Equal(t, 2.0, testutil.ToFloat64(ProgressRecords.WithLabelValues("fetched")))
	assert.Equal(t, 5.0, testutil.ToFloat64(ProgressRecords.WithLabelValues("payment_canceled_success")))
	assert.Equal(t, 0.0, testutil.ToFloat64(ProgressRecords.WithLabelValues("no_action_needed")))
	assert.Equal(t, 0.0, testutil.ToFloat64(ProgressRecords.WithLabelValues("payment_canceled_error")))
}

func TestRecordOutcome(t *testing.T) {
	counter := OrdersProcessed.WithLabelValues("no_action_needed")
	before := testutil.ToFloat64(counter)

	RecordOutcome(types.StatusNoActionNeeded)

	assert.Equal(t, before+1, testutil.ToFloat64(counter))
}

func TestWriteTextfile(t *testing.T) {
	OrdersDiscovered.Add(3)
	CollectProgress(map[types.Status]int{types.StatusFetched: 1})
	path := filepath.Join(t.TempDir(), "payrecon.prom")

	require.NoError(t, WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "payrecon_orders_discovered_total")
	assert.Contains(t, string(data), "# TYPE payrecon_progress_records gauge")
}

func TestWriteTextfileBadPath(t *testing.T) {
	err := WriteTextfile(filepath.Join(t.TempDir(), "missing", "dir", "x.prom"))
	assert.Error(t, err)
}
