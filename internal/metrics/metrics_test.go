package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics(t *testing.T) {
	// Register should be safe to call multiple times
	Register()
	Register()

	before := testutil.ToFloat64(httpRequests.WithLabelValues("test_endpoint"))
	IncHTTP("test_endpoint")
	assert.Equal(t, before+1, testutil.ToFloat64(httpRequests.WithLabelValues("test_endpoint")))

	booked := testutil.ToFloat64(conflictChecks.WithLabelValues("booked"))
	ObserveConflictCheck(true)
	ObserveConflictCheck(false)
	assert.Equal(t, booked+1, testutil.ToFloat64(conflictChecks.WithLabelValues("booked")))

	IncBookingMutation("create", "ok")
	assert.GreaterOrEqual(t, testutil.ToFloat64(bookingMutations.WithLabelValues("create", "ok")), 1.0)

	IncSyncTask("completed")
	assert.GreaterOrEqual(t, testutil.ToFloat64(syncTasks.WithLabelValues("completed")), 1.0)
}
