package worker

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsIncrementDecodeFailure(t *testing.T) {
	received := testutil.ToFloat64(tasksReceived)
	failed := testutil.ToFloat64(tasksFailed.WithLabelValues(failureReasonDecode))

	MetricsIncrementDecodeFailure()

	assert.Equal(t, received+1, testutil.ToFloat64(tasksReceived))
	assert.Equal(t, failed+1, testutil.ToFloat64(tasksFailed.WithLabelValues(failureReasonDecode)))
}

func TestMetricsHandler(t *testing.T) {
	MetricsIncrementTasksReceived()

	server := httptest.NewServer(MetricsHandler())
	defer server.Close()

	resp, err := http.Get(server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "jmeter_plan_worker_tasks_received_total")
	assert.Contains(t, string(body), "go_goroutines")
}
