package rotation_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systmms/pgrotate/internal/rotation"
)

func TestMetrics_Observe(t *testing.T) {
	t.Parallel()

	m := rotation.NewMetrics(nil)
	m.Observe(rotation.StepCreate, "success", 10*time.Millisecond)
	m.Observe(rotation.StepCreate, rotation.OutcomeNoop, time.Millisecond)
	m.Observe(rotation.StepCreate, rotation.OutcomeNoop, time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.StepCounter().WithLabelValues("createSecret", "success")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.StepCounter().WithLabelValues("createSecret", "noop")))

	count, err := testutil.GatherAndCount(m.Registry(), "pgrotate_step_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestMetrics_NilIsInert(t *testing.T) {
	t.Parallel()

	var m *rotation.Metrics
	m.Observe(rotation.StepSet, "success", time.Second)
	assert.Nil(t, m.Registry())
	assert.NoError(t, m.Push(context.Background(), "http://127.0.0.1:1", "app"))
}

func TestMetrics_Push(t *testing.T) {
	t.Parallel()

	var gotPath, gotMethod string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotMethod = r.Method
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	m := rotation.NewMetrics(nil)
	m.Observe(rotation.StepTest, "success", time.Millisecond)

	require.NoError(t, m.Push(context.Background(), srv.URL, "orders"))
	assert.Equal(t, http.MethodPut, gotMethod)
	assert.Equal(t, "/metrics/job/pgrotate/secret_id/orders", gotPath)
	assert.NotEmpty(t, gotBody)
}
