package metrics_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukex/provisioner/pkg/metrics"
)

func TestRegistry_IndependentInstances(t *testing.T) {
	t.Parallel()

	first := metrics.NewRegistry()
	second := metrics.NewRegistry()

	first.JobsProcessed.WithLabelValues("create", metrics.OutcomeCompleted).Inc()

	assert.InDelta(t, 1, testutil.ToFloat64(first.JobsProcessed.WithLabelValues("create", metrics.OutcomeCompleted)), 0)
	assert.InDelta(t, 0, testutil.ToFloat64(second.JobsProcessed.WithLabelValues("create", metrics.OutcomeCompleted)), 0)
}

func TestRegistry_Handler(t *testing.T) {
	t.Parallel()

	reg := metrics.NewRegistry()
	reg.StaleJobsReleased.Add(2)
	reg.CredentialValidations.WithLabelValues("tripletex", "ok").Inc()

	rec := httptest.NewRecorder()
	reg.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "provisioner_stale_jobs_released_total 2")
	assert.Contains(t, string(body), `provisioner_credential_validations_total{reason="ok",service="tripletex"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}
