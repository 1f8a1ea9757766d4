package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordImport(t *testing.T) {
	m, err := NewWithRegistry(prometheus.NewRegistry())
	require.NoError(t, err)

	m.RecordImport(OutcomeComplete, 42, 2*time.Second)
	m.RecordImport(OutcomeError, 0, time.Second)
	m.RecordImport(OutcomeSkipped, 0, 0)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.ImportsTotal.WithLabelValues(OutcomeComplete)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ImportsTotal.WithLabelValues(OutcomeError)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ImportsTotal.WithLabelValues(OutcomeSkipped)))
	assert.Equal(t, float64(42), testutil.ToFloat64(m.EntriesImported))
	assert.Equal(t, 1, testutil.CollectAndCount(m.ImportDuration))
}

func TestRecordJobAndSweep(t *testing.T) {
	m, err := NewWithRegistry(prometheus.NewRegistry())
	require.NoError(t, err)

	m.RecordJob("sqs", JobAcked)
	m.RecordJob("sqs", JobAcked)
	m.RecordJob("redis", JobRetry)
	m.RecordSweep("requeued", 3)
	m.RecordSweep("timed_out", 0)
	m.RecordUploadRegistered()

	assert.Equal(t, float64(2), testutil.ToFloat64(m.JobsTotal.WithLabelValues("sqs", JobAcked)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.JobsTotal.WithLabelValues("redis", JobRetry)))
	assert.Equal(t, float64(3), testutil.ToFloat64(m.SweepActions.WithLabelValues("requeued")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.SweepActions))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.UploadsRegistered))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordUploadRegistered()
		m.RecordImport(OutcomeComplete, 1, time.Second)
		m.RecordJob("local", JobAcked)
		m.RecordSweep("requeued", 1)
	})
}

func TestDuplicateRegistrationFails(t *testing.T) {
	registry := prometheus.NewRegistry()
	_, err := NewWithRegistry(registry)
	require.NoError(t, err)

	_, err = NewWithRegistry(registry)
	assert.Error(t, err)
}

func TestHandler(t *testing.T) {
	m, err := New()
	require.NoError(t, err)
	m.RecordImport(OutcomeComplete, 5, time.Second)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	assert.Equal(t, 200, rec.Code)
	assert.True(t, strings.Contains(string(body), `evalkit_imports_total{outcome="complete"} 1`))
	assert.True(t, strings.Contains(string(body), "go_goroutines"))
}
