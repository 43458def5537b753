package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordRPCCall("getDetails", 0.1, nil)
		m.RecordListingSize(3)
		m.RecordTransactionSubmitted("create_fund", nil)
		m.RecordTransactionOutcome("donation", "success", 2)
		m.RecordWizardTransition("next", 1)
		m.RecordDonationAttempt("invalid")
		m.SetActiveSessions(2)
		m.RecordWorkflowCompleted("donation", "success")
		m.RecordActivityDuration("AwaitReceipt", 1)
		m.RecordDBQuery("insert", "fund_transactions", 0.01, nil)
		m.RecordHTTPRequest("/", http.MethodGet, 200, 0.01)
		m.RecordSSEConnectionChange("all", 1)
		m.RecordSSEEventSent("all", "confirmed")
		m.RecordNATSPublish("funds.pending", "success", 0.01)
	})
}

func TestRecordRPCCall(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordRPCCall("getActiveFunds", 0.2, nil)
	m.RecordRPCCall("getActiveFunds", 0.3, errors.New("boom"))
	m.RecordRPCCall("getDetails", 0.1, nil)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.chainRPCCallsTotal.WithLabelValues("getActiveFunds", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.chainRPCCallsTotal.WithLabelValues("getActiveFunds", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.chainRPCCallsTotal.WithLabelValues("getDetails", "success")))
}

func TestRecordWizardTransition(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordWizardTransition("next", 1)
	m.RecordWizardTransition("next", 1)
	m.RecordWizardTransition("back", 0)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.wizardTransitionsTotal.WithLabelValues("next", "1")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.wizardTransitionsTotal.WithLabelValues("back", "0")))
}

func TestHTTPMetricsMiddleware(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	h := HTTPMetricsMiddleware(m, "/api/v1/funds")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/funds", nil))

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpRequestsTotal.WithLabelValues("/api/v1/funds", "GET", "4xx")))
}

func TestMiddlewarePreservesFlusher(t *testing.T) {
	h := HTTPMetricsMiddleware(nil, "/stream")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, ok := w.(http.Flusher)
		require.True(t, ok)
		w.(http.Flusher).Flush()
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stream", nil))
	assert.True(t, rec.Flushed)
}

func TestTimer(t *testing.T) {
	var got float64
	stop := Timer(time.Now().Add(-time.Second), func(d float64) { got = d })
	stop()
	assert.GreaterOrEqual(t, got, 1.0)
}

func TestStatusCodeToString(t *testing.T) {
	assert.Equal(t, "2xx", statusCodeToString(201))
	assert.Equal(t, "3xx", statusCodeToString(303))
	assert.Equal(t, "4xx", statusCodeToString(404))
	assert.Equal(t, "5xx", statusCodeToString(502))
	assert.Equal(t, "unknown", statusCodeToString(99))
}
