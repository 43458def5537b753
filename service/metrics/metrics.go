package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the application.
// It is passed explicitly to every component that records metrics;
// a nil *Metrics is valid and records nothing.
type Metrics struct {
	// Chain RPC metrics
	chainRPCCallsTotal   *prometheus.CounterVec
	chainRPCCallDuration *prometheus.HistogramVec
	fundsPerListing      prometheus.Histogram

	// Transaction metrics
	txSubmittedTotal *prometheus.CounterVec
	txOutcomesTotal  *prometheus.CounterVec
	txConfirmSeconds *prometheus.HistogramVec

	// Wizard / donation flow metrics
	wizardTransitionsTotal *prometheus.CounterVec
	donationAttemptsTotal  *prometheus.CounterVec
	activeSessions         prometheus.Gauge

	// Workflow metrics
	trackWorkflowTotal   *prometheus.CounterVec
	trackActivitySeconds *prometheus.HistogramVec

	// Database metrics
	dbQueryDuration   *prometheus.HistogramVec
	dbOperationsTotal *prometheus.CounterVec

	// HTTP metrics
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsTotal    *prometheus.CounterVec
	sseActiveConnections *prometheus.GaugeVec
	sseEventsSent        *prometheus.CounterVec

	// NATS metrics
	natsMessagesPublished *prometheus.CounterVec
	natsPublishDuration   *prometheus.HistogramVec
}

// NewMetrics creates a new Metrics instance and registers all collectors.
// If registry is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		chainRPCCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chain_rpc_calls_total",
				Help: "Total number of contract calls by method and status",
			},
			[]string{"method", "status"},
		),
		chainRPCCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "chain_rpc_call_duration_seconds",
				Help:    "Duration of contract calls in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"method"},
		),
		fundsPerListing: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "funds_per_listing",
				Help:    "Number of active fund addresses returned by the factory per listing",
				Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 250},
			},
		),

		txSubmittedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "transactions_submitted_total",
				Help: "Total number of transactions sent to the chain by kind and status",
			},
			[]string{"kind", "status"},
		),
		txOutcomesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "transactions_outcomes_total",
				Help: "Total number of mined transactions by kind and receipt status",
			},
			[]string{"kind", "status"},
		),
		txConfirmSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "transaction_confirmation_seconds",
				Help:    "Time from submission until a receipt was observed",
				Buckets: []float64{1, 3, 5, 10, 30, 60, 120, 300, 600},
			},
			[]string{"kind"},
		),

		wizardTransitionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wizard_transitions_total",
				Help: "Total number of fundraiser wizard actions by action and resulting step",
			},
			[]string{"action", "step"},
		),
		donationAttemptsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "donation_attempts_total",
				Help: "Total number of donation confirmations by outcome",
			},
			[]string{"outcome"},
		),
		activeSessions: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "sessions_active",
				Help: "Number of live browser sessions holding drafts",
			},
		),

		trackWorkflowTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "track_workflow_executions_total",
				Help: "Total number of transaction tracking workflow executions",
			},
			[]string{"kind", "status"},
		),
		trackActivitySeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "track_activity_duration_seconds",
				Help:    "Duration of transaction tracking activities in seconds",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300},
			},
			[]string{"activity"},
		),

		dbQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "db_query_duration_seconds",
				Help:    "Duration of database queries in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
			},
			[]string{"operation", "table"},
		),
		dbOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "db_operations_total",
				Help: "Total number of database operations",
			},
			[]string{"operation", "status"},
		),

		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
			},
			[]string{"handler", "method", "status"},
		),
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"handler", "method", "status"},
		),
		sseActiveConnections: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "sse_active_connections",
				Help: "Number of active SSE connections",
			},
			[]string{"fund_address"},
		),
		sseEventsSent: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sse_events_sent_total",
				Help: "Total number of SSE events sent",
			},
			[]string{"fund_address", "event_type"},
		),

		natsMessagesPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nats_messages_published_total",
				Help: "Total number of NATS messages published",
			},
			[]string{"subject", "status"},
		),
		natsPublishDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nats_publish_duration_seconds",
				Help:    "Duration of NATS publish operations in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
			},
			[]string{"subject"},
		),
	}
}

// Chain RPC metric helpers

// RecordRPCCall records one contract call with its duration.
func (m *Metrics) RecordRPCCall(method string, duration float64, err error) {
	if m == nil {
		return
	}
	m.chainRPCCallsTotal.WithLabelValues(method, errStatus(err)).Inc()
	m.chainRPCCallDuration.WithLabelValues(method).Observe(duration)
}

// RecordListingSize records how many fund addresses the factory returned.
func (m *Metrics) RecordListingSize(count int) {
	if m == nil {
		return
	}
	m.fundsPerListing.Observe(float64(count))
}

// Transaction metric helpers

// RecordTransactionSubmitted records a createFund or fund() send attempt.
func (m *Metrics) RecordTransactionSubmitted(kind string, err error) {
	if m == nil {
		return
	}
	m.txSubmittedTotal.WithLabelValues(kind, errStatus(err)).Inc()
}

// RecordTransactionOutcome records the receipt status of a mined transaction.
func (m *Metrics) RecordTransactionOutcome(kind, status string, waited float64) {
	if m == nil {
		return
	}
	m.txOutcomesTotal.WithLabelValues(kind, status).Inc()
	m.txConfirmSeconds.WithLabelValues(kind).Observe(waited)
}

// Flow metric helpers

// RecordWizardTransition records a wizard action and the step it landed on.
func (m *Metrics) RecordWizardTransition(action string, step int) {
	if m == nil {
		return
	}
	m.wizardTransitionsTotal.WithLabelValues(action, stepLabel(step)).Inc()
}

// RecordDonationAttempt records a donation confirmation outcome
// ("sent", "failed", "invalid").
func (m *Metrics) RecordDonationAttempt(outcome string) {
	if m == nil {
		return
	}
	m.donationAttemptsTotal.WithLabelValues(outcome).Inc()
}

// SetActiveSessions records the current number of live sessions.
func (m *Metrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.activeSessions.Set(float64(n))
}

// Workflow metric helpers

// RecordWorkflowCompleted records a finished tracking workflow.
func (m *Metrics) RecordWorkflowCompleted(kind, status string) {
	if m == nil {
		return
	}
	m.trackWorkflowTotal.WithLabelValues(kind, status).Inc()
}

// RecordActivityDuration records activity execution duration.
func (m *Metrics) RecordActivityDuration(activity string, duration float64) {
	if m == nil {
		return
	}
	m.trackActivitySeconds.WithLabelValues(activity).Observe(duration)
}

// Database metric helpers

// RecordDBQuery records a database query with duration.
func (m *Metrics) RecordDBQuery(operation, table string, duration float64, err error) {
	if m == nil {
		return
	}
	m.dbQueryDuration.WithLabelValues(operation, table).Observe(duration)
	m.dbOperationsTotal.WithLabelValues(operation, errStatus(err)).Inc()
}

// HTTP metric helpers

// RecordHTTPRequest records an HTTP request with duration.
func (m *Metrics) RecordHTTPRequest(handler, method string, statusCode int, duration float64) {
	if m == nil {
		return
	}
	status := statusCodeToString(statusCode)
	m.httpRequestDuration.WithLabelValues(handler, method, status).Observe(duration)
	m.httpRequestsTotal.WithLabelValues(handler, method, status).Inc()
}

// RecordSSEConnectionChange records a change in SSE connection count.
func (m *Metrics) RecordSSEConnectionChange(fundAddress string, delta float64) {
	if m == nil {
		return
	}
	m.sseActiveConnections.WithLabelValues(fundAddress).Add(delta)
}

// RecordSSEEventSent records an SSE event being sent.
func (m *Metrics) RecordSSEEventSent(fundAddress, eventType string) {
	if m == nil {
		return
	}
	m.sseEventsSent.WithLabelValues(fundAddress, eventType).Inc()
}

// NATS metric helpers

// RecordNATSPublish records a NATS publish operation.
func (m *Metrics) RecordNATSPublish(subject, status string, duration float64) {
	if m == nil {
		return
	}
	m.natsMessagesPublished.WithLabelValues(subject, status).Inc()
	m.natsPublishDuration.WithLabelValues(subject).Observe(duration)
}

func errStatus(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func stepLabel(step int) string {
	switch step {
	case 0:
		return "0"
	case 1:
		return "1"
	case 2:
		return "2"
	default:
		return "other"
	}
}

func statusCodeToString(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500 && code < 600:
		return "5xx"
	default:
		return "unknown"
	}
}
