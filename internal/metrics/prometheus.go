package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics of the broker
type Metrics struct {
	// Streaming connection metrics
	ConnectionsActive prometheus.Gauge
	ConnectionsTotal  prometheus.Counter
	ChunksReceived    prometheus.Counter
	BytesReceived     prometheus.Counter
	MessagesDropped   prometheus.Counter

	// Voice turn metrics
	Utterances            prometheus.Counter
	UtteranceDuration     prometheus.Histogram
	TranscriptionFailures prometheus.Counter
	TranscriptionDuration prometheus.Histogram
	ChatResponses         prometheus.Counter
	ChatFailures          prometheus.Counter

	// Credential endpoint metrics
	SessionsMinted *prometheus.CounterVec

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates all metrics and registers them with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ConnectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "farmvoice_ws_connections_active",
			Help: "Number of open streaming connections",
		}),
		ConnectionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "farmvoice_ws_connections_total",
			Help: "Total number of accepted streaming connections",
		}),
		ChunksReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "farmvoice_audio_chunks_received_total",
			Help: "Total number of audio chunks received",
		}),
		BytesReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "farmvoice_audio_bytes_received_total",
			Help: "Total number of audio bytes received",
		}),
		MessagesDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "farmvoice_ws_messages_dropped_total",
			Help: "Total number of outbound notifications dropped on a full queue",
		}),

		Utterances: factory.NewCounter(prometheus.CounterOpts{
			Name: "farmvoice_utterances_total",
			Help: "Total number of utterances detected",
		}),
		UtteranceDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "farmvoice_utterance_duration_seconds",
			Help:    "Audio duration of detected utterances",
			Buckets: []float64{0.5, 1, 2, 4, 8, 15, 30},
		}),
		TranscriptionFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "farmvoice_transcription_failures_total",
			Help: "Total number of failed transcriptions",
		}),
		TranscriptionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "farmvoice_transcription_duration_seconds",
			Help:    "Time from end of utterance to final transcript",
			Buckets: prometheus.DefBuckets,
		}),
		ChatResponses: factory.NewCounter(prometheus.CounterOpts{
			Name: "farmvoice_chat_responses_total",
			Help: "Total number of assistant replies sent",
		}),
		ChatFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "farmvoice_chat_failures_total",
			Help: "Total number of failed assistant replies",
		}),

		SessionsMinted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "farmvoice_sessions_minted_total",
			Help: "Credential requests by upstream status",
		}, []string{"status"}),

		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "farmvoice_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "farmvoice_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
	}
}

// ConnectionOpened records an accepted streaming connection
func (m *Metrics) ConnectionOpened() {
	m.ConnectionsTotal.Inc()
	m.ConnectionsActive.Inc()
}

// ConnectionClosed records a finished streaming connection
func (m *Metrics) ConnectionClosed() {
	m.ConnectionsActive.Dec()
}

// RecordChunk records one received audio chunk
func (m *Metrics) RecordChunk(size int) {
	m.ChunksReceived.Inc()
	m.BytesReceived.Add(float64(size))
}

// RecordDropped records a dropped outbound notification
func (m *Metrics) RecordDropped() {
	m.MessagesDropped.Inc()
}

// RecordUtterance records a finished utterance
func (m *Metrics) RecordUtterance(durationSeconds float64) {
	m.Utterances.Inc()
	m.UtteranceDuration.Observe(durationSeconds)
}

// RecordTranscription records the outcome of one transcription
func (m *Metrics) RecordTranscription(success bool, durationSeconds float64) {
	if !success {
		m.TranscriptionFailures.Inc()
		return
	}
	m.TranscriptionDuration.Observe(durationSeconds)
}

// RecordChat records the outcome of one assistant reply
func (m *Metrics) RecordChat(success bool) {
	if success {
		m.ChatResponses.Inc()
	} else {
		m.ChatFailures.Inc()
	}
}

// RecordSessionMinted records a credential request and its status code
func (m *Metrics) RecordSessionMinted(statusCode int) {
	m.SessionsMinted.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordHTTPRequest records HTTP request metrics
func (m *Metrics) RecordHTTPRequest(method, endpoint string, statusCode int, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, strconv.Itoa(statusCode)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}
