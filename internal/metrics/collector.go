package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/agentgate/agentgate/batch"
	"github.com/agentgate/agentgate/session"
	"github.com/agentgate/agentgate/stream"
)

// Collector holds every gateway metric. It implements stream.Recorder and
// batch.Observer so those packages stay free of Prometheus types.
type Collector struct {
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	backendInvocations *prometheus.CounterVec
	backendDuration    *prometheus.HistogramVec
	tokensTotal        *prometheus.CounterVec

	poolActive   prometheus.Gauge
	poolIdle     prometheus.Gauge
	poolCapacity prometheus.Gauge

	streamCompletions *prometheus.CounterVec
	streamBytes       prometheus.Histogram

	batchesSubmitted prometheus.Counter
	batchEntries     *prometheus.CounterVec
}

// NewCollector registers all metrics on reg (the default registerer when
// nil).
func NewCollector(namespace string, reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Collector{
		httpRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),

		httpRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),

		backendInvocations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_invocations_total",
			Help:      "Total backend invocations",
		}, []string{"model", "status"}),

		backendDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "backend_invocation_duration_seconds",
			Help:      "Backend invocation duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"model"}),

		tokensTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_total",
			Help:      "Total tokens processed",
		}, []string{"model", "direction"}),

		poolActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "session_pool_active",
			Help:      "Sessions currently leased",
		}),

		poolIdle: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "session_pool_idle",
			Help:      "Sessions idle in the pool",
		}),

		poolCapacity: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "session_pool_capacity",
			Help:      "Configured pool capacity",
		}),

		streamCompletions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_completions_total",
			Help:      "Stream completions by cause",
		}, []string{"cause"}),

		streamBytes: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stream_bytes_sent",
			Help:      "Bytes sent per stream",
			Buckets:   prometheus.ExponentialBuckets(256, 4, 8),
		}),

		batchesSubmitted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_submitted_total",
			Help:      "Batches submitted",
		}),

		batchEntries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_entries_total",
			Help:      "Batch entries by terminal outcome",
		}, []string{"outcome"}),
	}
}

// RecordHTTPRequest records one finished HTTP request.
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	c.httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordBackendInvocation records one backend call.
func (c *Collector) RecordBackendInvocation(model, status string, duration time.Duration) {
	c.backendInvocations.WithLabelValues(model, status).Inc()
	c.backendDuration.WithLabelValues(model).Observe(duration.Seconds())
}

// RecordTokens records token usage for a model.
func (c *Collector) RecordTokens(model string, in, out int) {
	if in > 0 {
		c.tokensTotal.WithLabelValues(model, "input").Add(float64(in))
	}
	if out > 0 {
		c.tokensTotal.WithLabelValues(model, "output").Add(float64(out))
	}
}

// SetPoolStats publishes a pool snapshot.
func (c *Collector) SetPoolStats(st session.Stats) {
	c.poolActive.Set(float64(st.Active))
	c.poolIdle.Set(float64(st.Idle))
	c.poolCapacity.Set(float64(st.Capacity))
}

// RecordStreamCompletion implements stream.Recorder.
func (c *Collector) RecordStreamCompletion(comp stream.Completion) {
	c.streamCompletions.WithLabelValues(string(comp.Cause)).Inc()
	c.streamBytes.Observe(float64(comp.BytesSent))
}

// BatchSubmitted implements batch.Observer.
func (c *Collector) BatchSubmitted(entries int) {
	c.batchesSubmitted.Inc()
}

// BatchEntryDone implements batch.Observer.
func (c *Collector) BatchEntryDone(outcome string) {
	c.batchEntries.WithLabelValues(outcome).Inc()
}

var (
	_ stream.Recorder = (*Collector)(nil)
	_ batch.Observer  = (*Collector)(nil)
)
