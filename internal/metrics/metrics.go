package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/berfenger/sonycam2mqtt/pkg/scalarweb"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const NAMESPACE = "sonycam"

const (
	OUTCOME_OK          = "ok"
	OUTCOME_PROTOCOL    = "protocol_error"
	OUTCOME_UNREACHABLE = "unreachable"
	OUTCOME_ERROR       = "error"
)

// Metrics groups the collectors of one process. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry *prometheus.Registry

	CallDuration  *prometheus.HistogramVec
	CacheLookups  *prometheus.CounterVec
	DeferredCalls prometheus.Counter
	ExpiredCalls  prometheus.Counter
	QueueDepth    *prometheus.GaugeVec
	Devices       prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		CallDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: NAMESPACE,
			Name:      "device_call_duration_seconds",
			Help:      "Duration of calls sent to the device.",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"endpoint", "method", "outcome"}),
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: NAMESPACE,
			Name:      "cache_lookups_total",
			Help:      "Read calls served from or missed by the session cache.",
		}, []string{"result"}),
		DeferredCalls: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: NAMESPACE,
			Name:      "deferred_calls_total",
			Help:      "Calls delayed to keep the minimum spacing between device calls.",
		}),
		ExpiredCalls: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: NAMESPACE,
			Name:      "expired_calls_total",
			Help:      "Queued calls dropped because their caller gave up.",
		}),
		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: NAMESPACE,
			Name:      "session_queue_depth",
			Help:      "Calls waiting for the device.",
		}, []string{"device"}),
		Devices: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: NAMESPACE,
			Name:      "discovered_devices",
			Help:      "Devices found by the last discovery pass.",
		}),
	}
	m.registry.MustRegister(m.CallDuration, m.CacheLookups, m.DeferredCalls, m.ExpiredCalls, m.QueueDepth, m.Devices)
	return m
}

func Outcome(err error) string {
	var perr *scalarweb.ProtocolError
	switch {
	case err == nil:
		return OUTCOME_OK
	case errors.As(err, &perr):
		return OUTCOME_PROTOCOL
	case errors.Is(err, scalarweb.ErrDeviceUnreachable):
		return OUTCOME_UNREACHABLE
	default:
		return OUTCOME_ERROR
	}
}

// Instrument hooks the call histogram into a scalarweb client.
func (m *Metrics) Instrument() *scalarweb.Instrument {
	if m == nil {
		return nil
	}
	return &scalarweb.Instrument{
		RecordCall: func(endpoint, method string, elapsed time.Duration, err error) {
			m.CallDuration.WithLabelValues(endpoint, method, Outcome(err)).Observe(elapsed.Seconds())
		},
	}
}

func (m *Metrics) CacheHit() {
	if m != nil {
		m.CacheLookups.WithLabelValues("hit").Inc()
	}
}

func (m *Metrics) CacheMiss() {
	if m != nil {
		m.CacheLookups.WithLabelValues("miss").Inc()
	}
}

func (m *Metrics) Deferred() {
	if m != nil {
		m.DeferredCalls.Inc()
	}
}

func (m *Metrics) Expired() {
	if m != nil {
		m.ExpiredCalls.Inc()
	}
}

func (m *Metrics) SetQueueDepth(device string, depth int) {
	if m != nil {
		m.QueueDepth.WithLabelValues(device).Set(float64(depth))
	}
}

func (m *Metrics) SetDevices(n int) {
	if m != nil {
		m.Devices.Set(float64(n))
	}
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
