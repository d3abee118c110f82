package runtime

import (
	"bytes"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/common/expfmt"

	errpkg "github.com/drblury/asyncnats/internal/runtime/errors"
)

// Publish paths reported in the "path" label.
const (
	pathAsync  = "async"
	pathSync   = "sync"
	pathSender = "sender"
)

// Metrics tracks bridge statistics in a registry owned by one runtime.
type Metrics struct {
	registry *prometheus.Registry

	liveHandles      *prometheus.GaugeVec
	publishesTotal   *prometheus.CounterVec
	publishErrors    *prometheus.CounterVec
	permitRejections prometheus.Counter
	overflowSends    prometheus.Counter
	receiverDrops    prometheus.Counter
	requestsTotal    *prometheus.CounterVec
	requestDuration  prometheus.Histogram
}

func newCounterVec(subsystem, name, help string, labels []string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "asyncnats",
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

func newCounter(subsystem, name, help string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "asyncnats",
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	})
}

// NewMetrics creates the collectors and registers them in a fresh registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		liveHandles: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "asyncnats",
			Name:      "live_objects",
			Help:      "Objects currently alive, by kind",
		}, []string{"kind"}),
		publishesTotal:   newCounterVec("publish", "total", "Messages handed to the client", []string{"path"}),
		publishErrors:    newCounterVec("publish", "errors_total", "Publishes the client rejected; these are not reported to the host", []string{"path"}),
		permitRejections: newCounter("sender", "permit_rejections_total", "try_send calls refused because every permit was taken"),
		overflowSends:    newCounter("sender", "overflow_sends_total", "send calls enqueued without a permit"),
		receiverDrops:    newCounter("receiver", "dropped_total", "Messages dropped because a named receiver queue was full"),
		requestsTotal:    newCounterVec("request", "total", "Completed requests by outcome", []string{"outcome"}),
		requestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "asyncnats",
			Subsystem: "request",
			Name:      "duration_seconds",
			Help:      "Time from request start to reply or failure",
			Buckets:   []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}),
	}
	m.registry.MustRegister(
		m.liveHandles,
		m.publishesTotal,
		m.publishErrors,
		m.permitRejections,
		m.overflowSends,
		m.receiverDrops,
		m.requestsTotal,
		m.requestDuration,
	)
	return m
}

// Registry exposes the underlying registry, for example to serve it over HTTP.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) objectOpened(kind string) { m.liveHandles.WithLabelValues(kind).Inc() }
func (m *Metrics) objectClosed(kind string) { m.liveHandles.WithLabelValues(kind).Dec() }

func (m *Metrics) published(path string, err error) {
	m.publishesTotal.WithLabelValues(path).Inc()
	if err != nil {
		m.publishErrors.WithLabelValues(path).Inc()
	}
}

func (m *Metrics) permitRejected()  { m.permitRejections.Inc() }
func (m *Metrics) overflowSent()    { m.overflowSends.Inc() }
func (m *Metrics) receiverDropped() { m.receiverDrops.Inc() }

func (m *Metrics) requestDone(err error, elapsed time.Duration) {
	outcome := "ok"
	if err != nil {
		outcome = errpkg.ClassifyRequest(err).String()
	}
	m.requestsTotal.WithLabelValues(outcome).Inc()
	m.requestDuration.Observe(elapsed.Seconds())
}

// Text renders every collector in the Prometheus text exposition format.
func (m *Metrics) Text() (string, error) {
	families, err := m.registry.Gather()
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	enc := expfmt.NewEncoder(&buf, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return "", err
		}
	}
	return buf.String(), nil
}
