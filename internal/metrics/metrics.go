// Package metrics holds the Prometheus collectors for link lifecycle and byte relay.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the service-level collectors.
type Metrics struct {
	linksRegistered prometheus.Counter
	linksExpired    prometheus.Counter
	sweepRuns       *prometheus.CounterVec
	sweepRemoved    prometheus.Counter
	upstream        *prometheus.CounterVec
	relayBytes      prometheus.Counter
	relays          *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		linksRegistered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "streamlink_links_registered_total",
			Help: "Links issued by RegisterObject.",
		}),
		linksExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "streamlink_links_expired_total",
			Help: "Expired links discovered and deleted on lookup.",
		}),
		sweepRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "streamlink_sweep_runs_total",
			Help: "Expiry sweeper runs by result.",
		}, []string{"result"}),
		sweepRemoved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "streamlink_sweep_removed_total",
			Help: "Links removed by the expiry sweeper.",
		}),
		upstream: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "streamlink_upstream_requests_total",
			Help: "Upstream fetches by outcome.",
		}, []string{"outcome"}),
		relayBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "streamlink_relay_bytes_total",
			Help: "Bytes relayed from upstream to clients.",
		}),
		relays: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "streamlink_relays_total",
			Help: "Finished relays by result.",
		}, []string{"result"}),
	}

	for _, c := range []prometheus.Collector{
		m.linksRegistered, m.linksExpired, m.sweepRuns, m.sweepRemoved,
		m.upstream, m.relayBytes, m.relays,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) LinkRegistered() {
	if m != nil {
		m.linksRegistered.Inc()
	}
}

func (m *Metrics) LinkExpired() {
	if m != nil {
		m.linksExpired.Inc()
	}
}

// SweepFinished records one sweeper run; err decides the result label.
func (m *Metrics) SweepFinished(removed int64, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.sweepRuns.WithLabelValues("error").Inc()
	} else {
		m.sweepRuns.WithLabelValues("ok").Inc()
	}
	m.sweepRemoved.Add(float64(removed))
}

// Upstream records a fetch outcome such as "ok", "rejected" or "unavailable".
func (m *Metrics) Upstream(outcome string) {
	if m != nil {
		m.upstream.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) RelayBytes(n int) {
	if m != nil && n > 0 {
		m.relayBytes.Add(float64(n))
	}
}

// RelayFinished records the terminal state of a relay: "complete" or "interrupted".
func (m *Metrics) RelayFinished(result string) {
	if m != nil {
		m.relays.WithLabelValues(result).Inc()
	}
}
