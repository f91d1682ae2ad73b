// Package metrics holds the Prometheus instruments of the auth service and
// the gateway. All recording methods are no-ops on a nil receiver.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "medgate"

// Auth instruments token issuance, verification and provisioning.
type Auth struct {
	tokensIssued  *prometheus.CounterVec
	verifications *prometheus.CounterVec
	provisioning  *prometheus.CounterVec
}

// NewAuth creates the auth service instruments and registers them on reg.
func NewAuth(reg prometheus.Registerer) *Auth {
	m := &Auth{
		tokensIssued: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tokens_issued_total",
				Help:      "Identity tokens issued, by login source.",
			},
			[]string{"source"},
		),
		verifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "token_verifications_total",
				Help:      "Token verifications, by outcome.",
			},
			[]string{"outcome"},
		),
		provisioning: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provisioning_total",
				Help:      "Third-party logins, by user provisioning outcome.",
			},
			[]string{"outcome"},
		),
	}
	reg.MustRegister(m.tokensIssued, m.verifications, m.provisioning)
	return m
}

func (m *Auth) TokenIssued(source string) {
	if m == nil {
		return
	}
	m.tokensIssued.WithLabelValues(source).Inc()
}

func (m *Auth) Verified(outcome string) {
	if m == nil {
		return
	}
	m.verifications.WithLabelValues(outcome).Inc()
}

func (m *Auth) Provisioned(outcome string) {
	if m == nil {
		return
	}
	m.provisioning.WithLabelValues(outcome).Inc()
}

// Gateway instruments the authorization filter.
type Gateway struct {
	decisions      *prometheus.CounterVec
	verifyDuration prometheus.Histogram
}

// NewGateway creates the gateway instruments and registers them on reg.
func NewGateway(reg prometheus.Registerer) *Gateway {
	m := &Gateway{
		decisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "gateway",
				Name:      "decisions_total",
				Help:      "Authorization decisions taken by the gateway filter.",
			},
			[]string{"decision"},
		),
		verifyDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "gateway",
				Name:      "verify_duration_seconds",
				Help:      "Latency of token verification calls.",
				Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
		),
	}
	reg.MustRegister(m.decisions, m.verifyDuration)
	return m
}

func (m *Gateway) Decision(decision string) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(decision).Inc()
}

func (m *Gateway) ObserveVerify(d time.Duration) {
	if m == nil {
		return
	}
	m.verifyDuration.Observe(d.Seconds())
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
