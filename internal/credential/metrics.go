// AngelaMos | 2026
// metrics.go

package credential

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	eventIssued         = "issued"
	eventRotated        = "rotated"
	eventConsumed       = "consumed"
	eventRevoked        = "revoked"
	eventReuseDetected  = "reuse_detected"
	eventFamilyRevoked  = "family_revoked"
	eventRevokeFailed   = "family_revoke_failed"
	eventInvalid        = "invalid"
	eventExpired        = "expired"
	eventReaped         = "reaped"
	eventStoreUnhealthy = "store_unavailable"
)

type Metrics struct {
	events *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		events: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "credential",
				Name:      "events_total",
				Help:      "Credential lifecycle events by kind.",
			},
			[]string{"event"},
		),
	}

	if reg != nil {
		reg.MustRegister(m.events)
	}

	return m
}

func (m *Metrics) inc(event string) {
	m.add(event, 1)
}

func (m *Metrics) add(event string, n float64) {
	if m == nil || n <= 0 {
		return
	}
	m.events.WithLabelValues(event).Add(n)
}
