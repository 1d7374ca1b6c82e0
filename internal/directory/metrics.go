package directory

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the directory server's Prometheus metrics.
type Metrics struct {
	Requests        *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// InvitesSubmitted is labelled by method: packaged or targeted.
	InvitesSubmitted *prometheus.CounterVec

	// InviteTransitions is labelled by the status an invite moved to.
	InviteTransitions *prometheus.CounterVec
}

// NewMetrics creates the directory metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Requests: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "whanau_directory_requests_total",
				Help: "Directory requests by route and status code",
			},
			[]string{"route", "code"},
		),

		RequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "whanau_directory_request_duration_seconds",
				Help:    "Directory request latency",
				Buckets: []float64{.001, .005, .01, .05, .1, .5, 1},
			},
			[]string{"route"},
		),

		InvitesSubmitted: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "whanau_directory_invites_submitted_total",
				Help: "Invites stored by the directory",
			},
			[]string{"method"},
		),

		InviteTransitions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "whanau_directory_invite_transitions_total",
				Help: "Invite status changes",
			},
			[]string{"status"},
		),
	}
}

func (m *Metrics) instrument(route string, next http.HandlerFunc) http.Handler {
	if m == nil {
		return next
	}
	labels := prometheus.Labels{"route": route}
	return promhttp.InstrumentHandlerDuration(m.RequestDuration.MustCurryWith(labels),
		promhttp.InstrumentHandlerCounter(m.Requests.MustCurryWith(labels), next))
}

func (m *Metrics) inviteSubmitted(invite InviteRecord) {
	if m == nil {
		return
	}
	method := "targeted"
	if invite.Packaged() {
		method = "packaged"
	}
	m.InvitesSubmitted.WithLabelValues(method).Inc()
}

func (m *Metrics) inviteTransition(status Status) {
	if m == nil {
		return
	}
	m.InviteTransitions.WithLabelValues(string(status)).Inc()
}
