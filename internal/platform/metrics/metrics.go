package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application. A nil *Metrics is
// valid and records nothing, so tests can pass nil.
type Metrics struct {
	DonorsRegistered  prometheus.Counter
	RequestsCreated   prometheus.Counter
	NotificationsSent prometheus.Counter
	PushFailures      prometheus.Counter
	Accepts           prometheus.Counter
	AcceptConflicts   prometheus.Counter
	Declines          prometheus.Counter
	NotifyTimeouts    prometheus.Counter
	RankingFallbacks  prometheus.Counter
	RoutingLatency    prometheus.Histogram
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	return &Metrics{
		DonorsRegistered: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lifeconnect_donors_registered_total",
			Help: "Total number of donors registered",
		}),
		RequestsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lifeconnect_requests_created_total",
			Help: "Total number of emergency requests created",
		}),
		NotificationsSent: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lifeconnect_notifications_sent_total",
			Help: "Total number of donors transitioned to notified",
		}),
		PushFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lifeconnect_push_failures_total",
			Help: "Total number of push deliveries that failed (best-effort, state unaffected)",
		}),
		Accepts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lifeconnect_accepts_total",
			Help: "Total number of successful donor acceptances",
		}),
		AcceptConflicts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lifeconnect_accept_conflicts_total",
			Help: "Total number of acceptances rejected because the request was already matched",
		}),
		Declines: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lifeconnect_declines_total",
			Help: "Total number of donor declines",
		}),
		NotifyTimeouts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lifeconnect_notify_timeouts_total",
			Help: "Total number of notified donors auto-released after the response deadline",
		}),
		RankingFallbacks: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lifeconnect_ranking_fallbacks_total",
			Help: "Total number of match listings served in geometric order because routing was unavailable",
		}),
		RoutingLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "lifeconnect_routing_latency_seconds",
			Help:    "Latency of travel-time estimation calls",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

func (m *Metrics) IncDonorsRegistered() {
	if m != nil {
		m.DonorsRegistered.Inc()
	}
}

func (m *Metrics) IncRequestsCreated() {
	if m != nil {
		m.RequestsCreated.Inc()
	}
}

func (m *Metrics) IncNotificationsSent() {
	if m != nil {
		m.NotificationsSent.Inc()
	}
}

func (m *Metrics) IncPushFailures() {
	if m != nil {
		m.PushFailures.Inc()
	}
}

func (m *Metrics) IncAccepts() {
	if m != nil {
		m.Accepts.Inc()
	}
}

func (m *Metrics) IncAcceptConflicts() {
	if m != nil {
		m.AcceptConflicts.Inc()
	}
}

func (m *Metrics) IncDeclines() {
	if m != nil {
		m.Declines.Inc()
	}
}

func (m *Metrics) IncNotifyTimeouts() {
	if m != nil {
		m.NotifyTimeouts.Inc()
	}
}

func (m *Metrics) IncRankingFallbacks() {
	if m != nil {
		m.RankingFallbacks.Inc()
	}
}

func (m *Metrics) ObserveRoutingLatency(seconds float64) {
	if m != nil {
		m.RoutingLatency.Observe(seconds)
	}
}
