package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	reconcilePasses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rustplus",
			Subsystem: "reconcile",
			Name:      "passes_total",
			Help:      "Reconciliation passes by result.",
		},
		[]string{"result"},
	)
	reconcileSkipped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "rustplus",
			Subsystem: "reconcile",
			Name:      "skipped_ticks_total",
			Help:      "Ticks skipped because a pass was still running.",
		},
	)
	sessionTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rustplus",
			Subsystem: "session",
			Name:      "transitions_total",
			Help:      "Remote session state transitions by target state.",
		},
		[]string{"state"},
	)
	sessionsLive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "rustplus",
			Subsystem: "session",
			Name:      "registered",
			Help:      "Sessions currently held by the registry.",
		},
	)
	pushRegistrations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rustplus",
			Subsystem: "push",
			Name:      "registrations_total",
			Help:      "Forwarding token ensure calls by outcome.",
		},
		[]string{"outcome"},
	)
	notificationsRouted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rustplus",
			Subsystem: "router",
			Name:      "notifications_total",
			Help:      "Inbound push deliveries by kind and result.",
		},
		[]string{"kind", "result"},
	)
	routerDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "rustplus",
			Subsystem: "router",
			Name:      "queue_dropped_total",
			Help:      "Deliveries evicted from a full dispatch queue.",
		},
	)
)

// RegisterMetrics registers all collectors with the default registry.
func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			reconcilePasses,
			reconcileSkipped,
			sessionTransitions,
			sessionsLive,
			pushRegistrations,
			notificationsRouted,
			routerDropped,
		)
	})
}

func RecordReconcilePass(result string) {
	RegisterMetrics()
	reconcilePasses.WithLabelValues(result).Inc()
}

func RecordReconcileSkipped() {
	RegisterMetrics()
	reconcileSkipped.Inc()
}

func RecordSessionTransition(state string) {
	RegisterMetrics()
	sessionTransitions.WithLabelValues(state).Inc()
}

func SetSessionsRegistered(n int) {
	RegisterMetrics()
	sessionsLive.Set(float64(n))
}

// RecordPushRegistration counts outcomes: "cached", "minted", "failed".
func RecordPushRegistration(outcome string) {
	RegisterMetrics()
	pushRegistrations.WithLabelValues(outcome).Inc()
}

func RecordNotification(kind, result string) {
	RegisterMetrics()
	notificationsRouted.WithLabelValues(kind, result).Inc()
}

func RecordRouterDrop() {
	RegisterMetrics()
	routerDropped.Inc()
}
