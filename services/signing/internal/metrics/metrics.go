package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	SignaturesCapturedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signing_signatures_captured_total",
			Help: "Signatures captured, by role",
		},
		[]string{"role"},
	)

	CaptureFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signing_capture_failures_total",
			Help: "Rejected or failed capture attempts, by reason",
		},
		[]string{"reason"},
	)

	DeliveriesCompletedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "signing_deliveries_completed_total",
			Help: "Deliveries that reached the completed state",
		},
	)

	RegenerationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "signing_document_regenerations_total",
			Help: "Working document regenerations",
		},
	)

	NotificationsDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "signing_notifications_dropped_total",
			Help: "Notifications dropped because the dispatch queue was full",
		},
	)

	CaptureDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "signing_capture_duration_seconds",
			Help:    "Duration of the signing transaction",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func Register() {
	prometheus.MustRegister(
		SignaturesCapturedTotal,
		CaptureFailuresTotal,
		DeliveriesCompletedTotal,
		RegenerationsTotal,
		NotificationsDroppedTotal,
		CaptureDuration,
	)
}
