package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Alert processing outcomes.
const (
	OutcomeGrouped   = "grouped"
	OutcomeNewBatch  = "new_batch"
	OutcomeDuplicate = "duplicate"
	OutcomeResolved  = "resolved"
	OutcomeSkipped   = "skipped"
	OutcomeError     = "error"
)

var (
	alertsProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirador_correlator",
			Name:      "alerts_processed_total",
			Help:      "Alerts handled by the detector, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	alertProcessingSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "mirador_correlator",
			Name:      "alert_processing_seconds",
			Help:      "Time spent placing a single alert.",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
	)

	openBatches = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "mirador_correlator",
			Name:      "open_batches",
			Help:      "Alert batches currently held by the detector.",
		},
	)

	groupsDeliveredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirador_correlator",
			Name:      "groups_delivered_total",
			Help:      "Group notifications handed to the notifier, partitioned by result.",
		},
		[]string{"result"},
	)

	notificationsCancelledTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mirador_correlator",
			Name:      "notifications_cancelled_total",
			Help:      "Pending root notifications cancelled before delivery.",
		},
	)

	feedbackUpdatesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirador_correlator",
			Name:      "feedback_updates_total",
			Help:      "Causal link feedback applied, partitioned by verdict.",
		},
		[]string{"verdict"},
	)
)

// Register attaches correlator collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		alertsProcessedTotal,
		alertProcessingSeconds,
		openBatches,
		groupsDeliveredTotal,
		notificationsCancelledTotal,
		feedbackUpdatesTotal,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveAlert records how an alert was handled and how long it took.
func ObserveAlert(duration time.Duration, outcome string) {
	alertsProcessedTotal.WithLabelValues(outcome).Inc()
	if duration < 0 {
		duration = 0
	}
	alertProcessingSeconds.Observe(duration.Seconds())
}

// SetOpenBatches publishes the current batch count.
func SetOpenBatches(n int) {
	openBatches.Set(float64(n))
}

// GroupDelivered counts a notifier call.
func GroupDelivered(err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	groupsDeliveredTotal.WithLabelValues(result).Inc()
}

// NotificationCancelled counts a superseded pending notification.
func NotificationCancelled() {
	notificationsCancelledTotal.Inc()
}

// FeedbackApplied counts one feedback verdict.
func FeedbackApplied(confirmed bool) {
	verdict := "denied"
	if confirmed {
		verdict = "confirmed"
	}
	feedbackUpdatesTotal.WithLabelValues(verdict).Inc()
}
