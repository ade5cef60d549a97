// Package metrics declares blackoutd's Prometheus collectors.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "blackoutd"

var (
	notificationsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sysnotify",
			Name:      "sent_total",
			Help:      "System notifications processed by sink and status",
		},
		[]string{"sink", "status"},
	)

	notificationSendDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sysnotify",
			Name:      "send_duration_seconds",
			Help:      "Time to deliver a system notification",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"sink"},
	)

	historyAdded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "history",
			Name:      "added_total",
			Help:      "Notifications added to history by type",
		},
		[]string{"type"},
	)

	alertsFired = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alerts",
			Name:      "fired_total",
			Help:      "Intraday power alerts fired by kind (off/on)",
		},
		[]string{"kind"},
	)

	updatePolls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "updates",
			Name:      "polls_total",
			Help:      "Update feed polls by feed and result",
		},
		[]string{"feed", "result"},
	)

	updatesNotified = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "updates",
			Name:      "notified_total",
			Help:      "Per-date update notifications raised by feed",
		},
		[]string{"feed"},
	)

	pushBackendCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "push",
			Name:      "backend_calls_total",
			Help:      "Push backend calls by operation and classified outcome",
		},
		[]string{"op", "outcome"},
	)

	pushRecoveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "push",
			Name:      "recoveries_total",
			Help:      "Recovery actions taken after backend failures",
		},
		[]string{"action"},
	)

	bridgeMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bridge",
			Name:      "messages_total",
			Help:      "Messages received from the background context by type",
		},
		[]string{"type"},
	)

	apiRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "requests_total",
			Help:      "Schedule API requests by endpoint and status class",
		},
		[]string{"endpoint", "status"},
	)

	apiDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "request_duration_seconds",
			Help:      "Schedule API request latency",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)
)

func RecordNotificationSent(sink, status string) {
	notificationsSent.WithLabelValues(sink, status).Inc()
}

func RecordNotificationDuration(sink string, d time.Duration) {
	notificationSendDuration.WithLabelValues(sink).Observe(d.Seconds())
}

func RecordHistoryAdded(typ string) { historyAdded.WithLabelValues(typ).Inc() }

func RecordAlertFired(kind string) { alertsFired.WithLabelValues(kind).Inc() }

func RecordUpdatePoll(feed, result string) { updatePolls.WithLabelValues(feed, result).Inc() }

func RecordUpdateNotified(feed string) { updatesNotified.WithLabelValues(feed).Inc() }

func RecordPushCall(op, outcome string) { pushBackendCalls.WithLabelValues(op, outcome).Inc() }

func RecordPushRecovery(action string) { pushRecoveries.WithLabelValues(action).Inc() }

func RecordBridgeMessage(typ string) { bridgeMessages.WithLabelValues(typ).Inc() }

func RecordAPIRequest(endpoint, status string, d time.Duration) {
	apiRequests.WithLabelValues(endpoint, status).Inc()
	apiDuration.WithLabelValues(endpoint).Observe(d.Seconds())
}
