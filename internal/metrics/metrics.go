package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	streamConnects = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dashsync_stream_connect_total",
		Help: "Stream connection attempts grouped by outcome",
	}, []string{"outcome"})

	streamMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dashsync_stream_messages_total",
		Help: "Stream messages received grouped by type",
	}, []string{"type"})

	streamReconnectDelay = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "dashsync_stream_reconnect_delay_seconds",
		Help:    "Delay applied before each stream reconnect attempt",
		Buckets: []float64{0.1, 0.5, 1, 2, 4, 8, 16, 30, 60},
	})

	pushOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dashsync_push_operations_total",
		Help: "Push subscription operations grouped by operation and outcome",
	}, []string{"operation", "outcome"})

	notificationsShown = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dashsync_notifications_total",
		Help: "Notifications rendered by the background handler grouped by data type",
	}, []string{"type"})

	relayStreams = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dashsync_relay_active_streams",
		Help: "Event streams currently served by the relay",
	})

	relayPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dashsync_relay_published_total",
		Help: "Updates published to the relay bus grouped by type",
	}, []string{"type"})

	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dashsync_http_requests_total",
		Help: "HTTP requests served by the relay",
	}, []string{"method", "path", "status"})

	httpLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dashsync_http_request_duration_seconds",
		Help:    "Latency of non-streaming relay requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	dashboardRefreshes = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dashsync_dashboard_refresh_duration_seconds",
		Help:    "Duration of dashboard refetches triggered by stream updates",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind", "status"})
)

// ObserveConnect records a stream open attempt ("connected", "failed").
func ObserveConnect(outcome string) {
	streamConnects.WithLabelValues(outcome).Inc()
}

// ObserveMessage counts one stream message by its type tag.
func ObserveMessage(msgType string) {
	if msgType == "" {
		msgType = "unknown"
	}
	streamMessages.WithLabelValues(msgType).Inc()
}

// ObserveReconnectDelay records the wait before a reconnect.
func ObserveReconnectDelay(d time.Duration) {
	streamReconnectDelay.Observe(d.Seconds())
}

// ObservePushOperation counts subscribe/unsubscribe outcomes.
func ObservePushOperation(operation, outcome string) {
	pushOperations.WithLabelValues(operation, outcome).Inc()
}

// ObserveNotification counts a rendered notification.
func ObserveNotification(dataType string) {
	if dataType == "" {
		dataType = "other"
	}
	notificationsShown.WithLabelValues(dataType).Inc()
}

// RelayStreamOpened and RelayStreamClosed track live relay connections.
func RelayStreamOpened() { relayStreams.Inc() }

func RelayStreamClosed() { relayStreams.Dec() }

// ObservePublish counts an update published through the relay.
func ObservePublish(msgType string) {
	relayPublished.WithLabelValues(msgType).Inc()
}

// ObserveRefresh records a dashboard refetch.
func ObserveRefresh(kind string, duration time.Duration, success bool) {
	status := "success"
	if !success {
		status = "failed"
	}
	dashboardRefreshes.WithLabelValues(kind, status).Observe(duration.Seconds())
}

// ObserveHTTPRequest counts a relay request. Latency is recorded only when
// timed is set; streams report connection lifetimes, not latencies.
func ObserveHTTPRequest(method, path string, status int, duration time.Duration, timed bool) {
	httpRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	if timed {
		httpLatency.WithLabelValues(method, path).Observe(duration.Seconds())
	}
}
