package waweb

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricsOnce sync.Once

	mFramesSent     *prometheus.CounterVec
	mFramesReceived prometheus.Counter
	mReconnects     prometheus.Counter
	mQueryFailures  *prometheus.CounterVec
)

// initMetrics registers the engine's counters on the default registerer.
// Registration happens once per process no matter how many connections are
// created.
func initMetrics() {
	metricsOnce.Do(func() {
		mFramesSent = promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "waweb",
			Subsystem: "conn",
			Name:      "frames_sent_total",
			Help:      "Outbound frames by kind (json or binary).",
		}, []string{"kind"})
		mFramesReceived = promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "waweb",
			Subsystem: "conn",
			Name:      "frames_received_total",
			Help:      "Inbound frames with a non-empty payload.",
		})
		mReconnects = promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "waweb",
			Subsystem: "conn",
			Name:      "reconnects_total",
			Help:      "Reconnect attempts scheduled after a disconnect.",
		})
		mQueryFailures = promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "waweb",
			Subsystem: "conn",
			Name:      "query_failures_total",
			Help:      "Failed queries by cause (rejected or server).",
		}, []string{"cause"})
	})
}
