package sync

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Sync modes used as metric labels
const (
	modeInitial     = "initial"
	modeIncremental = "incremental"
	modeUnchanged   = "unchanged"
	modeMailboxes   = "mailboxes"
)

var (
	syncRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailsync_sync_runs_total",
			Help: "Total number of synchronization runs",
		},
		[]string{"mode", "result"},
	)

	syncMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailsync_sync_messages_total",
			Help: "Total number of reconciled messages",
		},
		[]string{"kind"},
	)

	syncDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mailsync_sync_duration_seconds",
			Help:    "Synchronization duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"mode"},
	)
)

func recordRun(mode string, err error, seconds float64) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	syncRunsTotal.WithLabelValues(mode, result).Inc()
	syncDuration.WithLabelValues(mode).Observe(seconds)
}

func recordMessages(newCount, changed, vanished int) {
	syncMessagesTotal.WithLabelValues("new").Add(float64(newCount))
	syncMessagesTotal.WithLabelValues("changed").Add(float64(changed))
	syncMessagesTotal.WithLabelValues("vanished").Add(float64(vanished))
}
