package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	onlineGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tillsync_stream_listeners",
		Help: "Number of connected broadcast listeners",
	})
	pushCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tillsync_broadcast_total",
		Help: "Total number of broadcast messages by type",
	}, []string{"type"})
	dropCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tillsync_broadcast_dropped_total",
		Help: "Listeners disconnected because they could not keep up",
	})

	syncRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tillsync_sync_runs_total",
		Help: "Drain runs by trigger",
	}, []string{"trigger"})
	syncOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tillsync_sync_operations_total",
		Help: "Replayed operations by outcome",
	}, []string{"outcome"})
	syncDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tillsync_sync_duration_seconds",
		Help:    "Duration of drain runs",
		Buckets: prometheus.DefBuckets,
	})
	enqueueCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tillsync_enqueued_total",
		Help: "Operations written to the local queue by kind",
	}, []string{"kind"})
	queueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tillsync_queue_depth",
		Help: "Queued operations by status",
	}, []string{"status"})
)

type prometheusObserver struct{}

func NewPrometheusObserver() HubObserver {
	return &prometheusObserver{}
}

func Handler() http.Handler {
	return promhttp.Handler()
}

func (p *prometheusObserver) IncOnline() {
	onlineGauge.Inc()
}

func (p *prometheusObserver) DecOnline() {
	onlineGauge.Dec()
}

func (p *prometheusObserver) RecordPush(msgType string) {
	pushCounter.WithLabelValues(msgType).Inc()
}

func (p *prometheusObserver) RecordDrop() {
	dropCounter.Inc()
}

type prometheusSyncObserver struct{}

func NewPrometheusSyncObserver() SyncObserver {
	return &prometheusSyncObserver{}
}

func (p *prometheusSyncObserver) ObserveSync(trigger string, synced, failed, deadLettered int, elapsed time.Duration) {
	syncRuns.WithLabelValues(trigger).Inc()
	syncOps.WithLabelValues("synced").Add(float64(synced))
	syncOps.WithLabelValues("failed").Add(float64(failed))
	syncOps.WithLabelValues("dead_lettered").Add(float64(deadLettered))
	syncDuration.Observe(elapsed.Seconds())
}

func (p *prometheusSyncObserver) RecordEnqueue(kind string) {
	enqueueCounter.WithLabelValues(kind).Inc()
}

func (p *prometheusSyncObserver) SetQueueDepth(pending, failed int64) {
	queueDepth.WithLabelValues("pending").Set(float64(pending))
	queueDepth.WithLabelValues("failed").Set(float64(failed))
}

// Nop discards everything. Used where no registry is wanted, e.g. the
// foreground SDK.
type Nop struct{}

func (Nop) IncOnline()                                       {}
func (Nop) DecOnline()                                       {}
func (Nop) RecordPush(string)                                {}
func (Nop) RecordDrop()                                      {}
func (Nop) ObserveSync(string, int, int, int, time.Duration) {}
func (Nop) RecordEnqueue(string)                             {}
func (Nop) SetQueueDepth(int64, int64)                       {}
