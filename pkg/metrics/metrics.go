package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Counters (spec.md §6).
var (
	EventQueueCount = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "relay_event_queue_count",
		Help: "Total events admitted into the event queue.",
	})

	ProcessListCount = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "relay_process_list_count",
		Help: "Total job slots filled in the process list across all loop iterations.",
	})

	ProductStatusAcceptedEvents = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "relay_productstatus_accepted_events",
		Help: "Total bus events admitted into the event queue, counted before the message timestamp threshold and adapter filters are applied.",
	})

	ProductStatusRejectedEvents = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "relay_productstatus_rejected_events",
		Help: "Total events rejected: too old, unparseable, matched by no adapter, or dropped at the give-up threshold.",
	})

	RequeuedJobs = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "relay_requeued_jobs",
		Help: "Total jobs re-armed for another poll after a retryable failure.",
	})

	MD5SumFail = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "relay_md5sum_fail",
		Help: "Total checksum adapter verification failures.",
	})
)

// Gauges (spec.md §6).
var (
	QueueDepthByStatus = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "relay_queue_depth",
		Help: "Current number of jobs in the event queue by status.",
	}, []string{"status"})

	MirrorSerialisedBytes = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "relay_mirror_serialised_bytes",
		Help: "Serialised byte size of the last write to a mirror node, by node kind.",
	}, []string{"node"})

	DownloadRateBytesPerSecond = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "relay_download_rate_bytes_per_second",
		Help: "Most recent transfer rate observed by the download adapter, by service backend.",
	}, []string{"service_backend"})
)

// Timers (spec.md §6).
var (
	ExecutionTime = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "relay_execution_time_seconds",
		Help:    "Wall time of one event loop iteration.",
		Buckets: prometheus.DefBuckets,
	})

	PollListeners = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "relay_poll_listeners_seconds",
		Help:    "Time spent polling the bus listener for new messages.",
		Buckets: prometheus.DefBuckets,
	})

	ExecutorRunTime = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "relay_executor_run_time_seconds",
		Help:    "Run time (start to finish) of a finished job, by executor.",
		Buckets: prometheus.DefBuckets,
	}, []string{"executor"})

	ExecutorSubmitDelay = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "relay_executor_submit_delay_seconds",
		Help:    "Duration of the executor's Submit call, by executor.",
		Buckets: prometheus.DefBuckets,
	}, []string{"executor"})
)

func init() {
	prometheus.MustRegister(EventQueueCount)
	prometheus.MustRegister(ProcessListCount)
	prometheus.MustRegister(ProductStatusAcceptedEvents)
	prometheus.MustRegister(ProductStatusRejectedEvents)
	prometheus.MustRegister(RequeuedJobs)
	prometheus.MustRegister(MD5SumFail)

	prometheus.MustRegister(QueueDepthByStatus)
	prometheus.MustRegister(MirrorSerialisedBytes)
	prometheus.MustRegister(DownloadRateBytesPerSecond)

	prometheus.MustRegister(ExecutionTime)
	prometheus.MustRegister(PollListeners)
	prometheus.MustRegister(ExecutorRunTime)
	prometheus.MustRegister(ExecutorSubmitDelay)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration records the duration to a histogram
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vector
func (t *Timer) ObserveDurationVec(histogramVec *prometheus.HistogramVec, labelValues ...string) {
	duration := time.Since(t.start).Seconds()
	histogramVec.WithLabelValues(labelValues...).Observe(duration)
}
