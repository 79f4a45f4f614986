package metrics

import (
	"time"

	"github.com/cuemby/relay/pkg/queue"
)

// Collector periodically samples the event queue and publishes the gauge
// metrics spec.md §6 lists as point-in-time ("per-status queue depth"), as
// opposed to the counters/timers updated inline by the event loop and
// adapters as events happen.
type Collector struct {
	queue  *queue.EventQueue
	stopCh chan struct{}
	sink   *StatsdSink
}

// NewCollector builds a Collector sampling q.
func NewCollector(q *queue.EventQueue) *Collector {
	return &Collector{
		queue:  q,
		stopCh: make(chan struct{}),
	}
}

// WithStatsdSink mirrors every sampled gauge to sink in addition to the
// Prometheus registry, for deployments that fan metrics out to a statsd
// collector instead of (or alongside) Prometheus scraping.
func (c *Collector) WithStatsdSink(sink *StatsdSink) *Collector {
	c.sink = sink
	return c
}

// Start begins collecting metrics.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	for status, count := range c.queue.StatusCount() {
		QueueDepthByStatus.WithLabelValues(string(status)).Set(float64(count))
		if c.sink != nil {
			c.sink.WithTags(map[string]string{"status": string(status)}).Gauge("queue_depth", float64(count))
		}
	}
}
