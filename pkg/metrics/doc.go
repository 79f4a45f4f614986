/*
Package metrics provides Prometheus metrics collection and exposition for the
relay event loop.

Metrics are registered at package init via prometheus.MustRegister and
exposed over HTTP for scraping. A Collector samples the event queue on a
ticker for point-in-time gauges; counters and timers are updated inline by
the event loop and adapters as events and jobs happen.

# Metrics Catalog

Counters:

  - relay_event_queue_count: events admitted into the event queue
  - relay_process_list_count: job slots filled across loop iterations
  - relay_productstatus_accepted_events: bus events admitted into the queue
    (counted before the timestamp threshold and adapter filters)
  - relay_productstatus_rejected_events: events rejected (stale, unparseable,
    no matching adapter, give-up threshold reached)
  - relay_requeued_jobs: jobs re-armed after a retryable failure
  - relay_md5sum_fail: checksum adapter verification failures

Gauges:

  - relay_queue_depth{status}: current jobs in the event queue by status
  - relay_mirror_serialised_bytes{node}: byte size of the last mirror write
  - relay_download_rate_bytes_per_second{service_backend}: last observed
    transfer rate from the download adapter

Timers:

  - relay_execution_time_seconds: one event loop iteration
  - relay_poll_listeners_seconds: time spent polling the bus listener
  - relay_executor_run_time_seconds{executor}: finished job run time
  - relay_executor_submit_delay_seconds{executor}: duration of the Submit call

# Usage

	timer := metrics.NewTimer()
	loop.Tick(ctx)
	timer.ObserveDuration(metrics.ExecutionTime)

	metrics.QueueDepthByStatus.WithLabelValues("RUNNING").Set(12)

	http.Handle("/metrics", metrics.Handler())
*/
package metrics
