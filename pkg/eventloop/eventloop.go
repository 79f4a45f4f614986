// Package eventloop implements the single-threaded, cooperative scheduler
// from spec.md §4.5: poll listeners, sort the queue, fill a bounded
// process list, advance each job's state machine by exactly one
// transition, drain/shutdown, and non-blocking service of the control
// API. It is grounded in the teacher's pkg/scheduler (bounded-fill shape)
// and pkg/reconciler (ticker-driven Start/Stop loop), fused around the
// relay domain's job state machine instead of container placement.
package eventloop

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/relay/pkg/adapter"
	"github.com/cuemby/relay/pkg/bus"
	"github.com/cuemby/relay/pkg/catalogue"
	"github.com/cuemby/relay/pkg/executor"
	"github.com/cuemby/relay/pkg/job"
	"github.com/cuemby/relay/pkg/log"
	"github.com/cuemby/relay/pkg/mail"
	"github.com/cuemby/relay/pkg/metrics"
	"github.com/cuemby/relay/pkg/queue"
	"github.com/cuemby/relay/pkg/relayerr"
	"github.com/cuemby/relay/pkg/retry"
	"github.com/cuemby/relay/pkg/types"
)

// Binding ties one configured adapter instance to the executor it submits
// jobs to.
type Binding struct {
	Adapter  adapter.Adapter
	Executor executor.Executor

	// MaxConcurrency bounds this adapter's own active job count
	// (spec.md §4.1 invariants); zero means unbounded.
	MaxConcurrency int
}

// ProcessRequest is a control-API-triggered local event injection
// (spec.md §4.6 POST /process/productinstance, POST /process/datainstance).
type ProcessRequest struct {
	Kind    string // "productinstance" or "datainstance"
	UUID    string
	Adapter string
	Result  chan error
}

// Config holds the loop's tunable parameters.
type Config struct {
	// Concurrency bounds the global number of simultaneously active jobs.
	Concurrency int

	// SortStrategy controls queue ordering ahead of the fill step.
	SortStrategy queue.Strategy

	// MessageTimestampThreshold is the maximum age of a not-yet-started
	// event before it is rejected during fill (spec.md §4.5 step 4).
	MessageTimestampThreshold time.Duration

	// HeartbeatInterval and HeartbeatTimeout together gate GET /health
	// (spec.md §4.6): healthy if a heartbeat was written within
	// Interval+Timeout of now.
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration

	// Mailer, if set, is used to send the operator notification
	// e-mails described in spec.md §9 on first failure and recovery.
	Mailer mail.Sender

	// RetryPolicy governs log-severity escalation and give-up behavior for
	// repeatedly failing jobs (spec.md §7: "warning/error/give-up"
	// thresholds). A zero-value retry.Policy retries indefinitely at INFO.
	RetryPolicy retry.Policy
}

// Loop is the central event-to-job scheduler.
type Loop struct {
	cfg       Config
	listeners []bus.Listener
	queue     *queue.EventQueue
	bindings  map[string]*Binding
	catalogue catalogue.Client
	saver     *catalogue.Saver

	mu        sync.Mutex
	drain     bool
	shutdown  bool
	heartbeat time.Time

	processRequests chan ProcessRequest
	drainRequests    chan struct{}
	shutdownRequests chan struct{}
}

// New builds a Loop. bindings is keyed by adapter config ID (the adapter's
// Name()).
func New(cfg Config, listeners []bus.Listener, q *queue.EventQueue, catalogueClient catalogue.Client, bindings map[string]*Binding) *Loop {
	return &Loop{
		cfg:              cfg,
		listeners:        listeners,
		queue:            q,
		bindings:         bindings,
		catalogue:        catalogueClient,
		saver:            catalogue.NewSaver(catalogueClient),
		processRequests:  make(chan ProcessRequest, 32),
		drainRequests:    make(chan struct{}, 1),
		shutdownRequests: make(chan struct{}, 1),
	}
}

// RequestDrain asks the loop to stop admitting new events, non-blocking.
// Safe to call from any goroutine (e.g. the control API's HTTP handler).
func (l *Loop) RequestDrain() {
	select {
	case l.drainRequests <- struct{}{}:
	default:
	}
}

// RequestShutdown asks the loop to drain and then exit Run, non-blocking.
func (l *Loop) RequestShutdown() {
	select {
	case l.shutdownRequests <- struct{}{}:
	default:
	}
}

// RequestProcess enqueues a control-API-triggered local event injection.
// It does not block on processing; send a buffered Result channel if the
// caller needs the outcome.
func (l *Loop) RequestProcess(req ProcessRequest) {
	l.processRequests <- req
}

// Heartbeat returns the timestamp of the most recent loop iteration.
func (l *Loop) Heartbeat() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.heartbeat
}

// Healthy reports whether the loop has produced a heartbeat within
// Interval+Timeout of now, per spec.md §4.6's GET /health rule.
func (l *Loop) Healthy() bool {
	hb := l.Heartbeat()
	if hb.IsZero() {
		return false
	}
	return time.Since(hb) <= l.cfg.HeartbeatInterval+l.cfg.HeartbeatTimeout
}

// Draining reports whether the drain flag is currently set.
func (l *Loop) Draining() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.drain
}

func (l *Loop) setDrain(v bool) {
	l.mu.Lock()
	l.drain = v
	l.mu.Unlock()
}

// Run drives Tick in a loop until the shutdown flag is set and the queue
// has drained to empty, or ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := l.Tick(ctx); err != nil {
			return err
		}

		l.mu.Lock()
		shuttingDown := l.shutdown
		l.mu.Unlock()
		if shuttingDown && l.queue.Len() == 0 {
			return nil
		}
	}
}

// Tick runs exactly one iteration of the seven-step loop (spec.md §4.5).
func (l *Loop) Tick(ctx context.Context) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.ExecutionTime)

	l.mu.Lock()
	l.heartbeat = time.Now()
	l.mu.Unlock()

	// Step 1: clear drain once both the queue and in-flight jobs are
	// empty. Listeners in this implementation stay connected throughout
	// drain (bus.Listener has no separate open/close-for-reopen state),
	// so "reopen" is simply resuming step 2.
	if l.Draining() && l.queue.Len() == 0 {
		l.setDrain(false)
	}

	// Step 2: poll listeners and admit new events, unless draining.
	if !l.Draining() {
		l.drainControlFlags()
		if err := l.pollListeners(ctx); err != nil {
			return err
		}
	}

	// Step 3: sort the queue.
	items := l.queue.Items()
	queue.Sort(items, l.cfg.SortStrategy)

	// Step 4+5: fill slots, advance state machines, remove finished items.
	if err := l.fillSlots(ctx, items); err != nil {
		return err
	}

	// Step 6: service the control API's local-event requests, non-blocking.
	l.drainProcessRequests(ctx)

	// Step 7: update gauges.
	l.updateGauges()

	return nil
}

func (l *Loop) drainControlFlags() {
	select {
	case <-l.drainRequests:
		l.setDrain(true)
	default:
	}
	select {
	case <-l.shutdownRequests:
		l.mu.Lock()
		l.shutdown = true
		l.mu.Unlock()
		l.setDrain(true)
	default:
	}
}

// busMessage is the wire shape described in spec.md §6 "Bus protocol".
type busMessage struct {
	MessageID        string `json:"message_id"`
	MessageTimestamp string `json:"message_timestamp"`
	Version          string `json:"version"`
	Type             string `json:"type"`
	URI              string `json:"uri"`
	ObjectVersion    int    `json:"object_version"`
}

func (l *Loop) pollListeners(ctx context.Context) error {
	for _, listener := range l.listeners {
		pollTimer := metrics.NewTimer()
		msg, err := listener.Next(ctx)
		pollTimer.ObserveDuration(metrics.PollListeners)
		if err != nil {
			return relayerr.NewRetryable("eventloop: poll listener", err)
		}
		if msg == nil {
			continue
		}

		event, skip, err := l.parseMessage(ctx, msg)
		if err != nil {
			log.Logger.Warn().Err(err).Str("message_id", msg.ID).Msg("rejecting unparseable bus message")
			metrics.ProductStatusRejectedEvents.Inc()
			_ = listener.Acknowledge(ctx, msg.ID)
			continue
		}
		if skip {
			_ = listener.Acknowledge(ctx, msg.ID)
			continue
		}

		if l.queue.Has(event.ID) {
			_ = listener.Acknowledge(ctx, msg.ID)
			continue
		}

		if _, err := l.queue.Add(ctx, event); err != nil {
			log.Logger.Error().Err(err).Str("event_id", event.ID).Msg("mirror write failed, setting drain")
			l.setDrain(true)
			return nil
		}

		metrics.EventQueueCount.Inc()
		metrics.ProductStatusAcceptedEvents.Inc()
		if err := listener.Acknowledge(ctx, msg.ID); err != nil {
			return relayerr.NewRetryable("eventloop: acknowledge", err)
		}
	}
	return nil
}

// parseMessage decodes a bus message into an Event. skip is true for
// heartbeat messages and messages resolving to a deleted/unknown resource:
// both are acknowledged without entering the queue.
func (l *Loop) parseMessage(ctx context.Context, msg *bus.Message) (*types.Event, bool, error) {
	var raw busMessage
	if err := json.Unmarshal(msg.Body, &raw); err != nil {
		return nil, false, fmt.Errorf("eventloop: decode bus message: %w", err)
	}

	if raw.Type == "heartbeat" {
		return nil, true, nil
	}

	ts, err := time.Parse(time.RFC3339, raw.MessageTimestamp)
	if err != nil {
		return nil, false, fmt.Errorf("eventloop: invalid message_timestamp %q: %w", raw.MessageTimestamp, err)
	}

	uuid := raw.URI
	if idx := strings.LastIndex(raw.URI, "/"); idx >= 0 {
		uuid = raw.URI[idx+1:]
	}

	resource, err := l.catalogue.GetDataInstance(ctx, uuid)
	if err != nil {
		return nil, false, fmt.Errorf("eventloop: resolve data instance %q: %w", uuid, err)
	}
	if resource == nil || resource.Deleted {
		return nil, true, nil
	}

	id := raw.MessageID
	if id == "" {
		id = uuid
	}

	return &types.Event{
		ID:              id,
		Kind:            types.EventKindBus,
		RawMessage:      msg.Body,
		Resource:        resource,
		Timestamp:       ts,
		ProtocolVersion: raw.Version,
	}, false, nil
}

func (l *Loop) fillSlots(ctx context.Context, items []*types.EventQueueItem) error {
	active := l.queue.ActiveJobs()
	threshold := time.Now().Add(-l.cfg.MessageTimestampThreshold)

	for _, item := range items {
		if active >= l.cfg.Concurrency && l.cfg.Concurrency > 0 {
			break
		}

		if len(item.Jobs) == 0 && item.Event.Timestamp.Before(threshold) {
			metrics.ProductStatusRejectedEvents.Inc()
			_ = l.queue.Remove(ctx, item)
			continue
		}

		if err := l.ensureJobsForItem(ctx, item); err != nil {
			return err
		}
		if len(item.Jobs) == 0 {
			metrics.ProductStatusRejectedEvents.Inc()
			_ = l.queue.Remove(ctx, item)
			continue
		}

		for _, j := range item.OrderedJobs() {
			if j.Status.Terminal() {
				continue
			}
			adapterID := j.AdapterConfigID
			if l.queue.ActiveJobsFor(adapterID) >= l.maxConcurrencyFor(adapterID) && l.maxConcurrencyFor(adapterID) > 0 {
				continue
			}
			if active >= l.cfg.Concurrency && l.cfg.Concurrency > 0 {
				break
			}

			if err := l.advanceJob(ctx, item, j); err != nil {
				return err
			}
			active++
			metrics.ProcessListCount.Inc()
		}

		if err := l.removeFinishedJobs(ctx, item); err != nil {
			return err
		}

		if item.Done() {
			_ = l.queue.Remove(ctx, item)
		}
	}
	return nil
}

func (l *Loop) maxConcurrencyFor(adapterID string) int {
	b, ok := l.bindings[adapterID]
	if !ok {
		return 0
	}
	return b.MaxConcurrency
}

// ensureJobsForItem creates a job the first time an item is seen (spec.md
// §4.2 INITIALIZED state), via the adapter matching the event's resource.
func (l *Loop) ensureJobsForItem(ctx context.Context, item *types.EventQueueItem) error {
	if len(item.Jobs) > 0 {
		return nil
	}
	if item.Event.Kind == types.EventKindRPC {
		return nil
	}

	for name, b := range l.bindings {
		if item.Event.Adapter != "" && item.Event.Adapter != name {
			continue
		}
		if !b.Adapter.Validate(item.Event.Resource) {
			continue
		}

		j, err := b.Adapter.CreateJob(ctx, item.Event.ID, item.Event.Resource)
		if err != nil {
			if _, ok := err.(*relayerr.JobNotGenerated); ok {
				continue
			}
			return relayerr.NewRetryable("eventloop: create job", err)
		}
		if j == nil {
			continue
		}
		j.AdapterConfigID = name
		item.AddJob(j)
		if err := l.queue.AddJob(ctx, item, j); err != nil {
			return err
		}
	}
	return nil
}

// advanceJob moves job exactly one state transition forward, per spec.md
// §4.5 step 4.
func (l *Loop) advanceJob(ctx context.Context, item *types.EventQueueItem, j *types.Job) error {
	b, ok := l.bindings[j.AdapterConfigID]
	if !ok {
		return relayerr.NewFatal("eventloop: unknown adapter for job", fmt.Errorf("%s", j.AdapterConfigID))
	}

	switch j.Status {
	case types.JobInitialized:
		if !job.DuePoll(j, time.Now()) {
			return nil
		}
		submitTimer := metrics.NewTimer()
		err := b.Executor.Submit(ctx, j)
		submitTimer.ObserveDurationVec(metrics.ExecutorSubmitDelay, b.Executor.Name())
		if err != nil {
			return l.recordFailure(ctx, item, j, err)
		}
	case types.JobStarted, types.JobRunning:
		if !job.DuePoll(j, time.Now()) {
			return nil
		}
		if err := b.Executor.Poll(ctx, j); err != nil {
			return l.recordFailure(ctx, item, j, err)
		}
		if j.Status.Terminal() {
			if !j.StartedAt.IsZero() {
				metrics.ExecutorRunTime.WithLabelValues(b.Executor.Name()).Observe(j.FinishedAt.Sub(j.StartedAt).Seconds())
			}
			err := l.finishJob(ctx, item, b, j)
			if err == nil && j.Status == types.JobFailed {
				err = relayerr.NewRetryable("eventloop: job", fmt.Errorf("exit code %d", j.ExitCode))
			}
			if err != nil {
				rerr := l.recordFailure(ctx, item, j, err)
				j.Status = types.JobInitialized
				return rerr
			}
		}
	}

	return l.queue.UpdateJobStatus(ctx, item.Event.ID, j)
}

func (l *Loop) finishJob(ctx context.Context, item *types.EventQueueItem, b *Binding, j *types.Job) error {
	if err := b.Adapter.FinishJob(ctx, j); err != nil {
		return err
	}
	if j.Status != types.JobComplete {
		return nil
	}

	sink := &catalogue.Sink{}
	if err := b.Adapter.GenerateResources(ctx, j, sink); err != nil {
		return err
	}
	if err := l.saver.Save(ctx, sink); err != nil {
		return err
	}

	l.sendRecoveryMail(item, j)
	return nil
}

// sendRecoveryMail notifies the operator once a previously-failing event's
// job finally completes (spec.md §9 "mail... on recovery per event"). It
// only fires if recordFailure already sent a first-failure mail for this
// item.
func (l *Loop) sendRecoveryMail(item *types.EventQueueItem, j *types.Job) {
	if l.cfg.Mailer == nil || !item.MailSent {
		return
	}
	body := fmt.Sprintf(mail.JobRecoverText, j.ID, j.AdapterConfigID, item.FailureCount, j.Status)
	_ = l.cfg.Mailer.SendEmail(nil, "Job recovered", body)
	item.MailSent = false
	item.FailureCount = 0
}

// recordFailure classifies a retryable failure against the loop's retry
// policy (spec.md §7): it escalates the log severity as failures
// accumulate, sends a one-time first-failure mail per event, and drops the
// event once the policy's give-up threshold is reached.
func (l *Loop) recordFailure(ctx context.Context, item *types.EventQueueItem, j *types.Job, cause error) error {
	metrics.RequeuedJobs.Inc()
	j.FailureCount++
	item.RecordFailure(time.Now())

	outcome := l.cfg.RetryPolicy.Evaluate(cause, item.FailureCount, time.Now())
	logEvent := log.Logger.WithLevel(severityToZerolog(outcome.Severity))
	logEvent.Err(cause).Str("event_id", item.Event.ID).Str("job_id", j.ID).
		Int("failure_count", item.FailureCount).Msg("job attempt failed")

	if l.cfg.Mailer != nil && !item.MailSent {
		body := fmt.Sprintf(mail.JobFailText, j.ID, j.AdapterConfigID, item.FailureCount, j.Status)
		_ = l.cfg.Mailer.SendEmail(nil, "Job failed", body)
		item.MailSent = true
	}

	if _, ok := cause.(*relayerr.Fatal); ok {
		return cause
	}
	if _, ok := cause.(*relayerr.InvalidConfiguration); ok {
		outcome.GiveUp = true
	}

	if outcome.GiveUp {
		log.Logger.Error().Str("event_id", item.Event.ID).Int("failure_count", item.FailureCount).
			Msg("give-up threshold reached, dropping event")
		metrics.ProductStatusRejectedEvents.Inc()
		_ = l.queue.Remove(ctx, item)
		return nil
	}

	j.NextPollAt = l.cfg.RetryPolicy.NextAttempt(time.Now(), item.FailureCount)
	return nil
}

func severityToZerolog(s retry.Severity) zerolog.Level {
	switch s {
	case retry.SeverityError:
		return zerolog.ErrorLevel
	case retry.SeverityWarn:
		return zerolog.WarnLevel
	default:
		return zerolog.InfoLevel
	}
}

func (l *Loop) removeFinishedJobs(ctx context.Context, item *types.EventQueueItem) error {
	for _, j := range item.OrderedJobs() {
		if !j.Status.Terminal() {
			continue
		}
		if err := l.queue.RemoveJob(ctx, item, j.ID); err != nil {
			return err
		}
	}
	return nil
}

func (l *Loop) drainProcessRequests(ctx context.Context) {
	for {
		select {
		case req := <-l.processRequests:
			err := l.handleProcessRequest(ctx, req)
			if req.Result != nil {
				req.Result <- err
			}
		default:
			return
		}
	}
}

func (l *Loop) handleProcessRequest(ctx context.Context, req ProcessRequest) error {
	switch req.Kind {
	case "datainstance":
		return l.injectDataInstance(ctx, req.UUID, req.Adapter)
	case "productinstance":
		instances, err := l.catalogue.ListDataInstancesByProductInstance(ctx, req.UUID)
		if err != nil {
			return relayerr.NewRetryable("eventloop: list data instances", err)
		}
		for _, di := range instances {
			if err := l.injectResource(ctx, di, req.Adapter); err != nil {
				return err
			}
		}
		return nil
	default:
		return relayerr.NewInvalidEvent("unknown process request kind: " + req.Kind)
	}
}

func (l *Loop) injectDataInstance(ctx context.Context, uuid, adapterName string) error {
	di, err := l.catalogue.GetDataInstance(ctx, uuid)
	if err != nil {
		return relayerr.NewRetryable("eventloop: get data instance", err)
	}
	return l.injectResource(ctx, di, adapterName)
}

func (l *Loop) injectResource(ctx context.Context, resource *types.DataInstance, adapterName string) error {
	if _, ok := l.bindings[adapterName]; !ok {
		return relayerr.NewInvalidEvent("unknown adapter: " + adapterName)
	}
	event := &types.Event{
		ID:        resource.UUID + ":" + adapterName,
		Kind:      types.EventKindLocal,
		Resource:  resource,
		Timestamp: time.Now(),
		Adapter:   adapterName,
	}
	if l.queue.Has(event.ID) {
		return nil
	}
	_, err := l.queue.Add(ctx, event)
	return err
}

func (l *Loop) updateGauges() {
	for status, count := range l.queue.StatusCount() {
		metrics.QueueDepthByStatus.WithLabelValues(string(status)).Set(float64(count))
	}
}
