// Package queue holds the in-flight event queue and its coordination-store
// mirror, grounded in the teacher's pkg/scheduler/scheduler.go structure
// (a single owner type wrapping an ordered collection, mutating it only
// from its own call path) generalised from container scheduling to
// event/job bookkeeping (spec.md §4.1).
package queue

import (
	"context"
	"fmt"

	"github.com/cuemby/relay/pkg/coordination"
	"github.com/cuemby/relay/pkg/mirror"
	"github.com/cuemby/relay/pkg/types"
)

// EventQueue owns the in-flight set of events and their jobs. It is driven
// exclusively by the single-threaded event loop, so — as with the teacher's
// scheduler under its own run loop — no internal locking is required; the
// mutex the teacher carries defensively is dropped here because relay's
// contract guarantees a single caller (spec.md §5).
type EventQueue struct {
	items  map[string]*types.EventQueueItem
	order  []string
	mirror *mirror.Mirror
}

// New builds an EventQueue backed by store for mirroring.
func New(store coordination.Store) *EventQueue {
	return &EventQueue{
		items:  make(map[string]*types.EventQueueItem),
		mirror: mirror.New(store),
	}
}

// Add admits a new event, failing if its id is already present in the
// queue. The mirror is written before the in-memory entry so that a mirror
// failure never leaves a window where in-memory and mirror disagree.
func (q *EventQueue) Add(ctx context.Context, event *types.Event) (*types.EventQueueItem, error) {
	if _, exists := q.items[event.ID]; exists {
		return nil, fmt.Errorf("queue: event %s already admitted", event.ID)
	}

	item := types.NewEventQueueItem(event)
	if err := q.mirror.WriteEvent(ctx, item); err != nil {
		return nil, fmt.Errorf("queue: mirror event %s: %w", event.ID, err)
	}

	q.items[event.ID] = item
	q.order = append(q.order, event.ID)
	return item, nil
}

// Remove deletes item's mirror subtree then its in-memory entry.
func (q *EventQueue) Remove(ctx context.Context, item *types.EventQueueItem) error {
	if err := q.mirror.DeleteEvent(ctx, item.Event.ID); err != nil {
		return fmt.Errorf("queue: mirror delete event %s: %w", item.Event.ID, err)
	}
	delete(q.items, item.Event.ID)
	for i, id := range q.order {
		if id == item.Event.ID {
			q.order = append(q.order[:i], q.order[i+1:]...)
			break
		}
	}
	return nil
}

// AddJob appends job to item and mirrors the job's status/adapter nodes.
func (q *EventQueue) AddJob(ctx context.Context, item *types.EventQueueItem, job *types.Job) error {
	item.AddJob(job)
	return q.mirror.WriteJob(ctx, item.Event.ID, job)
}

// UpdateJobStatus mirrors a job's status transition.
func (q *EventQueue) UpdateJobStatus(ctx context.Context, eventID string, job *types.Job) error {
	return q.mirror.WriteJob(ctx, eventID, job)
}

// RemoveJob removes job from item, deleting it from the mirror too. If the
// item has no jobs left, the caller should follow up with Remove.
func (q *EventQueue) RemoveJob(ctx context.Context, item *types.EventQueueItem, jobID string) error {
	item.RemoveJob(jobID)
	return q.mirror.DeleteJob(ctx, item.Event.ID, jobID)
}

// Has reports whether eventID is already admitted.
func (q *EventQueue) Has(eventID string) bool {
	_, ok := q.items[eventID]
	return ok
}

// Get returns the item for eventID, or nil if absent.
func (q *EventQueue) Get(eventID string) *types.EventQueueItem {
	return q.items[eventID]
}

// Items returns every admitted item in insertion order.
func (q *EventQueue) Items() []*types.EventQueueItem {
	out := make([]*types.EventQueueItem, 0, len(q.order))
	for _, id := range q.order {
		out = append(out, q.items[id])
	}
	return out
}

// Len reports how many events are currently admitted.
func (q *EventQueue) Len() int {
	return len(q.items)
}

// ActiveJobsFor counts non-terminal jobs whose AdapterConfigID matches
// adapterID, across every admitted item.
func (q *EventQueue) ActiveJobsFor(adapterID string) int {
	count := 0
	for _, item := range q.items {
		for _, job := range item.Jobs {
			if job.AdapterConfigID == adapterID && !job.Status.Terminal() {
				count++
			}
		}
	}
	return count
}

// ActiveJobs counts every non-terminal job across every admitted item,
// used to enforce the global concurrency bound.
func (q *EventQueue) ActiveJobs() int {
	count := 0
	for _, item := range q.items {
		for _, job := range item.Jobs {
			if !job.Status.Terminal() {
				count++
			}
		}
	}
	return count
}

// StatusCount returns, for each JobStatus, the number of jobs currently in
// that status across every admitted item.
func (q *EventQueue) StatusCount() map[types.JobStatus]int {
	counts := make(map[types.JobStatus]int)
	for _, item := range q.items {
		for _, job := range item.Jobs {
			counts[job.Status]++
		}
	}
	return counts
}

// Recover rebuilds the queue from the mirror on startup (spec.md §4.1
// "Recovery"). knownAdapter reports whether an adapter config key still
// exists; events whose adapter key no longer exists are dropped with a
// warning logged by the caller.
func (q *EventQueue) Recover(ctx context.Context, knownAdapter func(adapterConfigID string) bool) ([]string, error) {
	items, dropped, err := q.mirror.Recover(ctx, knownAdapter)
	if err != nil {
		return nil, err
	}
	for _, item := range items {
		q.items[item.Event.ID] = item
		q.order = append(q.order, item.Event.ID)
	}
	return dropped, nil
}
