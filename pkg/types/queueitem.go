package types

import "time"

// EventQueueItem is one event plus its derived, ordered jobs.
type EventQueueItem struct {
	Event *Event

	// jobIDs preserves insertion order; Jobs is keyed by job ID for O(1)
	// lookup, mirroring spec.md's "ordered map from jobId -> Job".
	jobIDs []string
	Jobs   map[string]*Job

	FailureCount  int
	LastFailureAt time.Time
	MailSent      bool
}

// NewEventQueueItem wraps event in a fresh, job-less queue item.
func NewEventQueueItem(event *Event) *EventQueueItem {
	return &EventQueueItem{
		Event: event,
		Jobs:  make(map[string]*Job),
	}
}

// AddJob appends job to the item, preserving insertion order.
func (i *EventQueueItem) AddJob(job *Job) {
	if _, exists := i.Jobs[job.ID]; !exists {
		i.jobIDs = append(i.jobIDs, job.ID)
	}
	i.Jobs[job.ID] = job
}

// RemoveJob deletes a job from the item.
func (i *EventQueueItem) RemoveJob(jobID string) {
	delete(i.Jobs, jobID)
	for idx, id := range i.jobIDs {
		if id == jobID {
			i.jobIDs = append(i.jobIDs[:idx], i.jobIDs[idx+1:]...)
			break
		}
	}
}

// OrderedJobs returns jobs in insertion order.
func (i *EventQueueItem) OrderedJobs() []*Job {
	jobs := make([]*Job, 0, len(i.jobIDs))
	for _, id := range i.jobIDs {
		if job, ok := i.Jobs[id]; ok {
			jobs = append(jobs, job)
		}
	}
	return jobs
}

// Done reports whether every job on the item has reached a terminal state
// and has been removed from the item by the event loop, i.e. whether the
// item itself is now empty and should be dropped from the queue.
func (i *EventQueueItem) Done() bool {
	return len(i.jobIDs) == 0
}

// RecordFailure bumps the item-level failure bookkeeping used to decide
// when to send the first-failure mail (spec.md §7).
func (i *EventQueueItem) RecordFailure(at time.Time) {
	i.FailureCount++
	i.LastFailureAt = at
}

// SerialisedJob is the persisted-node shape for one job, matching spec.md's
// "/events/<eid>/jobs/<jid>/..." mirror layout.
type SerialisedJob struct {
	Status    JobStatus `json:"status"`
	AdapterID string    `json:"adapter_config_id"`
}

// SerialisedItem is the wire/mirror shape of an EventQueueItem.
type SerialisedItem struct {
	Message      []byte                    `json:"message"`
	JobKeys      []string                  `json:"job_keys"`
	Jobs         map[string]SerialisedJob  `json:"jobs"`
	FailureCount int                       `json:"failure_count"`
}
