// Package mirror projects the in-memory event queue onto the external
// coordination store at the paths fixed by spec.md §4.1/§6, grounded in
// the teacher's pkg/storage/boltdb.go JSON-marshal-into-bucket pattern,
// adapted from a fixed bucket-per-resource-kind layout to the queue's
// "/events/<eid>/..." hierarchy.
package mirror

import (
	"context"
	"encoding/json"
	"fmt"
	"path"

	"github.com/cuemby/relay/pkg/coordination"
	"github.com/cuemby/relay/pkg/relayerr"
	"github.com/cuemby/relay/pkg/types"
)

// MaxSerialisedBytes is the per-node size cap from spec.md §4.1: a quarter
// of the coordination store's own 1 MiB node limit. Exceeding it is a
// Fatal error that must set drain (see pkg/relayerr.Fatal).
const MaxSerialisedBytes = 256 * 1024

// Mirror writes/reads the event queue's coordination-store projection.
type Mirror struct {
	store coordination.Store
	root  string
}

// New builds a Mirror rooted at "/events".
func New(store coordination.Store) *Mirror {
	return &Mirror{store: store, root: "/events"}
}

func (m *Mirror) eventPath(eventID string) string {
	return path.Join(m.root, eventID)
}

func (m *Mirror) jobsPath(eventID string) string {
	return path.Join(m.eventPath(eventID), "jobs")
}

func (m *Mirror) jobPath(eventID, jobID string) string {
	return path.Join(m.jobsPath(eventID), jobID)
}

// WriteEvent creates the mirror subtree for a freshly admitted item:
// /events/<eid>/message and an empty /events/<eid>/jobs list.
func (m *Mirror) WriteEvent(ctx context.Context, item *types.EventQueueItem) error {
	if err := m.checkSize(item.Event.RawMessage); err != nil {
		return err
	}
	if err := m.store.Create(path.Join(m.eventPath(item.Event.ID), "message"), item.Event.RawMessage); err != nil {
		return err
	}
	return m.writeJobList(ctx, item)
}

func (m *Mirror) writeJobList(_ context.Context, item *types.EventQueueItem) error {
	keys := make([]string, 0, len(item.Jobs))
	for _, job := range item.OrderedJobs() {
		keys = append(keys, job.ID)
	}
	encoded, err := json.Marshal(keys)
	if err != nil {
		return fmt.Errorf("mirror: encode job list: %w", err)
	}
	if err := m.checkSize(encoded); err != nil {
		return err
	}
	return m.store.Set(m.jobsPath(item.Event.ID), encoded)
}

// WriteJob mirrors one job's status and adapter key, and refreshes the
// event's job-id list.
func (m *Mirror) WriteJob(ctx context.Context, eventID string, job *types.Job) error {
	statusPath := path.Join(m.jobPath(eventID, job.ID), "status")
	if err := m.checkSize([]byte(job.Status)); err != nil {
		return err
	}
	if err := m.store.Set(statusPath, []byte(job.Status)); err != nil {
		return err
	}

	adapterPath := path.Join(m.jobPath(eventID, job.ID), "adapter")
	if err := m.store.Set(adapterPath, []byte(job.AdapterConfigID)); err != nil {
		return err
	}

	keys, err := m.store.Children(m.jobsPath(eventID))
	if err != nil && err != coordination.ErrNotExist {
		return err
	}
	found := false
	for _, k := range keys {
		if k == job.ID {
			found = true
			break
		}
	}
	if !found {
		keys = append(keys, job.ID)
	}
	encoded, err := json.Marshal(keys)
	if err != nil {
		return fmt.Errorf("mirror: encode job list: %w", err)
	}
	if err := m.checkSize(encoded); err != nil {
		return err
	}
	return m.store.Set(m.jobsPath(eventID), encoded)
}

// DeleteJob removes a single job's mirror subtree.
func (m *Mirror) DeleteJob(_ context.Context, eventID, jobID string) error {
	return m.store.Delete(m.jobPath(eventID, jobID))
}

// DeleteEvent removes an event's entire mirror subtree.
func (m *Mirror) DeleteEvent(_ context.Context, eventID string) error {
	return m.store.Delete(m.eventPath(eventID))
}

func (m *Mirror) checkSize(payload []byte) error {
	if len(payload) > MaxSerialisedBytes {
		return relayerr.NewFatal("mirror: serialised node too large", fmt.Errorf("%d bytes exceeds %d byte cap", len(payload), MaxSerialisedBytes))
	}
	return nil
}

// Recover reconstructs EventQueueItems from the mirror on startup (spec.md
// §4.1 "Recovery"). Events whose adapter key no longer exists (per
// knownAdapter) are dropped; their ids are returned for a caller-side
// warning metric.
func (m *Mirror) Recover(ctx context.Context, knownAdapter func(adapterConfigID string) bool) ([]*types.EventQueueItem, []string, error) {
	eventIDs, err := m.store.Children(m.root)
	if err != nil {
		if err == coordination.ErrNotExist {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("mirror: list events: %w", err)
	}

	var items []*types.EventQueueItem
	var dropped []string

	for _, eventID := range eventIDs {
		message, err := m.store.Get(path.Join(m.eventPath(eventID), "message"))
		if err != nil {
			dropped = append(dropped, eventID)
			continue
		}

		event := &types.Event{ID: eventID, RawMessage: message}
		item := types.NewEventQueueItem(event)

		jobIDs, err := m.store.Children(m.jobsPath(eventID))
		if err != nil && err != coordination.ErrNotExist {
			return nil, nil, fmt.Errorf("mirror: list jobs for %s: %w", eventID, err)
		}

		keep := true
		for _, jobID := range jobIDs {
			status, err := m.store.Get(path.Join(m.jobPath(eventID, jobID), "status"))
			if err != nil {
				continue
			}
			adapterID, err := m.store.Get(path.Join(m.jobPath(eventID, jobID), "adapter"))
			if err != nil {
				continue
			}
			if !knownAdapter(string(adapterID)) {
				keep = false
				break
			}
			item.AddJob(&types.Job{
				ID:              jobID,
				Status:          types.JobStatus(status),
				AdapterConfigID: string(adapterID),
			})
		}

		if !keep {
			dropped = append(dropped, eventID)
			_ = m.DeleteEvent(ctx, eventID)
			continue
		}

		items = append(items, item)
	}

	return items, dropped, nil
}
