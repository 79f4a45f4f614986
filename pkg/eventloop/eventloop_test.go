package eventloop

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/relay/pkg/adapter"
	"github.com/cuemby/relay/pkg/bus"
	"github.com/cuemby/relay/pkg/catalogue"
	"github.com/cuemby/relay/pkg/coordination"
	"github.com/cuemby/relay/pkg/executor"
	"github.com/cuemby/relay/pkg/queue"
	"github.com/cuemby/relay/pkg/relayerr"
	"github.com/cuemby/relay/pkg/retry"
	"github.com/cuemby/relay/pkg/types"
)

// recordingSender captures every e-mail it's asked to send, for asserting
// on the first-failure/recovery mail behaviour (spec.md §9).
type recordingSender struct {
	sent []string
}

func (s *recordingSender) SendEmail(_ []string, subject, _ string) error {
	s.sent = append(s.sent, subject)
	return nil
}

// flakyExecutor fails Poll the first failBudget times, then succeeds,
// letting tests drive the retry/give-up/recovery-mail path deterministically.
type flakyExecutor struct {
	name       string
	failBudget int
	attempts   int
}

func (f *flakyExecutor) Name() string { return f.name }

func (f *flakyExecutor) Submit(_ context.Context, j *types.Job) error {
	j.Status = types.JobStarted
	j.NextPollAt = time.Now()
	return nil
}

func (f *flakyExecutor) Poll(_ context.Context, j *types.Job) error {
	f.attempts++
	if f.attempts <= f.failBudget {
		j.NextPollAt = time.Now()
		return relayerr.NewRetryable("flaky poll", assert.AnError)
	}
	j.Status = types.JobComplete
	j.ExitCode = 0
	return nil
}

func (f *flakyExecutor) Abort(_ context.Context, _ *types.Job) error { return nil }

func seedDataInstance(t *testing.T, fake *catalogue.Fake) *types.DataInstance {
	t.Helper()
	ctx := context.Background()

	product, err := fake.FindOrCreateProduct(ctx, &types.Product{Slug: "test-product"})
	require.NoError(t, err)

	pi, err := fake.FindOrCreateProductInstance(ctx, &types.ProductInstance{
		Product:       product,
		ReferenceTime: time.Now(),
		Version:       "1",
	})
	require.NoError(t, err)

	data, err := fake.FindOrCreateData(ctx, &types.Data{ProductInstance: pi})
	require.NoError(t, err)

	di := &types.DataInstance{UUID: "di-1", Data: data, URL: "file:///tmp/foo"}
	saved, err := fake.SaveDataInstance(ctx, di)
	require.NoError(t, err)
	return saved
}

func newTestLoop(t *testing.T, fake *catalogue.Fake, listener bus.Listener) *Loop {
	t.Helper()
	store := coordination.NewMemoryStore()
	q := queue.New(store)

	cfg := adapter.Config{Name: "null"}
	nullAdapter := adapter.NewNull(cfg)
	nullExecutor := executor.NewNull("null")

	bindings := map[string]*Binding{
		"null": {Adapter: nullAdapter, Executor: nullExecutor, MaxConcurrency: 0},
	}

	return New(Config{
		Concurrency:               10,
		SortStrategy:              queue.StrategyFIFO,
		MessageTimestampThreshold: 24 * time.Hour,
		HeartbeatInterval:         time.Second,
		HeartbeatTimeout:          time.Second,
	}, []bus.Listener{listener}, q, fake, bindings)
}

func TestTick_AdmitsAndCompletesJob(t *testing.T) {
	fake := catalogue.NewFake()
	di := seedDataInstance(t, fake)

	inmem := bus.NewInMemory(8)
	body, err := json.Marshal(map[string]interface{}{
		"message_id":        "msg-1",
		"message_timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":           "1.5.0",
		"type":              "resource",
		"uri":               "/api/v1/datainstance/" + di.UUID,
	})
	require.NoError(t, err)
	_, err = inmem.Publish(body)
	require.NoError(t, err)

	loop := newTestLoop(t, fake, inmem)
	ctx := context.Background()

	require.NoError(t, loop.Tick(ctx))
	assert.Equal(t, 1, loop.queue.Len())

	require.NoError(t, loop.Tick(ctx))
	require.NoError(t, loop.Tick(ctx))

	assert.Equal(t, 0, loop.queue.Len())
	assert.False(t, loop.Heartbeat().IsZero())
	assert.True(t, loop.Healthy())
}

func TestTick_HeartbeatRecordedEveryIteration(t *testing.T) {
	fake := catalogue.NewFake()
	inmem := bus.NewInMemory(8)
	loop := newTestLoop(t, fake, inmem)

	ctx := context.Background()
	require.NoError(t, loop.Tick(ctx))
	first := loop.Heartbeat()
	time.Sleep(time.Millisecond)
	require.NoError(t, loop.Tick(ctx))
	assert.True(t, loop.Heartbeat().After(first) || loop.Heartbeat().Equal(first))
}

func TestRequestDrain_StopsIngress(t *testing.T) {
	fake := catalogue.NewFake()
	di := seedDataInstance(t, fake)

	inmem := bus.NewInMemory(8)
	loop := newTestLoop(t, fake, inmem)

	// An in-flight event keeps the queue non-empty, so the drain flag is
	// not cleared on the next iteration.
	result := make(chan error, 1)
	loop.RequestProcess(ProcessRequest{Kind: "datainstance", UUID: di.UUID, Adapter: "null", Result: result})

	loop.RequestDrain()
	ctx := context.Background()
	require.NoError(t, loop.Tick(ctx))
	require.NoError(t, <-result)
	assert.True(t, loop.Draining())

	body, _ := json.Marshal(map[string]interface{}{
		"message_id":        "msg-2",
		"message_timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":           "1.5.0",
		"type":              "resource",
		"uri":               "/api/v1/datainstance/" + di.UUID,
	})
	_, _ = inmem.Publish(body)

	require.NoError(t, loop.Tick(ctx))
	assert.False(t, loop.queue.Has("msg-2"), "no new event should be admitted while draining")
}

func TestRequestProcess_InjectsLocalEvent(t *testing.T) {
	fake := catalogue.NewFake()
	di := seedDataInstance(t, fake)
	inmem := bus.NewInMemory(8)
	loop := newTestLoop(t, fake, inmem)

	result := make(chan error, 1)
	loop.RequestProcess(ProcessRequest{Kind: "datainstance", UUID: di.UUID, Adapter: "null", Result: result})

	ctx := context.Background()
	require.NoError(t, loop.Tick(ctx))
	require.NoError(t, <-result)
	assert.Equal(t, 1, loop.queue.Len())
}

// newFlakyLoop builds a loop bound to a flakyExecutor behind the "flaky"
// adapter name, with mail/retry wired in so give-up and recovery paths are
// reachable.
func newFlakyLoop(t *testing.T, fake *catalogue.Fake, listener bus.Listener, failBudget int, policy retry.Policy, sender *recordingSender) (*Loop, *flakyExecutor) {
	t.Helper()
	store := coordination.NewMemoryStore()
	q := queue.New(store)

	cfg := adapter.Config{Name: "flaky"}
	flakyAdapter := adapter.NewNull(cfg)
	exec := &flakyExecutor{name: "flaky", failBudget: failBudget}

	bindings := map[string]*Binding{
		"flaky": {Adapter: flakyAdapter, Executor: exec, MaxConcurrency: 0},
	}

	loop := New(Config{
		Concurrency:               10,
		SortStrategy:              queue.StrategyFIFO,
		MessageTimestampThreshold: 24 * time.Hour,
		HeartbeatInterval:         time.Second,
		HeartbeatTimeout:          time.Second,
		Mailer:                    sender,
		RetryPolicy:               policy,
	}, []bus.Listener{listener}, q, fake, bindings)
	return loop, exec
}

func TestRecordFailure_GivesUpAfterThreshold(t *testing.T) {
	fake := catalogue.NewFake()
	di := seedDataInstance(t, fake)
	inmem := bus.NewInMemory(8)
	sender := &recordingSender{}

	policy := retry.Policy{Interval: 0, WarnAt: 1, ErrAt: 2, GiveUp: 3}
	loop, _ := newFlakyLoop(t, fake, inmem, 10 /* always fails */, policy, sender)

	result := make(chan error, 1)
	loop.RequestProcess(ProcessRequest{Kind: "datainstance", UUID: di.UUID, Adapter: "flaky", Result: result})

	ctx := context.Background()
	require.NoError(t, loop.Tick(ctx))
	require.NoError(t, <-result)
	assert.Equal(t, 1, loop.queue.Len())

	for i := 0; i < 8 && loop.queue.Len() > 0; i++ {
		require.NoError(t, loop.Tick(ctx))
	}

	assert.Equal(t, 0, loop.queue.Len(), "event should be dropped once the give-up threshold is reached")
	assert.Contains(t, sender.sent, "Job failed", "a first-failure mail should have been sent")
}

func TestRecordFailure_SendsRecoveryMailAfterEventualSuccess(t *testing.T) {
	fake := catalogue.NewFake()
	di := seedDataInstance(t, fake)
	inmem := bus.NewInMemory(8)
	sender := &recordingSender{}

	policy := retry.Policy{Interval: 0, WarnAt: 1, ErrAt: 2, GiveUp: 0}
	loop, _ := newFlakyLoop(t, fake, inmem, 3, policy, sender)

	result := make(chan error, 1)
	loop.RequestProcess(ProcessRequest{Kind: "datainstance", UUID: di.UUID, Adapter: "flaky", Result: result})

	ctx := context.Background()
	require.NoError(t, loop.Tick(ctx))
	require.NoError(t, <-result)

	for i := 0; i < 8 && loop.queue.Len() > 0; i++ {
		require.NoError(t, loop.Tick(ctx))
	}

	assert.Equal(t, 0, loop.queue.Len(), "event should be removed once the job finally completes")
	assert.Contains(t, sender.sent, "Job failed")
	assert.Contains(t, sender.sent, "Job recovered")
}
