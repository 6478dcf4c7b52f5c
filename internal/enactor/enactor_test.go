package enactor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simonsobs/socm/internal/batchsystem"
	"github.com/simonsobs/socm/internal/model"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	require.True(t, cond(), "condition not met within %s", timeout)
}

func TestBatch_SetupIsIdempotent(t *testing.T) {
	fake := batchsystem.NewFake()
	b := NewBatch(fake)
	resource := &model.Resource{Name: "tiger3"}

	require.NoError(t, b.Setup(context.Background(), resource, 60, 32, model.SchemaRemote))
	firstPilot := b.pilot
	require.NoError(t, b.Setup(context.Background(), resource, 60, 32, model.SchemaRemote))
	assert.Equal(t, firstPilot, b.pilot)
}

func TestBatch_EnactTracksAndCompletesWorkflows(t *testing.T) {
	fake := batchsystem.NewFake()
	b := NewBatch(fake)
	b.pollInterval = 20 * time.Millisecond
	require.NoError(t, b.Setup(context.Background(), &model.Resource{}, 60, 2, model.SchemaBatch))

	var mu sync.Mutex
	var seenStates []model.State
	b.RegisterStateCB("test", func(ids []int, state model.State, _ []string) {
		mu.Lock()
		defer mu.Unlock()
		seenStates = append(seenStates, state)
	})

	wf := model.Workflow{ID: 1, Name: "W1", Requirements: model.Requirements{Ranks: 8, Threads: 4, Cores: 32}}
	require.NoError(t, b.Enact(context.Background(), []EnactRequest{{Workflow: wf, ThreadsPerCore: 1}}))

	assert.Equal(t, model.StateExecuting, b.GetStatus([]int{1})[1])
	require.Len(t, fake.Submitted, 1)
	assert.Equal(t, 8, fake.Submitted[0].Ranks)
	assert.Equal(t, 4, fake.Submitted[0].Threads)

	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, s := range seenStates {
			if s == model.StateDone {
				return true
			}
		}
		return false
	})

	mu.Lock()
	assert.Contains(t, seenStates, model.StateExecuting)
	assert.Contains(t, seenStates, model.StateDone)
	mu.Unlock()

	// A finished workflow is dropped from the tracked set, not left
	// behind in a terminal state, so the map does not grow unboundedly.
	assert.Empty(t, b.GetStatus(nil))

	require.NoError(t, b.Terminate())
}

func TestBatch_EnactSkipsAlreadyTracked(t *testing.T) {
	fake := batchsystem.NewFake()
	b := NewBatch(fake)
	b.pollInterval = time.Hour // don't let the monitor race the assertion
	require.NoError(t, b.Setup(context.Background(), &model.Resource{}, 60, 1, model.SchemaBatch))

	wf := model.Workflow{ID: 1, Name: "W1"}
	require.NoError(t, b.Enact(context.Background(), []EnactRequest{{Workflow: wf}}))
	require.NoError(t, b.Enact(context.Background(), []EnactRequest{{Workflow: wf}}))

	assert.Len(t, b.tracked, 1)
	require.NoError(t, b.Terminate())
}

func TestDryrun_EnactCompletesOnNextTick(t *testing.T) {
	d := NewDryrun()
	d.pollInterval = 20 * time.Millisecond
	require.NoError(t, d.Setup(context.Background(), &model.Resource{}, 60, 1, model.SchemaBatch))

	wf := model.Workflow{ID: 7, Name: "W7"}
	require.NoError(t, d.Enact(context.Background(), []EnactRequest{{Workflow: wf}}))
	assert.Equal(t, model.StateExecuting, d.GetStatus([]int{7})[7])

	waitFor(t, time.Second, func() bool {
		_, stillTracked := d.GetStatus([]int{7})[7]
		return !stillTracked
	})

	// Completion drops the workflow from the tracked set entirely.
	assert.Empty(t, d.GetStatus(nil))

	require.NoError(t, d.Terminate())
}

func TestDryrun_RegisterStateCBFiresOnTransitions(t *testing.T) {
	d := NewDryrun()
	d.pollInterval = 20 * time.Millisecond

	var mu sync.Mutex
	transitions := 0
	d.RegisterStateCB("counter", func(ids []int, state model.State, _ []string) {
		mu.Lock()
		defer mu.Unlock()
		transitions += len(ids)
	})

	wf := model.Workflow{ID: 1}
	require.NoError(t, d.Enact(context.Background(), []EnactRequest{{Workflow: wf}}))

	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return transitions >= 2 // Executing, then Done
	})
	require.NoError(t, d.Terminate())
}
