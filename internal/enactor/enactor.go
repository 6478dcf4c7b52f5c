// Package enactor owns the submission endpoint to the batch system,
// monitors running workflows, and emits lifecycle callbacks.
package enactor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/simonsobs/socm/internal/batchsystem"
	"github.com/simonsobs/socm/internal/log"
	"github.com/simonsobs/socm/internal/metrics"
	"github.com/simonsobs/socm/internal/model"
	"github.com/rs/zerolog"
)

// StateCB is fired for every workflow state transition the enactor
// observes. Callbacks must not block indefinitely.
type StateCB func(ids []int, newState model.State, stepIDs []string)

// Enactor is the interface the bookkeeper depends on.
type Enactor interface {
	Setup(ctx context.Context, resource *model.Resource, walltimeBudgetMinutes float64, cores int, schema model.ExecutionSchema) error
	Enact(ctx context.Context, workflows []EnactRequest) error
	RegisterStateCB(name string, cb StateCB)
	GetStatus(ids []int) map[int]model.State
	Terminate() error
}

// EnactRequest bundles one workflow with the per-core thread count the
// bookkeeper derived from its plan entry's memory share.
type EnactRequest struct {
	Workflow       model.Workflow
	ThreadsPerCore int
}

type trackedWorkflow struct {
	state   model.State
	taskID  batchsystem.TaskID
	started time.Time
}

// Batch is the real batch-system-backed enactor.
type Batch struct {
	system batchsystem.System
	logger zerolog.Logger

	statusMu sync.Mutex // guards tracked + execution status
	tracked  map[int]*trackedWorkflow

	cbMu sync.Mutex // guards callbacks, kept distinct from statusMu
	cbs  map[string]StateCB

	pilot        batchsystem.PilotHandle
	pollInterval time.Duration
	stopCh       chan struct{}
	stopOnce     sync.Once
	monitorOnce  sync.Once
	wg           sync.WaitGroup
}

// NewBatch returns a Batch enactor over the given opaque batch-system
// adapter.
func NewBatch(system batchsystem.System) *Batch {
	return &Batch{
		system:       system,
		logger:       log.WithComponent("enactor"),
		tracked:      make(map[int]*trackedWorkflow),
		cbs:          make(map[string]StateCB),
		pollInterval: time.Second,
		stopCh:       make(chan struct{}),
	}
}

// Setup allocates one pilot job and blocks until it is live. Idempotent
// per instance.
func (b *Batch) Setup(ctx context.Context, resource *model.Resource, walltimeBudgetMinutes float64, cores int, schema model.ExecutionSchema) error {
	if b.pilot != "" {
		return nil
	}
	handle, err := b.system.Submit(ctx, batchsystem.PilotDescriptor{
		Resource: resource.Name,
		Cores:    cores,
		Walltime: walltimeBudgetMinutes,
		Queue:    string(schema),
	})
	if err != nil {
		return fmt.Errorf("enactor: submit pilot: %w", err)
	}
	if err := b.system.Wait(ctx, handle, "PMGR_ACTIVE"); err != nil {
		return fmt.Errorf("enactor: pilot did not become active: %w", err)
	}
	b.pilot = handle
	b.logger.Info().Str("pilot", string(handle)).Msg("pilot is ready")
	return nil
}

// Enact submits each workflow not already tracked, transitions it to
// Executing, and fires the Executing callback. Lazily starts the monitor
// loop on first call.
func (b *Batch) Enact(ctx context.Context, requests []EnactRequest) error {
	descriptors := make([]batchsystem.TaskDescriptor, 0, len(requests))
	newlyTracked := make([]int, 0, len(requests))

	b.statusMu.Lock()
	for _, req := range requests {
		wf := req.Workflow
		if _, already := b.tracked[wf.ID]; already {
			b.logger.Info().Int("workflow_id", wf.ID).Msg("workflow already enacted, skipping")
			continue
		}
		b.tracked[wf.ID] = &trackedWorkflow{state: model.StateExecuting, started: time.Now()}
		descriptors = append(descriptors, batchsystem.TaskDescriptor{
			WorkflowID:     wf.ID,
			Executable:     wf.Payload.Executable,
			Args:           wf.Payload.Args,
			Env:            wf.Payload.Env,
			Ranks:          wf.Requirements.Ranks,
			Threads:        wf.Requirements.Threads,
			ThreadsPerCore: req.ThreadsPerCore,
		})
		newlyTracked = append(newlyTracked, wf.ID)
	}
	b.statusMu.Unlock()

	if len(descriptors) == 0 {
		return nil
	}

	ids, err := b.system.SubmitTasks(ctx, b.pilot, descriptors)
	if err != nil {
		b.statusMu.Lock()
		for _, id := range newlyTracked {
			delete(b.tracked, id)
		}
		b.statusMu.Unlock()
		return fmt.Errorf("enactor: %w: %v", model.ErrSubmitError, err)
	}

	b.statusMu.Lock()
	for i, wfID := range newlyTracked {
		if i < len(ids) {
			b.tracked[wfID].taskID = ids[i]
		}
	}
	b.statusMu.Unlock()

	metrics.WorkflowsSubmitted.Add(float64(len(newlyTracked)))
	b.fireCallbacks(newlyTracked, model.StateExecuting, make([]string, len(newlyTracked)))

	b.monitorOnce.Do(func() {
		b.wg.Add(1)
		go b.monitorLoop()
	})

	return nil
}

// monitorLoop polls the batch system for every tracked workflow; when one
// reaches a final state it captures the step id, transitions to Done, and
// fires a batched callback for everything that finished in the same tick.
func (b *Batch) monitorLoop() {
	defer b.wg.Done()
	ticker := time.NewTicker(b.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopCh:
			return
		case <-ticker.C:
			b.pollOnce()
		}
	}
}

func (b *Batch) pollOnce() {
	b.statusMu.Lock()
	ids := make([]int, 0, len(b.tracked))
	taskIDs := make(map[int]batchsystem.TaskID)
	for wfID, tw := range b.tracked {
		if tw.state == model.StateExecuting {
			ids = append(ids, wfID)
			taskIDs[wfID] = tw.taskID
		}
	}
	b.statusMu.Unlock()

	var doneIDs []int
	var doneSteps []string

	for _, wfID := range ids {
		rec, err := b.system.GetTask(context.Background(), taskIDs[wfID])
		if err != nil {
			b.logger.Error().Err(err).Int("workflow_id", wfID).Msg("monitor transient error")
			continue
		}
		if !batchsystem.Final(rec.State) {
			continue
		}
		b.statusMu.Lock()
		delete(b.tracked, wfID)
		b.statusMu.Unlock()
		doneIDs = append(doneIDs, wfID)
		doneSteps = append(doneSteps, rec.Stdout)
	}

	if len(doneIDs) > 0 {
		b.fireCallbacks(doneIDs, model.StateDone, doneSteps)
	}
}

func (b *Batch) fireCallbacks(ids []int, state model.State, stepIDs []string) {
	b.cbMu.Lock()
	cbs := make([]StateCB, 0, len(b.cbs))
	for _, cb := range b.cbs {
		cbs = append(cbs, cb)
	}
	b.cbMu.Unlock()
	for _, cb := range cbs {
		cb(ids, state, stepIDs)
	}
}

// RegisterStateCB adds a callback, keyed by name for deduplication.
func (b *Batch) RegisterStateCB(name string, cb StateCB) {
	b.cbMu.Lock()
	defer b.cbMu.Unlock()
	b.cbs[name] = cb
}

// GetStatus is a snapshot lookup of tracked workflow states.
func (b *Batch) GetStatus(ids []int) map[int]model.State {
	b.statusMu.Lock()
	defer b.statusMu.Unlock()
	out := make(map[int]model.State, len(ids))
	if ids == nil {
		for id, tw := range b.tracked {
			out[id] = tw.state
		}
		return out
	}
	for _, id := range ids {
		if tw, ok := b.tracked[id]; ok {
			out[id] = tw.state
		}
	}
	return out
}

// Terminate stops the monitor loop, joins it, and closes the batch
// system session.
func (b *Batch) Terminate() error {
	b.stopOnce.Do(func() { close(b.stopCh) })
	b.wg.Wait()
	return b.system.Close()
}
