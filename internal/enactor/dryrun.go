package enactor

import (
	"context"
	"sync"
	"time"

	"github.com/simonsobs/socm/internal/log"
	"github.com/simonsobs/socm/internal/model"
	"github.com/rs/zerolog"
)

// Dryrun is a first-class enactor mode, not a test artifact: setup is a
// no-op, and enact reports workflows as Done on the poll tick following
// submission, letting an operator verify a plan end to end without
// touching a real batch scheduler. Every tracked workflow is treated as
// immediately finished on its first monitor tick.
type Dryrun struct {
	logger zerolog.Logger

	statusMu sync.Mutex
	tracked  map[int]model.State

	cbMu sync.Mutex
	cbs  map[string]StateCB

	resource     *model.Resource
	pollInterval time.Duration
	stopCh       chan struct{}
	stopOnce     sync.Once
	monitorOnce  sync.Once
	wg           sync.WaitGroup
}

// NewDryrun returns a Dryrun enactor.
func NewDryrun() *Dryrun {
	return &Dryrun{
		logger:       log.WithComponent("dryrun-enactor"),
		tracked:      make(map[int]model.State),
		cbs:          make(map[string]StateCB),
		pollInterval: time.Second,
		stopCh:       make(chan struct{}),
	}
}

func (d *Dryrun) Setup(_ context.Context, resource *model.Resource, _ float64, _ int, _ model.ExecutionSchema) error {
	d.resource = resource
	return nil
}

// Enact transitions every new workflow to Executing and fires the
// callback immediately; the dry-run monitor loop flips them to Done on
// the next tick.
func (d *Dryrun) Enact(_ context.Context, requests []EnactRequest) error {
	d.statusMu.Lock()
	var newlyTracked []int
	for _, req := range requests {
		wf := req.Workflow
		if _, already := d.tracked[wf.ID]; already {
			d.logger.Info().Int("workflow_id", wf.ID).Msg("workflow already enacted, skipping")
			continue
		}
		d.tracked[wf.ID] = model.StateExecuting
		newlyTracked = append(newlyTracked, wf.ID)
	}
	d.statusMu.Unlock()

	if len(newlyTracked) == 0 {
		return nil
	}

	d.fireCallbacks(newlyTracked, model.StateExecuting, make([]string, len(newlyTracked)))

	d.monitorOnce.Do(func() {
		d.wg.Add(1)
		go d.monitorLoop()
	})
	return nil
}

func (d *Dryrun) monitorLoop() {
	defer d.wg.Done()
	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-d.stopCh:
			return
		case <-ticker.C:
			d.pollOnce()
		}
	}
}

func (d *Dryrun) pollOnce() {
	d.statusMu.Lock()
	var doneIDs []int
	for id, state := range d.tracked {
		if state == model.StateExecuting {
			delete(d.tracked, id)
			doneIDs = append(doneIDs, id)
		}
	}
	d.statusMu.Unlock()

	if len(doneIDs) > 0 {
		stepIDs := make([]string, len(doneIDs))
		for i, id := range doneIDs {
			stepIDs[i] = "dryrun.0"
			_ = id
		}
		d.fireCallbacks(doneIDs, model.StateDone, stepIDs)
	}
}

func (d *Dryrun) fireCallbacks(ids []int, state model.State, stepIDs []string) {
	d.cbMu.Lock()
	cbs := make([]StateCB, 0, len(d.cbs))
	for _, cb := range d.cbs {
		cbs = append(cbs, cb)
	}
	d.cbMu.Unlock()
	for _, cb := range cbs {
		cb(ids, state, stepIDs)
	}
}

func (d *Dryrun) RegisterStateCB(name string, cb StateCB) {
	d.cbMu.Lock()
	defer d.cbMu.Unlock()
	d.cbs[name] = cb
}

func (d *Dryrun) GetStatus(ids []int) map[int]model.State {
	d.statusMu.Lock()
	defer d.statusMu.Unlock()
	out := make(map[int]model.State, len(ids))
	if ids == nil {
		for id, s := range d.tracked {
			out[id] = s
		}
		return out
	}
	for _, id := range ids {
		if s, ok := d.tracked[id]; ok {
			out[id] = s
		}
	}
	return out
}

func (d *Dryrun) Terminate() error {
	d.stopOnce.Do(func() { close(d.stopCh) })
	d.wg.Wait()
	return nil
}
