// Package bookkeeper implements the top-level campaign control loop: it
// owns one campaign's lifecycle, drives planning, gates submission on the
// plan graph, and coordinates a clean shutdown of its worker threads.
package bookkeeper

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/simonsobs/socm/internal/enactor"
	"github.com/simonsobs/socm/internal/log"
	"github.com/simonsobs/socm/internal/metrics"
	"github.com/simonsobs/socm/internal/model"
	"github.com/simonsobs/socm/internal/planner"
	"github.com/simonsobs/socm/internal/predictor"
	"github.com/simonsobs/socm/internal/storage"
	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
)

// runtimeBufferFactor is the buffer applied to a workflow's runtime
// estimate: to the declared runtime when no usable prediction is
// available, and to the predicted runtime otherwise.
const runtimeBufferFactor = 1.1

// objectiveSlack is the slack allowed when tightening the pilot walltime
// budget after planning.
const objectiveSlack = 1.25

// Config bundles everything a Bookkeeper needs at construction —
// collaborators are passed in explicitly rather than reached through
// module globals.
type Config struct {
	Campaign  model.Campaign
	Resource  *model.Resource
	Planner   planner.Planner
	Enactor   enactor.Enactor
	Predictor predictor.Predictor
	Recorder  predictor.Recorder
	Ledger    *storage.Ledger // optional; nil disables durability
	Dryrun    bool
	SessionID string
}

// Bookkeeper is the control loop that owns one campaign's lifecycle.
type Bookkeeper struct {
	campaign  model.Campaign
	resource  *model.Resource
	planner   planner.Planner
	enactor   enactor.Enactor
	predictor predictor.Predictor
	recorder  predictor.Recorder
	ledger    *storage.Ledger
	dryrun    bool
	logger    zerolog.Logger

	stateMu       sync.Mutex
	campaignState model.State
	workflowState map[int]model.State
	execIDs       map[int]string

	plan      model.Plan
	graph     *model.PlanGraph
	objective float64

	monitorMu   sync.Mutex
	toMonitor   []model.Workflow
	estEndTimes map[int]float64

	terminate     chan struct{}
	terminateOnce sync.Once
	wg            sync.WaitGroup
}

// New constructs a Bookkeeper: the resource is already resolved by the
// caller and passed in via cfg.Resource, the planner and enactor are
// injected, and every workflow's state is seeded to New.
func New(cfg Config) *Bookkeeper {
	workflowState := make(map[int]model.State, len(cfg.Campaign.Workflows))
	for _, wf := range cfg.Campaign.Workflows {
		workflowState[wf.ID] = model.StateNew
	}

	b := &Bookkeeper{
		campaign:      cfg.Campaign,
		resource:      cfg.Resource,
		planner:       cfg.Planner,
		enactor:       cfg.Enactor,
		predictor:     cfg.Predictor,
		recorder:      cfg.Recorder,
		ledger:        cfg.Ledger,
		dryrun:        cfg.Dryrun,
		logger:        log.WithSession(cfg.SessionID).With().Str("component", "bookkeeper").Logger(),
		campaignState: model.StateNew,
		workflowState: workflowState,
		execIDs:       make(map[int]string),
		estEndTimes:   make(map[int]float64),
		objective:     cfg.Campaign.DeadlineMinutes,
		terminate:     make(chan struct{}),
	}

	b.enactor.RegisterStateCB("bookkeeper.state", b.stateUpdateCB)
	b.enactor.RegisterStateCB("bookkeeper.execid", b.execIDUpdateCB)
	return b
}

// stateUpdateCB is fired by the enactor when workflow states change.
func (b *Bookkeeper) stateUpdateCB(ids []int, newState model.State, _ []string) {
	b.stateMu.Lock()
	defer b.stateMu.Unlock()
	for _, id := range ids {
		b.workflowState[id] = newState
		if b.ledger != nil {
			if err := b.ledger.PutWorkflowState(id, newState.String()); err != nil {
				b.logger.Error().Err(err).Int("workflow_id", id).Msg("failed to persist workflow state")
			}
		}
	}
}

// execIDUpdateCB maps workflow ids to batch-system step ids.
func (b *Bookkeeper) execIDUpdateCB(ids []int, _ model.State, stepIDs []string) {
	b.stateMu.Lock()
	defer b.stateMu.Unlock()
	for i, id := range ids {
		if i < len(stepIDs) && stepIDs[i] != "" {
			b.execIDs[id] = stepIDs[i]
		}
	}
}

func (b *Bookkeeper) setCampaignState(s model.State) {
	b.stateMu.Lock()
	b.campaignState = s
	b.stateMu.Unlock()
	if s.Final() {
		metrics.CampaignsTotal.WithLabelValues(s.String()).Inc()
	}
}

func (b *Bookkeeper) getCampaignState() model.State {
	b.stateMu.Lock()
	defer b.stateMu.Unlock()
	return b.campaignState
}

func (b *Bookkeeper) getWorkflowState(id int) model.State {
	b.stateMu.Lock()
	defer b.stateMu.Unlock()
	return b.workflowState[id]
}

// GetCampaignState returns the current campaign state.
func (b *Bookkeeper) GetCampaignState() model.State { return b.getCampaignState() }

// GetWorkflowsState returns every workflow's current state.
func (b *Bookkeeper) GetWorkflowsState() map[int]model.State {
	b.stateMu.Lock()
	defer b.stateMu.Unlock()
	out := make(map[int]model.State, len(b.workflowState))
	for id, s := range b.workflowState {
		out[id] = s
	}
	return out
}

// computeRequirements computes per-workflow resource requirements,
// attempting a predictor call and falling back to the workflow's declared
// resources times a buffer when the predictor is unavailable or returns
// warnings.
func (b *Bookkeeper) computeRequirements(ctx context.Context) map[int]model.Requirements {
	out := make(map[int]model.Requirements, len(b.campaign.Workflows))
	for _, wf := range b.campaign.Workflows {
		if b.predictor == nil {
			out[wf.ID] = wf.Requirements.Scaled(runtimeBufferFactor)
			continue
		}
		pred, warnings, err := predictor.PredictWithRetry(ctx, b.predictor, wf.Payload.Executable, wf.Name)
		if err != nil || pred == nil || len(warnings) > 0 {
			b.logger.Debug().Int("workflow_id", wf.ID).Msg("predictor unavailable, falling back to declared resources")
			out[wf.ID] = wf.Requirements.Scaled(runtimeBufferFactor)
			continue
		}
		out[wf.ID] = model.Requirements{
			Ranks:           wf.Requirements.Ranks,
			Threads:         wf.Requirements.Threads,
			Cores:           wf.Requirements.Cores,
			MemoryMB:        pred.MemoryMB,
			WalltimeMinutes: pred.RuntimeMinutes * runtimeBufferFactor,
		}
	}
	return out
}

// Start launches the work and monitor threads. Together with the caller
// thread that eventually calls Wait, three long-lived threads exist per
// bookkeeper instance.
func (b *Bookkeeper) Start(ctx context.Context) {
	b.wg.Add(2)
	go b.work(ctx)
	go b.monitor()
}

// work is the planning-and-submission thread.
func (b *Bookkeeper) work(ctx context.Context) {
	defer b.wg.Done()

	b.setCampaignState(model.StatePlanning)
	timer := metrics.NewTimer()
	requirements := b.computeRequirements(ctx)

	result, err := b.planner.Plan(planner.Request{
		Workflows:       b.campaign.Workflows,
		Requirements:    requirements,
		Resource:        b.resource,
		Schema:          b.campaign.ExecutionSchema,
		RequestedCores:  b.campaign.RequestedCores,
		DeadlineMinutes: b.campaign.DeadlineMinutes,
	})
	timer.ObserveDuration(metrics.PlanningDuration)
	if err != nil {
		b.logger.Error().Err(err).Msg("planning failed")
		b.setCampaignState(model.StateFailed)
		return
	}

	b.plan, b.graph = result.Plan, result.Graph

	if len(b.campaign.Workflows) == 0 {
		b.setCampaignState(model.StateDone)
		return
	}

	if !b.verifyObjective() {
		b.logger.Error().Msg("objective cannot be satisfied, ending execution")
		b.setCampaignState(model.StateFailed)
		return
	}

	lastEnd := b.plan.LastEndTime()
	b.objective = math.Ceil(math.Min(lastEnd*objectiveSlack, b.campaign.DeadlineMinutes))
	b.logger.Debug().Float64("makespan", lastEnd).Float64("objective", b.objective).Msg("refined pilot walltime budget")

	if err := b.enactor.Setup(ctx, b.resource, b.objective, result.CoresAllocated, b.campaign.ExecutionSchema); err != nil {
		b.logger.Error().Err(err).Msg("enactor setup failed")
		b.setCampaignState(model.StateFailed)
		return
	}

	b.setCampaignState(model.StateExecuting)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-b.terminate:
			return
		case <-ticker.C:
			if !b.verifyObjective() {
				b.logger.Error().Msg("objective cannot be satisfied, ending execution")
				b.setCampaignState(model.StateFailed)
				metrics.DeadlineViolations.Inc()
				return
			}
			b.submitReady(ctx)
		}
	}
}

// submitReady submits every New workflow whose plan-graph predecessors
// are all Done.
func (b *Bookkeeper) submitReady(ctx context.Context) {
	var ready []enactor.EnactRequest

	entriesByID := make(map[int]model.PlanEntry, len(b.plan))
	for _, e := range b.plan {
		entriesByID[e.Workflow.ID] = e
	}

	for _, id := range b.graph.Nodes() {
		if b.getWorkflowState(id) != model.StateNew {
			continue
		}
		allDone := true
		for _, pred := range b.graph.Predecessors(id) {
			if b.getWorkflowState(pred) != model.StateDone {
				allDone = false
				break
			}
		}
		if !allDone {
			continue
		}

		entry := entriesByID[id]
		nodeSlice := entry.MemoryMB / b.resource.MemoryPerNodeMB
		threadsPerCore := int(math.Floor(float64(b.resource.CoresPerNode) * nodeSlice / float64(entry.Cores.Len())))
		if threadsPerCore < 1 {
			threadsPerCore = 1
		}

		ready = append(ready, enactor.EnactRequest{Workflow: entry.Workflow, ThreadsPerCore: threadsPerCore})

		b.monitorMu.Lock()
		b.toMonitor = append(b.toMonitor, entry.Workflow)
		b.estEndTimes[id] = entry.EndTime
		b.monitorMu.Unlock()
	}

	if len(ready) == 0 {
		return
	}

	if err := b.enactor.Enact(ctx, ready); err != nil {
		b.logger.Error().Err(err).Msg("enact call failed, workflows stay New and retry next tick")
		metrics.SubmitRetries.Inc()
	}
}

// verifyObjective checks the plan's makespan against the deadline.
func (b *Bookkeeper) verifyObjective() bool {
	return b.plan.LastEndTime() <= b.campaign.DeadlineMinutes
}

// monitor is the completion-tracking thread: for each workflow whose
// state has become final, invoke the recorder, persist the record, and
// remove it from the tracked list.
func (b *Bookkeeper) monitor() {
	defer b.wg.Done()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-b.terminate:
			return
		case <-ticker.C:
			b.monitorTick()
		}
	}
}

func (b *Bookkeeper) monitorTick() {
	b.monitorMu.Lock()
	snapshot := append([]model.Workflow(nil), b.toMonitor...)
	b.monitorMu.Unlock()

	var finished []model.Workflow
	for _, wf := range snapshot {
		if b.getWorkflowState(wf.ID).Final() {
			finished = append(finished, wf)
		}
	}
	if len(finished) == 0 {
		return
	}

	for _, wf := range finished {
		if b.getWorkflowState(wf.ID) == model.StateFailed {
			metrics.WorkflowsFailed.Inc()
		}
		b.record(wf)
	}

	b.monitorMu.Lock()
	remaining := b.toMonitor[:0]
	finishedSet := make(map[int]struct{}, len(finished))
	for _, wf := range finished {
		finishedSet[wf.ID] = struct{}{}
	}
	for _, wf := range b.toMonitor {
		if _, done := finishedSet[wf.ID]; !done {
			remaining = append(remaining, wf)
		}
	}
	b.toMonitor = remaining
	b.monitorMu.Unlock()
}

// record persists an execution record and invokes the recorder for one
// finished workflow. The runtime and memory it reports are the planned
// values from the workflow's plan entry (EndTime-StartTime and MemoryMB);
// runtime and peak memory observed on the batch system are not collected.
// Skipped entirely during dry-run, since there is no real execution to
// record.
func (b *Bookkeeper) record(wf model.Workflow) {
	if b.dryrun {
		return
	}

	b.stateMu.Lock()
	stepID := b.execIDs[wf.ID]
	b.stateMu.Unlock()

	var runtime, memory float64
	for _, e := range b.plan {
		if e.Workflow.ID == wf.ID {
			runtime = e.EndTime - e.StartTime
			memory = e.MemoryMB
			break
		}
	}

	if b.ledger != nil {
		if err := b.ledger.PutExecRecord(storage.ExecRecord{
			WorkflowID:     wf.ID,
			ClusterStepID:  stepID,
			RuntimeMinutes: runtime,
			MemoryMB:       memory,
			FinalState:     b.getWorkflowState(wf.ID).String(),
		}); err != nil {
			b.logger.Error().Err(err).Int("workflow_id", wf.ID).Msg("failed to persist exec record")
		}
	}

	if b.recorder == nil {
		return
	}
	if err := b.recorder.RawRecord(context.Background(), predictor.RecordInput{
		JobName:        wf.Name,
		ClusterStepID:  stepID,
		NumericalFields: map[string]float64{
			"ranks":   float64(wf.Requirements.Ranks),
			"threads": float64(wf.Requirements.Threads),
		},
		MemoryMB:       memory,
		RuntimeMinutes: runtime,
		Command:        wf.Payload.Executable,
	}); err != nil {
		b.logger.Error().Err(err).Int("workflow_id", wf.ID).Msg("failed to record workflow execution")
	}
}

// Wait blocks until the campaign reaches a final state. If any workflow
// is Failed, the campaign is Failed; otherwise once every workflow is
// final, the campaign is Done.
func (b *Bookkeeper) Wait() {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for range ticker.C {
		if b.getCampaignState().Final() {
			return
		}
		states := b.GetWorkflowsState()
		allFinal := true
		anyFailed := false
		for _, s := range states {
			if s == model.StateFailed {
				anyFailed = true
				break
			}
			if !s.Final() {
				allFinal = false
			}
		}
		if anyFailed {
			b.setCampaignState(model.StateFailed)
			return
		}
		if allFinal {
			b.setCampaignState(model.StateDone)
			return
		}
	}
}

// Terminate gracefully shuts down the bookkeeper and all managed threads,
// joining the work and monitor threads and aggregating any teardown
// errors.
func (b *Bookkeeper) Terminate() error {
	var result *multierror.Error

	if err := b.enactor.Terminate(); err != nil {
		result = multierror.Append(result, fmt.Errorf("enactor terminate: %w", err))
	}

	b.terminateOnce.Do(func() { close(b.terminate) })
	b.wg.Wait()

	if b.ledger != nil {
		if err := b.ledger.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("ledger close: %w", err))
		}
	}

	return result.ErrorOrNil()
}

// Run starts the bookkeeper, waits for campaign completion, and
// terminates it — the full lifecycle of one campaign run.
func (b *Bookkeeper) Run(ctx context.Context) error {
	b.Start(ctx)
	b.Wait()
	return b.Terminate()
}
