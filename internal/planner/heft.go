// Package planner implements the HEFT-based campaign planner.
package planner

import (
	"fmt"
	"math"
	"sort"

	"github.com/simonsobs/socm/internal/model"
)

// Planner is the narrow interface the bookkeeper depends on, using a
// tagged interface in place of base/subclass inheritance.
type Planner interface {
	Plan(req Request) (Result, error)
}

// Request bundles everything the planner needs for one planning call.
type Request struct {
	Workflows       []model.Workflow
	Requirements    map[int]model.Requirements // workflow id -> requirements
	Resource        *model.Resource
	Schema          model.ExecutionSchema
	RequestedCores  int     // batch mode
	DeadlineMinutes float64 // remote mode
	// StartTimes optionally warm-starts each core's availability. nil
	// means every core starts free at time 0.
	StartTimes []float64
}

// Result is what the planner hands back to the bookkeeper.
type Result struct {
	Plan          model.Plan
	Graph         *model.PlanGraph
	SelectedQoS   *model.QoSPolicy // remote mode only
	CoresAllocated int
}

// HEFT implements the Heterogeneous Earliest Finish Time list-scheduling
// heuristic.
type HEFT struct{}

// New returns a HEFT planner. It is stateless between calls — every call
// recomputes walltime/core/memory estimates from its own Request rather
// than caching them on the instance.
func New() *HEFT { return &HEFT{} }

// Plan produces (plan, plan_graph, selected_qos, cores_allocated). Batch
// mode runs the inner placement once on req.RequestedCores; remote mode
// binary-searches the minimal core count that meets the deadline within
// the cheapest QoS that can hold the largest workflow.
func (h *HEFT) Plan(req Request) (Result, error) {
	switch req.Schema {
	case model.SchemaBatch:
		return h.planBatch(req)
	case model.SchemaRemote:
		return h.planRemote(req)
	default:
		return Result{}, fmt.Errorf("planner: unknown execution schema %q", req.Schema)
	}
}

func (h *HEFT) planBatch(req Request) (Result, error) {
	plan, graph, err := placeWorkflows(req.Workflows, req.Requirements, req.RequestedCores, req.Resource, req.StartTimes)
	if err != nil {
		return Result{}, err
	}
	return Result{Plan: plan, Graph: graph, CoresAllocated: req.RequestedCores}, nil
}

func (h *HEFT) planRemote(req Request) (Result, error) {
	if len(req.Workflows) == 0 {
		return Result{Plan: model.Plan{}, Graph: model.BuildPlanGraph(nil)}, nil
	}

	maxNcores := 0
	for _, wf := range req.Workflows {
		if c := req.Requirements[wf.ID].Cores; c > maxNcores {
			maxNcores = c
		}
	}

	qos := req.Resource.FitsInQoS(req.DeadlineMinutes, maxNcores)
	if qos == nil {
		return Result{}, fmt.Errorf("planner: %w for largest workflow requesting %d cores", model.ErrNoMatchingQoS, maxNcores)
	}

	hi := 2 * maxNcores
	if qos.MaxCores != nil && *qos.MaxCores < hi {
		hi = *qos.MaxCores
	}
	lo := maxNcores

	var best *Result
	for lo <= hi {
		mid := lo + (hi-lo)/2
		plan, graph, err := placeWorkflows(req.Workflows, req.Requirements, mid, req.Resource, req.StartTimes)
		if err == nil && withinDeadline(plan, req.DeadlineMinutes, qos) {
			best = &Result{Plan: plan, Graph: graph, SelectedQoS: qos, CoresAllocated: mid}
			hi = mid - 1
		} else {
			lo = mid + 1
		}
	}

	if best == nil {
		return Result{}, fmt.Errorf("planner: %w within QoS %q up to %d cores", model.ErrDeadlineUnreachable, qos.Name, hi)
	}
	return *best, nil
}

func withinDeadline(plan model.Plan, deadline float64, qos *model.QoSPolicy) bool {
	last := plan.LastEndTime()
	if last > deadline {
		return false
	}
	if qos.MaxWalltimeMinutes != nil && last > *qos.MaxWalltimeMinutes {
		return false
	}
	return true
}

// placeWorkflows is the inner HEFT placement algorithm: sort by walltime
// descending (ties broken by original index), scan contiguous core
// windows at stride n for the candidate minimizing end time subject to a
// memory ceiling, place, and update the free-time vector.
func placeWorkflows(workflows []model.Workflow, reqs map[int]model.Requirements, ncores int, resource *model.Resource, startTimes []float64) (model.Plan, *model.PlanGraph, error) {
	free := make([]float64, ncores)
	switch {
	case len(startTimes) == ncores:
		copy(free, startTimes)
	case len(startTimes) == 1:
		for i := range free {
			free[i] = startTimes[0]
		}
	default:
		// defaults to 0, already the zero value
	}

	order := make([]int, len(workflows))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		wa, wb := reqs[workflows[order[a]].ID].WalltimeMinutes, reqs[workflows[order[b]].ID].WalltimeMinutes
		return wa > wb
	})

	placementOrder := make([]model.PlanEntry, 0, len(workflows))

	for _, idx := range order {
		wf := workflows[idx]
		r := reqs[wf.ID]
		w, n, m := r.WalltimeMinutes, r.Cores, r.MemoryMB

		minEnd := math.Inf(1)
		bestStart := -1
		found := false

		for c := 0; c+n <= ncores; c += n {
			windowStart := maxOf(free[c : c+n])
			windowEnd := windowStart + w
			freeMem := freeMemoryAt(placementOrder, resource, windowStart, ncores)
			if freeMem < m {
				continue
			}
			if windowEnd < minEnd {
				minEnd = windowEnd
				bestStart = c
				found = true
			}
		}

		if !found {
			return nil, nil, fmt.Errorf("planner: %w for workflow %d (id=%d) requesting %.0f MB", model.ErrInfeasibleMemory, idx, wf.ID, m)
		}

		start := maxOf(free[bestStart : bestStart+n])
		entry := model.PlanEntry{
			Workflow:  wf,
			Cores:     model.CoreRange{Start: bestStart, End: bestStart + n},
			MemoryMB:  m,
			StartTime: start,
			EndTime:   start + w,
		}
		placementOrder = append(placementOrder, entry)
		for c := bestStart; c < bestStart+n; c++ {
			free[c] = start + w
		}
	}

	graph := model.BuildPlanGraph(placementOrder)

	plan := model.Plan(append([]model.PlanEntry(nil), placementOrder...))
	plan.SortByWorkflowID()

	return plan, graph, nil
}

// freeMemoryAt scales the cluster's memory by cores_allocated /
// cores_per_node, rounded up to whole nodes, then subtracts the memory of
// every entry already placed whose window contains t.
func freeMemoryAt(placed []model.PlanEntry, resource *model.Resource, t float64, coresAllocated int) float64 {
	nodesInUse := math.Ceil(float64(coresAllocated) / float64(resource.CoresPerNode))
	free := nodesInUse * resource.MemoryPerNodeMB
	for _, p := range placed {
		if p.StartTime <= t && t < p.EndTime {
			free -= p.MemoryMB
		}
	}
	return free
}

func maxOf(xs []float64) float64 {
	m := xs[0]
	for _, x := range xs[1:] {
		if x > m {
			m = x
		}
	}
	return m
}
