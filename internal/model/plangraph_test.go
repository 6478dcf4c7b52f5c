package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildPlanGraph_IsolatedNodes(t *testing.T) {
	entries := []PlanEntry{
		{Workflow: Workflow{ID: 2}, Cores: CoreRange{Start: 0, End: 1}, StartTime: 0, EndTime: 20},
		{Workflow: Workflow{ID: 1}, Cores: CoreRange{Start: 1, End: 2}, StartTime: 0, EndTime: 10},
	}
	g := BuildPlanGraph(entries)
	assert.Empty(t, g.Predecessors(1))
	assert.Empty(t, g.Predecessors(2))
	assert.ElementsMatch(t, []int{1, 2}, g.Nodes())
}

func TestBuildPlanGraph_SerialChainEdge(t *testing.T) {
	entries := []PlanEntry{
		{Workflow: Workflow{ID: 1}, Cores: CoreRange{Start: 0, End: 2}, StartTime: 0, EndTime: 30},
		{Workflow: Workflow{ID: 2}, Cores: CoreRange{Start: 0, End: 2}, StartTime: 30, EndTime: 40},
	}
	g := BuildPlanGraph(entries)
	assert.Empty(t, g.Predecessors(1))
	assert.ElementsMatch(t, []int{1}, g.Predecessors(2))
}

func TestBuildPlanGraph_PartialCoreOverlapMergesPredecessors(t *testing.T) {
	// Entry 3 shares core 0 with entry 1 and core 1 with entry 2: both
	// become predecessors of 3.
	entries := []PlanEntry{
		{Workflow: Workflow{ID: 1}, Cores: CoreRange{Start: 0, End: 1}, StartTime: 0, EndTime: 10},
		{Workflow: Workflow{ID: 2}, Cores: CoreRange{Start: 1, End: 2}, StartTime: 0, EndTime: 10},
		{Workflow: Workflow{ID: 3}, Cores: CoreRange{Start: 0, End: 2}, StartTime: 10, EndTime: 20},
	}
	g := BuildPlanGraph(entries)
	assert.ElementsMatch(t, []int{1, 2}, g.Predecessors(3))
}

func TestBuildPlanGraph_EmptyPlan(t *testing.T) {
	g := BuildPlanGraph(nil)
	assert.Empty(t, g.Nodes())
}
