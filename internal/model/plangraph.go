package model

import "fmt"

// PlanGraph is the DAG derived from a plan by core-sharing: for every core,
// an edge u->v runs from the workflow u that last occupied that core to
// the next workflow v placed on it, plus an edge for every explicit
// `depends` name a workflow declares. It is the submission gate the
// bookkeeper uses to decide which workflow may be enacted next.
type PlanGraph struct {
	nodes        []int
	predecessors map[int]map[int]struct{}
}

// BuildPlanGraph constructs the plan graph by walking entries in
// placement order (the order the planner emitted them in, longest-walltime
// first — not the id-sorted order the Plan is returned in) and tracking,
// per core, which workflow last occupied it, then layering in any
// explicit `depends` edges a workflow declared by name — independent of,
// and additional to, core-sharing induced edges.
func BuildPlanGraph(entriesInPlacementOrder []PlanEntry) *PlanGraph {
	g := &PlanGraph{predecessors: make(map[int]map[int]struct{})}
	lastUser := make(map[int]int) // core -> workflow id, absent = none
	idByName := make(map[string]int, len(entriesInPlacementOrder))

	for _, entry := range entriesInPlacementOrder {
		idByName[entry.Workflow.Name] = entry.Workflow.ID

		previous := make(map[int]struct{})
		for c := entry.Cores.Start; c < entry.Cores.End; c++ {
			if wf, ok := lastUser[c]; ok {
				previous[wf] = struct{}{}
			}
			lastUser[c] = entry.Workflow.ID
		}
		g.nodes = append(g.nodes, entry.Workflow.ID)
		if len(previous) == 0 {
			g.predecessors[entry.Workflow.ID] = map[int]struct{}{}
			continue
		}
		preds := g.predecessors[entry.Workflow.ID]
		if preds == nil {
			preds = make(map[int]struct{})
		}
		for p := range previous {
			preds[p] = struct{}{}
		}
		g.predecessors[entry.Workflow.ID] = preds
	}

	for _, entry := range entriesInPlacementOrder {
		if len(entry.Workflow.Depends) == 0 {
			continue
		}
		preds := g.predecessors[entry.Workflow.ID]
		if preds == nil {
			preds = make(map[int]struct{})
		}
		for _, name := range entry.Workflow.Depends {
			if id, ok := idByName[name]; ok {
				preds[id] = struct{}{}
			}
		}
		g.predecessors[entry.Workflow.ID] = preds
	}

	if err := g.assertAcyclic(); err != nil {
		panic(err)
	}
	return g
}

// Nodes returns every workflow id in the graph.
func (g *PlanGraph) Nodes() []int { return g.nodes }

// Predecessors returns the ids that must be Done before id may be
// submitted.
func (g *PlanGraph) Predecessors(id int) []int {
	preds := g.predecessors[id]
	out := make([]int, 0, len(preds))
	for p := range preds {
		out = append(out, p)
	}
	return out
}

// assertAcyclic verifies the graph is a DAG. Cyclic dependencies induced
// by core-sharing are impossible by construction (edges only run from
// earlier entries to later ones by wall-clock time); this guards against
// a cycle introduced by conflicting explicit `depends` declarations.
func (g *PlanGraph) assertAcyclic() error {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[int]int, len(g.nodes))
	// predecessors map gives in-edges; walk forward by inverting once.
	children := make(map[int][]int)
	for node, preds := range g.predecessors {
		for p := range preds {
			children[p] = append(children[p], node)
		}
	}

	var visit func(n int) error
	visit = func(n int) error {
		switch color[n] {
		case gray:
			return fmt.Errorf("plan graph: cycle detected at workflow %d", n)
		case black:
			return nil
		}
		color[n] = gray
		for _, c := range children[n] {
			if err := visit(c); err != nil {
				return err
			}
		}
		color[n] = black
		return nil
	}

	for _, n := range g.nodes {
		if err := visit(n); err != nil {
			return err
		}
	}
	return nil
}
