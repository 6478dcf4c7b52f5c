// Package graph renders a plan graph to Graphviz DOT text for offline
// inspection via an external `dot -Tpng` invocation. It is built on the
// standard library rather than a third-party client: no graphviz/dot
// binding exists in the dependency set available to this module. See
// DESIGN.md.
package graph

import (
	"fmt"
	"io"
	"sort"

	"github.com/simonsobs/socm/internal/model"
)

// WriteDOT writes g as a Graphviz DOT digraph to w.
func WriteDOT(w io.Writer, g *model.PlanGraph) error {
	if _, err := fmt.Fprintln(w, "digraph plan {"); err != nil {
		return err
	}

	nodes := append([]int(nil), g.Nodes()...)
	sort.Ints(nodes)

	for _, n := range nodes {
		if _, err := fmt.Fprintf(w, "  wf_%d;\n", n); err != nil {
			return err
		}
	}
	for _, n := range nodes {
		preds := g.Predecessors(n)
		sort.Ints(preds)
		for _, p := range preds {
			if _, err := fmt.Fprintf(w, "  wf_%d -> wf_%d;\n", p, n); err != nil {
				return err
			}
		}
	}

	_, err := fmt.Fprintln(w, "}")
	return err
}
