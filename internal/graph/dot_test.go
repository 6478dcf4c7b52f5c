package graph

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simonsobs/socm/internal/model"
)

func TestWriteDOT_DeterministicNodeAndEdgeOrder(t *testing.T) {
	g := model.BuildPlanGraph([]model.PlanEntry{
		{Workflow: model.Workflow{ID: 2, Name: "B"}, Cores: model.CoreRange{Start: 0, End: 1}, StartTime: 0, EndTime: 5},
		{Workflow: model.Workflow{ID: 1, Name: "A"}, Cores: model.CoreRange{Start: 0, End: 1}, StartTime: 5, EndTime: 10},
	})

	var buf bytes.Buffer
	require.NoError(t, WriteDOT(&buf, g))

	want := "digraph plan {\n" +
		"  wf_1;\n" +
		"  wf_2;\n" +
		"  wf_2 -> wf_1;\n" +
		"}\n"
	assert.Equal(t, want, buf.String())
}

func TestWriteDOT_EmptyGraph(t *testing.T) {
	g := model.BuildPlanGraph(nil)
	var buf bytes.Buffer
	require.NoError(t, WriteDOT(&buf, g))
	assert.Equal(t, "digraph plan {\n}\n", buf.String())
}
