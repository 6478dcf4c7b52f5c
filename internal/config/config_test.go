package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simonsobs/socm/internal/model"
)

func TestParseDuration_Table(t *testing.T) {
	cases := []struct {
		in      string
		want    float64
		wantErr bool
	}{
		{"2d", 2 * 24 * 60, false},
		{"6h", 6 * 60, false},
		{"45m", 45, false},
		{"0m", 0, false},
		{"", 0, true},
		{"5w", 0, true},
		{"d", 0, true},
	}
	for _, c := range cases {
		got, err := ParseDuration(c.in)
		if c.wantErr {
			assert.Error(t, err, c.in)
			continue
		}
		require.NoError(t, err, c.in)
		assert.Equal(t, c.want, got, c.in)
	}
}

func TestDocument_ToCampaign_HappyPath(t *testing.T) {
	doc := &Document{Campaign: CampaignDoc{
		Resource: "tiger3",
		Schema:   "remote",
		Deadline: "6h",
		Policy:   "fast",
		Workflows: []WorkflowDoc{
			{Name: "a", Ranks: 2, Threads: 4, MemoryMB: 100, Walltime: "10m", Executable: "/bin/true"},
			{Name: "b", Ranks: 1, MemoryMB: 50, Walltime: "5m", Executable: "/bin/true", Depends: []string{"a"}},
		},
	}}

	campaign, err := doc.ToCampaign(7)
	require.NoError(t, err)
	assert.Equal(t, 7, campaign.ID)
	assert.Equal(t, "tiger3", campaign.TargetResourceName)
	assert.Equal(t, 360.0, campaign.DeadlineMinutes)
	assert.Len(t, campaign.Workflows, 2)
	assert.Equal(t, []string{"a"}, campaign.Workflows[1].Depends)
	assert.Equal(t, 2, campaign.Workflows[0].Requirements.Ranks)
	assert.Equal(t, 4, campaign.Workflows[0].Requirements.Threads)
	assert.Equal(t, 8, campaign.Workflows[0].Requirements.Cores)
	assert.Equal(t, 1, campaign.Workflows[1].Requirements.Threads)
	assert.Equal(t, 1, campaign.Workflows[1].Requirements.Cores)
}

func TestDocument_ToCampaign_DefaultSchemaIsBatch(t *testing.T) {
	doc := &Document{Campaign: CampaignDoc{
		Resource: "universe",
		Deadline: "1h",
		Workflows: []WorkflowDoc{
			{Name: "a", Ranks: 1, MemoryMB: 10, Walltime: "1m", Executable: "/bin/true"},
		},
	}}
	campaign, err := doc.ToCampaign(1)
	require.NoError(t, err)
	assert.Equal(t, model.SchemaBatch, campaign.ExecutionSchema)
}

func TestDocument_ToCampaign_AggregatesEveryValidationError(t *testing.T) {
	doc := &Document{Campaign: CampaignDoc{
		Resource: "universe",
		Schema:   "bogus",
		Deadline: "not-a-duration",
		Workflows: []WorkflowDoc{
			{Name: "", Executable: "/bin/true", Ranks: 1, Walltime: "1m"},
			{Name: "missing-exe", Ranks: 1, Walltime: "1m"},
			{Name: "bad-walltime", Executable: "/bin/true", Ranks: 1, Walltime: "nope"},
		},
	}}

	_, err := doc.ToCampaign(1)
	require.Error(t, err)
	// go-multierror's default formatter lists every wrapped error; expect
	// all five (deadline, schema, missing name, missing exe, bad walltime;
	// the deadline and walltime errors both read "invalid duration").
	assert.Contains(t, err.Error(), "invalid duration")
	assert.Contains(t, err.Error(), "unknown schema")
	assert.Contains(t, err.Error(), "missing name")
	assert.Contains(t, err.Error(), "missing executable")
}

func TestLoad_ReadsYAMLFromDisk(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "campaign.yaml")
	contents := `
campaign:
  resource: universe
  schema: batch
  cores: 4
  deadline: 2h
  workflows:
    - name: mapA
      ranks: 2
      threads: 4
      memory_mb: 500
      walltime: 15m
      executable: /usr/bin/map
      args: ["--input", "foo"]
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0644))

	doc, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "universe", doc.Campaign.Resource)
	require.Len(t, doc.Campaign.Workflows, 1)
	assert.Equal(t, "mapA", doc.Campaign.Workflows[0].Name)
	assert.Equal(t, []string{"--input", "foo"}, doc.Campaign.Workflows[0].Args)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
