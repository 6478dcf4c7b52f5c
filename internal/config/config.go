// Package config loads a campaign document from disk. The --toml/-t flag
// name is kept for compatibility; the codec backing it is gopkg.in/yaml.v3.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"

	"github.com/simonsobs/socm/internal/model"
)

// WorkflowDoc is one workflow entry in a campaign document.
type WorkflowDoc struct {
	Name       string   `yaml:"name"`
	Ranks      int      `yaml:"ranks"`
	Threads    int      `yaml:"threads"` // defaults to 1 if unset
	MemoryMB   float64  `yaml:"memory_mb"`
	Walltime   string   `yaml:"walltime"` // human-readable, e.g. "45m"
	Executable string   `yaml:"executable"`
	Args       []string `yaml:"args"`
	Env        []string `yaml:"env"`
	Depends    []string `yaml:"depends"`
}

// CampaignDoc is the nested campaign: block a campaign document contains.
type CampaignDoc struct {
	Resource  string        `yaml:"resource"`
	Schema    string        `yaml:"schema"` // "batch" or "remote"
	Cores     int           `yaml:"cores"`  // batch mode
	Deadline  string        `yaml:"deadline"` // human-readable, e.g. "2d", "6h"
	Policy    string        `yaml:"policy"`
	Workflows []WorkflowDoc `yaml:"workflows"`
}

// Document is the top-level shape of a campaign file.
type Document struct {
	Campaign CampaignDoc `yaml:"campaign"`
}

// durationSuffix matches a leading integer followed by a unit suffix
// (d/h/m), the form accepted for the document's deadline and walltime
// fields and the --deadline flag; go-humanize handles the formatting
// direction.
var durationSuffix = regexp.MustCompile(`^(\d+)([dhm])$`)

// ParseDuration turns a human-readable duration ("2d", "6h", "45m") into
// minutes. Unlike go-humanize (format-only, no parser), this direction
// needs its own small table.
func ParseDuration(s string) (float64, error) {
	m := durationSuffix.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("config: invalid duration %q (want e.g. \"2d\", \"6h\", \"45m\")", s)
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, fmt.Errorf("config: invalid duration %q: %w", s, err)
	}
	switch m[2] {
	case "d":
		return float64(n) * 24 * 60, nil
	case "h":
		return float64(n) * 60, nil
	case "m":
		return float64(n), nil
	default:
		return 0, fmt.Errorf("config: invalid duration %q", s)
	}
}

// FormatRemaining renders a minutes value as a human-readable approximate
// duration for CLI summaries, using dustin/go-humanize the direction it is
// actually built for.
func FormatRemaining(minutes float64) string {
	return humanize.RelTime(time.Now(), time.Now().Add(time.Duration(minutes)*time.Minute), "", "remaining")
}

// Load reads and parses a campaign document from path.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return &doc, nil
}

// ToCampaign converts a parsed document into the model.Campaign the
// bookkeeper consumes, validating every workflow and collecting every
// error found (via go-multierror) rather than failing on the first.
func (d *Document) ToCampaign(id int) (model.Campaign, error) {
	var result *multierror.Error

	deadline, err := ParseDuration(d.Campaign.Deadline)
	if err != nil {
		result = multierror.Append(result, err)
	}

	var schema model.ExecutionSchema
	switch d.Campaign.Schema {
	case "", "batch":
		schema = model.SchemaBatch
	case "remote":
		schema = model.SchemaRemote
	default:
		result = multierror.Append(result, fmt.Errorf("config: unknown schema %q", d.Campaign.Schema))
	}

	workflows := make([]model.Workflow, 0, len(d.Campaign.Workflows))
	for i, wfDoc := range d.Campaign.Workflows {
		if wfDoc.Name == "" {
			result = multierror.Append(result, fmt.Errorf("config: workflow %d missing name", i))
			continue
		}
		if wfDoc.Executable == "" {
			result = multierror.Append(result, fmt.Errorf("config: workflow %q missing executable", wfDoc.Name))
			continue
		}
		if wfDoc.Ranks <= 0 {
			result = multierror.Append(result, fmt.Errorf("config: workflow %q: ranks must be > 0", wfDoc.Name))
			continue
		}
		threads := wfDoc.Threads
		if threads <= 0 {
			threads = 1
		}
		walltime, err := ParseDuration(wfDoc.Walltime)
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("config: workflow %q: %w", wfDoc.Name, err))
			continue
		}
		workflows = append(workflows, model.Workflow{
			ID:   i,
			Name: wfDoc.Name,
			Requirements: model.Requirements{
				Ranks:           wfDoc.Ranks,
				Threads:         threads,
				Cores:           wfDoc.Ranks * threads,
				MemoryMB:        wfDoc.MemoryMB,
				WalltimeMinutes: walltime,
			},
			Payload: model.Payload{
				Executable: wfDoc.Executable,
				Args:       wfDoc.Args,
				Env:        wfDoc.Env,
			},
			Depends: wfDoc.Depends,
		})
	}

	if err := result.ErrorOrNil(); err != nil {
		return model.Campaign{}, err
	}

	return model.Campaign{
		ID:                 id,
		Workflows:          workflows,
		DeadlineMinutes:    deadline,
		TargetResourceName: d.Campaign.Resource,
		ExecutionSchema:    schema,
		RequestedCores:     d.Campaign.Cores,
		Policy:             d.Campaign.Policy,
	}, nil
}
