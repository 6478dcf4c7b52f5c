package bookkeeper

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simonsobs/socm/internal/enactor"
	"github.com/simonsobs/socm/internal/log"
	"github.com/simonsobs/socm/internal/model"
	"github.com/simonsobs/socm/internal/planner"
	"github.com/simonsobs/socm/internal/predictor"
)

func TestMain(m *testing.M) {
	log.Init(log.Config{Level: log.ErrorLevel, Output: io.Discard})
	m.Run()
}

func testResource() *model.Resource {
	return &model.Resource{Name: "universe", NodeCount: 1, CoresPerNode: 8, MemoryPerNodeMB: 8000}
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return cond()
}

// DAG respected in submission: X -> Y by
// explicit depends; Y never appears before X reaches Done.
func TestBookkeeper_DAGRespectedInSubmission(t *testing.T) {
	x := model.Workflow{
		ID: 1, Name: "X",
		Requirements: model.Requirements{Cores: 1, MemoryMB: 100, WalltimeMinutes: 1},
		Payload:      model.Payload{Executable: "/bin/true"},
	}
	y := model.Workflow{
		ID: 2, Name: "Y",
		Requirements: model.Requirements{Cores: 1, MemoryMB: 100, WalltimeMinutes: 1},
		Payload:      model.Payload{Executable: "/bin/true"},
		Depends:      []string{"X"},
	}

	campaign := model.Campaign{
		ID:                 1,
		Workflows:          []model.Workflow{x, y},
		DeadlineMinutes:    1000,
		TargetResourceName: "universe",
		ExecutionSchema:    model.SchemaBatch,
		RequestedCores:     2,
	}

	en := enactor.NewDryrun()
	bk := New(Config{
		Campaign:  campaign,
		Resource:  testResource(),
		Planner:   planner.New(),
		Enactor:   en,
		Predictor: nil,
		Recorder:  predictor.NoopRecorder{},
		Dryrun:    true,
		SessionID: "socm.session.test1",
	})

	var violation bool
	en.RegisterStateCB("test-observer", func(ids []int, state model.State, _ []string) {
		if state != model.StateExecuting && state != model.StateDone {
			return
		}
		for _, id := range ids {
			if id == 2 && (state == model.StateExecuting || state == model.StateDone) && bk.getWorkflowState(1) != model.StateDone {
				violation = true
			}
		}
	})

	bk.Start(context.Background())
	bk.Wait()
	require.NoError(t, bk.Terminate())

	assert.False(t, violation, "Y must never be enacted before X reaches Done")

	assert.Equal(t, model.StateDone, bk.getCampaignState())
	assert.Equal(t, model.StateDone, bk.getWorkflowState(1))
	assert.Equal(t, model.StateDone, bk.getWorkflowState(2))
}

// Deadline violation mid-run: a plan whose makespan has been pushed past
// the deadline fails verifyObjective, the check the work loop runs every
// tick before moving the campaign to Failed.
func TestBookkeeper_DeadlineViolationMidRun(t *testing.T) {
	wf := model.Workflow{
		ID: 1, Name: "W1",
		Requirements: model.Requirements{Cores: 1, MemoryMB: 100, WalltimeMinutes: 5},
		Payload:      model.Payload{Executable: "/bin/true"},
	}
	campaign := model.Campaign{
		ID:                 2,
		Workflows:          []model.Workflow{wf},
		DeadlineMinutes:    10,
		TargetResourceName: "universe",
		ExecutionSchema:    model.SchemaBatch,
		RequestedCores:     1,
	}

	bk := New(Config{
		Campaign:  campaign,
		Resource:  testResource(),
		Planner:   planner.New(),
		Enactor:   enactor.NewDryrun(),
		Predictor: nil,
		Recorder:  predictor.NoopRecorder{},
		Dryrun:    true,
		SessionID: "socm.session.test2",
	})

	// Force the already-computed plan past the deadline to simulate a
	// fault injector delaying X.
	bk.plan = append(bk.plan, model.PlanEntry{
		Workflow:  model.Workflow{ID: 999, Name: "fault"},
		Cores:     model.CoreRange{Start: 0, End: 1},
		StartTime: 0,
		EndTime:   1e6,
	})

	ok := bk.verifyObjective()
	assert.False(t, ok, "plan exceeding the deadline must fail verification")
}

// Boundary: an empty campaign's bookkeeper goes straight to Done.
func TestBookkeeper_EmptyCampaignIsImmediatelyDone(t *testing.T) {
	campaign := model.Campaign{
		ID:                 3,
		Workflows:          nil,
		DeadlineMinutes:    10,
		TargetResourceName: "universe",
		ExecutionSchema:    model.SchemaBatch,
		RequestedCores:     1,
	}
	bk := New(Config{
		Campaign:  campaign,
		Resource:  testResource(),
		Planner:   planner.New(),
		Enactor:   enactor.NewDryrun(),
		Recorder:  predictor.NoopRecorder{},
		Dryrun:    true,
		SessionID: "socm.session.test3",
	})

	bk.Start(context.Background())
	bk.Wait()
	require.NoError(t, bk.Terminate())
	assert.Equal(t, model.StateDone, bk.getCampaignState())
}
