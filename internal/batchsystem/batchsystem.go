// Package batchsystem defines the opaque outbound adapter boundary to the
// real HPC batch scheduler. The enactor is the only consumer; the core
// never reaches past this interface into a concrete scheduler client.
package batchsystem

import "context"

// PilotDescriptor requests one long-running batch allocation inside which
// workflows are scheduled as steps.
type PilotDescriptor struct {
	Resource string
	Cores    int
	Walltime float64 // minutes
	Queue    string
}

// PilotHandle identifies a live pilot allocation.
type PilotHandle string

// TaskDescriptor is the pre-built, opaque-to-the-core submission unit a
// workflow turns into. ThreadsPerCore is derived by the bookkeeper from
// the plan entry's memory share.
type TaskDescriptor struct {
	WorkflowID     int
	Executable     string
	Args           []string
	Env            []string
	Ranks          int
	Threads        int
	ThreadsPerCore int
}

// TaskID identifies a submitted task/step within a pilot.
type TaskID string

// TaskRecord is a snapshot of one task's execution state.
type TaskRecord struct {
	State  string
	Stdout string
}

// Final reports whether state is one of the batch system's terminal
// states, distinguishable from "running".
func Final(state string) bool {
	switch state {
	case "DONE", "FAILED", "CANCELED":
		return true
	default:
		return false
	}
}

// System is the minimum outbound contract: submit a pilot, wait for it
// to go active, submit tasks into it, list and poll tasks, and close the
// session.
type System interface {
	Submit(ctx context.Context, pilot PilotDescriptor) (PilotHandle, error)
	Wait(ctx context.Context, pilot PilotHandle, activeState string) error
	SubmitTasks(ctx context.Context, pilot PilotHandle, tasks []TaskDescriptor) ([]TaskID, error)
	ListTasks(ctx context.Context, pilot PilotHandle) ([]TaskID, error)
	GetTask(ctx context.Context, id TaskID) (TaskRecord, error)
	Close() error
}
