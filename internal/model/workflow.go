package model

// Requirements is a workflow's resource request, supplied either by the
// driver or estimated by a predictor. Cores is always Ranks * Threads —
// the number of MPI ranks times the OpenMP threads launched per rank.
type Requirements struct {
	Ranks           int     // MPI ranks
	Threads         int     // threads per rank
	Cores           int     // req_cpus, == Ranks * Threads
	MemoryMB        float64 // req_memory
	WalltimeMinutes float64 // req_walltime
}

// Scaled returns r with WalltimeMinutes increased by the given factor,
// used for the declared-resources fallback when a predictor is unavailable.
func (r Requirements) Scaled(factor float64) Requirements {
	r.WalltimeMinutes *= factor
	return r
}

// Payload is the opaque, driver-built descriptor the enactor passes
// through to the batch system. The core never inspects how a workflow
// formats its own command line.
type Payload struct {
	Executable string
	Args       []string
	Env        []string
}

// Workflow is a unit of submitted compute within a campaign. It is an
// immutable definition — lifecycle state lives in the bookkeeper's and
// enactor's own state maps, never on the Workflow value itself, so a
// Workflow can be copied freely between the planner, the plan, and the
// enactor without aliasing mutable state.
type Workflow struct {
	ID           int
	Name         string
	Requirements Requirements
	Payload      Payload

	// Depends names prerequisite workflows by Name, for campaigns that
	// declare an explicit DAG rather than relying purely on core-sharing
	// to induce ordering.
	Depends []string
}
