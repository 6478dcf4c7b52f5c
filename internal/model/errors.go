package model

import "errors"

// Fatal error kinds. Each is campaign-fatal: the bookkeeper marks the
// campaign Failed and terminates its threads.
var (
	// ErrDeadlineUnreachable: the planner cannot fit the campaign under
	// the deadline in any QoS.
	ErrDeadlineUnreachable = errors.New("deadline unreachable")

	// ErrInfeasibleMemory: the inner HEFT placement cannot place a
	// workflow within the memory ceiling in any candidate window.
	ErrInfeasibleMemory = errors.New("infeasible memory")

	// ErrNoMatchingQoS: fits_in_qos returns none for the largest single
	// workflow.
	ErrNoMatchingQoS = errors.New("no matching QoS")
)

// Recoverable error kinds. These are logged and execution continues.
var (
	// ErrSubmitError: the enactor hit an error during one submit_tasks
	// call. The workflow stays New and is retried next tick.
	ErrSubmitError = errors.New("submit error")

	// ErrPredictorUnavailable: the predictor returned no prediction or
	// flagged warnings. The bookkeeper falls back to declared resources
	// times 1.1.
	ErrPredictorUnavailable = errors.New("predictor unavailable")

	// ErrMonitorTransient: a batch-system poll raised. Logged, polling
	// continues.
	ErrMonitorTransient = errors.New("monitor transient error")
)
