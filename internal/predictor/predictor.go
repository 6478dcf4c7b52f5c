// Package predictor defines the opaque predictor/recorder collaborators
// passed into the bookkeeper explicitly rather than reached through
// module globals.
package predictor

import (
	"context"
	"fmt"
	"time"

	retry "github.com/avast/retry-go"

	"github.com/simonsobs/socm/internal/model"
)

// Prediction is what a predictor returns for one workflow.
type Prediction struct {
	RuntimeMinutes float64
	MemoryMB       float64
}

// Predictor estimates a workflow's resource needs from its command line.
// The core never introspects a predictor's internals.
type Predictor interface {
	Predict(ctx context.Context, command, jobName string) (*Prediction, []string, error)
}

// RecordInput is the execution metadata handed back to a recorder once a
// workflow reaches a final state.
type RecordInput struct {
	JobName          string
	ClusterStepID    string
	CategoricalFields map[string]string
	NumericalFields   map[string]float64
	MemoryMB          float64
	RuntimeMinutes    float64
	Command           string
}

// Recorder persists observed execution data for future predictions.
type Recorder interface {
	RawRecord(ctx context.Context, in RecordInput) error
}

// PredictWithRetry calls p.Predict with one bounded retry before
// surfacing PredictorUnavailable to the caller.
func PredictWithRetry(ctx context.Context, p Predictor, command, jobName string) (*Prediction, []string, error) {
	var (
		pred *Prediction
		warn []string
	)
	err := retry.Do(
		func() error {
			var innerErr error
			pred, warn, innerErr = p.Predict(ctx, command, jobName)
			return innerErr
		},
		retry.Context(ctx),
		retry.Attempts(2),
		retry.Delay(50*time.Millisecond),
	)
	if err != nil {
		return pred, warn, fmt.Errorf("predictor: %w: %v", model.ErrPredictorUnavailable, err)
	}
	return pred, warn, nil
}

// NoopRecorder discards records; used in dry-run mode, where the
// bookkeeper skips recording entirely.
type NoopRecorder struct{}

func (NoopRecorder) RawRecord(context.Context, RecordInput) error { return nil }
