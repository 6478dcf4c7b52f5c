package batchsystem

import (
	"context"
	"fmt"
	"sync"
)

// Fake is an in-memory System used by tests in place of a live batch
// scheduler, grounded in pkg/worker/worker.go's injected containerd
// client interface — the worker never talks to a concrete runtime
// directly, so here too the enactor is tested against a substitutable
// System rather than a real cluster.
type Fake struct {
	mu       sync.Mutex
	tasks    map[TaskID]TaskRecord
	nextID   int
	pilots   map[PilotHandle]bool
	nextTick func(TaskID) string // per-task state hook; GetTask does not read it

	Submitted []TaskDescriptor // every descriptor ever passed to SubmitTasks, in order
}

// NewFake returns a Fake batch system whose tasks reach DONE immediately
// on the poll following submission.
func NewFake() *Fake {
	return &Fake{tasks: make(map[TaskID]TaskRecord), pilots: make(map[PilotHandle]bool)}
}

func (f *Fake) Submit(_ context.Context, _ PilotDescriptor) (PilotHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h := PilotHandle(fmt.Sprintf("pilot-%d", len(f.pilots)+1))
	f.pilots[h] = false
	return h, nil
}

func (f *Fake) Wait(_ context.Context, h PilotHandle, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pilots[h] = true
	return nil
}

func (f *Fake) SubmitTasks(_ context.Context, _ PilotHandle, tasks []TaskDescriptor) ([]TaskID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]TaskID, 0, len(tasks))
	for _, task := range tasks {
		f.nextID++
		id := TaskID(fmt.Sprintf("%d.0", f.nextID))
		f.tasks[id] = TaskRecord{State: "RUNNING"}
		ids = append(ids, id)
		f.Submitted = append(f.Submitted, task)
	}
	return ids, nil
}

func (f *Fake) ListTasks(_ context.Context, _ PilotHandle) ([]TaskID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]TaskID, 0, len(f.tasks))
	for id := range f.tasks {
		ids = append(ids, id)
	}
	return ids, nil
}

// GetTask always reports the task as finished on the poll after
// submission — enough to exercise the enactor's monitor loop without a
// real scheduler.
func (f *Fake) GetTask(_ context.Context, id TaskID) (TaskRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.tasks[id]
	if !ok {
		return TaskRecord{}, fmt.Errorf("fake batch system: unknown task %s", id)
	}
	if rec.State == "RUNNING" {
		rec.State = "DONE"
		rec.Stdout = fmt.Sprintf("step_id=%s", id)
		f.tasks[id] = rec
	}
	return rec, nil
}

func (f *Fake) Close() error { return nil }
