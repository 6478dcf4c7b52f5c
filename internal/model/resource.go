package model

import (
	"fmt"
	"sync"
)

// QoSPolicy is a named admission policy on a cluster. A nil limit means
// unlimited.
type QoSPolicy struct {
	Name               string
	MaxWalltimeMinutes *float64
	MaxConcurrentJobs  *int
	MaxCores           *int
}

func (q QoSPolicy) fitsWalltime(walltime float64) bool {
	return q.MaxWalltimeMinutes == nil || walltime <= *q.MaxWalltimeMinutes
}

func (q QoSPolicy) fitsCores(outstanding, cores int) bool {
	return q.MaxCores == nil || *q.MaxCores-outstanding >= cores
}

func (q QoSPolicy) fitsConcurrency(count int) bool {
	return q.MaxConcurrentJobs == nil || count < *q.MaxConcurrentJobs
}

type outstandingJob struct {
	jobID    string
	walltime float64
	cores    int
}

// Resource describes a cluster: node/core/memory capacities and an
// ordered list of QoS policies, plus the mutable per-process bookkeeping
// of jobs currently admitted into each QoS.
//
// QoS order is significant — it is chosen by the cluster definition, with
// the smallest/shortest QoS first so short jobs never waste the capacity
// of a long-running one.
type Resource struct {
	Name            string
	NodeCount       int
	CoresPerNode    int
	MemoryPerNodeMB float64
	QoS             []QoSPolicy

	mu         sync.Mutex
	outstanding map[string][]outstandingJob
}

// TotalCores is the cluster's total core capacity.
func (r *Resource) TotalCores() int { return r.NodeCount * r.CoresPerNode }

// FitsInQoS scans QoS policies in list order and returns the first policy
// that can admit a job of the given walltime and core count, or nil if
// none fits.
func (r *Resource) FitsInQoS(walltime float64, cores int) *QoSPolicy {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fitsInQoSLocked(walltime, cores)
}

func (r *Resource) fitsInQoSLocked(walltime float64, cores int) *QoSPolicy {
	for i := range r.QoS {
		policy := r.QoS[i]
		jobs := r.outstanding[policy.Name]
		outstandingCores := 0
		for _, j := range jobs {
			outstandingCores += j.cores
		}
		if policy.fitsWalltime(walltime) && policy.fitsCores(outstandingCores, cores) && policy.fitsConcurrency(len(jobs)) {
			return &r.QoS[i]
		}
	}
	return nil
}

// RegisterJob atomically re-checks FitsInQoS and, on success, appends the
// job to that QoS's outstanding list. Returns whether registration
// succeeded.
func (r *Resource) RegisterJob(jobID string, walltime float64, cores int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	policy := r.fitsInQoSLocked(walltime, cores)
	if policy == nil {
		return false
	}
	if r.outstanding == nil {
		r.outstanding = make(map[string][]outstandingJob)
	}
	r.outstanding[policy.Name] = append(r.outstanding[policy.Name], outstandingJob{
		jobID:    jobID,
		walltime: walltime,
		cores:    cores,
	})
	return true
}

// String renders a resource summary for CLI output.
func (r *Resource) String() string {
	return fmt.Sprintf("%s (%d nodes x %d cores, %.0f MB/node, %d QoS tiers)",
		r.Name, r.NodeCount, r.CoresPerNode, r.MemoryPerNodeMB, len(r.QoS))
}
