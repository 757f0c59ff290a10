// Package jobs tracks in-flight retraining jobs and enforces the
// scheduler's concurrency budget.
package jobs

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/helios-quant/retrainer/pkg/types"
	"go.uber.org/zap"
)

// Registry is the single owner of job state. All access goes through its
// mutex-guarded operations; reservation and transition are the only
// mutating entry points.
type Registry struct {
	mu     sync.Mutex
	logger *zap.Logger
	jobs   map[string]*types.Job
	recent []*types.BacktestResult
}

// statusRank orders job statuses for the monotonic-transition check.
// All terminal statuses share a rank: once terminal, nothing moves.
var statusRank = map[types.JobStatus]int{
	types.JobStatusQueued:    0,
	types.JobStatusRunning:   1,
	types.JobStatusCompleted: 2,
	types.JobStatusFailed:    2,
	types.JobStatusError:     2,
	types.JobStatusCancelled: 2,
}

// NewRegistry creates an empty job registry.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		logger: logger.Named("jobs"),
		jobs:   make(map[string]*types.Job),
	}
}

// TryReserve atomically inserts a QUEUED job if capacity remains under the
// given budget. It returns false without side effects when the budget is
// exhausted, or when a non-terminal job with the same id already exists,
// which prevents duplicate concurrent runs of one logical job.
func (r *Registry) TryReserve(job *types.Job, budget int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.jobs[job.ID]; ok && !existing.Status.IsTerminal() {
		return false
	}

	active := 0
	for _, j := range r.jobs {
		if !j.Status.IsTerminal() {
			active++
		}
	}
	if active >= budget {
		return false
	}

	reserved := *job
	reserved.Status = types.JobStatusQueued
	reserved.StartTime = time.Now()
	r.jobs[job.ID] = &reserved

	r.logger.Debug("job reserved",
		zap.String("id", job.ID),
		zap.Int("active", active+1),
		zap.Int("budget", budget),
	)
	return true
}

// Transition moves a job to a new status, enforcing monotonicity.
// EndTime is set exactly once, on the first move into a terminal status.
func (r *Registry) Transition(id string, status types.JobStatus, result *types.BacktestResult, errMsg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return fmt.Errorf("unknown job %s", id)
	}
	if job.Status.IsTerminal() {
		return fmt.Errorf("job %s already terminal (%s), cannot move to %s", id, job.Status, status)
	}
	if statusRank[status] < statusRank[job.Status] {
		return fmt.Errorf("job %s cannot transition %s -> %s", id, job.Status, status)
	}

	job.Status = status
	if errMsg != "" {
		job.Error = errMsg
	}
	if result != nil {
		job.Result = result
		r.recent = append(r.recent, result)
		if len(r.recent) > 50 {
			r.recent = r.recent[len(r.recent)-50:]
		}
	}
	if status.IsTerminal() && job.EndTime == nil {
		now := time.Now()
		job.EndTime = &now
	}

	return nil
}

// Sweep removes terminal jobs older than the retention window and returns
// how many were removed.
func (r *Registry) Sweep(retention time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	removed := 0
	for id, job := range r.jobs {
		if job.Status.IsTerminal() && job.EndTime != nil && now.Sub(*job.EndTime) > retention {
			delete(r.jobs, id)
			removed++
		}
	}

	if removed > 0 {
		r.logger.Debug("swept terminal jobs", zap.Int("removed", removed))
	}
	return removed
}

// Snapshot returns a read-only copy of all tracked jobs, newest first.
func (r *Registry) Snapshot() []types.Job {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]types.Job, 0, len(r.jobs))
	for _, job := range r.jobs {
		out = append(out, *job)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartTime.After(out[j].StartTime)
	})
	return out
}

// Get returns a copy of one job by id.
func (r *Registry) Get(id string) (types.Job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return types.Job{}, false
	}
	return *job, true
}

// ActiveCount returns the number of non-terminal jobs.
func (r *Registry) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	active := 0
	for _, j := range r.jobs {
		if !j.Status.IsTerminal() {
			active++
		}
	}
	return active
}

// RecentResults returns up to n most recent results, newest last.
func (r *Registry) RecentResults(n int) []*types.BacktestResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	if n <= 0 || n > len(r.recent) {
		n = len(r.recent)
	}
	out := make([]*types.BacktestResult, n)
	copy(out, r.recent[len(r.recent)-n:])
	return out
}
