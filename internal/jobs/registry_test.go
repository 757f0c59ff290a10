package jobs_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/helios-quant/retrainer/internal/jobs"
	"github.com/helios-quant/retrainer/pkg/types"
	"go.uber.org/zap"
)

func newJob(id string) *types.Job {
	return &types.Job{
		ID:        id,
		Algorithm: "momentum",
		Symbol:    "ES",
		Priority:  types.PriorityModerate,
	}
}

func TestTryReserveRespectsBudget(t *testing.T) {
	r := jobs.NewRegistry(zap.NewNop())

	reserved := 0
	for i := 0; i < 3; i++ {
		if r.TryReserve(newJob(fmt.Sprintf("job-%d", i)), 2) {
			reserved++
		}
	}

	if reserved != 2 {
		t.Errorf("Budget 2 should admit exactly 2 of 3 jobs, admitted %d", reserved)
	}
	if r.ActiveCount() != 2 {
		t.Errorf("ActiveCount incorrect: %d", r.ActiveCount())
	}
}

func TestTryReserveRejectsDuplicateActive(t *testing.T) {
	r := jobs.NewRegistry(zap.NewNop())

	if !r.TryReserve(newJob("momentum-ES"), 4) {
		t.Fatal("First reservation should succeed")
	}
	if r.TryReserve(newJob("momentum-ES"), 4) {
		t.Error("Duplicate id with a non-terminal job must be rejected")
	}

	// Once terminal, the id is reusable.
	if err := r.Transition("momentum-ES", types.JobStatusCompleted, nil, ""); err != nil {
		t.Fatalf("Transition failed: %v", err)
	}
	if !r.TryReserve(newJob("momentum-ES"), 4) {
		t.Error("Terminal job must not block a new reservation of the same id")
	}
}

func TestTransitionIsMonotonic(t *testing.T) {
	r := jobs.NewRegistry(zap.NewNop())
	r.TryReserve(newJob("j1"), 1)

	if err := r.Transition("j1", types.JobStatusRunning, nil, ""); err != nil {
		t.Fatalf("QUEUED -> RUNNING failed: %v", err)
	}
	if err := r.Transition("j1", types.JobStatusQueued, nil, ""); err == nil {
		t.Error("RUNNING -> QUEUED must be rejected")
	}
	if err := r.Transition("j1", types.JobStatusCompleted, nil, ""); err != nil {
		t.Fatalf("RUNNING -> COMPLETED failed: %v", err)
	}
	if err := r.Transition("j1", types.JobStatusFailed, nil, ""); err == nil {
		t.Error("Terminal job must reject further transitions")
	}

	job, ok := r.Get("j1")
	if !ok {
		t.Fatal("Job vanished")
	}
	if job.EndTime == nil {
		t.Error("EndTime must be set on the terminal transition")
	}
}

func TestTransitionUnknownJob(t *testing.T) {
	r := jobs.NewRegistry(zap.NewNop())

	if err := r.Transition("ghost", types.JobStatusRunning, nil, ""); err == nil {
		t.Error("Unknown job must be an error")
	}
}

func TestSweepRemovesOldTerminalJobs(t *testing.T) {
	r := jobs.NewRegistry(zap.NewNop())

	r.TryReserve(newJob("old"), 4)
	r.Transition("old", types.JobStatusCompleted, nil, "")
	r.TryReserve(newJob("active"), 4)

	time.Sleep(10 * time.Millisecond)

	if removed := r.Sweep(time.Millisecond); removed != 1 {
		t.Errorf("Expected to sweep 1 job, swept %d", removed)
	}
	if _, ok := r.Get("old"); ok {
		t.Error("Swept job still present")
	}
	if _, ok := r.Get("active"); !ok {
		t.Error("Active job must survive the sweep")
	}
}

func TestRecentResultsRing(t *testing.T) {
	r := jobs.NewRegistry(zap.NewNop())

	for i := 0; i < 60; i++ {
		id := fmt.Sprintf("j-%d", i)
		r.TryReserve(newJob(id), 1000)
		r.Transition(id, types.JobStatusCompleted, &types.BacktestResult{BarsTotal: i}, "")
	}

	all := r.RecentResults(0)
	if len(all) != 50 {
		t.Fatalf("Ring should cap at 50, got %d", len(all))
	}
	if all[len(all)-1].BarsTotal != 59 {
		t.Errorf("Newest result should be last, got %d", all[len(all)-1].BarsTotal)
	}

	few := r.RecentResults(5)
	if len(few) != 5 {
		t.Errorf("Expected 5 results, got %d", len(few))
	}
}

func TestSnapshotNewestFirst(t *testing.T) {
	r := jobs.NewRegistry(zap.NewNop())

	r.TryReserve(newJob("first"), 4)
	time.Sleep(5 * time.Millisecond)
	r.TryReserve(newJob("second"), 4)

	snap := r.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("Expected 2 jobs, got %d", len(snap))
	}
	if snap[0].ID != "second" {
		t.Errorf("Snapshot should be newest first, got %s", snap[0].ID)
	}
}
