package orchestrator_test

import (
	"context"
	"testing"
	"time"

	"github.com/helios-quant/retrainer/internal/config"
	"github.com/helios-quant/retrainer/internal/jobs"
	"github.com/helios-quant/retrainer/internal/orchestrator"
	"github.com/helios-quant/retrainer/internal/registry"
	"github.com/helios-quant/retrainer/internal/replay"
	"github.com/helios-quant/retrainer/internal/schedule"
	"github.com/helios-quant/retrainer/internal/simulator"
	"github.com/helios-quant/retrainer/internal/strategy"
	"github.com/helios-quant/retrainer/internal/workers"
	"github.com/helios-quant/retrainer/pkg/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type weekendHours struct{}

func (weekendHours) IsOpen(now time.Time) (bool, error)                { return false, nil }
func (weekendHours) CurrentSession(now time.Time) (string, error)      { return "weekend", nil }
func (weekendHours) IsSafePromotionWindow(now time.Time) (bool, error) { return true, nil }

type rampSource struct{}

// LoadBars returns a steadily rising minute series so momentum completes
// round trips whenever the decision flips back to flat.
func (rampSource) LoadBars(ctx context.Context, symbol string, start, end time.Time) ([]*types.Bar, error) {
	base := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)
	bars := make([]*types.Bar, 120)
	price := 5000.0
	for i := range bars {
		if i%9 < 6 {
			price += 1.5
		} else {
			price -= 0.75
		}
		c := decimal.NewFromFloat(price)
		bars[i] = &types.Bar{
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Open:      c,
			High:      c.Add(decimal.NewFromInt(1)),
			Low:       c.Sub(decimal.NewFromInt(1)),
			Close:     c,
			Volume:    decimal.NewFromInt(1000),
		}
	}
	return bars, nil
}

type fixture struct {
	orch   *orchestrator.Orchestrator
	models *registry.ModelRegistry
	jobs   *jobs.Registry
}

func newFixture(t *testing.T, settings config.OrchestratorSettings) *fixture {
	t.Helper()
	logger := zap.NewNop()

	models, err := registry.NewModelRegistry(logger, t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create model registry: %v", err)
	}

	schedSettings := config.SchedulerSettings{
		IntensiveBudget: 4,
		ModerateBudget:  2,
		LightBudget:     1,
		IntensiveCycle:  50 * time.Millisecond,
		ModerateCycle:   50 * time.Millisecond,
		LightCycle:      50 * time.Millisecond,
	}
	scheduler := schedule.NewIntensityScheduler(logger, weekendHours{}, schedSettings, []string{"momentum"})

	sim := simulator.NewExecutionSimulator(simulator.NewFixedTickSlippage(0.25), 2.25, 1e-9)
	engine := replay.NewEngine(logger, sim, config.ReplaySettings{
		MinLookbackBars:        5,
		MaxConsecutiveFailures: 3,
		LearningHorizonBars:    2,
	})

	jobRegistry := jobs.NewRegistry(logger)
	pool := workers.NewPool(logger, &workers.PoolConfig{
		Name:            "test",
		NumWorkers:      2,
		QueueSize:       16,
		ShutdownTimeout: 5 * time.Second,
	})
	metrics := orchestrator.NewMetrics(prometheus.NewRegistry())

	orch := orchestrator.New(
		logger,
		settings,
		scheduler,
		jobRegistry,
		models,
		engine,
		strategy.NewRegistry(logger),
		rampSource{},
		pool,
		metrics,
	)

	return &fixture{orch: orch, models: models, jobs: jobRegistry}
}

func testSettings() config.OrchestratorSettings {
	return config.OrchestratorSettings{
		Symbols:            []string{"ES"},
		LookbackDays:       1,
		JobRetention:       10 * time.Minute,
		CycleBackoff:       10 * time.Millisecond,
		WatchdogMultiplier: 100,
		// Gates high enough that scheduled runs never promote.
		MinSharpeRatio: 1000,
		MinWinRate:     1.1,
		MaxDrawdown:    0,
		MinTradeCount:  1 << 30,
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestStartBootstrapsChampions(t *testing.T) {
	f := newFixture(t, testSettings())

	if err := f.orch.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer f.orch.Stop()

	for _, algo := range []string{"momentum", "meanreversion", "breakout"} {
		if f.models.GetChampion(algo) == nil {
			t.Errorf("No bootstrap champion for %s", algo)
		}
	}
}

func TestCycleRunsScheduledJobsToCompletion(t *testing.T) {
	f := newFixture(t, testSettings())

	if err := f.orch.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer f.orch.Stop()

	waitFor(t, 5*time.Second, func() bool {
		job, ok := f.jobs.Get("momentum-ES")
		return ok && job.Status == types.JobStatusCompleted
	}, "Scheduled job never completed")

	job, _ := f.jobs.Get("momentum-ES")
	if job.Result == nil {
		t.Fatal("Completed job has no result")
	}
	if job.Result.BarsTotal == 0 {
		t.Error("Result has no bars")
	}
	if job.Priority != types.PriorityIntensive {
		t.Errorf("Weekend jobs should run INTENSIVE, got %s", job.Priority)
	}
}

func TestPromotionAfterPassingGates(t *testing.T) {
	settings := testSettings()
	settings.MinSharpeRatio = -1000
	settings.MinWinRate = 0
	settings.MaxDrawdown = 1000
	settings.MinTradeCount = 0

	f := newFixture(t, settings)

	if err := f.orch.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer f.orch.Stop()

	waitFor(t, 5*time.Second, func() bool {
		champion := f.models.GetChampion("momentum")
		return champion != nil && champion.VersionID != registry.BootstrapVersion
	}, "Passing gates never produced a promotion")

	if got := len(f.models.Promotions("momentum")); got < 2 {
		t.Errorf("Expected bootstrap plus at least one gate promotion, got %d", got)
	}
}

func TestSubmitManualJob(t *testing.T) {
	f := newFixture(t, testSettings())

	if err := f.orch.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer f.orch.Stop()

	cfg := &types.BacktestConfig{
		Strategy:       "meanreversion",
		Symbol:         "NQ",
		StartDate:      time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
		EndDate:        time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC),
		Timeframe:      types.Timeframe1m,
		InitialCapital: decimal.NewFromInt(50000),
	}

	id, err := f.orch.SubmitManualJob(context.Background(), cfg)
	if err != nil {
		t.Fatalf("SubmitManualJob failed: %v", err)
	}

	waitFor(t, 5*time.Second, func() bool {
		job, ok := f.jobs.Get(id)
		return ok && job.Status.IsTerminal()
	}, "Manual job never finished")

	job, _ := f.jobs.Get(id)
	if job.Status != types.JobStatusCompleted {
		t.Errorf("Manual job should complete, got %s (%s)", job.Status, job.Error)
	}
}

func TestManualJobOutlivesCallerContext(t *testing.T) {
	f := newFixture(t, testSettings())

	if err := f.orch.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer f.orch.Stop()

	cfg := &types.BacktestConfig{
		Strategy:       "momentum",
		Symbol:         "CL",
		StartDate:      time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
		EndDate:        time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC),
		Timeframe:      types.Timeframe1m,
		InitialCapital: decimal.NewFromInt(50000),
	}

	// An HTTP handler's context dies the moment the response is written.
	reqCtx, cancel := context.WithCancel(context.Background())
	id, err := f.orch.SubmitManualJob(reqCtx, cfg)
	if err != nil {
		t.Fatalf("SubmitManualJob failed: %v", err)
	}
	cancel()

	waitFor(t, 5*time.Second, func() bool {
		job, ok := f.jobs.Get(id)
		return ok && job.Status.IsTerminal()
	}, "Manual job never finished")

	job, _ := f.jobs.Get(id)
	if job.Status != types.JobStatusCompleted {
		t.Errorf("Job must survive caller cancellation, got %s (%s)", job.Status, job.Error)
	}
}

func TestSubmitManualJobCancelledCaller(t *testing.T) {
	f := newFixture(t, testSettings())

	if err := f.orch.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer f.orch.Stop()

	cfg := &types.BacktestConfig{
		Strategy:       "momentum",
		Symbol:         "CL",
		StartDate:      time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
		EndDate:        time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC),
		Timeframe:      types.Timeframe1m,
		InitialCapital: decimal.NewFromInt(50000),
	}

	reqCtx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := f.orch.SubmitManualJob(reqCtx, cfg); err == nil {
		t.Error("Submission with an already-cancelled context must be rejected")
	}
}

func TestSubmitManualJobUnknownStrategy(t *testing.T) {
	f := newFixture(t, testSettings())

	if err := f.orch.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer f.orch.Stop()

	cfg := &types.BacktestConfig{
		Strategy:       "quantum",
		Symbol:         "ES",
		StartDate:      time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
		EndDate:        time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC),
		InitialCapital: decimal.NewFromInt(1000),
	}
	if _, err := f.orch.SubmitManualJob(context.Background(), cfg); err == nil {
		t.Error("Unknown strategy must be rejected")
	}
}

func TestGetStatus(t *testing.T) {
	f := newFixture(t, testSettings())

	if err := f.orch.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer f.orch.Stop()

	waitFor(t, 5*time.Second, func() bool {
		return !f.orch.GetStatus().LastCycle.IsZero()
	}, "Status never reflected a cycle")

	status := f.orch.GetStatus()
	if !status.Running {
		t.Error("Status should report running")
	}
	if status.Recommendation.Level != schedule.LevelIntensive {
		t.Errorf("Weekend should recommend INTENSIVE, got %s", status.Recommendation.Level)
	}
}
