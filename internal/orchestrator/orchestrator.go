// Package orchestrator runs the retraining loop: it asks the scheduler how
// much work the market state allows, reserves jobs under that budget, runs
// replays on the worker pool, and promotes champions that pass the gates.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/helios-quant/retrainer/internal/config"
	"github.com/helios-quant/retrainer/internal/jobs"
	"github.com/helios-quant/retrainer/internal/registry"
	"github.com/helios-quant/retrainer/internal/replay"
	"github.com/helios-quant/retrainer/internal/schedule"
	"github.com/helios-quant/retrainer/internal/strategy"
	"github.com/helios-quant/retrainer/internal/workers"
	"github.com/helios-quant/retrainer/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Event is a service-level notification pushed to websocket subscribers.
type Event struct {
	Type      string      `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// Event types emitted over the event callback.
const (
	EventJobUpdate = "job_update"
	EventPromotion = "promotion"
	EventCycle     = "cycle"
)

// Orchestrator owns the scheduling loop.
type Orchestrator struct {
	logger     *zap.Logger
	settings   config.OrchestratorSettings
	scheduler  *schedule.IntensityScheduler
	jobs       *jobs.Registry
	models     *registry.ModelRegistry
	engine     *replay.Engine
	strategies *strategy.Registry
	source     replay.BarSource
	pool       *workers.Pool
	metrics    *Metrics

	mu       sync.RWMutex
	running  bool
	baseCtx  context.Context
	stopCh   chan struct{}
	doneCh   chan struct{}
	lastRec  schedule.Recommendation
	lastScan time.Time
	onEvent  func(Event)
}

// Status is a point-in-time view of the orchestrator for the API.
type Status struct {
	Running        bool                    `json:"running"`
	LastCycle      time.Time               `json:"lastCycle"`
	Recommendation schedule.Recommendation `json:"recommendation"`
	ActiveJobs     int                     `json:"activeJobs"`
	Jobs           []types.Job             `json:"jobs"`
	Pool           workers.PoolStats       `json:"pool"`
}

// New creates an orchestrator over its collaborators.
func New(
	logger *zap.Logger,
	settings config.OrchestratorSettings,
	scheduler *schedule.IntensityScheduler,
	jobRegistry *jobs.Registry,
	models *registry.ModelRegistry,
	engine *replay.Engine,
	strategies *strategy.Registry,
	source replay.BarSource,
	pool *workers.Pool,
	metrics *Metrics,
) *Orchestrator {
	return &Orchestrator{
		logger:     logger.Named("orchestrator"),
		settings:   settings,
		scheduler:  scheduler,
		jobs:       jobRegistry,
		models:     models,
		engine:     engine,
		strategies: strategies,
		source:     source,
		pool:       pool,
		metrics:    metrics,
	}
}

// SetEventHandler registers a callback invoked on job and promotion
// events. Must be called before Start.
func (o *Orchestrator) SetEventHandler(fn func(Event)) {
	o.onEvent = fn
}

// Start bootstraps champions and launches the scheduling loop.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return fmt.Errorf("orchestrator already running")
	}
	o.running = true
	o.baseCtx = ctx
	o.stopCh = make(chan struct{})
	o.doneCh = make(chan struct{})
	o.mu.Unlock()

	if err := o.models.Bootstrap(o.strategies.List()); err != nil {
		return fmt.Errorf("failed to bootstrap model registry: %w", err)
	}

	o.pool.Start()

	go o.runLoop(ctx)

	o.logger.Info("orchestrator started",
		zap.Strings("symbols", o.settings.Symbols),
		zap.Strings("algorithms", o.strategies.List()),
	)
	return nil
}

// Stop halts the loop and drains the worker pool.
func (o *Orchestrator) Stop() error {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return nil
	}
	o.running = false
	close(o.stopCh)
	o.mu.Unlock()

	<-o.doneCh
	err := o.pool.Stop()

	o.logger.Info("orchestrator stopped")
	return err
}

// runLoop is the scheduling loop. Each iteration asks the scheduler for a
// recommendation, runs one cycle under it, then sleeps for the
// recommended interval. A panicking cycle backs off instead of killing
// the loop.
func (o *Orchestrator) runLoop(ctx context.Context) {
	defer close(o.doneCh)

	for {
		interval := o.safeCycle(ctx)

		select {
		case <-ctx.Done():
			return
		case <-o.stopCh:
			return
		case <-time.After(interval):
		}
	}
}

// safeCycle runs one cycle with panic containment and returns the delay
// before the next one.
func (o *Orchestrator) safeCycle(ctx context.Context) (interval time.Duration) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("scheduling cycle panicked, backing off", zap.Any("panic", r))
			interval = o.settings.CycleBackoff
		}
	}()

	rec := o.scheduler.Recommend(time.Now())

	o.mu.Lock()
	o.lastRec = rec
	o.lastScan = time.Now()
	o.mu.Unlock()

	o.runCycle(ctx, rec)

	o.metrics.CyclesTotal.Inc()
	o.emit(Event{Type: EventCycle, Timestamp: time.Now(), Payload: rec})

	return rec.CycleInterval
}

// runCycle reserves and launches jobs for the recommended algorithms
// against every configured symbol, up to the budget. The job id is the
// algorithm/symbol pair, so a still-running job for the same pair blocks
// re-reservation instead of stacking duplicates.
func (o *Orchestrator) runCycle(ctx context.Context, rec schedule.Recommendation) {
	o.logger.Info("scheduling cycle",
		zap.String("level", string(rec.Level)),
		zap.Int("budget", rec.ParallelJobBudget),
		zap.Strings("algorithms", rec.RecommendedAlgorithms),
		zap.String("reason", rec.Reason),
	)

	var wg sync.WaitGroup
	for _, algo := range rec.RecommendedAlgorithms {
		for _, symbol := range o.settings.Symbols {
			job := &types.Job{
				ID:        fmt.Sprintf("%s-%s", algo, symbol),
				Algorithm: algo,
				Symbol:    symbol,
				Priority:  schedule.PriorityFor(rec.Level),
				Config:    o.backtestConfig(algo, symbol),
			}

			if !o.jobs.TryReserve(job, rec.ParallelJobBudget) {
				continue
			}
			o.metrics.ActiveJobs.Set(float64(o.jobs.ActiveCount()))

			o.launch(ctx, &wg, job.ID, rec)
		}
	}

	// Every worker launched this cycle finishes (or hits the watchdog)
	// before the next scheduling decision is made.
	wg.Wait()

	removed := o.jobs.Sweep(o.settings.JobRetention)
	if removed > 0 {
		o.logger.Debug("swept finished jobs", zap.Int("removed", removed))
	}
}

// launch submits one reserved job to the worker pool under a watchdog
// deadline derived from the cycle interval.
func (o *Orchestrator) launch(ctx context.Context, wg *sync.WaitGroup, jobID string, rec schedule.Recommendation) {
	watchdog := rec.CycleInterval * time.Duration(o.settings.WatchdogMultiplier)

	wg.Add(1)
	err := o.pool.SubmitFunc(func() error {
		defer wg.Done()
		jobCtx, cancel := context.WithTimeout(ctx, watchdog)
		defer cancel()
		return o.runJob(jobCtx, jobID, rec.SafeToPromote)
	})
	if err != nil {
		wg.Done()
		o.logger.Warn("failed to submit job", zap.String("id", jobID), zap.Error(err))
		o.finishJob(jobID, types.JobStatusError, nil, err.Error())
	}
}

// runJob executes one replay end to end and records its terminal status.
func (o *Orchestrator) runJob(ctx context.Context, jobID string, safeToPromote bool) error {
	job, ok := o.jobs.Get(jobID)
	if !ok {
		return fmt.Errorf("job %s vanished before execution", jobID)
	}

	if err := o.jobs.Transition(jobID, types.JobStatusRunning, nil, ""); err != nil {
		return err
	}
	o.emitJob(jobID)

	decide, err := o.strategies.Get(job.Algorithm)
	if err != nil {
		o.finishJob(jobID, types.JobStatusError, nil, err.Error())
		return err
	}

	started := time.Now()
	result, err := o.engine.Run(ctx, job.Config, decide, o.source)
	o.metrics.JobDuration.Observe(time.Since(started).Seconds())

	switch {
	case err != nil:
		// Partial result still worth keeping when the engine aborted
		// mid-run.
		o.finishJob(jobID, types.JobStatusError, result, err.Error())
		return err
	case result.Cancelled:
		o.finishJob(jobID, types.JobStatusCancelled, result, "")
		return nil
	}

	o.finishJob(jobID, types.JobStatusCompleted, result, "")

	if safeToPromote {
		o.evaluateForPromotion(job.Algorithm, result)
	}
	return nil
}

// finishJob records a terminal status and publishes the update.
func (o *Orchestrator) finishJob(jobID string, status types.JobStatus, result *types.BacktestResult, errMsg string) {
	if err := o.jobs.Transition(jobID, status, result, errMsg); err != nil {
		o.logger.Warn("failed to record job status",
			zap.String("id", jobID),
			zap.String("status", string(status)),
			zap.Error(err),
		)
		return
	}
	o.metrics.JobsTotal.WithLabelValues(string(status)).Inc()
	o.metrics.ActiveJobs.Set(float64(o.jobs.ActiveCount()))
	o.emitJob(jobID)
}

// evaluateForPromotion registers the result as a new model version and,
// if it beats all the gates, promotes it to champion.
func (o *Orchestrator) evaluateForPromotion(algorithm string, result *types.BacktestResult) {
	m := result.Metrics
	if m == nil {
		return
	}

	if reason := o.gateFailure(m); reason != "" {
		o.logger.Info("promotion gates not met",
			zap.String("algorithm", algorithm),
			zap.String("gate", reason),
			zap.Float64("sharpe", m.SharpeRatio),
			zap.Float64("winRate", m.WinRate),
			zap.Float64("maxDrawdown", m.MaxDrawdown),
			zap.Int("trades", m.TotalTrades),
		)
		return
	}

	version := &types.ModelVersion{
		Algorithm:   algorithm,
		VersionID:   fmt.Sprintf("v%s-%s", time.Now().Format("20060102-150405"), uuid.New().String()[:8]),
		CreatedAt:   time.Now(),
		ArtifactRef: fmt.Sprintf("replay/%s/%s", algorithm, result.Config.Symbol),
		Metrics:     m,
	}
	if err := o.models.Register(version); err != nil {
		o.logger.Warn("failed to register model version", zap.Error(err))
		return
	}

	reason := fmt.Sprintf("passed gates on %s: sharpe=%.2f winRate=%.2f drawdown=%.2f trades=%d",
		result.Config.Symbol, m.SharpeRatio, m.WinRate, m.MaxDrawdown, m.TotalTrades)
	record, err := o.models.Promote(algorithm, version.VersionID, reason)
	if err != nil {
		o.logger.Warn("failed to promote model version", zap.Error(err))
		return
	}

	o.metrics.PromotionsTotal.Inc()
	o.emit(Event{Type: EventPromotion, Timestamp: time.Now(), Payload: record})
}

// gateFailure returns the name of the first failed promotion gate, or ""
// when all pass. MaxDrawdown is reported negative, so the bound check is
// on its magnitude.
func (o *Orchestrator) gateFailure(m *types.PerformanceMetrics) string {
	switch {
	case m.TotalTrades < o.settings.MinTradeCount:
		return "min_trade_count"
	case m.SharpeRatio < o.settings.MinSharpeRatio:
		return "min_sharpe_ratio"
	case m.WinRate < o.settings.MinWinRate:
		return "min_win_rate"
	case -m.MaxDrawdown > o.settings.MaxDrawdown:
		return "max_drawdown"
	}
	return ""
}

// SubmitManualJob reserves and launches an operator-requested replay
// outside the normal cycle. It still counts against the current budget.
func (o *Orchestrator) SubmitManualJob(ctx context.Context, cfg *types.BacktestConfig) (string, error) {
	if err := cfg.Validate(); err != nil {
		return "", err
	}
	if _, err := o.strategies.Get(cfg.Strategy); err != nil {
		return "", err
	}
	// The caller's context covers only the synchronous reservation; an
	// HTTP request context is cancelled as soon as the response is
	// written, long before the job runs.
	if err := ctx.Err(); err != nil {
		return "", err
	}

	o.mu.RLock()
	rec := o.lastRec
	base := o.baseCtx
	o.mu.RUnlock()
	if base == nil {
		base = context.Background()
	}
	if rec.ParallelJobBudget == 0 {
		rec = o.scheduler.Recommend(time.Now())
	}

	job := &types.Job{
		ID:        fmt.Sprintf("manual-%s", uuid.New().String()[:8]),
		Algorithm: cfg.Strategy,
		Symbol:    cfg.Symbol,
		Priority:  types.PriorityDaily,
		Config:    cfg,
	}

	if !o.jobs.TryReserve(job, rec.ParallelJobBudget) {
		return "", fmt.Errorf("no capacity for manual job, budget %d exhausted", rec.ParallelJobBudget)
	}
	o.metrics.ActiveJobs.Set(float64(o.jobs.ActiveCount()))

	// Manual runs never auto-promote. The job itself runs under the
	// orchestrator's lifetime, not the submitting caller's.
	watchdog := rec.CycleInterval * time.Duration(o.settings.WatchdogMultiplier)
	err := o.pool.SubmitFunc(func() error {
		jobCtx, cancel := context.WithTimeout(base, watchdog)
		defer cancel()
		return o.runJob(jobCtx, job.ID, false)
	})
	if err != nil {
		o.finishJob(job.ID, types.JobStatusError, nil, err.Error())
		return "", err
	}

	return job.ID, nil
}

// GetStatus returns a snapshot for the status endpoint.
func (o *Orchestrator) GetStatus() Status {
	o.mu.RLock()
	defer o.mu.RUnlock()

	return Status{
		Running:        o.running,
		LastCycle:      o.lastScan,
		Recommendation: o.lastRec,
		ActiveJobs:     o.jobs.ActiveCount(),
		Jobs:           o.jobs.Snapshot(),
		Pool:           o.pool.Stats(),
	}
}

// backtestConfig builds the replay window for a scheduled job.
func (o *Orchestrator) backtestConfig(algo, symbol string) *types.BacktestConfig {
	end := time.Now()
	start := end.AddDate(0, 0, -o.settings.LookbackDays)

	return &types.BacktestConfig{
		Strategy:       algo,
		Symbol:         symbol,
		StartDate:      start,
		EndDate:        end,
		Timeframe:      types.Timeframe1m,
		InitialCapital: decimal.NewFromInt(100000),
		LearningMode:   true,
	}
}

func (o *Orchestrator) emitJob(jobID string) {
	if job, ok := o.jobs.Get(jobID); ok {
		o.emit(Event{Type: EventJobUpdate, Timestamp: time.Now(), Payload: job})
	}
}

func (o *Orchestrator) emit(event Event) {
	if o.onEvent != nil {
		o.onEvent(event)
	}
}
