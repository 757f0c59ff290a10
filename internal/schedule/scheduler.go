// Package schedule maps market state to a training intensity recommendation.
package schedule

import (
	"fmt"
	"time"

	"github.com/helios-quant/retrainer/internal/config"
	"github.com/helios-quant/retrainer/internal/market"
	"github.com/helios-quant/retrainer/pkg/types"
	"go.uber.org/zap"
)

// IntensityLevel represents a scheduling tier.
type IntensityLevel string

const (
	LevelIntensive IntensityLevel = "INTENSIVE"
	LevelModerate  IntensityLevel = "MODERATE"
	LevelLight     IntensityLevel = "LIGHT"
)

// Recommendation is the scheduler's output for one cycle.
type Recommendation struct {
	Level                 IntensityLevel `json:"level"`
	ParallelJobBudget     int            `json:"parallelJobBudget"`
	RecommendedAlgorithms []string       `json:"recommendedAlgorithms"`
	CycleInterval         time.Duration  `json:"cycleInterval"`
	SafeToPromote         bool           `json:"safeToPromote"`
	Reason                string         `json:"reason"`
}

// IntensityScheduler recommends how much concurrent retraining work is
// permissible given the current market state. It holds no mutable state
// and is safe to call every cycle.
type IntensityScheduler struct {
	logger     *zap.Logger
	hours      market.Hours
	settings   config.SchedulerSettings
	algorithms []string
}

// NewIntensityScheduler creates a scheduler over the given market clock.
func NewIntensityScheduler(logger *zap.Logger, hours market.Hours, settings config.SchedulerSettings, algorithms []string) *IntensityScheduler {
	return &IntensityScheduler{
		logger:     logger.Named("scheduler"),
		hours:      hours,
		settings:   settings,
		algorithms: algorithms,
	}
}

// Recommend classifies now into an intensity level. A failing or panicking
// market-hours capability degrades to the most conservative level rather
// than propagating: a classification failure must never increase load.
func (s *IntensityScheduler) Recommend(now time.Time) (rec Recommendation) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Warn("market hours capability panicked, degrading to LIGHT",
				zap.Any("panic", r))
			rec = s.conservative(fmt.Sprintf("market hours panic: %v", r))
		}
	}()

	open, err := s.hours.IsOpen(now)
	if err != nil {
		s.logger.Warn("market hours lookup failed, degrading to LIGHT", zap.Error(err))
		return s.conservative(fmt.Sprintf("market hours unavailable: %v", err))
	}

	session, err := s.hours.CurrentSession(now)
	if err != nil {
		s.logger.Warn("session lookup failed, degrading to LIGHT", zap.Error(err))
		return s.conservative(fmt.Sprintf("session unavailable: %v", err))
	}

	safe, err := s.hours.IsSafePromotionWindow(now)
	if err != nil {
		// Promotion safety is advisory; a lookup failure only blocks
		// promotion, not training.
		safe = false
	}

	switch {
	case session == market.SessionWeekend:
		return Recommendation{
			Level:                 LevelIntensive,
			ParallelJobBudget:     s.settings.IntensiveBudget,
			RecommendedAlgorithms: s.algorithms,
			CycleInterval:         s.settings.IntensiveCycle,
			SafeToPromote:         safe,
			Reason:                "weekend: market closed, full retraining capacity",
		}
	case !open:
		return Recommendation{
			Level:                 LevelModerate,
			ParallelJobBudget:     s.settings.ModerateBudget,
			RecommendedAlgorithms: s.algorithms,
			CycleInterval:         s.settings.ModerateCycle,
			SafeToPromote:         safe,
			Reason:                fmt.Sprintf("weekday %s session: reduced retraining capacity", session),
		}
	default:
		algos := s.algorithms
		if len(algos) > 1 {
			algos = algos[:1]
		}
		return Recommendation{
			Level:                 LevelLight,
			ParallelJobBudget:     s.settings.LightBudget,
			RecommendedAlgorithms: algos,
			CycleInterval:         s.settings.LightCycle,
			SafeToPromote:         false,
			Reason:                "market open: minimal background validation only",
		}
	}
}

func (s *IntensityScheduler) conservative(reason string) Recommendation {
	algos := s.algorithms
	if len(algos) > 1 {
		algos = algos[:1]
	}
	return Recommendation{
		Level:                 LevelLight,
		ParallelJobBudget:     1,
		RecommendedAlgorithms: algos,
		CycleInterval:         s.settings.LightCycle,
		SafeToPromote:         false,
		Reason:                reason,
	}
}

// PriorityFor maps an intensity level to the job priority it schedules at.
func PriorityFor(level IntensityLevel) types.JobPriority {
	switch level {
	case LevelIntensive:
		return types.PriorityIntensive
	case LevelModerate:
		return types.PriorityModerate
	default:
		return types.PriorityLight
	}
}
