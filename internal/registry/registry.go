// Package registry stores model versions per algorithm and tracks the
// current champion.
package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/helios-quant/retrainer/pkg/types"
	"go.uber.org/zap"
)

// BootstrapVersion is the placeholder version id promoted for an algorithm
// that has no champion yet.
const BootstrapVersion = "v1.0.0"

// ModelRegistry is the single owner of the version/champion table.
// Versions are append-only; promotion moves the champion pointer and never
// deletes history. Concurrent promotions resolve last-writer-wins at the
// mutex boundary.
type ModelRegistry struct {
	mu         sync.RWMutex
	logger     *zap.Logger
	dataDir    string
	versions   map[string][]*types.ModelVersion
	promotions []types.PromotionRecord
}

type registryState struct {
	Versions   map[string][]*types.ModelVersion `json:"versions"`
	Promotions []types.PromotionRecord          `json:"promotions"`
}

// NewModelRegistry creates a registry persisting under dataDir.
func NewModelRegistry(logger *zap.Logger, dataDir string) (*ModelRegistry, error) {
	r := &ModelRegistry{
		logger:   logger.Named("model-registry"),
		dataDir:  dataDir,
		versions: make(map[string][]*types.ModelVersion),
	}

	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create registry directory: %w", err)
	}
	if err := r.load(); err != nil {
		logger.Warn("failed to load model registry state", zap.Error(err))
	}

	return r, nil
}

// GetChampion returns the current champion for an algorithm, or nil.
func (r *ModelRegistry) GetChampion(algorithm string) *types.ModelVersion {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, v := range r.versions[algorithm] {
		if v.IsChampion {
			copied := *v
			return &copied
		}
	}
	return nil
}

// Register appends a new version to an algorithm's history.
func (r *ModelRegistry) Register(version *types.ModelVersion) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if version.Algorithm == "" || version.VersionID == "" {
		return fmt.Errorf("version requires algorithm and version id")
	}
	for _, v := range r.versions[version.Algorithm] {
		if v.VersionID == version.VersionID {
			return fmt.Errorf("version %s already registered for %s", version.VersionID, version.Algorithm)
		}
	}

	copied := *version
	copied.IsChampion = false
	if copied.CreatedAt.IsZero() {
		copied.CreatedAt = time.Now()
	}
	r.versions[version.Algorithm] = append(r.versions[version.Algorithm], &copied)

	r.logger.Info("model version registered",
		zap.String("algorithm", version.Algorithm),
		zap.String("version", version.VersionID),
	)

	return r.save()
}

// Promote moves the champion pointer to the given version and appends a
// promotion record. Rollback is just a new promotion pointing at an older
// version; there is no reverse operation.
func (r *ModelRegistry) Promote(algorithm, versionID, reason string) (*types.PromotionRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var target *types.ModelVersion
	for _, v := range r.versions[algorithm] {
		if v.VersionID == versionID {
			target = v
			break
		}
	}
	if target == nil {
		return nil, fmt.Errorf("version %s not registered for %s", versionID, algorithm)
	}

	now := time.Now()
	for _, v := range r.versions[algorithm] {
		v.IsChampion = false
	}
	target.IsChampion = true
	target.PromotedAt = &now

	record := types.PromotionRecord{
		ID:         uuid.New().String(),
		Algorithm:  algorithm,
		VersionID:  versionID,
		PromotedAt: now,
		Reason:     reason,
	}
	r.promotions = append(r.promotions, record)

	r.logger.Info("model promoted to champion",
		zap.String("algorithm", algorithm),
		zap.String("version", versionID),
		zap.String("reason", reason),
	)

	if err := r.save(); err != nil {
		return nil, err
	}
	return &record, nil
}

// History returns all registered versions for an algorithm, oldest first.
func (r *ModelRegistry) History(algorithm string) []types.ModelVersion {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]types.ModelVersion, 0, len(r.versions[algorithm]))
	for _, v := range r.versions[algorithm] {
		out = append(out, *v)
	}
	return out
}

// Promotions returns the promotion audit trail for an algorithm.
func (r *ModelRegistry) Promotions(algorithm string) []types.PromotionRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []types.PromotionRecord
	for _, p := range r.promotions {
		if p.Algorithm == algorithm {
			out = append(out, p)
		}
	}
	return out
}

// Algorithms returns all algorithms with at least one registered version.
func (r *ModelRegistry) Algorithms() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.versions))
	for algo := range r.versions {
		out = append(out, algo)
	}
	return out
}

// Bootstrap registers and promotes a placeholder version for every known
// algorithm that lacks a champion. Running it again is a no-op for
// algorithms that already have one.
func (r *ModelRegistry) Bootstrap(algorithms []string) error {
	for _, algo := range algorithms {
		if r.GetChampion(algo) != nil {
			continue
		}

		version := &types.ModelVersion{
			Algorithm:   algo,
			VersionID:   BootstrapVersion,
			CreatedAt:   time.Now(),
			ArtifactRef: "bootstrap",
		}
		if err := r.Register(version); err != nil {
			// Version may exist without a champion from a partial prior
			// bootstrap; promotion below repairs that.
			r.logger.Debug("bootstrap register skipped", zap.String("algorithm", algo), zap.Error(err))
		}
		if _, err := r.Promote(algo, BootstrapVersion, "bootstrap default champion"); err != nil {
			return fmt.Errorf("failed to bootstrap %s: %w", algo, err)
		}
	}
	return nil
}

// load reads persisted state; callers hold no lock during construction.
func (r *ModelRegistry) load() error {
	data, err := os.ReadFile(r.statePath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var state registryState
	if err := json.Unmarshal(data, &state); err != nil {
		return err
	}
	if state.Versions != nil {
		r.versions = state.Versions
	}
	r.promotions = state.Promotions
	return nil
}

// save persists state; callers hold the write lock.
func (r *ModelRegistry) save() error {
	state := registryState{
		Versions:   r.versions,
		Promotions: r.promotions,
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal registry state: %w", err)
	}
	if err := os.WriteFile(r.statePath(), data, 0o644); err != nil {
		return fmt.Errorf("failed to write registry state: %w", err)
	}
	return nil
}

func (r *ModelRegistry) statePath() string {
	return filepath.Join(r.dataDir, "registry.json")
}
