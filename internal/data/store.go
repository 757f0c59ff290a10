// Package data provides historical market data storage and loading.
package data

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/helios-quant/retrainer/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Store provides access to historical bar data. It satisfies the bar source
// needed by the replay engine.
type Store struct {
	mu       sync.RWMutex
	logger   *zap.Logger
	dataDir  string
	cache    map[string][]*types.Bar
	samples  map[string]sampleSpan
	metadata map[string]*SymbolMetadata
}

// sampleSpan records the window a generated sample series covers, so a
// later request outside it triggers regeneration instead of a silently
// empty intersection.
type sampleSpan struct {
	start time.Time
	end   time.Time
}

// SymbolMetadata contains metadata about available data for a symbol
type SymbolMetadata struct {
	Symbol    string    `json:"symbol"`
	StartDate time.Time `json:"startDate"`
	EndDate   time.Time `json:"endDate"`
	BarCount  int       `json:"barCount"`
	Timeframe string    `json:"timeframe"`
}

// NewStore creates a new data store
func NewStore(logger *zap.Logger, dataDir string) (*Store, error) {
	store := &Store{
		logger:   logger,
		dataDir:  dataDir,
		cache:    make(map[string][]*types.Bar),
		samples:  make(map[string]sampleSpan),
		metadata: make(map[string]*SymbolMetadata),
	}

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	if err := store.loadMetadata(); err != nil {
		logger.Warn("Failed to load metadata", zap.Error(err))
	}

	return store, nil
}

// LoadBars loads bars for a symbol within the time range. Missing symbols
// fall back to generated sample data so replays always have something to
// chew on in development environments. Generation is seeded by symbol so
// repeated loads return identical series.
func (s *Store) LoadBars(ctx context.Context, symbol string, start, end time.Time) ([]*types.Bar, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if cached, ok := s.cache[symbol]; ok {
		if span, generated := s.samples[symbol]; generated &&
			(start.Before(span.start) || end.After(span.end)) {
			if start.Before(span.start) {
				span.start = start
			}
			if end.After(span.end) {
				span.end = end
			}
			cached = generateSampleBars(symbol, span.start, span.end)
			s.cache[symbol] = cached
			s.samples[symbol] = span
		}
		return filterByTimeRange(cached, start, end), nil
	}

	filename := filepath.Join(s.dataDir, fmt.Sprintf("%s.json", symbol))
	raw, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			s.logger.Info("Generating sample data", zap.String("symbol", symbol))
			sample := generateSampleBars(symbol, start, end)
			s.cache[symbol] = sample
			s.samples[symbol] = sampleSpan{start: start, end: end}
			return filterByTimeRange(sample, start, end), nil
		}
		return nil, fmt.Errorf("failed to read data file: %w", err)
	}

	var bars []*types.Bar
	if err := json.Unmarshal(raw, &bars); err != nil {
		return nil, fmt.Errorf("failed to parse data: %w", err)
	}

	sort.Slice(bars, func(i, j int) bool {
		return bars[i].Timestamp.Before(bars[j].Timestamp)
	})

	s.cache[symbol] = bars

	return filterByTimeRange(bars, start, end), nil
}

// SaveBars saves bars to disk and updates the cache and metadata.
func (s *Store) SaveBars(symbol string, bars []*types.Bar) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sort.Slice(bars, func(i, j int) bool {
		return bars[i].Timestamp.Before(bars[j].Timestamp)
	})

	filename := filepath.Join(s.dataDir, fmt.Sprintf("%s.json", symbol))

	raw, err := json.MarshalIndent(bars, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}

	if err := os.WriteFile(filename, raw, 0644); err != nil {
		return fmt.Errorf("failed to write data file: %w", err)
	}

	s.cache[symbol] = bars
	delete(s.samples, symbol)

	if len(bars) > 0 {
		s.metadata[symbol] = &SymbolMetadata{
			Symbol:    symbol,
			StartDate: bars[0].Timestamp,
			EndDate:   bars[len(bars)-1].Timestamp,
			BarCount:  len(bars),
			Timeframe: string(types.Timeframe1m),
		}
	}

	if err := s.saveMetadata(); err != nil {
		s.logger.Warn("Failed to save metadata",
			zap.String("symbol", symbol),
			zap.Error(err),
		)
	}

	return nil
}

// AvailableSymbols returns all symbols with saved data.
func (s *Store) AvailableSymbols() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	symbols := make([]string, 0, len(s.metadata))
	for symbol := range s.metadata {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)
	return symbols
}

// DataRange returns the available data range for a symbol
func (s *Store) DataRange(symbol string) (start, end time.Time, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if meta, ok := s.metadata[symbol]; ok {
		return meta.StartDate, meta.EndDate, nil
	}

	return time.Time{}, time.Time{}, fmt.Errorf("no data available for symbol %s", symbol)
}

// ClearCache clears the in-memory cache
func (s *Store) ClearCache() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cache = make(map[string][]*types.Bar)
	s.samples = make(map[string]sampleSpan)
}

// CacheSize returns the number of cached datasets
func (s *Store) CacheSize() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.cache)
}

func filterByTimeRange(bars []*types.Bar, start, end time.Time) []*types.Bar {
	var filtered []*types.Bar

	for _, bar := range bars {
		if !bar.Timestamp.Before(start) && !bar.Timestamp.After(end) {
			filtered = append(filtered, bar)
		}
	}

	return filtered
}

// generateSampleBars produces a deterministic minute-bar random walk. The
// PRNG is seeded from the symbol name so the same symbol and range always
// yield the same series.
func generateSampleBars(symbol string, start, end time.Time) []*types.Bar {
	h := fnv.New64a()
	h.Write([]byte(symbol))
	rng := rand.New(rand.NewSource(int64(h.Sum64())))

	price := basePrice(symbol)

	var bars []*types.Bar
	for current := start; !current.After(end); current = current.Add(time.Minute) {
		change := (rng.Float64() - 0.5) * 0.002 * price
		open := decimal.NewFromFloat(price)
		price += change
		close := decimal.NewFromFloat(price)

		high := decimal.Max(open, close).Mul(decimal.NewFromFloat(1 + rng.Float64()*0.0005))
		low := decimal.Min(open, close).Mul(decimal.NewFromFloat(1 - rng.Float64()*0.0005))
		volume := decimal.NewFromFloat(500 + rng.Float64()*2000)

		bars = append(bars, &types.Bar{
			Timestamp: current,
			Open:      open,
			High:      high,
			Low:       low,
			Close:     close,
			Volume:    volume,
		})
	}

	return bars
}

func basePrice(symbol string) float64 {
	switch symbol {
	case "ES":
		return 5000.0
	case "NQ":
		return 18000.0
	case "CL":
		return 75.0
	default:
		return 100.0
	}
}

func (s *Store) loadMetadata() error {
	filename := filepath.Join(s.dataDir, "metadata.json")

	raw, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var metadata map[string]*SymbolMetadata
	if err := json.Unmarshal(raw, &metadata); err != nil {
		return err
	}

	s.metadata = metadata

	return nil
}

func (s *Store) saveMetadata() error {
	filename := filepath.Join(s.dataDir, "metadata.json")

	raw, err := json.MarshalIndent(s.metadata, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(filename, raw, 0644)
}
