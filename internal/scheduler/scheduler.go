// Package scheduler implements the PollScheduler (spec §4.6): one polling
// loop per symbol, concurrent per-source fetches within each tick, and the
// read path that falls back to a fresh fetch when the cache is stale.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/oraclefeed/internal/aggregator"
	"github.com/sawpanic/oraclefeed/internal/cache"
	"github.com/sawpanic/oraclefeed/internal/domain"
	"github.com/sawpanic/oraclefeed/internal/health"
	"github.com/sawpanic/oraclefeed/internal/metrics"
)

// SourceClient is the subset of clients.SourceClient the scheduler needs.
type SourceClient interface {
	Fetch(ctx context.Context, feedID string, symbol string) (domain.Reading, error)
	Source() domain.Source
}

// Manager owns a poll loop per configured symbol. It is the top-level
// orchestrator the cmd/oraclefeed entrypoint constructs and runs.
type Manager struct {
	symbols      []domain.SymbolSpec
	clients      []SourceClient
	aggregator   *aggregator.Aggregator
	cache        *cache.PriceCache
	health       *health.Tracker
	metrics      *metrics.Registry
	pollInterval time.Duration

	mu        sync.RWMutex
	running   bool
	lastGood  map[string]domain.Reading
}

// New builds a Manager. clients should contain one SourceClient per source
// kind (PRIMARY, SECONDARY); every symbol is polled against whichever of its
// configured feed IDs a client's Source() matches. reg may be nil, in which
// case no metrics are recorded.
func New(symbols []domain.SymbolSpec, clients []SourceClient, agg *aggregator.Aggregator, priceCache *cache.PriceCache, tracker *health.Tracker, reg *metrics.Registry, pollInterval time.Duration) *Manager {
	return &Manager{
		symbols:      symbols,
		clients:      clients,
		aggregator:   agg,
		cache:        priceCache,
		health:       tracker,
		metrics:      reg,
		pollInterval: pollInterval,
		lastGood:     make(map[string]domain.Reading),
	}
}

// Start launches one poll loop per symbol and blocks until ctx is cancelled.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	m.running = true
	m.mu.Unlock()

	log.Info().Int("symbols", len(m.symbols)).Msg("poll scheduler starting")

	var wg sync.WaitGroup
	for _, spec := range m.symbols {
		wg.Add(1)
		go func(spec domain.SymbolSpec) {
			defer wg.Done()
			m.pollLoop(ctx, spec)
		}(spec)
	}
	wg.Wait()

	m.mu.Lock()
	m.running = false
	m.mu.Unlock()
	return ctx.Err()
}

// pollLoop is the per-symbol loop: fetch from every source concurrently,
// aggregate, cache, and record health, once per tick.
func (m *Manager) pollLoop(ctx context.Context, spec domain.SymbolSpec) {
	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.tick(ctx, spec)
		}
	}
}

func (m *Manager) tick(ctx context.Context, spec domain.SymbolSpec) {
	if m.metrics != nil {
		timer := m.metrics.StartPollTimer(spec.Name)
		defer timer.Stop()
	}

	readings := m.fetchAll(ctx, spec)
	if len(readings) == 0 {
		log.Warn().Str("symbol", spec.Name).Msg("no sources available this tick")
		return
	}

	m.mu.RLock()
	reference, hasReference := m.lastGood[spec.Name]
	m.mu.RUnlock()
	if hasReference {
		for _, alert := range m.aggregator.DetectManipulation(readings, reference.Value()) {
			log.Warn().Str("symbol", spec.Name).Str("kind", string(alert.Kind)).Float64("deviation", alert.Deviation).Msg("manipulation alert")
			if m.metrics != nil {
				m.metrics.RecordManipulationAlert(spec.Name, string(alert.Kind))
			}
		}
	}

	out, err := m.aggregator.Combine(spec.Name, readings)
	if err != nil {
		log.Error().Err(err).Str("symbol", spec.Name).Msg("aggregation failed")
		if m.metrics != nil {
			m.metrics.RecordAggregationError(spec.Name, "combine_failed")
		}
		return
	}

	if err := m.cache.Put(ctx, spec.Name, out); err != nil {
		log.Error().Err(err).Str("symbol", spec.Name).Msg("cache put failed")
		return
	}

	m.mu.Lock()
	m.lastGood[spec.Name] = out
	m.mu.Unlock()
}

// FetchOnce runs a single concurrent fetch across every configured source
// for spec, without aggregating or caching the result. It is the read path
// the one-shot `oraclefeed price` CLI command uses.
func (m *Manager) FetchOnce(ctx context.Context, spec domain.SymbolSpec) []domain.Reading {
	return m.fetchAll(ctx, spec)
}

// fetchAll queries every configured source client for spec concurrently,
// recording health for each attempt and returning only the successes.
func (m *Manager) fetchAll(ctx context.Context, spec domain.SymbolSpec) []domain.Reading {
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		readings []domain.Reading
	)

	for _, client := range m.clients {
		feedID := feedIDFor(spec, client.Source())
		if feedID == "" {
			continue
		}

		wg.Add(1)
		go func(client SourceClient, feedID string) {
			defer wg.Done()
			start := time.Now()
			r, err := client.Fetch(ctx, feedID, spec.Name)
			latency := float64(time.Since(start).Milliseconds())

			if err != nil {
				m.health.RecordFailure(spec.Name, client.Source(), err)
				log.Warn().Err(err).Str("symbol", spec.Name).Str("source", string(client.Source())).Msg("fetch failed")
				if m.metrics != nil {
					m.metrics.RecordFetch(spec.Name, string(client.Source()), err)
					m.metrics.SetSourceUnhealthy(spec.Name, string(client.Source()), !m.health.IsHealthy(spec.Name, client.Source()))
				}
				return
			}

			m.health.RecordSuccess(spec.Name, client.Source(), latency)
			if m.metrics != nil {
				m.metrics.RecordFetch(spec.Name, string(client.Source()), nil)
				m.metrics.SetSourceUnhealthy(spec.Name, string(client.Source()), false)
			}
			mu.Lock()
			readings = append(readings, r)
			mu.Unlock()
		}(client, feedID)
	}

	wg.Wait()
	return readings
}

func feedIDFor(spec domain.SymbolSpec, source domain.Source) string {
	switch source {
	case domain.SourcePrimary:
		return spec.PrimaryFeedID
	case domain.SourceSecondary:
		return spec.SecondaryFeedID
	default:
		return ""
	}
}

// GetCurrent returns the freshest available Reading for symbol: the cached
// value if it is within maxAge, else the result of a synchronous one-shot
// fetch+aggregate cycle against every configured source, per spec §4.6's
// read path. An unconfigured symbol fails with UnknownSymbolError; an
// aggregation failure (e.g. InsufficientSourcesError) is returned as-is, per
// spec §7's "the synchronous read path surfaces UnknownSymbol and
// InsufficientSources to the caller".
func (m *Manager) GetCurrent(ctx context.Context, symbol string, maxAge time.Duration) (domain.Reading, bool, error) {
	cached, ok, err := m.cache.Get(ctx, symbol)
	if err != nil {
		return domain.Reading{}, false, err
	}
	if ok && m.cache.Freshness(cached, maxAge) {
		return cached, true, nil
	}

	spec, found := m.specFor(symbol)
	if !found {
		return domain.Reading{}, false, &domain.UnknownSymbolError{Symbol: symbol}
	}

	readings := m.fetchAll(ctx, spec)
	out, err := m.aggregator.Combine(symbol, readings)
	if err != nil {
		return domain.Reading{}, false, err
	}

	if err := m.cache.Put(ctx, symbol, out); err != nil {
		log.Error().Err(err).Str("symbol", symbol).Msg("cache put failed after synchronous fetch")
	}

	m.mu.Lock()
	m.lastGood[symbol] = out
	m.mu.Unlock()
	return out, true, nil
}

// specFor looks up the configured SymbolSpec for symbol.
func (m *Manager) specFor(symbol string) (domain.SymbolSpec, bool) {
	for _, s := range m.symbols {
		if s.Name == symbol {
			return s, true
		}
	}
	return domain.SymbolSpec{}, false
}

// GetAll returns the current reading for every configured symbol, per
// spec §6's batch read surface.
func (m *Manager) GetAll(ctx context.Context, maxAge time.Duration) map[string]domain.Reading {
	out := make(map[string]domain.Reading, len(m.symbols))
	for _, spec := range m.symbols {
		if r, ok, err := m.GetCurrent(ctx, spec.Name, maxAge); err == nil && ok {
			out[spec.Name] = r
		}
	}
	return out
}

// GetHistory delegates to the PriceCache's bounded history for symbol.
func (m *Manager) GetHistory(ctx context.Context, symbol string, limit int) ([]domain.Reading, error) {
	return m.cache.GetHistory(ctx, symbol, limit)
}

// IsRunning reports whether Start has been called and not yet returned.
func (m *Manager) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running
}
