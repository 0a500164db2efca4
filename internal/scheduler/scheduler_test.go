package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/oraclefeed/internal/aggregator"
	"github.com/sawpanic/oraclefeed/internal/cache"
	"github.com/sawpanic/oraclefeed/internal/domain"
	"github.com/sawpanic/oraclefeed/internal/health"
)

type fakeClient struct {
	source  domain.Source
	reading domain.Reading
	err     error
}

func (f *fakeClient) Source() domain.Source { return f.source }

func (f *fakeClient) Fetch(ctx context.Context, feedID, symbol string) (domain.Reading, error) {
	if f.err != nil {
		return domain.Reading{}, f.err
	}
	r := f.reading
	r.Symbol = symbol
	return r, nil
}

// memStore is a bare-bones in-memory Store sufficient for scheduler tests,
// independent of the cache package's own fakeStore (unexported there).
type memStore struct {
	strings map[string]string
}

func newMemStore() *memStore { return &memStore{strings: map[string]string{}} }

func (s *memStore) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	switch v := value.(type) {
	case []byte:
		s.strings[key] = string(v)
	case string:
		s.strings[key] = v
	}
	return nil
}
func (s *memStore) Get(ctx context.Context, key string) (string, error) {
	v, ok := s.strings[key]
	if !ok {
		return "", cache.ErrNotFound
	}
	return v, nil
}
func (s *memStore) MGet(ctx context.Context, keys ...string) ([]interface{}, error) { return nil, nil }
func (s *memStore) ZAdd(ctx context.Context, key string, score float64, member string) error {
	return nil
}
func (s *memStore) ZRemRangeByRank(ctx context.Context, key string, start, stop int64) error {
	return nil
}
func (s *memStore) ZRevRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	return nil, nil
}
func (s *memStore) Publish(ctx context.Context, channel string, message interface{}) error {
	return nil
}
func (s *memStore) Subscribe(ctx context.Context, channels ...string) cache.Subscription { return nil }

func newTestManager(clients []SourceClient) *Manager {
	spec := []domain.SymbolSpec{{
		Name: "BTC/USD", PrimaryFeedID: "feed-p", SecondaryFeedID: "feed-s",
		MaxStalenessSecs: 60, MaxConfidenceBP: 100, MaxDeviationBP: 100,
	}}
	agg := aggregator.New(aggregator.NewDefaultConfig())
	c := cache.New(newMemStore(), time.Minute)
	tr := health.New()
	return New(spec, clients, agg, c, tr, nil, 20*time.Millisecond)
}

func TestManager_TickAggregatesAndCaches(t *testing.T) {
	clients := []SourceClient{
		&fakeClient{source: domain.SourcePrimary, reading: domain.Reading{Price: 50000_00000000, Confidence: 1, Expo: -8, Timestamp: 1, Source: domain.SourcePrimary}},
		&fakeClient{source: domain.SourceSecondary, reading: domain.Reading{Price: 50010_00000000, Confidence: 1, Expo: -8, Timestamp: 2, Source: domain.SourceSecondary}},
	}
	m := newTestManager(clients)
	m.tick(context.Background(), m.symbols[0])

	r, ok, err := m.GetCurrent(context.Background(), "BTC/USD", time.Hour)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.SourceAggregated, r.Source)
}

func TestManager_TickSkipsFailedSource(t *testing.T) {
	clients := []SourceClient{
		&fakeClient{source: domain.SourcePrimary, reading: domain.Reading{Price: 50000_00000000, Confidence: 1, Expo: -8, Timestamp: time.Now().Unix(), Source: domain.SourcePrimary}},
		&fakeClient{source: domain.SourceSecondary, err: errors.New("rpc timeout")},
	}
	m := newTestManager(clients)
	m.tick(context.Background(), m.symbols[0])

	r, ok, err := m.GetCurrent(context.Background(), "BTC/USD", time.Hour)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(50000_00000000), r.Price)

	snap := m.health.Snapshot("BTC/USD", domain.SourceSecondary)
	assert.True(t, snap.Healthy)
	assert.Equal(t, uint32(1), snap.ConsecutiveFailures)
}

func TestManager_TickNoSourcesAvailable(t *testing.T) {
	clients := []SourceClient{
		&fakeClient{source: domain.SourcePrimary, err: errors.New("down")},
		&fakeClient{source: domain.SourceSecondary, err: errors.New("down")},
	}
	m := newTestManager(clients)
	m.tick(context.Background(), m.symbols[0])

	// tick() never populated the cache, so GetCurrent falls through to a
	// synchronous fetch+aggregate retry; both sources are still down, so
	// Combine reports InsufficientSourcesError rather than a silent miss.
	_, ok, err := m.GetCurrent(context.Background(), "BTC/USD", time.Hour)
	var insufficient *domain.InsufficientSourcesError
	require.ErrorAs(t, err, &insufficient)
	assert.False(t, ok)
}

func TestManager_GetCurrent_UnknownSymbol(t *testing.T) {
	m := newTestManager(nil)

	_, ok, err := m.GetCurrent(context.Background(), "DOGE/USD", time.Hour)
	var unknown *domain.UnknownSymbolError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "DOGE/USD", unknown.Symbol)
	assert.False(t, ok)
}

func TestManager_GetCurrent_FallsBackToSynchronousFetch(t *testing.T) {
	clients := []SourceClient{
		&fakeClient{source: domain.SourcePrimary, reading: domain.Reading{Price: 50000_00000000, Confidence: 1, Expo: -8, Timestamp: 1, Source: domain.SourcePrimary}},
		&fakeClient{source: domain.SourceSecondary, reading: domain.Reading{Price: 50010_00000000, Confidence: 1, Expo: -8, Timestamp: 2, Source: domain.SourceSecondary}},
	}
	m := newTestManager(clients)

	// No tick has run, so the cache is empty; GetCurrent must perform the
	// one-shot fetch+aggregate cycle itself rather than report a miss.
	r, ok, err := m.GetCurrent(context.Background(), "BTC/USD", time.Hour)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.SourceAggregated, r.Source)

	cached, ok, err := m.cache.Get(context.Background(), "BTC/USD")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, r.Price, cached.Price)
}

func TestManager_GetAll(t *testing.T) {
	clients := []SourceClient{
		&fakeClient{source: domain.SourcePrimary, reading: domain.Reading{Price: 50000_00000000, Confidence: 1, Expo: -8, Timestamp: 1, Source: domain.SourcePrimary}},
	}
	m := newTestManager(clients)
	m.tick(context.Background(), m.symbols[0])

	all := m.GetAll(context.Background(), time.Hour)
	assert.Len(t, all, 1)
	assert.Contains(t, all, "BTC/USD")
}

func TestManager_StartStopsOnContextCancel(t *testing.T) {
	clients := []SourceClient{
		&fakeClient{source: domain.SourcePrimary, reading: domain.Reading{Price: 1, Confidence: 1, Expo: -8, Timestamp: 1, Source: domain.SourcePrimary}},
	}
	m := newTestManager(clients)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := m.Start(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, m.IsRunning())
}
