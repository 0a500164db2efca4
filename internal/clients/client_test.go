package clients

import (
	"context"
	"errors"
	"testing"

	cb "github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/oraclefeed/internal/domain"
)

type fakeTransport struct {
	raw []byte
	err error
}

func (f *fakeTransport) FetchAccount(ctx context.Context, feedID string) ([]byte, error) {
	return f.raw, f.err
}

type fakeDecoder struct {
	reading domain.Reading
	err     error
}

func (f *fakeDecoder) Decode(raw []byte, feedID, symbol string) (domain.Reading, error) {
	return f.reading, f.err
}

func fastConfig() Config {
	return Config{RateLimitPerSecond: 1000, RateLimitBurst: 1000}
}

func TestSourceClient_FetchSuccess(t *testing.T) {
	want := domain.Reading{Price: 1, Symbol: "BTC/USD", Source: domain.SourcePrimary}
	c := New(domain.SourcePrimary, "test-primary-1", &fakeTransport{raw: []byte{1, 2, 3}}, &fakeDecoder{reading: want}, fastConfig())

	got, err := c.Fetch(context.Background(), "feed-1", "BTC/USD")
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestSourceClient_TransportFailureWrapsAsFetchError(t *testing.T) {
	c := New(domain.SourcePrimary, "test-primary-2", &fakeTransport{err: errors.New("rpc down")}, &fakeDecoder{}, fastConfig())

	_, err := c.Fetch(context.Background(), "feed-1", "BTC/USD")
	var fe *domain.FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, domain.SourcePrimary, fe.Source)
}

func TestSourceClient_DecodeFailureWrapsAsFetchError(t *testing.T) {
	c := New(domain.SourceSecondary, "test-secondary-1", &fakeTransport{raw: []byte{1}}, &fakeDecoder{err: domain.NewDecodeError(domain.DecodeTooShort, "x")}, fastConfig())

	_, err := c.Fetch(context.Background(), "feed-1", "BTC/USD")
	var fe *domain.FetchError
	require.ErrorAs(t, err, &fe)
	var de *domain.DecodeError
	require.ErrorAs(t, err, &de)
}

func TestSourceClient_HealthCheck(t *testing.T) {
	healthy := New(domain.SourcePrimary, "test-primary-health-ok", &fakeTransport{raw: []byte{1}}, &fakeDecoder{reading: domain.Reading{}}, fastConfig())
	assert.True(t, healthy.HealthCheck(context.Background(), "feed-1", "BTC/USD"))

	unhealthy := New(domain.SourcePrimary, "test-primary-health-bad", &fakeTransport{err: errors.New("down")}, &fakeDecoder{}, fastConfig())
	assert.False(t, unhealthy.HealthCheck(context.Background(), "feed-1", "BTC/USD"))
}

func TestSourceClient_CircuitBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	c := New(domain.SourcePrimary, "test-primary-breaker", &fakeTransport{err: errors.New("down")}, &fakeDecoder{}, fastConfig())

	for i := 0; i < 3; i++ {
		_, err := c.Fetch(context.Background(), "feed-1", "BTC/USD")
		require.Error(t, err)
	}

	_, err := c.Fetch(context.Background(), "feed-1", "BTC/USD")
	require.Error(t, err)
	var fe *domain.FetchError
	require.ErrorAs(t, err, &fe)
	assert.ErrorIs(t, err, cb.ErrOpenState)
}
