package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	p := filepath.Join(dir, "symbols.yaml")
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestLoadSymbols_Valid(t *testing.T) {
	p := writeTemp(t, `
symbols:
  - name: BTC/USD
    primary_feed_id: "feed-primary-btc"
    secondary_feed_id: "feed-secondary-btc"
    max_staleness_secs: 60
    max_confidence_bp: 100
    max_deviation_bp: 50
`)
	symbols, err := LoadSymbols(p)
	require.NoError(t, err)
	require.Len(t, symbols, 1)
	assert.Equal(t, "BTC/USD", symbols[0].Name)
	assert.Equal(t, int64(60), symbols[0].MaxStalenessSecs)
}

func TestLoadSymbols_RejectsMissingName(t *testing.T) {
	p := writeTemp(t, `
symbols:
  - primary_feed_id: "feed-1"
    max_staleness_secs: 60
`)
	_, err := LoadSymbols(p)
	require.Error(t, err)
}

func TestLoadSymbols_RejectsNoFeedIDs(t *testing.T) {
	p := writeTemp(t, `
symbols:
  - name: BTC/USD
    max_staleness_secs: 60
`)
	_, err := LoadSymbols(p)
	require.Error(t, err)
}

func TestLoadRuntime_Defaults(t *testing.T) {
	for _, k := range []string{"RPC_URL", "CACHE_URL", "HOST", "PORT", "POLL_INTERVAL_MS"} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
	rt, err := LoadRuntime()
	require.NoError(t, err)
	assert.Equal(t, 8080, rt.Port)
	assert.Equal(t, 500*time.Millisecond, rt.PollInterval)
}

func TestLoadRuntime_EnvOverrides(t *testing.T) {
	t.Setenv("RPC_URL", "https://custom-rpc")
	t.Setenv("CACHE_URL", "redis:6380")
	t.Setenv("HOST", "127.0.0.1")
	t.Setenv("PORT", "9090")
	t.Setenv("POLL_INTERVAL_MS", "250")

	rt, err := LoadRuntime()
	require.NoError(t, err)
	assert.Equal(t, "https://custom-rpc", rt.RPCURL)
	assert.Equal(t, "redis:6380", rt.CacheURL)
	assert.Equal(t, "127.0.0.1", rt.Host)
	assert.Equal(t, 9090, rt.Port)
	assert.Equal(t, 250*time.Millisecond, rt.PollInterval)
}

func TestLoadRuntime_InvalidPort(t *testing.T) {
	t.Setenv("PORT", "not-a-number")
	_, err := LoadRuntime()
	require.Error(t, err)
}
