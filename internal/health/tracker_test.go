package health

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/oraclefeed/internal/domain"
)

func TestTracker_UnseenPairIsHealthy(t *testing.T) {
	tr := New()
	snap := tr.Snapshot("BTC/USD", domain.SourcePrimary)
	assert.True(t, snap.Healthy)
	assert.Equal(t, float64(1.0), snap.SuccessRate())
}

func TestTracker_FlipsUnhealthyAfterThreeFailures(t *testing.T) {
	tr := New()
	tr.RecordFailure("BTC/USD", domain.SourcePrimary, errors.New("timeout"))
	tr.RecordFailure("BTC/USD", domain.SourcePrimary, errors.New("timeout"))
	require.True(t, tr.IsHealthy("BTC/USD", domain.SourcePrimary))

	tr.RecordFailure("BTC/USD", domain.SourcePrimary, errors.New("timeout"))
	assert.False(t, tr.IsHealthy("BTC/USD", domain.SourcePrimary))

	snap := tr.Snapshot("BTC/USD", domain.SourcePrimary)
	assert.Equal(t, uint32(3), snap.ConsecutiveFailures)
	assert.Equal(t, "timeout", snap.LastError)
}

func TestTracker_SuccessResetsConsecutiveFailures(t *testing.T) {
	tr := New()
	tr.RecordFailure("BTC/USD", domain.SourcePrimary, errors.New("x"))
	tr.RecordFailure("BTC/USD", domain.SourcePrimary, errors.New("x"))
	tr.RecordFailure("BTC/USD", domain.SourcePrimary, errors.New("x"))
	require.False(t, tr.IsHealthy("BTC/USD", domain.SourcePrimary))

	tr.RecordSuccess("BTC/USD", domain.SourcePrimary, 12.5)
	snap := tr.Snapshot("BTC/USD", domain.SourcePrimary)
	assert.True(t, snap.Healthy)
	assert.Equal(t, uint32(0), snap.ConsecutiveFailures)
	assert.Equal(t, "", snap.LastError)
}

func TestTracker_LatencyEMA(t *testing.T) {
	tr := New()
	tr.RecordSuccess("BTC/USD", domain.SourcePrimary, 100)
	snap := tr.Snapshot("BTC/USD", domain.SourcePrimary)
	assert.Equal(t, float64(100), snap.AvgLatencyMS)

	tr.RecordSuccess("BTC/USD", domain.SourcePrimary, 200)
	snap = tr.Snapshot("BTC/USD", domain.SourcePrimary)
	assert.InDelta(t, 110.0, snap.AvgLatencyMS, 1e-9)
}

func TestTracker_SuccessRate(t *testing.T) {
	tr := New()
	tr.RecordSuccess("BTC/USD", domain.SourcePrimary, 1)
	tr.RecordSuccess("BTC/USD", domain.SourcePrimary, 1)
	tr.RecordFailure("BTC/USD", domain.SourcePrimary, errors.New("x"))

	snap := tr.Snapshot("BTC/USD", domain.SourcePrimary)
	assert.InDelta(t, 2.0/3.0, snap.SuccessRate(), 1e-9)
}

func TestTracker_SnapshotAllKeyedBySymbolAndSource(t *testing.T) {
	tr := New()
	tr.RecordSuccess("BTC/USD", domain.SourcePrimary, 1)
	tr.RecordSuccess("BTC/USD", domain.SourceSecondary, 1)
	tr.RecordSuccess("ETH/USD", domain.SourcePrimary, 1)

	all := tr.SnapshotAll()
	require.Len(t, all, 2)
	assert.Len(t, all["BTC/USD"], 2)
	assert.Len(t, all["ETH/USD"], 1)
}
