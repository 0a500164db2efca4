package aggregator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/oraclefeed/internal/domain"
)

func reading(price int64, confidence uint64, expo int32, ts int64, source domain.Source) domain.Reading {
	return domain.Reading{
		Price: price, Confidence: confidence, Expo: expo, Timestamp: ts,
		Source: source, Symbol: "BTC/USD",
	}
}

func TestCombine_TwoSourceConsensus(t *testing.T) {
	a := New(NewDefaultConfig())
	readings := []domain.Reading{
		reading(50000_00000000, 500_00000, -8, 1000, domain.SourcePrimary),
		reading(50050_00000000, 1000_00000, -8, 1001, domain.SourceSecondary),
	}

	out, err := a.Combine("BTC/USD", readings)
	require.NoError(t, err)

	assert.Equal(t, int32(-8), out.Expo)
	assert.Equal(t, int64(1001), out.Timestamp)
	assert.Equal(t, domain.SourceAggregated, out.Source)
	assert.GreaterOrEqual(t, out.Price, int64(50_015*1e8))
	assert.LessOrEqual(t, out.Price, int64(50_035*1e8))
}

func TestCombine_SingleReadingEqualsRescaled(t *testing.T) {
	a := New(NewDefaultConfig())
	readings := []domain.Reading{
		reading(5_000_000, 1_000, -2, 42, domain.SourcePrimary), // 50000.00
	}
	out, err := a.Combine("BTC/USD", readings)
	require.NoError(t, err)
	assert.Equal(t, int32(-8), out.Expo)
	assert.Equal(t, int64(50000_00000000), out.Price)
	assert.Equal(t, int64(42), out.Timestamp)
}

func TestCombine_InsufficientSources(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.MinSources = 2
	a := New(cfg)
	_, err := a.Combine("BTC/USD", []domain.Reading{reading(1, 1, -8, 1, domain.SourcePrimary)})
	var ise *domain.InsufficientSourcesError
	require.ErrorAs(t, err, &ise)
}

func TestFilterOutliers_RetainsAllAtTwo(t *testing.T) {
	a := New(NewDefaultConfig())
	readings := []domain.Reading{
		reading(50000_00000000, 1, -8, 1, domain.SourcePrimary),
		reading(100000_00000000, 1, -8, 1, domain.SourceSecondary),
	}
	survivors, err := a.filterOutliers("BTC/USD", readings)
	require.NoError(t, err)
	assert.Len(t, survivors, 2)
}

func TestFilterOutliers_RemovesInjectedOutlier(t *testing.T) {
	a := New(NewDefaultConfig())
	readings := []domain.Reading{
		reading(50000_00000000, 1, -8, 1, domain.SourcePrimary),
		reading(50010_00000000, 1, -8, 1, domain.SourcePrimary),
		reading(50020_00000000, 1, -8, 1, domain.SourcePrimary),
		reading(100000_00000000, 1, -8, 1, domain.SourceSecondary),
	}
	survivors, err := a.filterOutliers("BTC/USD", readings)
	require.NoError(t, err)
	require.Len(t, survivors, 3)
	for _, r := range survivors {
		assert.Less(t, r.Price, int64(60000_00000000))
	}
}

func TestCombine_OutlierRejectionScenario(t *testing.T) {
	a := New(NewDefaultConfig())
	readings := []domain.Reading{
		reading(50000_00000000, 1, -8, 1, domain.SourcePrimary),
		reading(50010_00000000, 1, -8, 2, domain.SourcePrimary),
		reading(50020_00000000, 1, -8, 3, domain.SourcePrimary),
		reading(100000_00000000, 1, -8, 4, domain.SourceSecondary),
	}
	out, err := a.Combine("BTC/USD", readings)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, out.Price, int64(50_000*1e8))
	assert.LessOrEqual(t, out.Price, int64(50_030*1e8))
}

func TestCombine_AllOutliers(t *testing.T) {
	// Three clustered readings pass admission and reach the filter; a
	// negative cutoff makes the filter eliminate every one of them, which
	// exercises AllOutliers.
	cfg := NewDefaultConfig()
	cfg.OutlierZScoreCutoff = -1 // force every z-score (always >=0) to fail
	a := New(cfg)
	readings := []domain.Reading{
		reading(50000_00000000, 1, -8, 1, domain.SourcePrimary),
		reading(50010_00000000, 1, -8, 2, domain.SourcePrimary),
		reading(50020_00000000, 1, -8, 3, domain.SourcePrimary),
	}
	_, err := a.Combine("BTC/USD", readings)
	var aoe *domain.AllOutliersError
	require.ErrorAs(t, err, &aoe)
}

func TestDetectManipulation_FlashCrash(t *testing.T) {
	a := New(NewDefaultConfig())
	readings := []domain.Reading{
		reading(40000_00000000, 1, -8, 1, domain.SourcePrimary),
	}
	alerts := a.DetectManipulation(readings, 50000)
	require.Len(t, alerts, 1)
	assert.Equal(t, domain.AlertFlashCrash, alerts[0].Kind)
	assert.InDelta(t, 0.2, alerts[0].Deviation, 1e-9)
	assert.Equal(t, domain.SourcePrimary, alerts[0].Source)
}

func TestDetectManipulation_SuspiciousConsensus(t *testing.T) {
	a := New(NewDefaultConfig())
	readings := []domain.Reading{
		reading(50000_00000000, 1, -8, 1, domain.SourcePrimary),
		reading(50000_00000001, 1, -8, 2, domain.SourceSecondary),
	}
	alerts := a.DetectManipulation(readings, 50000)
	var found bool
	for _, al := range alerts {
		if al.Kind == domain.AlertSuspiciousConsensus {
			found = true
		}
	}
	assert.True(t, found)
}

func TestValidateDeviation_RejectsOnChainMirror(t *testing.T) {
	readings := []domain.Reading{
		reading(50_000_00000000, 1, -8, 1, domain.SourcePrimary),
		reading(50_200_00000000, 1, -8, 2, domain.SourceSecondary),
		reading(51_000_00000000, 1, -8, 3, domain.SourcePrimary),
	}
	err := ValidateDeviation("BTC/USD", readings, 100) // 1%
	var de *domain.DeviationError
	require.ErrorAs(t, err, &de)
}

func TestValidateDeviation_AcceptsWithinThreshold(t *testing.T) {
	readings := []domain.Reading{
		reading(50_000_00000000, 1, -8, 1, domain.SourcePrimary),
		reading(50_050_00000000, 1, -8, 2, domain.SourceSecondary),
	}
	err := ValidateDeviation("BTC/USD", readings, 1000) // 10%
	require.NoError(t, err)
}
