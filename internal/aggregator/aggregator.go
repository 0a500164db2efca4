// Package aggregator combines per-source Readings for one symbol into a
// single manipulation-resistant consensus Reading, and separately flags
// manipulation-shaped conditions in the pre-aggregation input set.
package aggregator

import (
	"math"
	"sort"

	"github.com/sawpanic/oraclefeed/internal/domain"
)

const outputExpo int32 = -8

// Config tunes the consensus algorithm. The zero value is not usable;
// construct with NewDefaultConfig or override individual fields on that.
type Config struct {
	MinSources          int
	DeviationThreshold  float64 // relative, e.g. 0.01 for 1%
	WeightMedian        float64
	WeightConfidence    float64
	WeightUniform       float64
	OutlierZScoreCutoff float64
	FlashCrashThreshold float64 // relative deviation from historical reference
	SuspiciousVarianceCutoff float64 // variance/mean^2 threshold
}

// NewDefaultConfig returns the consensus configuration specified in spec §4.3.
func NewDefaultConfig() Config {
	return Config{
		MinSources:               1,
		DeviationThreshold:       0.01,
		WeightMedian:             0.5,
		WeightConfidence:         0.3,
		WeightUniform:            0.2,
		OutlierZScoreCutoff:      2.5,
		FlashCrashThreshold:      0.10,
		SuspiciousVarianceCutoff: 1e-4,
	}
}

// Aggregator implements the §4.3 consensus and manipulation-detection
// algorithms. It holds no mutable state and is safe for concurrent use.
type Aggregator struct {
	cfg Config
}

func New(cfg Config) *Aggregator {
	return &Aggregator{cfg: cfg}
}

// Combine produces one AGGREGATED Reading for symbol from readings, which
// must all share the same Symbol field (the caller — the poll scheduler —
// is responsible for partitioning by symbol before calling Combine).
func (a *Aggregator) Combine(symbol string, readings []domain.Reading) (domain.Reading, error) {
	if len(readings) < a.cfg.MinSources {
		return domain.Reading{}, &domain.InsufficientSourcesError{
			Symbol: symbol, Got: len(readings), Want: a.cfg.MinSources,
		}
	}

	survivors, err := a.filterOutliers(symbol, readings)
	if err != nil {
		return domain.Reading{}, err
	}

	consensus, err := a.consensus(symbol, survivors)
	if err != nil {
		return domain.Reading{}, err
	}

	confidence := a.aggregatedConfidence(survivors)

	maxTS := survivors[0].Timestamp
	for _, r := range survivors[1:] {
		if r.Timestamp > maxTS {
			maxTS = r.Timestamp
		}
	}

	return domain.Reading{
		Price:      int64(math.Round(consensus * 1e8)),
		Confidence: confidence,
		Expo:       outputExpo,
		Timestamp:  maxTS,
		Source:     domain.SourceAggregated,
		Symbol:     symbol,
	}, nil
}

// filterOutliers applies the modified-z-score MAD filter of §4.3 step 3.
// With two or fewer readings the filter is skipped entirely.
func (a *Aggregator) filterOutliers(symbol string, readings []domain.Reading) ([]domain.Reading, error) {
	if len(readings) <= 2 {
		return readings, nil
	}

	values := make([]float64, len(readings))
	for i, r := range readings {
		values[i] = r.Value()
	}

	med := median(values)
	deviations := make([]float64, len(values))
	for i, v := range values {
		deviations[i] = math.Abs(v - med)
	}
	mad := median(deviations)

	survivors := make([]domain.Reading, 0, len(readings))
	for i, v := range values {
		var z float64
		if mad > 0 {
			z = 0.6745 * math.Abs(v-med) / mad
		}
		if z <= a.cfg.OutlierZScoreCutoff {
			survivors = append(survivors, readings[i])
		}
	}

	if len(survivors) == 0 {
		return nil, &domain.AllOutliersError{Symbol: symbol}
	}
	return survivors, nil
}

// consensus blends median, confidence-weighted mean, and uniform mean of the
// surviving readings' normalized values per the weights in Config.
func (a *Aggregator) consensus(symbol string, readings []domain.Reading) (float64, error) {
	values := make([]float64, len(readings))
	for i, r := range readings {
		values[i] = r.Value()
	}

	medianVal := median(values)

	weightedMean, err := a.confidenceWeightedMean(symbol, readings)
	if err != nil {
		return 0, err
	}

	uniformMean := mean(values)

	return a.cfg.WeightMedian*medianVal +
		a.cfg.WeightConfidence*weightedMean +
		a.cfg.WeightUniform*uniformMean, nil
}

// confidenceWeightedMean weights each reading by 1/(1+10*confidence/price)
// using the raw integer fields, per spec §4.3 step 4.
func (a *Aggregator) confidenceWeightedMean(symbol string, readings []domain.Reading) (float64, error) {
	var weightedSum, totalWeight float64
	for _, r := range readings {
		ratio := float64(r.Confidence) / float64(r.Price)
		weight := 1.0 / (1.0 + 10.0*ratio)
		weightedSum += weight * r.Value()
		totalWeight += weight
	}
	if totalWeight == 0 {
		return 0, &domain.ZeroWeightError{Symbol: symbol}
	}
	return weightedSum / totalWeight, nil
}

// aggregatedConfidence computes the root-mean-square of each reading's
// relative confidence, scaled by the mean normalized value, per §4.3 step 5.
func (a *Aggregator) aggregatedConfidence(readings []domain.Reading) uint64 {
	if len(readings) == 0 {
		return 0
	}
	var sumSq, sumValues float64
	for _, r := range readings {
		ratio := float64(r.Confidence) / float64(r.Price)
		sumSq += ratio * ratio
		sumValues += r.Value()
	}
	rms := math.Sqrt(sumSq / float64(len(readings)))
	meanValue := sumValues / float64(len(readings))
	result := rms * meanValue * 1e8
	if result < 0 {
		return 0
	}
	return uint64(math.Round(result))
}

// DetectManipulation is a pure function over the pre-aggregation readings and
// a historical reference value h, per spec §4.3.
func (a *Aggregator) DetectManipulation(readings []domain.Reading, h float64) []domain.ManipulationAlert {
	var alerts []domain.ManipulationAlert
	if h == 0 {
		return alerts
	}

	values := make([]float64, len(readings))
	for i, r := range readings {
		values[i] = r.Value()
		deviation := math.Abs(values[i]-h) / h
		if deviation > a.cfg.FlashCrashThreshold {
			alerts = append(alerts, domain.ManipulationAlert{
				Kind:      domain.AlertFlashCrash,
				Symbol:    r.Symbol,
				Source:    r.Source,
				Deviation: deviation,
				Price:     values[i],
				Expected:  h,
			})
		}
	}

	if len(values) > 1 {
		m := mean(values)
		v := variance(values, m)
		if m != 0 && v/(m*m) < a.cfg.SuspiciousVarianceCutoff {
			alerts = append(alerts, domain.ManipulationAlert{
				Kind:      domain.AlertSuspiciousConsensus,
				Symbol:    readings[0].Symbol,
				Source:    domain.SourceAggregated,
				Deviation: math.Sqrt(v) / m,
				Price:     m,
				Expected:  h,
			})
		}
	}

	return alerts
}

// ValidateDeviation mirrors the on-chain settlement contract's consensus
// check (spec §1, §8 scenario 5): each reading's relative deviation from the
// median of the set must not exceed maxDeviationBP basis points, else the
// whole set fails DeviationError. This is a read-only validation gate, not a
// filtering step — unlike filterOutliers it never drops readings.
func ValidateDeviation(symbol string, readings []domain.Reading, maxDeviationBP uint64) error {
	if len(readings) == 0 {
		return nil
	}
	values := make([]float64, len(readings))
	for i, r := range readings {
		values[i] = r.Value()
	}
	med := median(values)
	if med == 0 {
		return nil
	}
	maxRatio := float64(maxDeviationBP) / 10000.0
	for _, v := range values {
		deviationBP := math.Abs(v-med) / med * 10000.0
		if deviationBP/10000.0 > maxRatio {
			return &domain.DeviationError{Symbol: symbol, DeviationBP: deviationBP, MaxBP: maxDeviationBP}
		}
	}
	return nil
}

func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 0 {
		return (sorted[n/2-1] + sorted[n/2]) / 2
	}
	return sorted[n/2]
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func variance(values []float64, m float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		d := v - m
		sum += d * d
	}
	return sum / float64(len(values))
}
