// Package domain holds the core value types shared by every component of the
// price oracle aggregation pipeline: decoders, clients, the aggregator, the
// cache, the health tracker, and the poll scheduler.
package domain

import "time"

// Source tags where a Reading originated.
type Source string

const (
	SourcePrimary    Source = "PRIMARY"
	SourceSecondary  Source = "SECONDARY"
	SourceAggregated Source = "AGGREGATED"
	SourceInternal   Source = "INTERNAL"
)

// Reading is one price observation in fixed-point form: the real value is
// Price * 10^Expo. Confidence is a symmetric uncertainty half-width in the
// same (Price, Expo) scale.
type Reading struct {
	Price      int64  `json:"price"`
	Confidence uint64 `json:"confidence"`
	Expo       int32  `json:"expo"`
	Timestamp  int64  `json:"timestamp"`
	Source     Source `json:"source"`
	Symbol     string `json:"symbol"`
}

// Value returns Price*10^Expo as a float64, the common scale used by the
// aggregator and by API projections.
func (r Reading) Value() float64 {
	return float64(r.Price) * pow10(r.Expo)
}

// ConfidenceValue returns Confidence*10^Expo as a float64.
func (r Reading) ConfidenceValue() float64 {
	return float64(r.Confidence) * pow10(r.Expo)
}

func pow10(expo int32) float64 {
	if expo >= 0 {
		v := 1.0
		for i := int32(0); i < expo; i++ {
			v *= 10
		}
		return v
	}
	v := 1.0
	for i := int32(0); i > expo; i-- {
		v /= 10
	}
	return v
}

// IsFresh reports whether Timestamp is within maxAge seconds of now.
func (r Reading) IsFresh(now time.Time, maxAge time.Duration) bool {
	age := now.Unix() - r.Timestamp
	return age <= int64(maxAge.Seconds())
}

// SymbolSpec is immutable static configuration for one tradable symbol,
// loaded once at startup and shared read-only across every poll loop.
type SymbolSpec struct {
	Name             string `yaml:"name"`
	PrimaryFeedID    string `yaml:"primary_feed_id"`
	SecondaryFeedID  string `yaml:"secondary_feed_id"`
	MaxStalenessSecs int64  `yaml:"max_staleness_secs"`
	MaxConfidenceBP  uint64 `yaml:"max_confidence_bp"`
	MaxDeviationBP   uint64 `yaml:"max_deviation_bp"`
}

// HealthRecord is per-(symbol,source) quality state, exclusively owned and
// mutated by the HealthTracker; callers only ever see snapshots (by value).
type HealthRecord struct {
	Healthy             bool
	LastUpdate          int64
	ConsecutiveFailures uint32
	TotalRequests       uint64
	SuccessfulRequests  uint64
	AvgLatencyMS        float64
	LastError           string
}

// SuccessRate returns SuccessfulRequests/TotalRequests, defaulting to 1.0
// when no requests have been recorded yet.
func (h HealthRecord) SuccessRate() float64 {
	if h.TotalRequests == 0 {
		return 1.0
	}
	return float64(h.SuccessfulRequests) / float64(h.TotalRequests)
}

// CachedEntry is the most recent aggregated Reading for a symbol plus a
// bounded, timestamp-ordered history, as stored by PriceCache.
type CachedEntry struct {
	Latest  Reading
	History []Reading
}

// AlertKind tags the class of manipulation an Aggregator detected.
type AlertKind string

const (
	AlertFlashCrash          AlertKind = "FLASH_CRASH"
	AlertSuspiciousConsensus AlertKind = "SUSPICIOUS_CONSENSUS"
	AlertOutlierAttack       AlertKind = "OUTLIER_ATTACK"
	AlertTimestampAnomaly    AlertKind = "TIMESTAMP_ANOMALY"
)

// ManipulationAlert reports a single suspicious condition found while
// aggregating readings for one symbol.
type ManipulationAlert struct {
	Kind       AlertKind
	Symbol     string
	Source     Source
	Deviation  float64
	Price      float64
	Expected   float64
}
