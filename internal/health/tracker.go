// Package health implements HealthTracker (spec §4.5): per-(symbol,source)
// quality bookkeeping derived from the success/failure and latency of every
// fetch attempt.
package health

import (
	"sync"
	"time"

	"github.com/sawpanic/oraclefeed/internal/domain"
)

const unhealthyAfterFailures = 3

type key struct {
	symbol string
	source domain.Source
}

// Tracker owns the full HealthRecord table and is safe for concurrent use by
// every poll loop in the scheduler.
type Tracker struct {
	mu      sync.RWMutex
	records map[key]domain.HealthRecord
	now     func() time.Time
}

func New() *Tracker {
	return &Tracker{records: make(map[key]domain.HealthRecord), now: time.Now}
}

// RecordSuccess registers a successful fetch and blends latencyMS into the
// record's EMA (alpha=0.1), per spec §4.5.
func (t *Tracker) RecordSuccess(symbol string, source domain.Source, latencyMS float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	k := key{symbol, source}
	rec := t.records[k]
	rec.LastUpdate = t.now().Unix()
	rec.TotalRequests++
	rec.SuccessfulRequests++
	rec.ConsecutiveFailures = 0
	rec.Healthy = true
	rec.LastError = ""

	if rec.AvgLatencyMS == 0 {
		rec.AvgLatencyMS = latencyMS
	} else {
		rec.AvgLatencyMS = rec.AvgLatencyMS*0.9 + latencyMS*0.1
	}

	t.records[k] = rec
}

// RecordFailure registers a failed fetch. The record flips unhealthy once
// ConsecutiveFailures reaches unhealthyAfterFailures (3), and recovers on the
// very next success.
func (t *Tracker) RecordFailure(symbol string, source domain.Source, cause error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	k := key{symbol, source}
	rec := t.records[k]
	rec.LastUpdate = t.now().Unix()
	rec.TotalRequests++
	rec.ConsecutiveFailures++
	if cause != nil {
		rec.LastError = cause.Error()
	}
	if rec.ConsecutiveFailures >= unhealthyAfterFailures {
		rec.Healthy = false
	}

	t.records[k] = rec
}

// Snapshot returns the current HealthRecord for (symbol, source). A symbol
// or source never seen before reports Healthy: true with zero counters,
// matching the Rust implementation's Default (a fresh oracle starts trusted).
func (t *Tracker) Snapshot(symbol string, source domain.Source) domain.HealthRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()

	rec, ok := t.records[key{symbol, source}]
	if !ok {
		return domain.HealthRecord{Healthy: true, LastUpdate: t.now().Unix()}
	}
	return rec
}

// SnapshotAll returns every tracked (symbol,source) health record, keyed by
// symbol then source, for the /oracle/health read surface.
func (t *Tracker) SnapshotAll() map[string]map[domain.Source]domain.HealthRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[string]map[domain.Source]domain.HealthRecord)
	for k, rec := range t.records {
		if out[k.symbol] == nil {
			out[k.symbol] = make(map[domain.Source]domain.HealthRecord)
		}
		out[k.symbol][k.source] = rec
	}
	return out
}

// IsHealthy reports whether (symbol, source) is currently healthy, treating
// an unseen pair as healthy.
func (t *Tracker) IsHealthy(symbol string, source domain.Source) bool {
	return t.Snapshot(symbol, source).Healthy
}

// SymbolHealthy rolls up a symbol's health across its configured sources:
// the symbol is healthy iff every source in sources is healthy, per spec
// §4.5's by-symbol roll-up ("healthy iff every configured source is
// healthy"). A symbol with no configured sources reports healthy.
func (t *Tracker) SymbolHealthy(symbol string, sources []domain.Source) bool {
	for _, source := range sources {
		if !t.IsHealthy(symbol, source) {
			return false
		}
	}
	return true
}
