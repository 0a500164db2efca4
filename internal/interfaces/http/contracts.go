package http

import "github.com/sawpanic/oraclefeed/internal/domain"

// PriceResponse is the wire projection of a domain.Reading.
type PriceResponse struct {
	Symbol     string        `json:"symbol"`
	Price      int64         `json:"price"`
	Confidence uint64        `json:"confidence"`
	Expo       int32         `json:"expo"`
	Timestamp  int64         `json:"timestamp"`
	Source     domain.Source `json:"source"`
}

func newPriceResponse(r domain.Reading) PriceResponse {
	return PriceResponse{
		Symbol: r.Symbol, Price: r.Price, Confidence: r.Confidence,
		Expo: r.Expo, Timestamp: r.Timestamp, Source: r.Source,
	}
}

// ErrorResponse is the uniform error envelope for every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Symbol  string `json:"symbol,omitempty"`
	Message string `json:"message,omitempty"`
}

// HealthResponse is the top-level /health payload.
type HealthResponse struct {
	Status    string `json:"status"`
	Service   string `json:"service"`
	Timestamp int64  `json:"timestamp"`
}

// OracleHealthResponse is the /oracle/health payload: an overall status,
// a per-symbol roll-up (healthy iff every configured source is healthy, per
// spec §4.5), the per-(symbol,source) HealthRecord snapshots behind that
// roll-up, and the cache-health block from SUPPLEMENTED FEATURES 1.
type OracleHealthResponse struct {
	Status  string                                     `json:"status"`
	Symbols map[string]SymbolHealth                    `json:"symbols"`
	Sources map[string]map[domain.Source]SourceHealth  `json:"sources"`
	Cache   CacheHealth                                 `json:"cache"`
}

// SymbolHealth is the roll-up for a single symbol.
type SymbolHealth struct {
	Healthy bool `json:"healthy"`
}

// CacheHealth is the wire projection of cache.Stats for /oracle/health.
type CacheHealth struct {
	Hits     uint64  `json:"hits"`
	Misses   uint64  `json:"misses"`
	HitRatio float64 `json:"hit_ratio"`
}

// SourceHealth is the wire projection of a domain.HealthRecord.
type SourceHealth struct {
	Healthy             bool    `json:"healthy"`
	LastUpdate          int64   `json:"last_update"`
	ConsecutiveFailures uint32  `json:"consecutive_failures"`
	SuccessRate         float64 `json:"success_rate"`
	AvgLatencyMS        float64 `json:"avg_latency_ms"`
	LastError           string  `json:"last_error,omitempty"`
}

func newSourceHealth(h domain.HealthRecord) SourceHealth {
	return SourceHealth{
		Healthy: h.Healthy, LastUpdate: h.LastUpdate,
		ConsecutiveFailures: h.ConsecutiveFailures, SuccessRate: h.SuccessRate(),
		AvgLatencyMS: h.AvgLatencyMS, LastError: h.LastError,
	}
}
