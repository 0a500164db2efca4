package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/sawpanic/oraclefeed/internal/cache"
	"github.com/sawpanic/oraclefeed/internal/domain"
	"github.com/sawpanic/oraclefeed/internal/health"
)

const defaultFreshness = 5 * time.Second

// handlers holds the dependencies every route needs.
type handlers struct {
	reader  Reader
	tracker *health.Tracker
	symbols []domain.SymbolSpec
	cache   *cache.PriceCache
}

// Reader is the read path the HTTP surface depends on (scheduler.Manager
// satisfies this).
type Reader interface {
	GetCurrent(ctx context.Context, symbol string, maxAge time.Duration) (domain.Reading, bool, error)
	GetAll(ctx context.Context, maxAge time.Duration) map[string]domain.Reading
	GetHistory(ctx context.Context, symbol string, limit int) ([]domain.Reading, error)
}

// sourcesFor returns the sources configured for symbol (those with a
// non-empty feed ID), for the health roll-up.
func sourcesFor(spec domain.SymbolSpec) []domain.Source {
	var sources []domain.Source
	if spec.PrimaryFeedID != "" {
		sources = append(sources, domain.SourcePrimary)
	}
	if spec.SecondaryFeedID != "" {
		sources = append(sources, domain.SourceSecondary)
	}
	return sources
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status: "healthy", Service: "oraclefeed", Timestamp: time.Now().Unix(),
	})
}

func (h *handlers) price(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]
	reading, ok, err := h.reader.GetCurrent(r.Context(), symbol, defaultFreshness)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "internal_error", Symbol: symbol, Message: err.Error()})
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "price_not_available", Symbol: symbol})
		return
	}
	writeJSON(w, http.StatusOK, newPriceResponse(reading))
}

func (h *handlers) allPrices(w http.ResponseWriter, r *http.Request) {
	prices := h.reader.GetAll(r.Context(), defaultFreshness)
	out := make(map[string]PriceResponse, len(prices))
	for symbol, reading := range prices {
		out[symbol] = newPriceResponse(reading)
	}
	writeJSON(w, http.StatusOK, out)
}

type batchPriceRequest struct {
	Symbols []string `json:"symbols"`
}

func (h *handlers) batchPrices(w http.ResponseWriter, r *http.Request) {
	var req batchPriceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid_request", Message: err.Error()})
		return
	}

	out := make(map[string]*PriceResponse, len(req.Symbols))
	for _, symbol := range req.Symbols {
		reading, ok, err := h.reader.GetCurrent(r.Context(), symbol, defaultFreshness)
		if err != nil || !ok {
			out[symbol] = nil
			continue
		}
		resp := newPriceResponse(reading)
		out[symbol] = &resp
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handlers) history(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	if limit > 1000 {
		limit = 1000
	}

	hist, err := h.reader.GetHistory(r.Context(), symbol, limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "internal_error", Symbol: symbol, Message: err.Error()})
		return
	}
	out := make([]PriceResponse, len(hist))
	for i, reading := range hist {
		out[i] = newPriceResponse(reading)
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handlers) oracleHealth(w http.ResponseWriter, r *http.Request) {
	all := h.tracker.SnapshotAll()
	resp := OracleHealthResponse{
		Symbols: make(map[string]SymbolHealth, len(h.symbols)),
		Sources: make(map[string]map[domain.Source]SourceHealth, len(all)),
	}

	overall := true
	for _, spec := range h.symbols {
		healthy := h.tracker.SymbolHealthy(spec.Name, sourcesFor(spec))
		resp.Symbols[spec.Name] = SymbolHealth{Healthy: healthy}
		overall = overall && healthy
	}

	for symbol, bySource := range all {
		resp.Sources[symbol] = make(map[domain.Source]SourceHealth, len(bySource))
		for source, rec := range bySource {
			resp.Sources[symbol][source] = newSourceHealth(rec)
		}
	}

	if h.cache != nil {
		stats := h.cache.Stats()
		resp.Cache = CacheHealth{Hits: stats.Hits, Misses: stats.Misses, HitRatio: stats.HitRatio}
	}

	resp.Status = "healthy"
	if !overall {
		resp.Status = "degraded"
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) notFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "not_found", Message: r.URL.Path})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
