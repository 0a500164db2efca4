// Package http implements the read-only REST surface (spec §6): current
// price, batch prices, history, and health, served over gorilla/mux with
// the teacher's middleware chain.
package http

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/oraclefeed/internal/cache"
	"github.com/sawpanic/oraclefeed/internal/domain"
	"github.com/sawpanic/oraclefeed/internal/health"
	"github.com/sawpanic/oraclefeed/internal/metrics"
)

type requestIDKey struct{}

// Server is the read-only HTTP server exposing the oracle price/health API.
type Server struct {
	router   *mux.Router
	server   *http.Server
	handlers *handlers
	config   ServerConfig
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

func DefaultServerConfig(host string, port int) ServerConfig {
	return ServerConfig{
		Host:         host,
		Port:         port,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// NewServer builds a Server bound to config.Host:config.Port, verifying the
// port is free before returning. wsHandler serves the /ws streaming surface
// (typically a *ws.Hub); reg may be nil, in which case /metrics is omitted.
// symbols and priceCache feed the /oracle/health roll-up and cache-health
// block; priceCache may be nil, in which case the cache-health block reports
// zero hits and misses.
func NewServer(config ServerConfig, reader Reader, tracker *health.Tracker, symbols []domain.SymbolSpec, priceCache *cache.PriceCache, wsHandler http.Handler, reg *metrics.Registry) (*Server, error) {
	addr := fmt.Sprintf("%s:%d", config.Host, config.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("port %d is busy or unavailable: %w", config.Port, err)
	}
	listener.Close()

	s := &Server{
		router:   mux.NewRouter(),
		handlers: &handlers{reader: reader, tracker: tracker, symbols: symbols, cache: priceCache},
		config:   config,
	}
	s.setupRoutes(wsHandler, reg)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}
	return s, nil
}

func (s *Server) setupRoutes(wsHandler http.Handler, reg *metrics.Registry) {
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.requestLoggingMiddleware)
	s.router.Use(s.timeoutMiddleware)
	s.router.Use(s.corsMiddleware)

	api := s.router.PathPrefix("/").Subrouter()
	api.Use(s.jsonContentTypeMiddleware)

	api.HandleFunc("/health", s.handlers.health).Methods("GET")
	api.HandleFunc("/oracle/price/{symbol}", s.handlers.price).Methods("GET")
	api.HandleFunc("/oracle/prices", s.handlers.allPrices).Methods("GET")
	api.HandleFunc("/oracle/prices/batch", s.handlers.batchPrices).Methods("POST")
	api.HandleFunc("/oracle/history/{symbol}", s.handlers.history).Methods("GET")
	api.HandleFunc("/oracle/health", s.handlers.oracleHealth).Methods("GET")

	if wsHandler != nil {
		s.router.Handle("/ws", wsHandler)
	}
	if reg != nil {
		s.router.Handle("/metrics", reg.Handler()).Methods("GET")
	}

	s.router.NotFoundHandler = http.HandlerFunc(s.handlers.notFound)
}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.New().String()[:8]
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) requestLoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapper := &responseWrapper{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapper, r)

		log.Info().
			Str("request_id", fmt.Sprint(r.Context().Value(requestIDKey{}))).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", wrapper.statusCode).
			Dur("duration", time.Since(start)).
			Str("remote_addr", r.RemoteAddr).
			Msg("request")
	})
}

func (s *Server) timeoutMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if strings.Contains(origin, "localhost") || strings.Contains(origin, "127.0.0.1") {
			w.Header().Set("Access-Control-Allow-Origin", origin)
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) jsonContentTypeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// Start begins serving and blocks until the server stops or errors.
func (s *Server) Start() error {
	log.Info().Str("addr", s.server.Addr).Msg("http server starting")
	return s.server.ListenAndServe()
}

// Shutdown gracefully drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("http server shutting down")
	return s.server.Shutdown(ctx)
}

// Address returns the bound host:port.
func (s *Server) Address() string {
	return fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
}

type responseWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWrapper) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
