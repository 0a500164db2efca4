// Package clients implements SourceClient (spec §4.2): the fetch path from a
// raw RPC transport, through rate limiting and circuit breaking, to a
// decoded domain.Reading.
package clients

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/sawpanic/oraclefeed/infra/breakers"
	"github.com/sawpanic/oraclefeed/internal/domain"
)

// Transport fetches the raw account bytes for a feed ID from whatever chain
// RPC backs a given source. Implementations are swapped in tests with a
// fake; in production this is an RPC-backed adapter.
type Transport interface {
	FetchAccount(ctx context.Context, feedID string) ([]byte, error)
}

// Decoder turns raw account bytes into a domain.Reading. Both
// decode.PrimaryDecoder and decode.SecondaryDecoder satisfy this.
type Decoder interface {
	Decode(raw []byte, feedID string, symbol string) (domain.Reading, error)
}

// SourceClient is the fetch contract used by the poll scheduler: fetch(feed)
// -> Reading | FetchError, plus a lightweight health_check.
type SourceClient struct {
	source    domain.Source
	transport Transport
	decoder   Decoder
	breaker   *breakers.Breaker
	limiter   *rate.Limiter
}

// Config tunes the soft rate limit applied in front of the transport and the
// circuit breaker's recovery cooldown.
type Config struct {
	RateLimitPerSecond float64
	RateLimitBurst     int
	BreakerCooldown    time.Duration
}

func NewDefaultConfig() Config {
	return Config{RateLimitPerSecond: 10, RateLimitBurst: 5, BreakerCooldown: 30 * time.Second}
}

// New builds a SourceClient for one source kind. name is used to scope the
// underlying circuit breaker (conventionally "<source>:<symbol>" or just the
// source name for a shared breaker across symbols).
func New(source domain.Source, name string, transport Transport, decoder Decoder, cfg Config) *SourceClient {
	return &SourceClient{
		source:    source,
		transport: transport,
		decoder:   decoder,
		breaker:   breakers.New(name, cfg.BreakerCooldown),
		limiter:   rate.NewLimiter(rate.Limit(cfg.RateLimitPerSecond), cfg.RateLimitBurst),
	}
}

// Fetch retrieves and decodes one Reading for feedID/symbol, respecting the
// rate limiter and circuit breaker. Any failure is returned as a
// *domain.FetchError wrapping the underlying cause.
func (c *SourceClient) Fetch(ctx context.Context, feedID string, symbol string) (domain.Reading, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return domain.Reading{}, &domain.FetchError{Source: c.source, FeedID: feedID, Err: err}
	}

	result, err := c.breaker.Execute(func() (any, error) {
		raw, err := c.transport.FetchAccount(ctx, feedID)
		if err != nil {
			return nil, err
		}
		return c.decoder.Decode(raw, feedID, symbol)
	})
	if err != nil {
		return domain.Reading{}, &domain.FetchError{Source: c.source, FeedID: feedID, Err: err}
	}

	return result.(domain.Reading), nil
}

// HealthCheck performs a best-effort fetch against feedID and reports
// success, bypassing the circuit breaker so a sick breaker doesn't mask the
// underlying transport's real state — mirrors the original implementation's
// health_check probe against a well-known feed.
func (c *SourceClient) HealthCheck(ctx context.Context, feedID string, symbol string) bool {
	raw, err := c.transport.FetchAccount(ctx, feedID)
	if err != nil {
		return false
	}
	_, err = c.decoder.Decode(raw, feedID, symbol)
	return err == nil
}

// Source reports which domain.Source this client fetches for.
func (c *SourceClient) Source() domain.Source { return c.source }

// rpcTransport is the production Transport: it fetches raw account bytes
// over a JSON-RPC-style endpoint. The wire call itself is left to the
// injected doer so this package stays free of any one chain SDK.
type rpcTransport struct {
	doer    func(ctx context.Context, feedID string) ([]byte, error)
	timeout time.Duration
}

// NewRPCTransport builds a Transport around doer, bounding every call with
// timeout.
func NewRPCTransport(doer func(ctx context.Context, feedID string) ([]byte, error), timeout time.Duration) Transport {
	return &rpcTransport{doer: doer, timeout: timeout}
}

func (t *rpcTransport) FetchAccount(ctx context.Context, feedID string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.doer(ctx, feedID)
}
