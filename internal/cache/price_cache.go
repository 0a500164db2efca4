// Package cache implements PriceCache (spec §4.4): a Redis-backed store for
// the latest aggregated Reading per symbol, a bounded timestamp-ordered
// history, and pub/sub fan-out of updates.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/oraclefeed/internal/domain"
	"github.com/sawpanic/oraclefeed/internal/metrics"
)

const (
	maxHistoryEntries = 1000
	defaultTTL        = 300 * time.Second
)

// ErrNotFound is returned by Store.Get when key has no value. Store
// implementations must translate their backend's own not-found signal
// (e.g. redis.Nil) into this sentinel.
var ErrNotFound = errors.New("cache: key not found")

func priceKey(symbol string) string   { return "price:" + symbol }
func historyKey(symbol string) string { return "history:" + symbol }
func updatesChannel(symbol string) string { return "price_updates:" + symbol }

// Store is the minimal command surface PriceCache needs from the underlying
// key-value store — a subset of *redis.Client's API, so tests can supply a
// fake without dragging in a real Redis server or a client-version-pinned
// mocking library.
type Store interface {
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	MGet(ctx context.Context, keys ...string) ([]interface{}, error)
	ZAdd(ctx context.Context, key string, score float64, member string) error
	ZRemRangeByRank(ctx context.Context, key string, start, stop int64) error
	ZRevRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	Publish(ctx context.Context, channel string, message interface{}) error
	Subscribe(ctx context.Context, channels ...string) Subscription
}

// Subscription is a cancellable stream of raw pub/sub payloads.
type Subscription interface {
	Channel() <-chan string
	Close() error
}

// PriceCache implements spec §4.4 over a Store.
type PriceCache struct {
	store   Store
	ttl     time.Duration
	metrics *metrics.Registry
	hits    uint64
	misses  uint64
}

// Stats is a snapshot of this process's cache hit/miss counts, mirroring
// `original_source/oracle-service/src/cache.rs`'s `get_stats`/`CacheStats`
// for the `/oracle/health` cache-health surface (SUPPLEMENTED FEATURES 1).
type Stats struct {
	Hits     uint64  `json:"hits"`
	Misses   uint64  `json:"misses"`
	HitRatio float64 `json:"hit_ratio"`
}

// Stats returns the running hit/miss counters for Get/GetMany lookups.
func (c *PriceCache) Stats() Stats {
	hits := atomic.LoadUint64(&c.hits)
	misses := atomic.LoadUint64(&c.misses)
	s := Stats{Hits: hits, Misses: misses}
	if total := hits + misses; total > 0 {
		s.HitRatio = float64(hits) / float64(total)
	}
	return s
}

func New(store Store, ttl time.Duration) *PriceCache {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &PriceCache{store: store, ttl: ttl}
}

// WithMetrics attaches a metrics registry that Get/GetMany record hit/miss
// counts into. Returns the same *PriceCache for chaining at construction.
func (c *PriceCache) WithMetrics(reg *metrics.Registry) *PriceCache {
	c.metrics = reg
	return c
}

// Put stores reading as the latest value for its symbol, appends it to the
// bounded history, and publishes it to subscribers. All four effects are
// attempted unconditionally; a failure partway through is logged and
// returned so the caller (the poll scheduler) can retry on the next tick.
func (c *PriceCache) Put(ctx context.Context, symbol string, reading domain.Reading) error {
	blob, err := json.Marshal(reading)
	if err != nil {
		return &domain.CacheError{Op: "marshal", Err: err}
	}

	var errs error
	if err := c.store.Set(ctx, priceKey(symbol), blob, c.ttl); err != nil {
		log.Error().Err(err).Str("symbol", symbol).Msg("cache put: set failed")
		errs = errors.Join(errs, &domain.CacheError{Op: "put.set", Err: err})
	}

	if err := c.store.ZAdd(ctx, historyKey(symbol), float64(reading.Timestamp), string(blob)); err != nil {
		log.Error().Err(err).Str("symbol", symbol).Msg("cache put: history append failed")
		errs = errors.Join(errs, &domain.CacheError{Op: "put.zadd", Err: err})
	}

	// Trim to the most recent maxHistoryEntries: ZREMRANGEBYRANK 0 -(N+1)
	// deletes everything except the top N by score.
	if err := c.store.ZRemRangeByRank(ctx, historyKey(symbol), 0, -int64(maxHistoryEntries)-1); err != nil {
		log.Error().Err(err).Str("symbol", symbol).Msg("cache put: history trim failed")
		errs = errors.Join(errs, &domain.CacheError{Op: "put.trim", Err: err})
	}

	if err := c.store.Publish(ctx, updatesChannel(symbol), blob); err != nil {
		log.Error().Err(err).Str("symbol", symbol).Msg("cache put: publish failed")
		errs = errors.Join(errs, &domain.CacheError{Op: "put.publish", Err: err})
	}

	return errs
}

// PutMany is the batched equivalent of Put.
func (c *PriceCache) PutMany(ctx context.Context, readings map[string]domain.Reading) error {
	for symbol, r := range readings {
		if err := c.Put(ctx, symbol, r); err != nil {
			return err
		}
	}
	return nil
}

// Get returns the cached Reading for symbol, or (zero, false) if missing or
// expired.
func (c *PriceCache) Get(ctx context.Context, symbol string) (domain.Reading, bool, error) {
	val, err := c.store.Get(ctx, priceKey(symbol))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.recordMiss("get")
			return domain.Reading{}, false, nil
		}
		return domain.Reading{}, false, &domain.CacheError{Op: "get", Err: err}
	}
	var r domain.Reading
	if err := json.Unmarshal([]byte(val), &r); err != nil {
		return domain.Reading{}, false, &domain.CacheError{Op: "get.unmarshal", Err: err}
	}
	c.recordHit("get")
	return r, true, nil
}

func (c *PriceCache) recordHit(op string) {
	atomic.AddUint64(&c.hits, 1)
	if c.metrics != nil {
		c.metrics.RecordCacheHit(op)
	}
}

func (c *PriceCache) recordMiss(op string) {
	atomic.AddUint64(&c.misses, 1)
	if c.metrics != nil {
		c.metrics.RecordCacheMiss(op)
	}
}

// GetMany is the batched equivalent of Get; missing symbols are simply
// absent from the result map.
func (c *PriceCache) GetMany(ctx context.Context, symbols []string) (map[string]domain.Reading, error) {
	keys := make([]string, len(symbols))
	for i, s := range symbols {
		keys[i] = priceKey(s)
	}
	raw, err := c.store.MGet(ctx, keys...)
	if err != nil {
		return nil, &domain.CacheError{Op: "get_many", Err: err}
	}
	out := make(map[string]domain.Reading, len(symbols))
	for i, v := range raw {
		if v == nil {
			c.recordMiss("get_many")
			continue
		}
		s, ok := v.(string)
		if !ok {
			continue
		}
		var r domain.Reading
		if err := json.Unmarshal([]byte(s), &r); err != nil {
			continue
		}
		c.recordHit("get_many")
		out[symbols[i]] = r
	}
	return out, nil
}

// GetHistory returns up to limit (capped at 1000) Readings for symbol,
// newest first.
func (c *PriceCache) GetHistory(ctx context.Context, symbol string, limit int) ([]domain.Reading, error) {
	if limit <= 0 || limit > maxHistoryEntries {
		limit = maxHistoryEntries
	}
	raw, err := c.store.ZRevRange(ctx, historyKey(symbol), 0, int64(limit-1))
	if err != nil {
		return nil, &domain.CacheError{Op: "get_history", Err: err}
	}
	out := make([]domain.Reading, 0, len(raw))
	for _, s := range raw {
		var r domain.Reading
		if err := json.Unmarshal([]byte(s), &r); err != nil {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// Freshness reports whether reading's timestamp is within maxAge of now.
func (c *PriceCache) Freshness(reading domain.Reading, maxAge time.Duration) bool {
	return reading.IsFresh(time.Now(), maxAge)
}

// Subscribe yields Readings as they are published for any of symbols.
// Cancelling ctx closes the returned stream cleanly.
func (c *PriceCache) Subscribe(ctx context.Context, symbols []string) (<-chan domain.Reading, func(), error) {
	channels := make([]string, len(symbols))
	for i, s := range symbols {
		channels[i] = updatesChannel(s)
	}
	sub := c.store.Subscribe(ctx, channels...)
	payloads := sub.Channel()

	out := make(chan domain.Reading)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case payload, ok := <-payloads:
				if !ok {
					return
				}
				var r domain.Reading
				if err := json.Unmarshal([]byte(payload), &r); err != nil {
					log.Warn().Err(err).Msg("subscribe: dropping malformed payload")
					continue
				}
				select {
				case out <- r:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	cancel := func() { _ = sub.Close() }
	return out, cancel, nil
}

// redisStore adapts *redis.Client to the Store interface used by PriceCache.
type redisStore struct {
	client *redis.Client
}

// NewRedisStore builds a Store backed by a real Redis server at addr.
func NewRedisStore(addr string) Store {
	return &redisStore{client: redis.NewClient(&redis.Options{Addr: addr})}
}

func (s *redisStore) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return s.client.Set(ctx, key, value, ttl).Err()
}

func (s *redisStore) Get(ctx context.Context, key string) (string, error) {
	v, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	return v, err
}

func (s *redisStore) MGet(ctx context.Context, keys ...string) ([]interface{}, error) {
	return s.client.MGet(ctx, keys...).Result()
}

func (s *redisStore) ZAdd(ctx context.Context, key string, score float64, member string) error {
	return s.client.ZAdd(ctx, key, redis.Z{Score: score, Member: member}).Err()
}

func (s *redisStore) ZRemRangeByRank(ctx context.Context, key string, start, stop int64) error {
	return s.client.ZRemRangeByRank(ctx, key, start, stop).Err()
}

func (s *redisStore) ZRevRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	return s.client.ZRevRange(ctx, key, start, stop).Result()
}

func (s *redisStore) Publish(ctx context.Context, channel string, message interface{}) error {
	return s.client.Publish(ctx, channel, message).Err()
}

func (s *redisStore) Subscribe(ctx context.Context, channels ...string) Subscription {
	ps := s.client.Subscribe(ctx, channels...)
	return &redisSubscription{ps: ps, ch: make(chan string)}
}

type redisSubscription struct {
	ps *redis.PubSub
	ch chan string
}

func (s *redisSubscription) Channel() <-chan string {
	go func() {
		defer close(s.ch)
		for msg := range s.ps.Channel() {
			s.ch <- msg.Payload
		}
	}()
	return s.ch
}

func (s *redisSubscription) Close() error { return s.ps.Close() }
