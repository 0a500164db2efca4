// Package breakers wraps per-source circuit breakers so a stalled or
// error-prone oracle source stops absorbing poll-loop time while it
// recovers. The trip policy (3 consecutive failures, or >5% failure rate
// over at least 20 requests) is carried over verbatim from the teacher's
// infra/breakers package; the cooldown and state-change logging below are
// adapted for an oracle poll loop that retries every few hundred
// milliseconds rather than the teacher's on-demand provider calls.
package breakers

import (
	"time"

	"github.com/rs/zerolog/log"
	cb "github.com/sony/gobreaker"
)

// Breaker wraps a named sony/gobreaker.CircuitBreaker tuned for oracle
// source fetches: trip fast on a short run of consecutive failures, or on a
// sustained elevated failure rate once enough requests have been observed.
type Breaker struct {
	cb *cb.CircuitBreaker
}

// New builds a Breaker for one (symbol, source) fetch path. name should be
// unique per source client so gobreaker's internal state (and any future
// metrics export) can be attributed correctly. recoverCooldown bounds how
// long the breaker stays open before allowing a single half-open probe; a
// Solana RPC endpoint that stalls typically recovers within a handful of
// poll intervals, so callers should size this to the poll interval rather
// than accept gobreaker's minute-scale zero value. A non-positive
// recoverCooldown falls back to 30s.
func New(name string, recoverCooldown time.Duration) *Breaker {
	if recoverCooldown <= 0 {
		recoverCooldown = 30 * time.Second
	}

	st := cb.Settings{Name: name}
	st.Interval = 60 * time.Second
	st.Timeout = recoverCooldown
	st.ReadyToTrip = func(counts cb.Counts) bool {
		if counts.ConsecutiveFailures >= 3 {
			return true
		}
		total := counts.Requests
		if total < 20 {
			return false
		}
		return float64(counts.TotalFailures)/float64(total) > 0.05
	}
	st.OnStateChange = func(name string, from, to cb.State) {
		switch to {
		case cb.StateOpen:
			log.Warn().Str("source", name).Msg("circuit breaker open: pausing fetches against this source")
		case cb.StateHalfOpen:
			log.Info().Str("source", name).Msg("circuit breaker half-open: probing source")
		case cb.StateClosed:
			log.Info().Str("source", name).Msg("circuit breaker closed: source recovered")
		}
	}

	return &Breaker{cb: cb.NewCircuitBreaker(st)}
}

// Execute runs fn through the breaker, short-circuiting with
// gobreaker.ErrOpenState while the breaker is open.
func (b *Breaker) Execute(fn func() (any, error)) (any, error) {
	return b.cb.Execute(fn)
}

// State reports the breaker's current state for health/metrics reporting.
func (b *Breaker) State() cb.State {
	return b.cb.State()
}
