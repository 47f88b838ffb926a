package resilience

import (
	"errors"
	"time"

	"github.com/seligo/rxquant-api/logging"
	"github.com/sony/gobreaker"
)

// BreakerState represents the circuit breaker state.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half-open"
)

// BreakerConfig holds circuit breaker tuning.
type BreakerConfig struct {
	// Name identifies the breaker in logs and health output
	Name string
	// MaxRequests is max requests allowed in half-open state
	MaxRequests uint32
	// Interval is the cyclic period for clearing counts in closed state
	Interval time.Duration
	// Timeout is how long to wait before transitioning from open to half-open
	Timeout time.Duration
	// FailureThreshold is the consecutive-failure count before opening
	FailureThreshold uint32
	// FailureRatio is the failure ratio threshold once MinRequests is reached
	FailureRatio float64
	// MinRequests is minimum requests before the ratio is considered
	MinRequests uint32
	// IsSuccessful overrides which errors count as breaker failures.
	// Nil means any non-nil error counts.
	IsSuccessful func(err error) bool
}

// DefaultBreakerConfig returns defaults suitable for registry upstreams.
func DefaultBreakerConfig(name string) BreakerConfig {
	return BreakerConfig{
		Name:             name,
		MaxRequests:      3,
		Interval:         60 * time.Second,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
		FailureRatio:     0.6,
		MinRequests:      10,
	}
}

// Breaker wraps sony/gobreaker so a dead upstream fails fast instead of
// stacking retries on every request.
type Breaker struct {
	cb      *gobreaker.CircuitBreaker
	name    string
	timeout time.Duration
}

// NewBreaker creates a breaker from cfg. State transitions are logged.
func NewBreaker(cfg BreakerConfig) *Breaker {
	b := &Breaker{
		name:    cfg.Name,
		timeout: cfg.Timeout,
	}

	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return counts.ConsecutiveFailures >= cfg.FailureThreshold
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= cfg.FailureRatio
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logging.Warn("Circuit breaker state changed",
				"breaker", name,
				"from", string(mapBreakerState(from)),
				"to", string(mapBreakerState(to)))
		},
		IsSuccessful: cfg.IsSuccessful,
	}

	b.cb = gobreaker.NewCircuitBreaker(settings)
	return b
}

// Execute runs fn through the breaker. While the circuit is open fn is
// not called and the open-state error is returned immediately.
func (b *Breaker) Execute(fn func() (any, error)) (any, error) {
	return b.cb.Execute(fn)
}

// State returns the current breaker state.
func (b *Breaker) State() BreakerState {
	return mapBreakerState(b.cb.State())
}

// IsOpen reports whether the circuit is currently open.
func (b *Breaker) IsOpen() bool {
	return b.cb.State() == gobreaker.StateOpen
}

// Name returns the breaker name.
func (b *Breaker) Name() string {
	return b.name
}

// RetryAfterHint returns how long callers should back off when the
// circuit is open: the open-to-half-open timeout.
func (b *Breaker) RetryAfterHint() time.Duration {
	return b.timeout
}

// Counts returns the breaker's current request counts.
func (b *Breaker) Counts() gobreaker.Counts {
	return b.cb.Counts()
}

// IsBreakerOpen reports whether err is the breaker rejecting the call
// rather than the call itself failing.
func IsBreakerOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

// mapBreakerState converts gobreaker.State to BreakerState.
func mapBreakerState(s gobreaker.State) BreakerState {
	switch s {
	case gobreaker.StateClosed:
		return BreakerClosed
	case gobreaker.StateOpen:
		return BreakerOpen
	case gobreaker.StateHalfOpen:
		return BreakerHalfOpen
	default:
		return BreakerClosed
	}
}
