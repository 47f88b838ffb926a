package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	apperrors "github.com/seligo/rxquant-api/errors"
	"github.com/seligo/rxquant-api/metrics"
	"github.com/seligo/rxquant-api/resilience"
)

// Doer abstracts the HTTP client so tests can substitute transports.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// errNoResult marks a definitive upstream not-found answer. The typed
// clients translate it into a cached negative entry.
var errNoResult = errors.New("no result upstream")

// ClientConfig tunes one registry client. Zero values fall back to the
// per-client defaults applied by the constructors.
type ClientConfig struct {
	BaseURL        string
	CacheCapacity  int
	FreshTTL       time.Duration
	StaleTTL       time.Duration
	RateLimit      int
	RateWindow     time.Duration
	MaxAttempts    int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	BreakerTimeout time.Duration
}

func (cfg ClientConfig) withDefaults(freshTTL time.Duration) ClientConfig {
	if cfg.CacheCapacity <= 0 {
		cfg.CacheCapacity = 1024
	}
	if cfg.FreshTTL <= 0 {
		cfg.FreshTTL = freshTTL
	}
	if cfg.StaleTTL <= 0 {
		cfg.StaleTTL = resilience.DefaultStaleTTL
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 10
	}
	if cfg.RateWindow <= 0 {
		cfg.RateWindow = resilience.DefaultWindow
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = 100 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 2 * time.Second
	}
	return cfg
}

// core is the call path shared by both registry clients: rate limiter,
// then circuit breaker around retried HTTP GETs.
type core struct {
	name        string
	baseURL     string
	http        Doer
	limiter     *resilience.RateLimiter
	breaker     *resilience.Breaker
	retrier     *resilience.Retrier
	lastSuccess atomic.Int64
}

func newCore(name string, cfg ClientConfig, doer Doer) *core {
	if doer == nil {
		doer = &http.Client{Timeout: 10 * time.Second}
	}

	breakerCfg := resilience.DefaultBreakerConfig(name)
	if cfg.BreakerTimeout > 0 {
		breakerCfg.Timeout = cfg.BreakerTimeout
	}
	// Definitive 4xx answers are valid responses, not upstream failures.
	breakerCfg.IsSuccessful = func(err error) bool {
		return err == nil || !resilience.Retryable(err)
	}

	return &core{
		name:    name,
		baseURL: cfg.BaseURL,
		http:    doer,
		limiter: resilience.NewRateLimiter(cfg.RateLimit, cfg.RateWindow),
		breaker: resilience.NewBreaker(breakerCfg),
		retrier: resilience.NewRetrier(cfg.MaxAttempts, cfg.RetryBaseDelay, cfg.RetryMaxDelay),
	}
}

// fetch GETs url and decodes the JSON body into out. Errors come back
// classified: rate_limit_exceeded before any network traffic,
// errNoResult for definitive 4xx answers, dependency_failure with a
// retry hint for everything transient.
func (c *core) fetch(ctx context.Context, url string, out any) error {
	ctx, span := otel.Tracer("registry").Start(ctx, c.name+"_fetch")
	defer span.End()
	span.SetAttributes(attribute.String("url", url))

	if ok, retryAfter := c.limiter.Allow(); !ok {
		metrics.RegistryCallsTotal.WithLabelValues(c.name, "rate_limited").Inc()
		return apperrors.RateLimited(
			fmt.Sprintf("%s registry request quota exhausted", c.name), retryAfter)
	}

	_, err := c.breaker.Execute(func() (any, error) {
		return nil, c.retrier.Do(ctx, func(ctx context.Context) error {
			return c.getOnce(ctx, url, out)
		})
	})
	if err == nil {
		c.lastSuccess.Store(time.Now().UnixNano())
		metrics.RegistryCallsTotal.WithLabelValues(c.name, "success").Inc()
		return nil
	}

	if resilience.IsBreakerOpen(err) {
		metrics.RegistryCallsTotal.WithLabelValues(c.name, "circuit_open").Inc()
		return apperrors.Dependency(
			fmt.Sprintf("%s registry unavailable, circuit open", c.name),
			err, c.breaker.RetryAfterHint())
	}

	var statusErr *resilience.StatusError
	if errors.As(err, &statusErr) && statusErr.Status >= 400 && statusErr.Status < 500 &&
		!resilience.Retryable(err) {
		metrics.RegistryCallsTotal.WithLabelValues(c.name, "not_found").Inc()
		return errNoResult
	}

	metrics.RegistryCallsTotal.WithLabelValues(c.name, "error").Inc()
	return apperrors.Dependency(
		fmt.Sprintf("%s registry request failed", c.name),
		err, c.breaker.RetryAfterHint())
}

func (c *core) getOnce(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request for %s: %w", url, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s registry failed: %w", c.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &resilience.StatusError{Status: resp.StatusCode}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s registry response: %w", c.name, err)
	}
	return nil
}

// LastSuccess returns when the upstream last answered successfully, or
// the zero time if it never has.
func (c *core) LastSuccess() time.Time {
	nanos := c.lastSuccess.Load()
	if nanos == 0 {
		return time.Time{}
	}
	return time.Unix(0, nanos)
}

// BreakerState exposes the circuit state for health reporting.
func (c *core) BreakerState() resilience.BreakerState {
	return c.breaker.State()
}
