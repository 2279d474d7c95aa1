package syncer

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/therealutkarshpriyadarshi/factorflow/internal/circuitbreaker"
	"github.com/therealutkarshpriyadarshi/factorflow/internal/metrics"
	"github.com/therealutkarshpriyadarshi/factorflow/internal/ratelimit"
	"github.com/therealutkarshpriyadarshi/factorflow/internal/retry"
)

// errEmptyResult marks an attempt that returned no rows; it is retried like
// a transport error and reported as an empty result once attempts run out
var errEmptyResult = errors.New("empty result")

// Client throttles and retries calls to a Provider. One Client should back
// one upstream credential: every call through it shares the same limiter.
type Client struct {
	provider Provider
	limiter  *ratelimit.Limiter
	retry    *retry.Config
	metrics  *metrics.Recorder
	breakers *circuitbreaker.Group
}

// NewClient wraps provider with limiter and retry policy. A nil limiter
// means no throttling, a nil retry config means retry.DefaultConfig.
func NewClient(provider Provider, limiter *ratelimit.Limiter, retryCfg *retry.Config, recorder *metrics.Recorder) *Client {
	if limiter == nil {
		limiter = ratelimit.NewPerMinute(0)
	}
	if retryCfg == nil {
		retryCfg = retry.DefaultConfig()
	}
	return &Client{provider: provider, limiter: limiter, retry: retryCfg, metrics: recorder}
}

// WithBreakers guards every API name with its own circuit breaker from group
func (c *Client) WithBreakers(group *circuitbreaker.Group) *Client {
	c.breakers = group
	return c
}

// BreakerStats returns the state of every upstream circuit seen so far
func (c *Client) BreakerStats() []circuitbreaker.Stats {
	if c.breakers == nil {
		return nil
	}
	return c.breakers.Stats()
}

// IsUpstreamFailure reports whether err means the upstream is unhealthy.
// Bad credentials and cancelled calls do not count.
func IsUpstreamFailure(err error) bool {
	return err != nil && !errors.Is(err, ErrUnauthorized) && !errors.Is(err, context.Canceled)
}

// Fetch calls apiName, waiting on the rate limiter before every attempt.
// An upstream that stays empty through every attempt yields (nil, nil).
func (c *Client) Fetch(ctx context.Context, apiName string, params map[string]interface{}) ([]Row, error) {
	cfg := *c.retry
	cfg.RetryIf = IsUpstreamFailure
	cfg.RetryCallback = func(attempt int, err error) {
		c.metrics.APIRetry(apiName)
		log.WithFields(log.Fields{"api_name": apiName, "attempt": attempt}).WithError(err).Debug("Retrying upstream call")
	}

	rows, err := retry.ExecuteWithValue(ctx, &cfg, func() ([]Row, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, retry.Permanent(err)
		}

		rows, err := c.call(ctx, apiName, params)
		if errors.Is(err, circuitbreaker.ErrCircuitOpen) || errors.Is(err, circuitbreaker.ErrTooManyRequests) {
			c.metrics.APICall(apiName, "rejected")
			return nil, retry.Permanent(fmt.Errorf("upstream %s: %w", apiName, err))
		}
		if err != nil {
			c.metrics.APICall(apiName, "error")
			return nil, err
		}
		if len(rows) == 0 {
			c.metrics.APICall(apiName, "empty")
			return nil, errEmptyResult
		}
		c.metrics.APICall(apiName, "ok")
		return rows, nil
	})

	if errors.Is(err, errEmptyResult) {
		log.WithField("api_name", apiName).Warn("Empty result from upstream")
		return nil, nil
	}
	return rows, err
}

func (c *Client) call(ctx context.Context, apiName string, params map[string]interface{}) ([]Row, error) {
	if c.breakers == nil {
		return c.provider.Call(ctx, apiName, params)
	}

	breaker := c.breakers.For(apiName)
	if err := breaker.Allow(); err != nil {
		return nil, err
	}
	rows, err := c.provider.Call(ctx, apiName, params)
	breaker.Record(err)
	return rows, err
}
