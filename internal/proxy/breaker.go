// Package proxy holds the gateway's upstream transport.
package proxy

import (
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/ismayilysfli/orders-invoice-erp/internal/config"
	"github.com/ismayilysfli/orders-invoice-erp/internal/metrics"
)

// ErrUpstreamUnavailable is returned while an upstream's breaker is open.
var ErrUpstreamUnavailable = errors.New("upstream unavailable")

// statusError marks a 5xx response as a breaker failure while keeping the
// response for the caller.
type statusError struct{ resp *http.Response }

func (e *statusError) Error() string { return fmt.Sprintf("upstream status %d", e.resp.StatusCode) }

// BreakerTransport wraps a RoundTripper with one circuit breaker per
// upstream host. Transport errors and 5xx responses count as failures;
// 5xx responses are still passed through to the client.
type BreakerTransport struct {
	next   http.RoundTripper
	cfg    config.BreakerConfig
	logger *zap.Logger

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

func NewBreakerTransport(next http.RoundTripper, cfg config.BreakerConfig, logger *zap.Logger) *BreakerTransport {
	if next == nil {
		next = http.DefaultTransport
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BreakerTransport{
		next:     next,
		cfg:      cfg,
		logger:   logger.Named("breaker"),
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

func (t *BreakerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	cb := t.breaker(req.URL.Host)
	res, err := cb.Execute(func() (interface{}, error) {
		resp, err := t.next.RoundTrip(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= http.StatusInternalServerError {
			return nil, &statusError{resp: resp}
		}
		return resp, nil
	})
	if err != nil {
		var se *statusError
		switch {
		case errors.As(err, &se):
			return se.resp, nil
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			return nil, fmt.Errorf("%w: %s", ErrUpstreamUnavailable, req.URL.Host)
		default:
			return nil, err
		}
	}
	return res.(*http.Response), nil
}

// State reports the breaker state for host. Hosts never seen are closed.
func (t *BreakerTransport) State(host string) gobreaker.State {
	t.mu.Lock()
	cb, ok := t.breakers[host]
	t.mu.Unlock()
	if !ok {
		return gobreaker.StateClosed
	}
	return cb.State()
}

func (t *BreakerTransport) breaker(host string) *gobreaker.CircuitBreaker {
	t.mu.Lock()
	defer t.mu.Unlock()
	if cb, ok := t.breakers[host]; ok {
		return cb
	}
	maxFailures := t.cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = 1
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        host,
		MaxRequests: t.cfg.HalfOpenMax,
		Timeout:     t.cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			t.logger.Info("state change",
				zap.String("upstream", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
			metrics.BreakerTransitions.WithLabelValues(name, from.String(), to.String()).Inc()
		},
	})
	t.breakers[host] = cb
	return cb
}
