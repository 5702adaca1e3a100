package proxy

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ismayilysfli/orders-invoice-erp/internal/config"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func respond(status int) *http.Response {
	return &http.Response{StatusCode: status, Body: io.NopCloser(strings.NewReader("")), Header: http.Header{}}
}

func newRequest(t *testing.T, host string) *http.Request {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, "http://"+host+"/orders", nil)
	require.NoError(t, err)
	return req
}

func TestBreakerTransport_PassesThrough5xxThenOpens(t *testing.T) {
	var calls atomic.Int32
	next := roundTripFunc(func(*http.Request) (*http.Response, error) {
		calls.Add(1)
		return respond(http.StatusBadGateway), nil
	})
	tr := NewBreakerTransport(next, config.BreakerConfig{MaxFailures: 2, OpenTimeout: time.Minute, HalfOpenMax: 1}, nil)

	for range 2 {
		resp, err := tr.RoundTrip(newRequest(t, "orders:8080"))
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	}
	assert.Equal(t, gobreaker.StateOpen, tr.State("orders:8080"))

	_, err := tr.RoundTrip(newRequest(t, "orders:8080"))
	assert.ErrorIs(t, err, ErrUpstreamUnavailable)
	assert.Equal(t, int32(2), calls.Load())
}

func TestBreakerTransport_PerHost(t *testing.T) {
	next := roundTripFunc(func(r *http.Request) (*http.Response, error) {
		if r.URL.Host == "bad:1" {
			return nil, errors.New("connection refused")
		}
		return respond(http.StatusOK), nil
	})
	tr := NewBreakerTransport(next, config.BreakerConfig{MaxFailures: 1, OpenTimeout: time.Minute}, nil)

	_, err := tr.RoundTrip(newRequest(t, "bad:1"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUpstreamUnavailable)
	assert.Equal(t, gobreaker.StateOpen, tr.State("bad:1"))

	resp, err := tr.RoundTrip(newRequest(t, "good:1"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, gobreaker.StateClosed, tr.State("good:1"))
	assert.Equal(t, gobreaker.StateClosed, tr.State("never-seen:1"))
}

func TestBreakerTransport_SuccessResetsFailures(t *testing.T) {
	status := http.StatusServiceUnavailable
	next := roundTripFunc(func(*http.Request) (*http.Response, error) { return respond(status), nil })
	tr := NewBreakerTransport(next, config.BreakerConfig{MaxFailures: 2, OpenTimeout: time.Minute}, nil)

	_, _ = tr.RoundTrip(newRequest(t, "svc:1"))
	status = http.StatusOK
	_, _ = tr.RoundTrip(newRequest(t, "svc:1"))
	status = http.StatusServiceUnavailable
	_, _ = tr.RoundTrip(newRequest(t, "svc:1"))

	assert.Equal(t, gobreaker.StateClosed, tr.State("svc:1"))
}
