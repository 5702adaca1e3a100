// Package metrics holds the prometheus collectors shared by the auth
// service and the gateway.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
	AuthOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_operations_total",
			Help: "Auth use-case outcomes by operation and result.",
		},
		[]string{"op", "result"},
	)
	GatewayDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_auth_decisions_total",
			Help: "Gateway token validation decisions.",
		},
		[]string{"decision"},
	)
	SweptTokens = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "auth_refresh_tokens_swept_total",
			Help: "Revoked and expired refresh tokens deleted by the sweeper.",
		},
	)
	RateLimited = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_rate_limited_total",
			Help: "Requests rejected by the rate limiter.",
		},
		[]string{"backend"},
	)
	BreakerTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_breaker_transitions_total",
			Help: "Upstream circuit breaker state changes.",
		},
		[]string{"upstream", "from", "to"},
	)
)

// Register adds every collector to registry.
func Register(registry *prometheus.Registry) {
	registry.MustRegister(RequestCount, RequestDuration, AuthOperations, GatewayDecisions, SweptTokens, RateLimited, BreakerTransitions)
}

func Handler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
