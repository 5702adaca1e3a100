package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// BreakerConfig tunes the per-upstream circuit breaker.
type BreakerConfig struct {
	MaxFailures uint32        `env:"MAX_FAILURES" envDefault:"5"`
	OpenTimeout time.Duration `env:"OPEN_TIMEOUT" envDefault:"30s"`
	HalfOpenMax uint32        `env:"HALF_OPEN_MAX" envDefault:"1"`
}

// Route maps a path prefix onto one or more upstream base URLs.
type Route struct {
	Prefix  string
	Targets []*url.URL
}

// GatewayConfig holds the ingress configuration.
type GatewayConfig struct {
	App     AppConfig
	JWT     JWTConfig     `envPrefix:"JWT_"`
	Breaker BreakerConfig `envPrefix:"BREAKER_"`

	PublicPaths []string `env:"GATEWAY_PUBLIC_PATHS" envSeparator:"," envDefault:"/auth/login,/auth/register,/auth/refresh,/auth/logout,/healthz,/metrics"`
	// RawRoutes entries look like "/auth=http://auth:8080|http://auth2:8080".
	RawRoutes []string `env:"GATEWAY_ROUTES" envSeparator:","`

	routes []Route
}

// Routes returns the parsed route table.
func (g GatewayConfig) Routes() []Route { return g.routes }

// LoadGateway parses the gateway configuration from the environment.
func LoadGateway() (GatewayConfig, error) {
	if err := loadDotEnv(); err != nil {
		return GatewayConfig{}, err
	}
	var cfg GatewayConfig
	if err := env.Parse(&cfg); err != nil {
		return GatewayConfig{}, fmt.Errorf("parse env: %w", err)
	}
	routes, err := ParseRoutes(cfg.RawRoutes)
	if err != nil {
		return GatewayConfig{}, err
	}
	cfg.routes = routes
	return cfg, nil
}

// ParseRoutes turns "prefix=url|url" entries into routes.
func ParseRoutes(raw []string) ([]Route, error) {
	var routes []Route
	for _, entry := range raw {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		prefix, targets, ok := strings.Cut(entry, "=")
		prefix = strings.TrimSpace(prefix)
		if !ok || !strings.HasPrefix(prefix, "/") {
			return nil, fmt.Errorf("route %q: want /prefix=url", entry)
		}
		r := Route{Prefix: strings.TrimSuffix(prefix, "/")}
		for _, t := range strings.Split(targets, "|") {
			t = strings.TrimSpace(t)
			if t == "" {
				continue
			}
			u, err := url.Parse(t)
			if err != nil || u.Scheme == "" || u.Host == "" {
				return nil, fmt.Errorf("route %q: bad target %q", entry, t)
			}
			r.Targets = append(r.Targets, u)
		}
		if len(r.Targets) == 0 {
			return nil, fmt.Errorf("route %q: no targets", entry)
		}
		routes = append(routes, r)
	}
	return routes, nil
}
