package config // package config loads application configuration from environment variables

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/ismayilysfli/orders-invoice-erp/internal/token"
)

// AppConfig holds process-level settings shared by both binaries.
type AppConfig struct {
	Env       string `env:"APP_ENV" envDefault:"dev"`
	Port      string `env:"APP_PORT" envDefault:"8080"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`
	// TrustedProxies lists the CIDRs allowed to set X-Forwarded-For. Empty
	// means the socket peer is the client.
	TrustedProxies []string `env:"TRUSTED_PROXIES" envSeparator:","`
}

// DBConfig selects the store. "mysql" uses the DB_USER/PASS/HOST/PORT/NAME
// pieces; "sqlite" uses DB_PATH.
type DBConfig struct {
	Driver  string `env:"DRIVER" envDefault:"mysql"`
	User    string `env:"USER"`
	Pass    string `env:"PASS"`
	Host    string `env:"HOST" envDefault:"localhost"`
	Port    string `env:"PORT" envDefault:"3306"`
	Name    string `env:"NAME"`
	Path    string `env:"PATH" envDefault:"auth.db"`
	Migrate bool   `env:"MIGRATE" envDefault:"true"`
}

// JWTConfig is the token codec surface.
type JWTConfig struct {
	Secret         string        `env:"SECRET,required,notEmpty"`
	Issuer         string        `env:"ISSUER" envDefault:"auth-service"`
	ExpectedIssuer string        `env:"EXPECTED_ISSUER"`
	AccessTTL      time.Duration `env:"ACCESS_TTL" envDefault:"15m"`
	RefreshTTL     time.Duration `env:"REFRESH_TTL" envDefault:"168h"`
	ClockSkew      time.Duration `env:"CLOCK_SKEW" envDefault:"30s"`
	RoleClaim      string        `env:"ROLE_CLAIM" envDefault:"role"`
}

// Settings converts the raw values into immutable codec settings.
func (j JWTConfig) Settings() token.Settings {
	return token.Settings{
		Secret:         []byte(j.Secret),
		Issuer:         j.Issuer,
		ExpectedIssuer: j.ExpectedIssuer,
		ClockSkew:      j.ClockSkew,
		RoleClaim:      j.RoleClaim,
	}
}

// SweepConfig controls the stale refresh token sweeper; Interval 0
// disables it.
type SweepConfig struct {
	Interval  time.Duration `env:"INTERVAL" envDefault:"1h"`
	Retention time.Duration `env:"RETENTION" envDefault:"720h"`
}

// Config holds all runtime configuration of the auth service.
type Config struct {
	App       AppConfig
	DB        DBConfig        `envPrefix:"DB_"`
	JWT       JWTConfig       `envPrefix:"JWT_"`
	Sweep     SweepConfig     `envPrefix:"SWEEP_"`
	RateLimit RateLimitConfig `envPrefix:"RATE_LIMIT_"`
	Redis     RedisConfig     `envPrefix:"REDIS_"`

	BcryptCost           int           `env:"BCRYPT_COST" envDefault:"10"`
	RabbitMQURL          string        `env:"RABBITMQ_URL"`
	AuditConsumerEnabled bool          `env:"AUDIT_CONSUMER_ENABLED" envDefault:"false"`
	RevokeAllOnReuse     bool          `env:"REFRESH_REUSE_REVOKE_ALL" envDefault:"true"`
	ReuseGrace           time.Duration `env:"REFRESH_REUSE_GRACE" envDefault:"2s"`
}

// Load reads an optional .env file (or the one named by ENV_FILE) and then
// parses the environment. Variables already set in the process win over
// the file.
func Load() (Config, error) {
	if err := loadDotEnv(); err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.RateLimit.normalize()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.DB.Driver {
	case "mysql":
		if c.DB.User == "" || c.DB.Name == "" {
			return errors.New("DB_USER and DB_NAME are required for mysql")
		}
	case "sqlite":
		if strings.TrimSpace(c.DB.Path) == "" {
			return errors.New("DB_PATH is required for sqlite")
		}
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.DB.Driver)
	}
	if c.JWT.AccessTTL <= 0 || c.JWT.RefreshTTL <= 0 {
		return errors.New("JWT_ACCESS_TTL and JWT_REFRESH_TTL must be positive")
	}
	return nil
}

func loadDotEnv() error {
	if path := os.Getenv("ENV_FILE"); path != "" {
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
		return nil
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}
