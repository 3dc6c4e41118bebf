// Package config loads process configuration from the environment once at
// startup. Invalid configuration is reported as an error so the caller can
// refuse to start.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"beacon.org/internal/crypto"
)

// Config holds every tunable of the auth API.
type Config struct {
	HTTPAddr string `env:"BEACON_HTTP_ADDR" envDefault:":8080"`
	GRPCAddr string `env:"BEACON_GRPC_ADDR" envDefault:":9090"`

	JWTSecret     string        `env:"BEACON_JWT_SECRET,required,notEmpty"`
	JWTIssuer     string        `env:"BEACON_JWT_ISSUER" envDefault:"beacon"`
	AccessTTL     time.Duration `env:"BEACON_ACCESS_TTL" envDefault:"15m"`
	RefreshTTL    time.Duration `env:"BEACON_REFRESH_TTL" envDefault:"168h"`
	EncryptionKey string        `env:"BEACON_ENCRYPTION_KEY,required,notEmpty"`
	BcryptCost    int           `env:"BEACON_BCRYPT_COST" envDefault:"10"`

	LoginWindow      time.Duration `env:"BEACON_LOGIN_WINDOW" envDefault:"15m"`
	LoginMaxAttempts int           `env:"BEACON_LOGIN_MAX_ATTEMPTS" envDefault:"5"`
	RedisAddr        string        `env:"BEACON_REDIS_ADDR"`

	HTTPRatePerSec int    `env:"BEACON_HTTP_RATE_PER_SEC" envDefault:"20"`
	HTTPRateBurst  int    `env:"BEACON_HTTP_RATE_BURST" envDefault:"40"`
	TrustProxy     bool   `env:"BEACON_TRUST_PROXY" envDefault:"false"`
	CORSOrigin     string `env:"BEACON_CORS_ORIGIN" envDefault:"http://localhost:5173"`

	DBDriver string `env:"BEACON_DB_DRIVER" envDefault:"pgx"`
	DBDSN    string `env:"BEACON_DB_DSN"`
	// AutoMigrate applies pending schema migrations at startup.
	AutoMigrate bool `env:"BEACON_DB_AUTO_MIGRATE" envDefault:"false"`
	// SeedsDir holds SQL seed files run at startup while no credential exists.
	SeedsDir string `env:"BEACON_DB_SEEDS_DIR"`

	OTelEndpoint string `env:"BEACON_OTEL_ENDPOINT"`
}

// Load parses the process environment and validates the result.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadFrom parses configuration from the given variables instead of the
// process environment.
func LoadFrom(vars map[string]string) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: vars}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if strings.TrimSpace(c.JWTSecret) == "" {
		return errors.New("config: BEACON_JWT_SECRET is required")
	}
	if _, err := crypto.LoadKey(c.EncryptionKey); err != nil {
		return fmt.Errorf("config: BEACON_ENCRYPTION_KEY: %w", err)
	}
	if strings.EqualFold(strings.TrimSpace(c.JWTSecret), strings.TrimSpace(c.EncryptionKey)) {
		return errors.New("config: BEACON_JWT_SECRET must differ from BEACON_ENCRYPTION_KEY")
	}
	if c.AccessTTL <= 0 || c.RefreshTTL <= 0 {
		return errors.New("config: token TTLs must be positive")
	}
	if c.RefreshTTL < c.AccessTTL {
		return errors.New("config: refresh TTL must not be shorter than access TTL")
	}
	if c.LoginWindow <= 0 {
		return errors.New("config: BEACON_LOGIN_WINDOW must be positive")
	}
	if c.LoginMaxAttempts < 1 {
		return errors.New("config: BEACON_LOGIN_MAX_ATTEMPTS must be at least 1")
	}
	if c.HTTPRatePerSec < 1 || c.HTTPRateBurst < 1 {
		return errors.New("config: HTTP rate limit must be positive")
	}
	switch c.DBDriver {
	case "pgx", "sqlite":
	default:
		return fmt.Errorf("config: unsupported BEACON_DB_DRIVER %q", c.DBDriver)
	}
	return nil
}
