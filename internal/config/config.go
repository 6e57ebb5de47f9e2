package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	AppEnv        string `env:"APP_ENV" envDefault:"development"`
	Port          string `env:"PORT" envDefault:"8080"`
	LogLevel      string `env:"LOG_LEVEL" envDefault:"info"`
	DatabaseURL   string `env:"DATABASE_URL,required,notEmpty"`
	RunMigrations bool   `env:"RUN_MIGRATIONS_ON_STARTUP" envDefault:"false"`
	SentryDSN     string `env:"SENTRY_DSN"`
	CronSecret    string `env:"CRON_SECRET"`
	CleanupBatch  int    `env:"CLEANUP_BATCH_SIZE" envDefault:"500"`
	CORSOrigin    string `env:"CORS_ORIGIN" envDefault:"*"`

	DB       DBConfig       `envPrefix:"DB_"`
	JWT      JWTConfig      `envPrefix:"JWT_"`
	WebAuthn WebAuthnConfig `envPrefix:"WEBAUTHN_"`
	S3       S3Config       `envPrefix:"S3_"`
}

type DBConfig struct {
	MaxOpenConns    int           `env:"MAX_OPEN_CONNS" envDefault:"10"`
	MaxIdleConns    int           `env:"MAX_IDLE_CONNS" envDefault:"5"`
	ConnMaxLifetime time.Duration `env:"CONN_MAX_LIFETIME" envDefault:"30m"`
	ConnMaxIdleTime time.Duration `env:"CONN_MAX_IDLE_TIME" envDefault:"10m"`
}

type JWTConfig struct {
	Secret string        `env:"SECRET,required,notEmpty"`
	Expire time.Duration `env:"EXPIRE" envDefault:"168h"`
}

// WebAuthnConfig identifies the relying party to authenticators.
type WebAuthnConfig struct {
	RPName    string   `env:"RP_NAME" envDefault:"NOTTU"`
	RPID      string   `env:"RP_ID" envDefault:"localhost"`
	RPOrigins []string `env:"RP_ORIGINS" envSeparator:"," envDefault:"http://localhost:3000"`
}

// S3Config points at the bucket holding profile photos. Endpoint is only set
// for S3-compatible servers such as MinIO.
type S3Config struct {
	Bucket          string        `env:"BUCKET"`
	Region          string        `env:"REGION" envDefault:"us-east-1"`
	Endpoint        string        `env:"ENDPOINT"`
	AccessKeyID     string        `env:"ACCESS_KEY_ID"`
	SecretAccessKey string        `env:"SECRET_ACCESS_KEY"`
	SessionToken    string        `env:"SESSION_TOKEN"`
	UsePathStyle    bool          `env:"USE_PATH_STYLE" envDefault:"false"`
	PhotoURLTTL     time.Duration `env:"PHOTO_URL_TTL" envDefault:"24h"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	c.JWT.Secret = strings.TrimSpace(c.JWT.Secret)
	if c.JWT.Secret == "" {
		return fmt.Errorf("missing required env: JWT_SECRET")
	}
	if c.JWT.Expire <= 0 {
		return fmt.Errorf("JWT_EXPIRE must be positive")
	}

	c.WebAuthn.RPID = strings.TrimSpace(c.WebAuthn.RPID)
	if c.WebAuthn.RPID == "" {
		return fmt.Errorf("missing required env: WEBAUTHN_RP_ID")
	}
	origins := make([]string, 0, len(c.WebAuthn.RPOrigins))
	for _, origin := range c.WebAuthn.RPOrigins {
		origin = strings.TrimRight(strings.TrimSpace(origin), "/")
		if origin != "" {
			origins = append(origins, origin)
		}
	}
	if len(origins) == 0 {
		return fmt.Errorf("missing required env: WEBAUTHN_RP_ORIGINS")
	}
	c.WebAuthn.RPOrigins = origins

	if c.CleanupBatch <= 0 {
		c.CleanupBatch = 500
	}
	if c.S3.PhotoURLTTL <= 0 {
		c.S3.PhotoURLTTL = 24 * time.Hour
	}
	return nil
}
