package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

var ErrInvalid = errors.New("invalid configuration")

// Store backends.
const (
	StoreMemory   = "memory"
	StoreRedis    = "redis"
	StorePostgres = "postgres"
)

// Dispatch providers.
const (
	ProviderSMTP2GO = "smtp2go"
	ProviderResend  = "resend"
	ProviderSMTP    = "smtp"
)

type Config struct {
	// ----------------------------
	// Dispatch
	// ----------------------------
	DispatchProvider   string        `envconfig:"DISPATCH_PROVIDER" default:"smtp2go"`
	DispatchTimeout    time.Duration `envconfig:"DISPATCH_TIMEOUT" default:"30s"`
	DefaultSenderEmail string        `envconfig:"DEFAULT_SENDER_EMAIL"`
	DefaultSenderName  string        `envconfig:"DEFAULT_SENDER_NAME"`

	SMTP2GOAPIURL string `envconfig:"SMTP2GO_API_URL"`
	SMTP2GOAPIKey string `envconfig:"SMTP2GO_API_KEY"`

	ResendAPIKey string `envconfig:"RESEND_API_KEY"`

	SMTPHost     string `envconfig:"SMTP_HOST" default:"localhost"`
	SMTPPort     int    `envconfig:"SMTP_PORT" default:"1025"`
	SMTPUser     string `envconfig:"SMTP_USER" default:""`
	SMTPPassword string `envconfig:"SMTP_PASSWORD" default:""`

	// ----------------------------
	// Campaigns
	// ----------------------------
	MaxRecipients   int `envconfig:"MAX_RECIPIENTS" default:"1000"`
	MinInterval     int `envconfig:"MIN_INTERVAL" default:"1"`
	MaxInterval     int `envconfig:"MAX_INTERVAL" default:"20"`
	DefaultInterval int `envconfig:"DEFAULT_INTERVAL" default:"4"`

	// ----------------------------
	// Workers
	// ----------------------------
	WorkerCount int `envconfig:"WORKER_COUNT" default:"5"`
	RateLimit   int `envconfig:"RATE_LIMIT" default:"10"`

	// ----------------------------
	// HTTP API
	// ----------------------------
	APIPort string `envconfig:"API_PORT" default:"8080"`

	// ----------------------------
	// Metrics
	// ----------------------------
	MetricsPort string `envconfig:"METRICS_PORT" default:"9090"`

	// ----------------------------
	// Storage
	// ----------------------------
	StoreBackend         string        `envconfig:"STORE_BACKEND" default:"postgres"`
	DatabaseURL          string        `envconfig:"DATABASE_URL"`
	RedisURL             string        `envconfig:"REDIS_URL"`
	JobTTL               time.Duration `envconfig:"JOB_TTL" default:"24h"`
	ConnectRetryAttempts int           `envconfig:"CONNECT_RETRY_ATTEMPTS" default:"5"`
}

func Load() (*Config, error) {
	// a missing .env is fine, the environment may already be set
	_ = godotenv.Load(".env")

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.StoreBackend {
	case StoreMemory:
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("%w: DATABASE_URL is required for the postgres store", ErrInvalid)
		}
	case StoreRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("%w: REDIS_URL is required for the redis store", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: unknown STORE_BACKEND %q", ErrInvalid, c.StoreBackend)
	}

	switch c.DispatchProvider {
	case ProviderSMTP2GO, ProviderResend, ProviderSMTP:
	default:
		return fmt.Errorf("%w: unknown DISPATCH_PROVIDER %q", ErrInvalid, c.DispatchProvider)
	}

	if c.WorkerCount < 1 || c.RateLimit < 1 {
		return fmt.Errorf("%w: WORKER_COUNT and RATE_LIMIT must be positive", ErrInvalid)
	}
	if c.MaxRecipients < 1 {
		return fmt.Errorf("%w: MAX_RECIPIENTS must be positive", ErrInvalid)
	}
	if c.MinInterval < 1 || c.MaxInterval < c.MinInterval {
		return fmt.Errorf("%w: interval range %d..%d", ErrInvalid, c.MinInterval, c.MaxInterval)
	}
	if c.DefaultInterval < c.MinInterval || c.DefaultInterval > c.MaxInterval {
		return fmt.Errorf("%w: DEFAULT_INTERVAL outside %d..%d", ErrInvalid, c.MinInterval, c.MaxInterval)
	}

	return nil
}

// Missing lists dispatch settings that are unset. The service still starts
// without them; sends then fail with a transport error.
func (c *Config) Missing() []string {
	var missing []string
	add := func(name, v string) {
		if v == "" {
			missing = append(missing, name)
		}
	}

	switch c.DispatchProvider {
	case ProviderSMTP2GO:
		add("SMTP2GO_API_URL", c.SMTP2GOAPIURL)
		add("SMTP2GO_API_KEY", c.SMTP2GOAPIKey)
	case ProviderResend:
		add("RESEND_API_KEY", c.ResendAPIKey)
	}
	add("DEFAULT_SENDER_EMAIL", c.DefaultSenderEmail)
	add("DEFAULT_SENDER_NAME", c.DefaultSenderName)

	return missing
}

// ClampInterval forces seconds into the configured range.
func (c *Config) ClampInterval(seconds int) int {
	return min(max(seconds, c.MinInterval), c.MaxInterval)
}
