package app

import (
	"io/fs"
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/xenking/cravekart/internal/domain/pricing"
)

// Config holds the complete application configuration, loadable from
// environment variables (CRAVEKART_ prefix), a .env file, flags, or YAML
// config files.
type Config struct {
	Addr        string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL string `usage:"PostgreSQL connection URL (CRAVEKART_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	Development bool   `default:"false" usage:"Attach internal error details to 5xx responses"`
	Pricing     PricingConfig
	Payment     PaymentConfig
	Breaker     BreakerConfig
	Sweep       SweepConfig
	Session     SessionConfig
	Redis       RedisConfig
	AMQP        AMQPConfig
	RateLimit   RateLimitConfig
	CORS        CORSConfig
	Graceful    GracefulConfig
}

// PricingConfig holds the checkout pricing constants as decimal strings.
type PricingConfig struct {
	DiscountThreshold string `default:"200"   usage:"Subtotal from which the bulk discount applies"`
	DiscountRate      string `default:"0.25"  usage:"Bulk discount rate"`
	TaxRate           string `default:"0.08"  usage:"Tax rate applied after discounts"`
	DeliveryFee       string `default:"49.99" usage:"Flat delivery fee"`
	Tolerance         string `default:"0.01"  usage:"Accepted difference between submitted and computed totals"`
}

// PaymentConfig selects and configures the payment provider.
type PaymentConfig struct {
	Provider        string        `default:"mock" usage:"Payment provider: stripe or mock"`
	StripeSecretKey string        `usage:"Stripe secret API key" flag:"stripe-secret-key"`
	WebhookSecret   string        `usage:"Webhook signing secret" flag:"webhook-secret"`
	BaseURL         string        `default:"https://api.stripe.com" usage:"Stripe API base URL"`
	Currency        string        `default:"inr" usage:"Default payment currency"`
	Timeout         time.Duration `default:"10s" usage:"Timeout of one provider call"`
	Retries         uint64        `default:"3" usage:"Retries of a failed provider call"`
	MockAutoSucceed bool          `default:"true" usage:"Mock provider reports intents as succeeded"`
}

// BreakerConfig tunes the payment provider circuit breaker.
type BreakerConfig struct {
	MaxRequests  uint32        `default:"3"   usage:"Probe requests while half-open"`
	Interval     time.Duration `default:"15s" usage:"Closed state counter reset period"`
	Timeout      time.Duration `default:"30s" usage:"Open state duration"`
	MinRequests  uint32        `default:"3"   usage:"Requests before the failure ratio is evaluated"`
	FailureRatio float64       `default:"0.6" usage:"Failure ratio that trips the breaker"`
}

// SweepConfig controls reconciliation of orders that were never paid.
type SweepConfig struct {
	Interval    time.Duration `default:"1m"  usage:"Sweep period"`
	PendingTTL  time.Duration `default:"30m" usage:"Age after which an unpaid order is reconciled" flag:"pending-ttl"`
	Batch       int           `default:"100" usage:"Orders checked per sweep"`
	Concurrency int           `default:"4"   usage:"Orders reconciled in parallel"`
}

// SessionConfig selects the checkout session store.
type SessionConfig struct {
	Store string        `default:"memory" usage:"Checkout session store: redis or memory"`
	TTL   time.Duration `default:"24h" usage:"Idle checkout session lifetime"`
}

// RedisConfig configures the Redis connection.
type RedisConfig struct {
	URL string `usage:"Redis URL (CRAVEKART_REDIS_URL or REDIS_URL)" flag:"redis-url"`
}

// AMQPConfig configures event publishing. Events are dropped when URL is empty.
type AMQPConfig struct {
	URL      string `usage:"RabbitMQ URL" flag:"amqp-url"`
	Exchange string `default:"cravekart.events" usage:"Topic exchange receiving domain events"`
}

// RateLimitConfig controls the per-client sliding window rate limiter.
type RateLimitConfig struct {
	Max         int           `default:"100" usage:"Max requests per window"`
	MutationMax int           `default:"20"  usage:"Max order, checkout and payment writes per window"`
	Window      time.Duration `default:"1m"  usage:"Rate limit window duration"`
	TrustProxy  bool          `default:"false" usage:"Key clients by X-Forwarded-For"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads .env, then configuration from environment variables,
// YAML config files and flags, and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, errors.Wrap(err, "load .env")
	}

	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "CRAVEKART",
		Files:     []string{"config.yaml", "/etc/cravekart/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's CRAVEKART_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		c.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if c.Redis.URL == "" {
		c.Redis.URL = os.Getenv("REDIS_URL")
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}

func (c *Config) validate() error {
	if c.DatabaseURL == "" {
		return errors.New("database URL is required: set CRAVEKART_DATABASE_URL or DATABASE_URL")
	}
	switch c.Payment.Provider {
	case "mock":
	case "stripe":
		if c.Payment.StripeSecretKey == "" {
			return errors.New("stripe provider requires CRAVEKART_PAYMENT_STRIPE_SECRET_KEY")
		}
	default:
		return errors.Errorf("unknown payment provider %q", c.Payment.Provider)
	}
	switch c.Session.Store {
	case "memory":
	case "redis":
		if c.Redis.URL == "" {
			return errors.New("redis session store requires CRAVEKART_REDIS_URL or REDIS_URL")
		}
	default:
		return errors.Errorf("unknown session store %q", c.Session.Store)
	}
	if _, err := c.Pricing.Config(); err != nil {
		return err
	}
	return nil
}

// Config parses the pricing constants.
func (p PricingConfig) Config() (pricing.Config, error) {
	var (
		cfg pricing.Config
		err error
	)
	fields := []struct {
		name string
		raw  string
		dst  *decimal.Decimal
	}{
		{"discount threshold", p.DiscountThreshold, &cfg.DiscountThreshold},
		{"discount rate", p.DiscountRate, &cfg.DiscountRate},
		{"tax rate", p.TaxRate, &cfg.TaxRate},
		{"delivery fee", p.DeliveryFee, &cfg.DeliveryFee},
		{"tolerance", p.Tolerance, &cfg.Tolerance},
	}
	for _, f := range fields {
		if *f.dst, err = decimal.NewFromString(f.raw); err != nil {
			return pricing.Config{}, errors.Wrapf(err, "parse pricing %s", f.name)
		}
		if f.dst.IsNegative() {
			return pricing.Config{}, errors.Errorf("pricing %s must not be negative", f.name)
		}
	}
	return cfg, nil
}
