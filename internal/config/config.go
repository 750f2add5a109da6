// Package config loads process configuration from the environment.
package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/quantedge-limited/incontrol-lite-pf-sub000/internal/checkout"
	"github.com/quantedge-limited/incontrol-lite-pf-sub000/internal/payment"
)

// Config is the storefront configuration.
type Config struct {
	HTTPPort        string        `envconfig:"HTTP_PORT" default:"8080"`
	RequestTimeout  time.Duration `envconfig:"REQUEST_TIMEOUT" default:"10s"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
	LogLevel        string        `envconfig:"LOG_LEVEL" default:"info"`

	RedisAddr     string        `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	RedisPassword string        `envconfig:"REDIS_PASSWORD"`
	RedisDB       int           `envconfig:"REDIS_DB" default:"0"`
	CartTTL       time.Duration `envconfig:"CART_TTL" default:"168h"`

	BackendURL      string        `envconfig:"BACKEND_URL" default:"http://localhost:8090"`
	CartSyncEnabled bool          `envconfig:"CART_SYNC_ENABLED" default:"true"`
	CartSyncTimeout time.Duration `envconfig:"CART_SYNC_TIMEOUT" default:"5s"`

	PaymentPollInterval time.Duration `envconfig:"PAYMENT_POLL_INTERVAL" default:"3s"`
	PaymentDeadline     time.Duration `envconfig:"PAYMENT_DEADLINE" default:"120s"`
	PaymentPollTimeout  time.Duration `envconfig:"PAYMENT_POLL_TIMEOUT" default:"5s"`
	PhonePattern        string        `envconfig:"MOBILE_MONEY_PHONE_PATTERN" default:"^(\\+?237)?6[0-9]{8}$"`

	BreakerFailures    uint32        `envconfig:"BREAKER_FAILURES" default:"5"`
	BreakerOpenTimeout time.Duration `envconfig:"BREAKER_OPEN_TIMEOUT" default:"30s"`

	KafkaBrokers []string `envconfig:"KAFKA_BROKERS"`
	KafkaTopic   string   `envconfig:"KAFKA_TOPIC" default:"checkout-completed"`
	KafkaGroupID string   `envconfig:"KAFKA_GROUP_ID"`
}

// Load reads the storefront configuration and validates it.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.PaymentPollInterval <= 0 {
		return fmt.Errorf("PAYMENT_POLL_INTERVAL must be positive")
	}
	if c.PaymentDeadline < c.PaymentPollInterval {
		return fmt.Errorf("PAYMENT_DEADLINE must not be shorter than PAYMENT_POLL_INTERVAL")
	}
	if c.PaymentPollTimeout <= 0 {
		return fmt.Errorf("PAYMENT_POLL_TIMEOUT must be positive")
	}
	if _, err := regexp.Compile(c.PhonePattern); err != nil {
		return fmt.Errorf("MOBILE_MONEY_PHONE_PATTERN is not a valid expression: %w", err)
	}
	if c.BackendURL == "" {
		return fmt.Errorf("BACKEND_URL is required")
	}
	return nil
}

func (c *Config) Payment() payment.Config {
	return payment.Config{
		PollInterval: c.PaymentPollInterval,
		Deadline:     c.PaymentDeadline,
		PollTimeout:  c.PaymentPollTimeout,
	}
}

func (c *Config) Checkout() checkout.Config {
	return checkout.Config{
		Payment:      c.Payment(),
		PhonePattern: c.PhonePattern,
	}
}

// ConsumerGroup is the Kafka group this replica reads checkout events in. It
// must differ per replica, so an unset KAFKA_GROUP_ID derives one from the
// hostname.
func (c *Config) ConsumerGroup() string {
	if c.KafkaGroupID != "" {
		return c.KafkaGroupID
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "local"
	}
	return "storefront-" + host
}

// CheckoutTimeout bounds a checkout request: one order call plus a full
// payment attempt.
func (c *Config) CheckoutTimeout() time.Duration {
	return c.RequestTimeout + c.PaymentDeadline
}

// SandboxConfig configures the local backend stand-in.
type SandboxConfig struct {
	Port         string  `envconfig:"SANDBOX_PORT" default:"8090"`
	PendingPolls int     `envconfig:"SANDBOX_PENDING_POLLS" default:"3"`
	FailureRate  float64 `envconfig:"SANDBOX_FAILURE_RATE" default:"0.05"`
	LogLevel     string  `envconfig:"LOG_LEVEL" default:"info"`
}

func LoadSandbox() (*SandboxConfig, error) {
	var cfg SandboxConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load sandbox config: %w", err)
	}
	if cfg.FailureRate < 0 || cfg.FailureRate > 1 {
		return nil, fmt.Errorf("SANDBOX_FAILURE_RATE must be between 0 and 1")
	}
	if cfg.PendingPolls < 0 {
		return nil, fmt.Errorf("SANDBOX_PENDING_POLLS must not be negative")
	}
	return &cfg, nil
}
