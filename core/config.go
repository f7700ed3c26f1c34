package core

import (
	"fmt"
	"strings"
	"time"
)

type ProcessorConfig struct {
	RequeueDelay   time.Duration `koanf:"requeue_delay" mapstructure:"requeue_delay"`
	StateKeyPrefix string        `koanf:"state_key_prefix" mapstructure:"state_key_prefix"`
}

type WebhooksConfig struct {
	UserAgent      string        `koanf:"user_agent" mapstructure:"user_agent"`
	InitialBackoff time.Duration `koanf:"initial_backoff" mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `koanf:"max_backoff" mapstructure:"max_backoff"`
	Concurrency    int           `koanf:"concurrency" mapstructure:"concurrency"`
}

type WorkerConfig struct {
	Queue          string        `koanf:"queue" mapstructure:"queue"`
	Slots          int           `koanf:"slots" mapstructure:"slots"`
	MaxAttempts    int           `koanf:"max_attempts" mapstructure:"max_attempts"`
	BackoffInitial time.Duration `koanf:"backoff_initial" mapstructure:"backoff_initial"`
	BackoffMax     time.Duration `koanf:"backoff_max" mapstructure:"backoff_max"`
}

type HTTPConfig struct {
	Addr          string `koanf:"addr" mapstructure:"addr"`
	AdminUser     string `koanf:"admin_user" mapstructure:"admin_user"`
	AdminPassword string `koanf:"admin_password" mapstructure:"admin_password"`
	Production    bool   `koanf:"production" mapstructure:"production"`
	// StripeWebhookSecret enables Stripe-Signature checks on ingestion.
	StripeWebhookSecret string `koanf:"stripe_webhook_secret" mapstructure:"stripe_webhook_secret"`
}

type StoreConfig struct {
	Driver string `koanf:"driver" mapstructure:"driver"`
	DSN    string `koanf:"dsn" mapstructure:"dsn"`
	Debug  bool   `koanf:"debug" mapstructure:"debug"`
}

type RedisConfig struct {
	Enabled  bool   `koanf:"enabled" mapstructure:"enabled"`
	Addr     string `koanf:"addr" mapstructure:"addr"`
	Password string `koanf:"password" mapstructure:"password"`
	DB       int    `koanf:"db" mapstructure:"db"`
}

type Config struct {
	ServiceName string          `koanf:"service_name" mapstructure:"service_name"`
	Processor   ProcessorConfig `koanf:"processor" mapstructure:"processor"`
	Webhooks    WebhooksConfig  `koanf:"webhooks" mapstructure:"webhooks"`
	Worker      WorkerConfig    `koanf:"worker" mapstructure:"worker"`
	HTTP        HTTPConfig      `koanf:"http" mapstructure:"http"`
	Store       StoreConfig     `koanf:"store" mapstructure:"store"`
	Redis       RedisConfig     `koanf:"redis" mapstructure:"redis"`
}

const (
	DefaultRequeueDelay   = 5 * time.Second
	DefaultStateKeyPrefix = "state:"
	DefaultUserAgent      = "SaaS-Background-Server/1.0"
	DefaultWebhookQueue   = "stripe-webhooks"
)

func DefaultConfig() Config {
	return Config{
		ServiceName: "billing",
		Processor: ProcessorConfig{
			RequeueDelay:   DefaultRequeueDelay,
			StateKeyPrefix: DefaultStateKeyPrefix,
		},
		Webhooks: WebhooksConfig{
			UserAgent:      DefaultUserAgent,
			InitialBackoff: time.Second,
			MaxBackoff:     10 * time.Second,
		},
		Worker: WorkerConfig{
			Queue:          DefaultWebhookQueue,
			Slots:          4,
			MaxAttempts:    3,
			BackoffInitial: time.Second,
			BackoffMax:     time.Minute,
		},
		HTTP: HTTPConfig{
			Addr: ":3001",
		},
		Store: StoreConfig{
			Driver: "sqlite",
			DSN:    "file:billing.db?cache=shared&_foreign_keys=on",
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	if c.Processor.RequeueDelay < 0 {
		return fmt.Errorf("core: processor.requeue_delay must not be negative")
	}
	if c.Webhooks.InitialBackoff < 0 || c.Webhooks.MaxBackoff < 0 {
		return fmt.Errorf("core: webhooks backoff must not be negative")
	}
	if c.Webhooks.Concurrency < 0 {
		return fmt.Errorf("core: webhooks.concurrency must not be negative")
	}
	if c.Worker.Slots < 0 || c.Worker.MaxAttempts < 0 {
		return fmt.Errorf("core: worker slots and max_attempts must not be negative")
	}
	switch strings.ToLower(strings.TrimSpace(c.Store.Driver)) {
	case "", "sqlite", "sqlite3", "postgres", "pg":
	default:
		return fmt.Errorf("core: store.driver %q is invalid", c.Store.Driver)
	}
	if c.HTTP.Production {
		if strings.TrimSpace(c.HTTP.AdminUser) == "" || strings.TrimSpace(c.HTTP.AdminPassword) == "" {
			return fmt.Errorf("core: http admin credentials are required in production")
		}
	}
	return nil
}
