package billing

import (
	"fmt"
	"strings"
	"time"
)

const (
	ProviderStripe = "stripe"
	ProviderPaddle = "paddle"
)

// Config holds provider-neutral billing settings.
type Config struct {
	Provider string `env:"BILLING_PROVIDER" envDefault:"stripe"`
	AppURL   string `env:"APP_URL" envDefault:"http://localhost:3000"`
	// FreePromptOptimizations is the quota granted to every new user.
	FreePromptOptimizations int `env:"FREE_PROMPT_OPTIMIZATIONS" envDefault:"5"`
	// VerifyWebhooks rejects unsigned webhooks. Turning it off is only
	// honored while no webhook secret is configured.
	VerifyWebhooks bool          `env:"WEBHOOK_VERIFICATION_REQUIRED" envDefault:"true"`
	EventTTL       time.Duration `env:"WEBHOOK_EVENT_TTL" envDefault:"72h"`
	EventLockTTL   time.Duration `env:"WEBHOOK_EVENT_LOCK_TTL" envDefault:"2m"`
}

// Validate implements config.Validator.
func (c Config) Validate() error {
	switch strings.ToLower(c.Provider) {
	case ProviderStripe, ProviderPaddle:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownProvider, c.Provider)
	}
	if c.FreePromptOptimizations < 0 {
		return fmt.Errorf("FREE_PROMPT_OPTIMIZATIONS must not be negative, got %d", c.FreePromptOptimizations)
	}
	if c.AppURL == "" {
		return fmt.Errorf("APP_URL is required")
	}
	return nil
}

// BaseURL is AppURL without a trailing slash.
func (c Config) BaseURL() string {
	return strings.TrimRight(c.AppURL, "/")
}

// StripeConfig holds Stripe credentials.
type StripeConfig struct {
	SecretKey     string `env:"STRIPE_SECRET_KEY"`
	WebhookSecret string `env:"STRIPE_WEBHOOK_SECRET"`
}

// PaddleConfig holds Paddle credentials. Prices maps lookup keys to Paddle
// price ids, e.g. "monthly:pri_01h...,yearly:pri_01j...".
type PaddleConfig struct {
	APIKey        string            `env:"PADDLE_API_KEY"`
	WebhookSecret string            `env:"PADDLE_WEBHOOK_SECRET"`
	Environment   string            `env:"PADDLE_ENVIRONMENT" envDefault:"production"`
	Prices        map[string]string `env:"PADDLE_PRICES" envSeparator:"," envKeyValSeparator:":"`
}

// NewProvider builds the provider selected by cfg.Provider. With webhook
// verification required a missing secret is a startup error.
func NewProvider(cfg Config, stripeCfg StripeConfig, paddleCfg PaddleConfig) (Provider, error) {
	switch strings.ToLower(cfg.Provider) {
	case ProviderStripe:
		if cfg.VerifyWebhooks && stripeCfg.WebhookSecret == "" {
			return nil, fmt.Errorf("%w: STRIPE_WEBHOOK_SECRET", ErrMissingWebhookSecret)
		}
		return NewStripeProvider(stripeCfg)
	case ProviderPaddle:
		if cfg.VerifyWebhooks && paddleCfg.WebhookSecret == "" {
			return nil, fmt.Errorf("%w: PADDLE_WEBHOOK_SECRET", ErrMissingWebhookSecret)
		}
		return NewPaddleProvider(paddleCfg)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, cfg.Provider)
	}
}
