// Package config loads promptr configuration from the process environment.
//
// A `.env` file in the working directory is read once (if present) through
// github.com/joho/godotenv, then each configuration struct is populated with
// github.com/caarlos0/env/v11 using its `env` / `envDefault` field tags.
// Parsed structs are cached per type, so every component asking for the same
// config type observes the same values for the lifetime of the process.
//
// A config type may implement Validator; Load calls Validate after parsing
// and refuses to cache a config that fails it:
//
//	type BillingConfig struct {
//		WebhookSecret        string `env:"STRIPE_WEBHOOK_SECRET"`
//		VerificationRequired bool   `env:"WEBHOOK_VERIFICATION_REQUIRED" envDefault:"true"`
//	}
//
//	func (c BillingConfig) Validate() error {
//		if c.VerificationRequired && c.WebhookSecret == "" {
//			return errors.New("webhook secret is required")
//		}
//		return nil
//	}
//
//	var cfg BillingConfig
//	if err := config.Load(&cfg); err != nil {
//		return err
//	}
package config
