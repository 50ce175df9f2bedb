package main

import (
	"errors"
	"log/slog"
	"time"

	"github.com/promptr-app/promptr/pkg/config"
	"github.com/promptr-app/promptr/pkg/jwt"
	"github.com/promptr-app/promptr/pkg/logger"
	"github.com/promptr-app/promptr/pkg/requestid"
)

type appConfig struct {
	Env      string `env:"APP_ENV" envDefault:"development"`
	Name     string `env:"APP_NAME" envDefault:"promptr"`
	LogLevel string `env:"LOG_LEVEL"`
}

type authConfig struct {
	JWTSecret string        `env:"JWT_SECRET,required"`
	Issuer    string        `env:"JWT_ISSUER" envDefault:"promptr"`
	TokenTTL  time.Duration `env:"JWT_TTL" envDefault:"720h"`
}

// load parses every config section into the given pointers, reporting all
// failures at once.
func load(targets ...func() error) error {
	var errs []error
	for _, t := range targets {
		errs = append(errs, t())
	}
	return errors.Join(errs...)
}

func section[T any](v *T) func() error {
	return func() error { return config.Load(v) }
}

func newLogger(app appConfig) *slog.Logger {
	opts := []logger.Option{
		logger.WithEnvironment(app.Env, app.Name),
		logger.WithContextExtractors(requestid.LoggerExtractor(), jwt.LoggerExtractor()),
	}
	if app.LogLevel != "" {
		opts = append(opts, logger.WithLevelName(app.LogLevel))
	}
	return logger.New(opts...)
}

func newAuth(cfg authConfig) (*jwt.Service, error) {
	return jwt.NewFromString(cfg.JWTSecret, cfg.Issuer)
}
