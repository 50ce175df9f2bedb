package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	modbilling "github.com/promptr-app/promptr/modules/billing"
	"github.com/promptr-app/promptr/pkg/httpserver"
	"github.com/promptr-app/promptr/pkg/logger"
	"github.com/promptr-app/promptr/pkg/pg"
	"github.com/promptr-app/promptr/pkg/ratelimiter"
	"github.com/promptr-app/promptr/pkg/redis"
	"github.com/promptr-app/promptr/pkg/requestid"
	"github.com/promptr-app/promptr/svc/billing"
	"github.com/promptr-app/promptr/svc/optimizer"
)

type serveConfig struct {
	// MetricsAddr serves /metrics on its own listener. Empty mounts it on
	// the main router.
	MetricsAddr  string        `env:"METRICS_ADDR" envDefault:":9091"`
	ReadyTimeout time.Duration `env:"READINESS_TIMEOUT" envDefault:"3s"`
	AutoMigrate  bool          `env:"AUTO_MIGRATE" envDefault:"false"`
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runServe(ctx)
	},
}

func runServe(ctx context.Context) error {
	var (
		app       appConfig
		auth      authConfig
		srvCfg    serveConfig
		httpCfg   httpserver.Config
		pgCfg     pg.Config
		redisCfg  redis.Config
		billCfg   billing.Config
		stripeCfg billing.StripeConfig
		paddleCfg billing.PaddleConfig
		optCfg    optimizer.Config
		rlCfg     ratelimiter.Config
	)
	if err := load(
		section(&app), section(&auth), section(&srvCfg), section(&httpCfg),
		section(&pgCfg), section(&redisCfg), section(&billCfg),
		section(&stripeCfg), section(&paddleCfg), section(&optCfg), section(&rlCfg),
	); err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	log := newLogger(app)
	slog.SetDefault(log)
	log.InfoContext(ctx, "starting promptr", slog.String("version", Version), logger.Provider(billCfg.Provider))

	jwtSvc, err := newAuth(auth)
	if err != nil {
		return err
	}
	provider, err := billing.NewProvider(billCfg, stripeCfg, paddleCfg)
	if err != nil {
		return err
	}
	if !billCfg.VerifyWebhooks {
		log.WarnContext(ctx, "webhook signature verification disabled")
	}
	opt, err := optimizer.New(optCfg, optimizer.WithLogger(log))
	if err != nil {
		return err
	}

	pool, err := pg.Connect(ctx, pgCfg)
	if err != nil {
		return err
	}
	defer pool.Close()
	if srvCfg.AutoMigrate {
		if err := pg.Migrate(ctx, pool, pgCfg, billing.Migrations, billing.MigrationsDir, log); err != nil {
			return err
		}
	}

	rdb, err := redis.Connect(ctx, redisCfg)
	if err != nil {
		return err
	}
	defer rdb.Close()

	limiter, err := ratelimiter.New(ratelimiter.NewRedisStore(rdb, "promptr:ratelimit:"), rlCfg)
	if err != nil {
		return err
	}

	store := billing.NewPGStore(pool, billCfg.FreePromptOptimizations)
	module := modbilling.New(modbilling.Deps{
		Store: store,
		Reconciler: billing.NewReconciler(store, provider,
			billing.WithLedger(billing.NewRedisLedger(rdb, "promptr:webhook:", billCfg.EventTTL, billCfg.EventLockTTL)),
			billing.WithReconcilerLogger(log),
		),
		Broker:    billing.NewBroker(store, provider, billCfg.BaseURL(), log),
		Gate:      billing.NewGate(store, log),
		Optimizer: opt,
		Auth:      jwtSvc,
		Limiter:   limiter,
		Logger:    log,
	})

	checks := []httpserver.Check{
		{Name: "postgres", Fn: pg.Healthcheck(pool)},
		{Name: "redis", Fn: redis.Healthcheck(rdb)},
	}
	router := newRouter(module.Routes(), log, srvCfg.ReadyTimeout, srvCfg.MetricsAddr == "", checks...)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return httpserver.NewFromConfig(httpCfg, httpserver.WithLogger(log)).Run(ctx, router)
	})
	if srvCfg.MetricsAddr != "" {
		g.Go(func() error {
			return httpserver.New(
				httpserver.WithAddr(srvCfg.MetricsAddr),
				httpserver.WithLogger(log.With(logger.Component("metrics"))),
			).Run(ctx, promhttp.Handler())
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("promptr stopped")
	return nil
}

// newRouter mounts the API under /api next to the health probes.
func newRouter(api http.Handler, log *slog.Logger, readyTimeout time.Duration, withMetrics bool, checks ...httpserver.Check) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestid.Middleware)

	r.Get("/healthz", httpserver.LivenessHandler())
	r.Get("/readyz", httpserver.ReadinessHandler(log, readyTimeout, checks...))
	if withMetrics {
		r.Handle("/metrics", promhttp.Handler())
	}
	r.Mount("/api", api)
	return r
}
