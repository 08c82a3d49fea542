package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/brightkit/billing/core"
	"github.com/brightkit/billing/pkg/config"
	"github.com/brightkit/billing/pkg/email"
	"github.com/brightkit/billing/pkg/httpserver"
	"github.com/brightkit/billing/pkg/logger"
	mongodb "github.com/brightkit/billing/pkg/mongo"
	redisconn "github.com/brightkit/billing/pkg/redis"
	"github.com/brightkit/billing/pkg/schedule"
	"github.com/brightkit/billing/svc/billing"
	"github.com/brightkit/billing/svc/retention"
)

type appConfig struct {
	Environment     string        `env:"APP_ENV" envDefault:"production"`
	SweepHour       int           `env:"RETENTION_SWEEP_HOUR" envDefault:"4"`
	SweepMinute     int           `env:"RETENTION_SWEEP_MINUTE" envDefault:"0"`
	WebhookDedupTTL time.Duration `env:"WEBHOOK_DEDUP_TTL" envDefault:"24h"`
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var appCfg appConfig
	config.MustLoad(&appCfg)
	var serverCfg httpserver.Config
	config.MustLoad(&serverCfg)
	var mongoCfg mongodb.Config
	config.MustLoad(&mongoCfg)
	var redisCfg redisconn.Config
	config.MustLoad(&redisCfg)
	var emailCfg email.Config
	config.MustLoad(&emailCfg)
	var paddleCfg billing.PaddleConfig
	config.MustLoad(&paddleCfg)

	log := logger.New(logger.WithEnvironment(appCfg.Environment, "billing"))
	logger.SetAsDefault(log)

	mongoClient, err := mongodb.New(ctx, mongoCfg)
	if err != nil {
		log.Error("failed to connect to mongodb", logger.Error(err))
		os.Exit(1)
	}
	defer func() { _ = mongoClient.Disconnect(context.Background()) }()
	db := mongoClient.Database(mongoCfg.Database)

	redisClient, err := redisconn.Connect(ctx, redisCfg)
	if err != nil {
		log.Error("failed to connect to redis", logger.Error(err))
		os.Exit(1)
	}
	defer func() { _ = redisClient.Close() }()

	provider, err := billing.NewPaddleProvider(paddleCfg)
	if err != nil {
		log.Error("failed to create billing provider", logger.Error(err))
		os.Exit(1)
	}

	var mailer email.EmailSender
	if emailCfg.Configured() {
		mailer, err = email.NewPostmarkClient(emailCfg)
		if err != nil {
			log.Error("failed to create email sender", logger.Error(err))
			os.Exit(1)
		}
	} else {
		log.Warn("postmark not configured, logging emails instead")
		mailer = email.NewDevSender(log)
	}

	store := billing.NewMongoStore(db)
	if err := store.EnsureIndexes(ctx); err != nil {
		log.Error("failed to ensure indexes", logger.Error(err))
		os.Exit(1)
	}

	svc := billing.NewService(store, store, store, provider,
		billing.WithLogger(log.With(logger.Component("billing"))),
		billing.WithDedupStore(billing.NewRedisDedup(redisClient, appCfg.WebhookDedupTTL)),
		billing.WithMailer(mailer),
	)

	sweeper := retention.NewSweeper(
		retention.NewMongoStore(mongoClient, db),
		retention.WithLogger(log.With(logger.Component("retention"))),
	)

	runner := schedule.NewRunner("retention-sweep",
		schedule.DailyAt(appCfg.SweepHour, appCfg.SweepMinute),
		func(ctx context.Context) error {
			_, err := sweeper.Run(ctx)
			return err
		},
		schedule.WithLogger(log),
	)
	go func() {
		if err := runner.Start(ctx); err != nil && ctx.Err() == nil {
			log.Error("retention sweep runner stopped", logger.Error(err))
		}
	}()

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Get("/health", httpserver.HealthCheckHandler(ctx, log,
		mongodb.Healthcheck(mongoClient),
		redisconn.Healthcheck(redisClient),
	))
	r.Mount("/billing", billing.NewRouter(svc, log))
	r.Mount("/retention", retention.NewRouter(sweeper, log))
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		core.JSONError(w, core.ErrNotFound)
	})

	srv := httpserver.NewFromConfig(serverCfg, httpserver.WithLogger(log))
	if err := srv.Run(ctx, r); err != nil {
		log.Error("server stopped with error", logger.Error(err))
		os.Exit(1)
	}
	log.Info("server stopped", slog.String("env", appCfg.Environment))
}
