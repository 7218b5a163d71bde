package main

import (
	"context"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/clearpix/billing-backend/api/routes"
	"github.com/clearpix/billing-backend/internal/analytics"
	"github.com/clearpix/billing-backend/internal/credits"
	"github.com/clearpix/billing-backend/internal/plans"
	"github.com/clearpix/billing-backend/internal/subscriptions"
	stripewebhook "github.com/clearpix/billing-backend/internal/webhooks/stripe"
	"github.com/clearpix/billing-backend/pkg/config"
	"github.com/clearpix/billing-backend/pkg/db"
	"github.com/clearpix/billing-backend/pkg/logger"
	"github.com/clearpix/billing-backend/pkg/metrics"
	"github.com/clearpix/billing-backend/pkg/migrate"
	"github.com/clearpix/billing-backend/pkg/pubsub"
	"github.com/clearpix/billing-backend/pkg/redis"
	"github.com/clearpix/billing-backend/pkg/stripe"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	stripeClient, err := stripe.NewClient(context.Background(), cfg.Stripe, cfg.Billing, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap stripe client", err)
		os.Exit(1)
	}

	// analytics publishing is optional: without a GCP project the tracker
	// degrades to a no-op
	var tracker analytics.Tracker = analytics.NoopTracker{}
	if cfg.GCP.ProjectID != "" {
		psClient, err := pubsub.NewClient(context.Background(), cfg.GCP, cfg.PubSub, logg)
		if err != nil {
			logg.Error(context.Background(), "failed to bootstrap pubsub", err)
			os.Exit(1)
		}
		defer func() {
			if err := psClient.Close(); err != nil {
				logg.Error(context.Background(), "error closing pubsub", err)
			}
		}()

		if err := psClient.EnsureAnalyticsTopicExists(context.Background()); err != nil {
			logg.Error(context.Background(), "analytics topic check failed", err)
			os.Exit(1)
		}

		tracker, err = analytics.NewTracker(analytics.TrackerParams{
			Publisher: psClient.AnalyticsPublisher(),
			Logger:    logg,
		})
		if err != nil {
			logg.Error(context.Background(), "failed to create analytics tracker", err)
			os.Exit(1)
		}
	} else {
		logg.Warn(context.Background(), "no gcp project configured, analytics events will be dropped")
	}

	catalog := plans.Default()

	creditsService, err := credits.NewService(credits.ServiceParams{
		Repo:   credits.NewRepository(dbClient.DB()),
		Logger: logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create credits service", err)
		os.Exit(1)
	}

	reconciler, err := subscriptions.NewReconciler(subscriptions.ReconcilerParams{
		Repo:                subscriptions.NewRepository(dbClient.DB()),
		Credits:             creditsService,
		Catalog:             catalog,
		StripeClient:        subscriptions.NewStripeClient(stripeClient),
		Tracker:             tracker,
		TransactionRunner:   dbClient,
		Logger:              logg,
		Billing:             cfg.Billing,
		StrictProfileLookup: stripeClient.IsLive(),
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create subscription reconciler", err)
		os.Exit(1)
	}

	webhookService, err := stripewebhook.NewService(stripewebhook.ServiceParams{
		Reconciler: reconciler,
		Logger:     logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create webhook service", err)
		os.Exit(1)
	}

	eventLedger, err := stripewebhook.NewEventLedger(dbClient.DB())
	if err != nil {
		logg.Error(context.Background(), "failed to create event ledger", err)
		os.Exit(1)
	}

	webhookGuard, err := stripewebhook.NewIdempotencyGuard(redisClient, cfg.Billing.WebhookDedupTTL, "stripe")
	if err != nil {
		logg.Error(context.Background(), "failed to create idempotency guard", err)
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	webhookMetrics := metrics.NewWebhookMetrics(registry)

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	id := os.Getenv("DYNO")
	if id == "" {
		id = "local"
	}
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":      cfg.App.Env,
		"addr":     addr,
		"instance": id,
		"stripe":   stripeClient.Environment(),
	})
	logg.Info(ctx, "starting billing api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(
			cfg,
			logg,
			dbClient,
			redisClient,
			stripeClient,
			webhookService,
			webhookGuard,
			eventLedger,
			webhookMetrics,
			registry,
		),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}
