package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/clearpix/billing-backend/api/controllers"
	webhookcontrollers "github.com/clearpix/billing-backend/api/controllers/webhooks"
	"github.com/clearpix/billing-backend/api/middleware"
	stripewebhook "github.com/clearpix/billing-backend/internal/webhooks/stripe"
	"github.com/clearpix/billing-backend/pkg/config"
	"github.com/clearpix/billing-backend/pkg/db"
	"github.com/clearpix/billing-backend/pkg/logger"
	"github.com/clearpix/billing-backend/pkg/metrics"
	"github.com/clearpix/billing-backend/pkg/redis"
	"github.com/clearpix/billing-backend/pkg/stripe"
)

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	redisP redis.Pinger,
	stripeClient *stripe.Client,
	webhookService *stripewebhook.Service,
	webhookGuard *stripewebhook.IdempotencyGuard,
	eventLedger stripewebhook.EventLedger,
	webhookMetrics *metrics.WebhookMetrics,
	registry *prometheus.Registry,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, dbP, redisP))
	})

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/stripe", webhookcontrollers.StripeWebhook(
			webhookService,
			stripeClient,
			webhookGuard,
			eventLedger,
			webhookMetrics,
			logg,
		))
	})

	if registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	}

	return r
}
