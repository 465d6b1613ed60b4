package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hubbridge/hubbridge-backend/api/controllers"
	checkoutcontrollers "github.com/hubbridge/hubbridge-backend/api/controllers/checkout"
	webhookcontrollers "github.com/hubbridge/hubbridge-backend/api/controllers/webhooks"
	"github.com/hubbridge/hubbridge-backend/api/middleware"
	checkoutsvc "github.com/hubbridge/hubbridge-backend/internal/checkout"
	"github.com/hubbridge/hubbridge-backend/internal/tenants"
	stripewebhook "github.com/hubbridge/hubbridge-backend/internal/webhooks/stripe"
	"github.com/hubbridge/hubbridge-backend/pkg/config"
	"github.com/hubbridge/hubbridge-backend/pkg/logger"
	"github.com/hubbridge/hubbridge-backend/pkg/metrics"
	"github.com/hubbridge/hubbridge-backend/pkg/stripe"
)

// RouterParams bundles everything the HTTP surface needs.
type RouterParams struct {
	Config   *config.Config
	Logger   *logger.Logger
	DB       controllers.Pinger
	Redis    controllers.Pinger
	Registry *prometheus.Registry

	Checkout       checkoutsvc.Service
	Tenants        tenants.Service
	StripeClient   *stripe.Client
	WebhookService *stripewebhook.Service
	WebhookGuard   *stripewebhook.IdempotencyGuard
	WebhookMetrics *metrics.WebhookMetrics
}

func NewRouter(p RouterParams) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(p.Logger),
		middleware.RequestID(p.Logger),
		middleware.Logging(p.Logger),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(p.Config))
		r.Get("/ready", controllers.HealthReady(p.Config, p.Logger, p.DB, p.Redis))
	})

	if p.Registry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(p.Registry, promhttp.HandlerOpts{}))
	}

	// HubSpot sends the installing admin here after they approve the app.
	r.Get("/install/callback", controllers.InstallCallback(p.Tenants, p.Logger))

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/stripe", webhookcontrollers.StripeWebhook(p.WebhookService, p.StripeClient, p.WebhookGuard, p.WebhookMetrics, p.Logger))
	})

	r.Route("/api/v1/checkout", func(r chi.Router) {
		r.Use(middleware.CORS())
		r.Post("/setup-intent", checkoutcontrollers.SetupIntent(p.Checkout, p.Logger))
		r.Post("/trial", checkoutcontrollers.Trial(p.Checkout, p.Logger))
		r.Post("/subscription", checkoutcontrollers.Subscription(p.Checkout, p.Logger))
		r.Post("/payment-intent", checkoutcontrollers.PaymentIntent(p.Checkout, p.Logger))
	})

	return r
}
