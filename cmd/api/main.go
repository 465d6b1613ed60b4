package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hubbridge/hubbridge-backend/api/routes"
	"github.com/hubbridge/hubbridge-backend/internal/checkout"
	"github.com/hubbridge/hubbridge-backend/internal/deals"
	"github.com/hubbridge/hubbridge-backend/internal/directory"
	"github.com/hubbridge/hubbridge-backend/internal/documents"
	"github.com/hubbridge/hubbridge-backend/internal/hubdbledger"
	"github.com/hubbridge/hubbridge-backend/internal/invoices"
	"github.com/hubbridge/hubbridge-backend/internal/numbering"
	"github.com/hubbridge/hubbridge-backend/internal/tenants"
	stripewebhook "github.com/hubbridge/hubbridge-backend/internal/webhooks/stripe"
	"github.com/hubbridge/hubbridge-backend/pkg/config"
	"github.com/hubbridge/hubbridge-backend/pkg/db"
	"github.com/hubbridge/hubbridge-backend/pkg/hubspot"
	"github.com/hubbridge/hubbridge-backend/pkg/logger"
	"github.com/hubbridge/hubbridge-backend/pkg/metrics"
	"github.com/hubbridge/hubbridge-backend/pkg/migrate"
	"github.com/hubbridge/hubbridge-backend/pkg/pubsub"
	"github.com/hubbridge/hubbridge-backend/pkg/redis"
	pkgstripe "github.com/hubbridge/hubbridge-backend/pkg/stripe"
)

const shutdownGrace = 15 * time.Second

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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		logg.Error(ctx, "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	stripeClient, err := pkgstripe.NewClient(ctx, cfg.Stripe, logg)
	if err != nil {
		logg.Error(ctx, "failed to initialize stripe", err)
		os.Exit(1)
	}

	hubspotClient, err := hubspot.NewClient(cfg.HubSpot)
	if err != nil {
		logg.Error(ctx, "failed to initialize hubspot", err)
		os.Exit(1)
	}

	pubsubClient, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
	if err != nil {
		logg.Error(ctx, "failed to initialize pubsub", err)
		os.Exit(1)
	}
	defer func() {
		if err := pubsubClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing pubsub", err)
		}
	}()

	registry := prometheus.NewRegistry()
	webhookMetrics := metrics.NewWebhookMetrics(registry)

	tenantService, err := tenants.NewService(tenants.NewRepository(dbClient.DB()), hubspotClient, logg)
	if err != nil {
		logg.Error(ctx, "failed to create tenant service", err)
		os.Exit(1)
	}
	directoryService, err := directory.NewService(hubspotClient, cfg.HubSpot, logg)
	if err != nil {
		logg.Error(ctx, "failed to create directory service", err)
		os.Exit(1)
	}
	numberingService, err := numbering.NewService(hubspotClient, redisClient, cfg.Numbering, cfg.HubSpot, logg)
	if err != nil {
		logg.Error(ctx, "failed to create numbering service", err)
		os.Exit(1)
	}
	dealService, err := deals.NewService(hubspotClient, cfg.HubSpot, logg)
	if err != nil {
		logg.Error(ctx, "failed to create deal service", err)
		os.Exit(1)
	}
	ledgerService, err := hubdbledger.NewService(hubspotClient, cfg.HubSpot, logg)
	if err != nil {
		logg.Error(ctx, "failed to create ledger service", err)
		os.Exit(1)
	}
	invoiceService, err := invoices.NewService(hubspotClient, documents.NewPDFGenerator(), cfg.HubSpot, logg)
	if err != nil {
		logg.Error(ctx, "failed to create invoice service", err)
		os.Exit(1)
	}

	webhookService, err := stripewebhook.NewService(stripewebhook.ServiceParams{
		Tenants:    tenantService,
		Directory:  directoryService,
		Numbering:  numberingService,
		Deals:      dealService,
		Ledger:     ledgerService,
		Invoices:   invoiceService,
		Stripe:     stripewebhook.NewStripeBackend(stripeClient),
		DeadLetter: pubsubClient,
		Metrics:    webhookMetrics,
		HubSpot:    cfg.HubSpot,
		Seller:     cfg.Seller,
		Logger:     logg,
	})
	if err != nil {
		logg.Error(ctx, "failed to create webhook service", err)
		os.Exit(1)
	}

	webhookGuard, err := stripewebhook.NewIdempotencyGuard(redisClient, cfg.Stripe.EventIdempotencyTTL, stripewebhook.GuardScope)
	if err != nil {
		logg.Error(ctx, "failed to create idempotency guard", err)
		os.Exit(1)
	}

	checkoutService, err := checkout.NewService(checkout.NewStripeGateway(stripeClient), logg)
	if err != nil {
		logg.Error(ctx, "failed to create checkout service", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	logCtx := logg.WithFields(ctx, map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(logCtx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(routes.RouterParams{
			Config:         cfg,
			Logger:         logg,
			DB:             dbClient,
			Redis:          redisClient,
			Registry:       registry,
			Checkout:       checkoutService,
			Tenants:        tenantService,
			StripeClient:   stripeClient,
			WebhookService: webhookService,
			WebhookGuard:   webhookGuard,
			WebhookMetrics: webhookMetrics,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(logCtx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		logg.Info(logCtx, "shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(logCtx, "graceful shutdown failed", err)
		}
	}
}
