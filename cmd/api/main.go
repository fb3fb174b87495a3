package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"

	"github.com/offroad-parts/checkout/internal/checkout"
	"github.com/offroad-parts/checkout/internal/config"
	"github.com/offroad-parts/checkout/internal/messaging"
	"github.com/offroad-parts/checkout/internal/orders"
	"github.com/offroad-parts/checkout/internal/payment/paypal"
	"github.com/offroad-parts/checkout/internal/payment/stripe"
	"github.com/offroad-parts/checkout/internal/telemetry"
	"github.com/offroad-parts/checkout/internal/webhooks"
)

const (
	serviceName    = "checkout-api"
	serviceVersion = "0.1.0"
)

func main() {
	ctx := context.Background()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if cfg.PostgresURL == "" {
		logger.Error("POSTGRES_URL is required")
		os.Exit(1)
	}

	shutdownTracer, err := telemetry.InitTracerProvider(ctx, cfg.OTLPEndpoint, serviceName, serviceVersion)
	if err != nil {
		logger.Error("failed to initialize tracer", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTracer(ctx) }()

	metricsHandler, shutdownMeter, err := telemetry.InitMeterProvider(serviceName, serviceVersion)
	if err != nil {
		logger.Error("failed to initialize metrics", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownMeter(ctx) }()

	metrics, err := telemetry.NewCheckoutMetrics(otel.Meter("checkout"))
	if err != nil {
		logger.Error("failed to create instruments", "error", err)
		os.Exit(1)
	}

	db, err := telemetry.OpenDB(cfg.PostgresURL, cfg.DBSchema)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	if err := db.PingContext(ctx); err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	var publisher orders.EventPublisher
	if len(cfg.KafkaBrokers) > 0 {
		p := messaging.NewPublisher(cfg.KafkaBrokers)
		defer func() { _ = p.Close() }()
		publisher = p
	} else {
		logger.Warn("KAFKA_BROKERS not set, order events will not be published")
	}

	httpClient := &http.Client{
		Timeout:   cfg.ProviderTimeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}

	stripeClient := stripe.NewClient(cfg.Stripe, httpClient, cfg.ProviderTimeout, metrics, logger)
	paypalClient := paypal.NewClient(cfg.PayPal, httpClient, cfg.ProviderTimeout, metrics, logger)
	if cfg.Stripe.SecretKey == "" {
		logger.Warn("STRIPE_SECRET_KEY not set, card checkout is disabled")
	}
	if cfg.Stripe.WebhookSecret == "" {
		logger.Warn("STRIPE_WEBHOOK_SECRET not set, webhooks will be rejected")
	}

	orderService := orders.NewService(orders.NewOrderRepository(db), publisher, metrics, logger, cfg.StatusPolicy)
	orderHandler := orders.NewHandler(orderService, logger)

	processor := webhooks.NewProcessor(stripeClient, stripeClient, orderService, webhooks.NewEventRepository(db), metrics, logger)
	webhookHandler := webhooks.NewHandler(processor, logger)

	checkoutHandler := checkout.NewHandler(checkout.NewService(stripeClient, paypalClient, orderService, logger), logger)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /checkout/stripe/sessions", telemetry.WithHTTPRoute(checkoutHandler.HandleCreateStripeSession))
	mux.HandleFunc("POST /checkout/stripe/verify", telemetry.WithHTTPRoute(checkoutHandler.HandleVerify))
	mux.HandleFunc("POST /checkout/stripe/confirm", telemetry.WithHTTPRoute(checkoutHandler.HandleConfirm))
	mux.HandleFunc("POST /checkout/paypal/orders", telemetry.WithHTTPRoute(checkoutHandler.HandleCreatePayPalOrder))
	mux.HandleFunc("POST /checkout/paypal/orders/{id}/capture", telemetry.WithHTTPRoute(checkoutHandler.HandleCapturePayPalOrder))
	mux.HandleFunc("POST /webhooks/stripe", telemetry.WithHTTPRoute(webhookHandler.HandleStripe))
	mux.HandleFunc("GET /orders", telemetry.WithHTTPRoute(orderHandler.HandleList))
	mux.HandleFunc("GET /orders/{id}", telemetry.WithHTTPRoute(orderHandler.HandleGet))
	mux.HandleFunc("PATCH /orders/{id}/status", telemetry.WithHTTPRoute(orderHandler.HandleUpdateStatus))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := db.PingContext(r.Context()); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	mux.Handle("GET /metrics", metricsHandler)

	server := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: checkout.CORS(cfg.AllowedOrigin, otelhttp.NewHandler(mux, serviceName,
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				if r.Pattern != "" {
					return r.Pattern
				}
				return r.Method + " " + r.URL.Path
			}),
		)),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.ProviderTimeout + 5*time.Second,
	}

	go func() {
		logger.Info("starting checkout api", "addr", cfg.HTTPAddr, "status_policy", cfg.StatusPolicy,
			"paypal_sandbox", paypalClient.Sandbox())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}
}
