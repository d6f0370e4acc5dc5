package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/contrib/instrumentation/runtime"

	"github.com/rmaluf/marketplace-recon/internal/admin"
	"github.com/rmaluf/marketplace-recon/internal/affiliates"
	"github.com/rmaluf/marketplace-recon/internal/config"
	"github.com/rmaluf/marketplace-recon/internal/consistency"
	"github.com/rmaluf/marketplace-recon/internal/domain"
	"github.com/rmaluf/marketplace-recon/internal/gateway"
	"github.com/rmaluf/marketplace-recon/internal/messaging"
	"github.com/rmaluf/marketplace-recon/internal/orders"
	"github.com/rmaluf/marketplace-recon/internal/recon"
	"github.com/rmaluf/marketplace-recon/internal/scheduler"
	"github.com/rmaluf/marketplace-recon/internal/sellers"
	"github.com/rmaluf/marketplace-recon/internal/telemetry"
)

func main() {
	ctx := context.Background()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load()
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	shutdownTracer, err := telemetry.InitTracerProvider(ctx, "recond", "0.1.0")
	if err != nil {
		logger.Error("failed to initialize tracer", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTracer(ctx) }()

	metricsHandler, shutdownMeter, err := telemetry.InitMeterProvider("recond", "0.1.0")
	if err != nil {
		logger.Error("failed to initialize meter", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownMeter(ctx) }()

	if err := runtime.Start(); err != nil {
		logger.Error("failed to start runtime instrumentation", "error", err)
		os.Exit(1)
	}

	recorder, err := telemetry.NewRecorder()
	if err != nil {
		logger.Error("failed to create metrics recorder", "error", err)
		os.Exit(1)
	}

	db, err := telemetry.OpenDB("postgres", cfg.PostgresURL)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	if err := db.Ping(); err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	var approvedEvents, deliveredEvents *messaging.Producer
	if cfg.KafkaBrokers != "" {
		brokers := strings.Split(cfg.KafkaBrokers, ",")
		approvedEvents = messaging.NewProducer(brokers, domain.TopicPaymentApproved)
		deliveredEvents = messaging.NewProducer(brokers, domain.TopicOrderDelivered)
		defer func() { _ = approvedEvents.Close() }()
		defer func() { _ = deliveredEvents.Close() }()
	}

	orderRepo := orders.NewOrderRepository(db)
	saleRepo := affiliates.NewSaleRepository(db)
	ledgerRepo := sellers.NewLedgerRepository(db)

	httpClient := &http.Client{
		Timeout:   10 * time.Second,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
	paymentGateway := gateway.NewClient(cfg.GatewayBaseURL, cfg.GatewayAccessToken, httpClient)

	// producers are nil without Kafka; the dispatcher treats that as "no events"
	var approvedPub, deliveredPub recon.EventPublisher
	if approvedEvents != nil {
		approvedPub = approvedEvents
		deliveredPub = deliveredEvents
	}

	dispatcher := recon.NewDispatcher(saleRepo, ledgerRepo, approvedPub, deliveredPub,
		cfg.AffiliateHoldPeriod, cfg.AffiliateCommissionBps, logger)
	reconciler := recon.NewReconciler(orderRepo, dispatcher, logger)
	poller := recon.NewPoller(orderRepo, paymentGateway, reconciler, cfg.PollBatchSize, recorder, logger)

	checker := consistency.NewChecker(orderRepo, saleRepo, ledgerRepo, consistency.Options{
		HoldPeriod:    cfg.AffiliateHoldPeriod,
		CommissionBps: cfg.AffiliateCommissionBps,
		DeliverySLA:   cfg.DeliverySLA,
		Repair:        cfg.SweepRepair,
	}, recorder, logger)

	sched := scheduler.New(scheduler.NewRealClock(), logger)
	if err := sched.Register("payment-poll", cfg.PollInterval, func(ctx context.Context) error {
		_, err := poller.Tick(ctx)
		return err
	}); err != nil {
		logger.Error("failed to register poll job", "error", err)
		os.Exit(1)
	}
	if err := sched.Register("consistency-sweep", cfg.SweepInterval, func(ctx context.Context) error {
		_, err := checker.Run(ctx)
		return err
	}); err != nil {
		logger.Error("failed to register sweep job", "error", err)
		os.Exit(1)
	}

	if err := sched.Start(ctx); err != nil {
		logger.Error("failed to start scheduler", "error", err)
		os.Exit(1)
	}
	defer sched.Stop()

	handler := admin.NewHandler(orderRepo, checker, poller, sched, dispatcher, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /admin/consistency/run", telemetry.WithHTTPRoute(handler.HandleRunSweep))
	mux.HandleFunc("POST /admin/poller/run", telemetry.WithHTTPRoute(handler.HandleRunPoll))
	mux.HandleFunc("GET /admin/scheduler", telemetry.WithHTTPRoute(handler.HandleJobs))
	mux.HandleFunc("GET /admin/orders/{id}", telemetry.WithHTTPRoute(handler.HandleGetOrder))
	mux.HandleFunc("PATCH /admin/orders/{id}/status", telemetry.WithHTTPRoute(handler.HandleOverrideStatus))
	mux.HandleFunc("POST /admin/orders/{id}/fulfillment", telemetry.WithHTTPRoute(handler.HandleFulfillment))
	mux.HandleFunc("GET /healthz", handler.HandleHealthz)
	mux.Handle("GET /metrics", metricsHandler)

	server := &http.Server{
		Addr: ":" + cfg.AdminPort,
		Handler: otelhttp.NewHandler(mux, "recond",
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				if r.Pattern != "" {
					return r.Pattern
				}
				return r.Method + " " + r.URL.Path
			}),
		),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		logger.Info("starting reconciliation daemon",
			"port", cfg.AdminPort,
			"poll_interval", cfg.PollInterval.String(),
			"sweep_interval", cfg.SweepInterval.String(),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}
}
