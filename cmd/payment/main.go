package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/example/order-saga/internal/domain"
	"github.com/example/order-saga/internal/messaging"
	"github.com/example/order-saga/internal/payment"
	"github.com/example/order-saga/internal/telemetry"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	shutdownTracer, err := telemetry.InitTracerProvider(ctx, "payment", "0.1.0")
	if err != nil {
		logger.Error("failed to initialize tracer", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTracer(context.Background()) }()

	metricsHandler, shutdownMeter, err := telemetry.InitMeterProvider("payment", "0.1.0")
	if err != nil {
		logger.Error("failed to initialize metrics", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownMeter(context.Background()) }()

	postgresURL := os.Getenv("POSTGRES_URL")
	if postgresURL == "" {
		logger.Error("POSTGRES_URL environment variable is required")
		os.Exit(1)
	}

	kafkaBrokers := os.Getenv("KAFKA_BROKERS")
	if kafkaBrokers == "" {
		logger.Error("KAFKA_BROKERS environment variable is required")
		os.Exit(1)
	}
	brokers := strings.Split(kafkaBrokers, ",")

	successRate := 0.8
	if raw := os.Getenv("CHARGE_SUCCESS_RATE"); raw != "" {
		parsed, err := strconv.ParseFloat(raw, 64)
		if err != nil || parsed < 0 || parsed > 1 {
			logger.Error("CHARGE_SUCCESS_RATE must be a float in [0,1]", "value", raw)
			os.Exit(1)
		}
		successRate = parsed
	}

	db, err := telemetry.OpenDB("postgres", postgresURL)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	if err := db.Ping(); err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	if _, err := db.Exec("SET search_path TO payments"); err != nil {
		logger.Error("failed to set search_path", "error", err)
		os.Exit(1)
	}

	bus := messaging.NewBus(brokers)
	defer func() { _ = bus.Close() }()

	repo := payment.NewPaymentRepository(db)
	gateway := payment.NewSimulatedGateway(successRate)
	processor := payment.NewProcessor(repo, bus, gateway, payment.DefaultRetryPolicy(), logger)
	handler := payment.NewHandler(repo, logger)

	consumerErrs := make(chan error, 1)
	consumer := messaging.NewConsumer(brokers, domain.EventInventoryReserved.RoutingKey(), "payment-service")
	go func() {
		defer func() { _ = consumer.Close() }()
		if err := consumer.Consume(ctx, processor.HandleInventoryReserved); err != nil {
			consumerErrs <- err
		}
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /payments/{id}", telemetry.WithHTTPRoute(handler.HandleGet))
	mux.HandleFunc("GET /payments/order/{orderId}", telemetry.WithHTTPRoute(handler.HandleGetByOrder))
	mux.Handle("GET /metrics", metricsHandler)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"healthy","service":"payment"}`))
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8083"
	}

	server := &http.Server{
		Addr:         ":" + port,
		Handler:      otelhttp.NewHandler(mux, "payment"),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("starting payment service", "port", port, "charge_success_rate", successRate)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		logger.Info("shutting down")
	case err := <-consumerErrs:
		if ctx.Err() == nil {
			logger.Error("consumer error", "error", err)
		}
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}
}
