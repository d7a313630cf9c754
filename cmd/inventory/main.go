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

	"github.com/example/order-saga/internal/domain"
	"github.com/example/order-saga/internal/inventory"
	"github.com/example/order-saga/internal/messaging"
	"github.com/example/order-saga/internal/telemetry"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	shutdownTracer, err := telemetry.InitTracerProvider(ctx, "inventory", "0.1.0")
	if err != nil {
		logger.Error("failed to initialize tracer", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTracer(context.Background()) }()

	metricsHandler, shutdownMeter, err := telemetry.InitMeterProvider("inventory", "0.1.0")
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

	if _, err := db.Exec("SET search_path TO inventory"); err != nil {
		logger.Error("failed to set search_path", "error", err)
		os.Exit(1)
	}

	bus := messaging.NewBus(brokers)
	defer func() { _ = bus.Close() }()

	repo := inventory.NewInventoryRepository(db)
	engine := inventory.NewEngine(repo, bus, logger)
	handler := inventory.NewHandler(repo, logger)

	consumerErrs := make(chan error, 2)
	consume := func(topic string, h messaging.Handler) {
		consumer := messaging.NewConsumer(brokers, topic, "inventory-service")
		go func() {
			defer func() { _ = consumer.Close() }()
			if err := consumer.Consume(ctx, h); err != nil {
				consumerErrs <- err
			}
		}()
	}

	consume(domain.EventOrderCreated.RoutingKey(), engine.HandleOrderCreated)
	consume(domain.EventPaymentFailed.RoutingKey(), engine.HandlePaymentFailed)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /inventory", telemetry.WithHTTPRoute(handler.HandleList))
	mux.HandleFunc("POST /inventory", telemetry.WithHTTPRoute(handler.HandleCreate))
	mux.HandleFunc("GET /inventory/{productId}", telemetry.WithHTTPRoute(handler.HandleGet))
	mux.HandleFunc("PUT /inventory/{productId}", telemetry.WithHTTPRoute(handler.HandleUpdate))
	mux.Handle("GET /metrics", metricsHandler)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"healthy","service":"inventory"}`))
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8082"
	}

	server := &http.Server{
		Addr:         ":" + port,
		Handler:      otelhttp.NewHandler(mux, "inventory"),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("starting inventory service", "port", port)
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
