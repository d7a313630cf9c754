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

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/example/order-saga/internal/domain"
	"github.com/example/order-saga/internal/messaging"
	"github.com/example/order-saga/internal/notifications"
	"github.com/example/order-saga/internal/telemetry"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	shutdownTracer, err := telemetry.InitTracerProvider(ctx, "notifications", "0.1.0")
	if err != nil {
		logger.Error("failed to initialize tracer", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTracer(context.Background()) }()

	metricsHandler, shutdownMeter, err := telemetry.InitMeterProvider("notifications", "0.1.0")
	if err != nil {
		logger.Error("failed to initialize metrics", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownMeter(context.Background()) }()

	kafkaBrokers := os.Getenv("KAFKA_BROKERS")
	if kafkaBrokers == "" {
		logger.Error("KAFKA_BROKERS environment variable is required")
		os.Exit(1)
	}
	brokers := strings.Split(kafkaBrokers, ",")

	log := notifications.NewLog()
	dispatcher := notifications.NewDispatcher(log, logger)
	handler := notifications.NewHandler(log, dispatcher, logger)

	// order.confirmed and order.completed are subscribed as extension
	// points; nothing publishes them yet.
	topics := []domain.EventType{
		domain.EventOrderConfirmed,
		domain.EventOrderCompleted,
		domain.EventOrderCancelled,
		domain.EventPaymentProcessed,
		domain.EventPaymentFailed,
	}

	consumerErrs := make(chan error, len(topics))
	for _, topic := range topics {
		consumer := messaging.NewConsumer(brokers, topic.RoutingKey(), "notification-service")
		go func() {
			defer func() { _ = consumer.Close() }()
			if err := consumer.Consume(ctx, dispatcher.HandleEvent); err != nil {
				consumerErrs <- err
			}
		}()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /notifications", telemetry.WithHTTPRoute(handler.HandleList))
	mux.HandleFunc("POST /notifications", telemetry.WithHTTPRoute(handler.HandleSend))
	mux.Handle("GET /metrics", metricsHandler)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"healthy","service":"notifications"}`))
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8084"
	}

	server := &http.Server{
		Addr:         ":" + port,
		Handler:      otelhttp.NewHandler(mux, "notifications"),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("starting notification service", "port", port, "brokers", brokers)
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
