package notifications

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/example/order-saga/internal/domain"
)

// Dispatcher is the terminal, side-effect-only consumer of the saga. It
// formats a message per recognized lifecycle event and appends it to the log.
type Dispatcher struct {
	log    *Log
	logger *slog.Logger
}

func NewDispatcher(log *Log, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		log:    log,
		logger: logger,
	}
}

// HandleEvent records a notification for the delivered event. Event types
// outside the dispatcher's interest are ignored, not errors: the topics it
// subscribes to include order.confirmed and order.completed, which are
// defined but not yet published anywhere.
func (d *Dispatcher) HandleEvent(ctx context.Context, env domain.Envelope) error {
	payload, err := env.DecodePayload()
	if err != nil {
		return err
	}

	var orderID, subject, message string

	switch event := payload.(type) {
	case *domain.OrderConfirmed:
		orderID = event.OrderID
		subject = "Order Confirmed"
		message = fmt.Sprintf("Your order %s has been confirmed and is being processed.", event.OrderID)
	case *domain.OrderCompleted:
		orderID = event.OrderID
		subject = "Order Completed"
		message = fmt.Sprintf("Your order %s has been completed successfully!", event.OrderID)
	case *domain.OrderCancelled:
		orderID = event.OrderID
		subject = "Order Cancelled"
		message = fmt.Sprintf("Your order %s has been cancelled. Reason: %s", event.OrderID, event.Reason)
	case *domain.PaymentProcessed:
		orderID = event.OrderID
		subject = "Payment Successful"
		message = fmt.Sprintf("Payment for order %s has been processed successfully. Amount: %d", event.OrderID, event.Amount)
	case *domain.PaymentFailed:
		orderID = event.OrderID
		subject = "Payment Failed"
		message = fmt.Sprintf("Payment for order %s failed. Reason: %s", event.OrderID, event.Reason)
	default:
		d.logger.Info("event type not notified", "event_type", env.EventType, "event_id", env.EventID)
		return nil
	}

	n := Notification{
		ID:        uuid.New().String(),
		EventID:   env.EventID,
		OrderID:   orderID,
		Subject:   subject,
		Message:   message,
		CreatedAt: time.Now().UTC(),
	}

	if !d.log.Append(n) {
		d.logger.Info("duplicate event dropped", "event_id", env.EventID, "order_id", orderID)
		return nil
	}

	d.logger.Info("notification recorded", "order_id", orderID, "subject", subject, "event_id", env.EventID)
	return nil
}

// Send records a custom notification outside the event flow.
func (d *Dispatcher) Send(orderID, subject, message string) Notification {
	n := Notification{
		ID:        uuid.New().String(),
		OrderID:   orderID,
		Subject:   subject,
		Message:   message,
		CreatedAt: time.Now().UTC(),
	}

	d.log.Append(n)
	d.logger.Info("notification recorded", "order_id", orderID, "subject", subject)
	return n
}
