package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/example/order-saga/internal/domain"
)

// Store is the private durable store of the payment processor.
type Store interface {
	CreatePayment(ctx context.Context, eventID string, payment *domain.Payment) (bool, error)
	UpdateStatus(ctx context.Context, paymentID string, status domain.PaymentStatus) error
	GetPaymentByOrder(ctx context.Context, orderID string) (*domain.Payment, error)
}

// Publisher is the slice of the event bus the processor needs.
type Publisher interface {
	Publish(ctx context.Context, key string, payload domain.Payload) error
}

// Processor consumes inventory.reserved events and runs the bounded-retry
// charge for the order.
type Processor struct {
	store   Store
	bus     Publisher
	gateway Gateway
	policy  RetryPolicy
	logger  *slog.Logger
}

func NewProcessor(store Store, bus Publisher, gateway Gateway, policy RetryPolicy, logger *slog.Logger) *Processor {
	return &Processor{
		store:   store,
		bus:     bus,
		gateway: gateway,
		policy:  policy,
		logger:  logger,
	}
}

// HandleInventoryReserved creates the order's payment record, with the event
// id claimed in the same transaction, and charges it under the retry policy.
// Payment amount is zero: the reserved event carries no order total and the
// order store is private to the orders service.
//
// A redelivered event resumes from the persisted payment status, so a
// delivery that died mid-charge or after the charge but before its outcome
// was published picks up where it left off instead of losing the outcome. A
// terminal charge failure is a business outcome, not a handler error: the
// payment record is marked failed and payment.failed is published. Store
// failures before the record exists are converted into a best-effort
// payment.failed with an empty payment_id.
func (p *Processor) HandleInventoryReserved(ctx context.Context, env domain.Envelope) error {
	payload, err := env.DecodePayload()
	if err != nil {
		return err
	}

	event, ok := payload.(*domain.InventoryReserved)
	if !ok {
		return fmt.Errorf("unexpected payload %s on inventory.reserved", env.EventType)
	}

	payment := &domain.Payment{
		ID:        uuid.New().String(),
		OrderID:   event.OrderID,
		Amount:    0,
		Status:    domain.PaymentStatusPending,
		CreatedAt: time.Now().UTC(),
	}

	created, err := p.store.CreatePayment(ctx, env.EventID, payment)
	switch {
	case errors.Is(err, domain.ErrEventProcessed):
		return p.resume(ctx, env.EventID, event.OrderID)
	case err != nil:
		// The claim rolled back with the insert, so the failure is reported
		// as the order's payment outcome and the message is consumed.
		p.logger.Error("failed to create payment record", "error", err, "order_id", event.OrderID)
		return p.publishFailed(ctx, event.OrderID, "", "payment record creation failed: "+err.Error())
	case !created:
		p.logger.Info("payment already exists for order", "order_id", event.OrderID)
		return nil
	}

	return p.charge(ctx, payment.ID, event.OrderID, payment.Amount)
}

// resume finishes a delivery that was interrupted after its payment record
// committed: a settled payment republishes its outcome event, an unsettled
// one runs the charge again.
func (p *Processor) resume(ctx context.Context, eventID, orderID string) error {
	payment, err := p.store.GetPaymentByOrder(ctx, orderID)
	if err != nil {
		return fmt.Errorf("load payment for order %s: %w", orderID, err)
	}
	if payment == nil {
		p.logger.Warn("claimed event has no payment record", "event_id", eventID, "order_id", orderID)
		return nil
	}

	switch payment.Status {
	case domain.PaymentStatusCompleted:
		p.logger.Info("republishing payment outcome", "payment_id", payment.ID, "order_id", orderID, "status", payment.Status)
		return p.publishProcessed(ctx, orderID, payment.ID, payment.Amount)
	case domain.PaymentStatusFailed:
		p.logger.Info("republishing payment outcome", "payment_id", payment.ID, "order_id", orderID, "status", payment.Status)
		return p.publishFailed(ctx, orderID, payment.ID, "payment previously failed")
	default:
		p.logger.Info("resuming interrupted charge", "payment_id", payment.ID, "order_id", orderID, "status", payment.Status)
		return p.charge(ctx, payment.ID, orderID, payment.Amount)
	}
}

func (p *Processor) charge(ctx context.Context, paymentID, orderID string, amount int64) error {
	if err := p.store.UpdateStatus(ctx, paymentID, domain.PaymentStatusProcessing); err != nil {
		return fmt.Errorf("mark payment %s processing: %w", paymentID, err)
	}

	attempt := 0
	chargeErr := p.policy.Do(ctx, func(ctx context.Context) error {
		attempt++
		p.logger.Info("attempting charge", "payment_id", paymentID, "order_id", orderID, "attempt", attempt)
		return p.gateway.Charge(ctx, orderID, amount)
	})

	if chargeErr != nil {
		if ctx.Err() != nil {
			// Shutdown mid-retry: the record stays unsettled and redelivery
			// resumes the charge.
			return chargeErr
		}

		if err := p.store.UpdateStatus(ctx, paymentID, domain.PaymentStatusFailed); err != nil {
			return fmt.Errorf("mark payment %s failed: %w", paymentID, err)
		}
		p.logger.Warn("payment failed after retries", "payment_id", paymentID, "order_id", orderID, "error", chargeErr)
		return p.publishFailed(ctx, orderID, paymentID, chargeErr.Error())
	}

	if err := p.store.UpdateStatus(ctx, paymentID, domain.PaymentStatusCompleted); err != nil {
		return fmt.Errorf("mark payment %s completed: %w", paymentID, err)
	}

	if err := p.publishProcessed(ctx, orderID, paymentID, amount); err != nil {
		return err
	}

	p.logger.Info("payment processed", "payment_id", paymentID, "order_id", orderID, "attempts", attempt)
	return nil
}

func (p *Processor) publishProcessed(ctx context.Context, orderID, paymentID string, amount int64) error {
	processed := domain.PaymentProcessed{
		OrderID:   orderID,
		PaymentID: paymentID,
		Amount:    amount,
	}

	if err := p.bus.Publish(ctx, orderID, processed); err != nil {
		return fmt.Errorf("publish payment processed: %w", err)
	}
	return nil
}

func (p *Processor) publishFailed(ctx context.Context, orderID, paymentID, reason string) error {
	failed := domain.PaymentFailed{
		OrderID:   orderID,
		PaymentID: paymentID,
		Reason:    reason,
	}

	if err := p.bus.Publish(ctx, orderID, failed); err != nil {
		return fmt.Errorf("publish payment failed: %w", err)
	}
	return nil
}
