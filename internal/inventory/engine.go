package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/example/order-saga/internal/domain"
)

// Store is the private durable store of the reservation engine.
type Store interface {
	ReserveAll(ctx context.Context, eventID, orderID string, items []domain.OrderItem) error
	ReservationsFor(ctx context.Context, orderID string) ([]domain.Reservation, error)
	ReleaseOrder(ctx context.Context, eventID, orderID string) ([]domain.Reservation, error)
}

// Publisher is the slice of the event bus the engine needs.
type Publisher interface {
	Publish(ctx context.Context, key string, payload domain.Payload) error
}

// Engine consumes order.created events and reserves stock per line item. It
// also consumes payment.failed to release reservations the saga no longer
// needs.
type Engine struct {
	store  Store
	bus    Publisher
	logger *slog.Logger
}

func NewEngine(store Store, bus Publisher, logger *slog.Logger) *Engine {
	return &Engine{
		store:  store,
		bus:    bus,
		logger: logger,
	}
}

// HandleOrderCreated reserves every line item in one transaction that also
// claims the event id, so a failure anywhere rolls back partial holds and the
// claim together and redelivery starts over. The reservation stops at the
// first item with insufficient stock and reports only that item.
//
// A redelivered event whose reservation already committed republishes the
// reserved events from the held reservations, so a publish failure after the
// commit cannot lose the saga trigger.
func (e *Engine) HandleOrderCreated(ctx context.Context, env domain.Envelope) error {
	payload, err := env.DecodePayload()
	if err != nil {
		return err
	}

	event, ok := payload.(*domain.OrderCreated)
	if !ok {
		return fmt.Errorf("unexpected payload %s on order.created", env.EventType)
	}

	e.logger.Info("processing order created event", "order_id", event.OrderID, "items", len(event.Items))

	err = e.store.ReserveAll(ctx, env.EventID, event.OrderID, event.Items)

	var stockErr *StockError
	switch {
	case err == nil:
		for _, item := range event.Items {
			e.logger.Info("stock reserved", "order_id", event.OrderID, "product_id", item.ProductID, "quantity", item.Quantity)
		}
		return e.publishReserved(ctx, event.OrderID, event.Items)

	case errors.Is(err, domain.ErrEventProcessed):
		held, err := e.store.ReservationsFor(ctx, event.OrderID)
		if err != nil {
			return fmt.Errorf("load reservations for order %s: %w", event.OrderID, err)
		}

		e.logger.Info("event already applied, republishing held reservations",
			"event_id", env.EventID, "order_id", event.OrderID, "held_items", len(held))

		items := make([]domain.OrderItem, 0, len(held))
		for _, res := range held {
			items = append(items, domain.OrderItem{ProductID: res.ProductID, Quantity: res.Quantity})
		}
		return e.publishReserved(ctx, event.OrderID, items)

	case errors.As(err, &stockErr):
		return e.publishUnavailable(ctx, event.OrderID, stockErr)

	default:
		return fmt.Errorf("reserve order %s: %w", event.OrderID, err)
	}
}

// HandlePaymentFailed compensates a failed saga by releasing every
// reservation held for the order.
func (e *Engine) HandlePaymentFailed(ctx context.Context, env domain.Envelope) error {
	payload, err := env.DecodePayload()
	if err != nil {
		return err
	}

	event, ok := payload.(*domain.PaymentFailed)
	if !ok {
		return fmt.Errorf("unexpected payload %s on payment.failed", env.EventType)
	}

	released, err := e.store.ReleaseOrder(ctx, env.EventID, event.OrderID)
	if errors.Is(err, domain.ErrEventProcessed) {
		e.logger.Info("duplicate event dropped", "event_id", env.EventID, "order_id", event.OrderID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("release reservations for order %s: %w", event.OrderID, err)
	}

	e.logger.Info("reservations released after payment failure",
		"order_id", event.OrderID, "released_items", len(released), "reason", event.Reason)
	return nil
}

// One reserved event per item, emitted only once the whole order is held, so
// payment never starts on a partially reserved order.
func (e *Engine) publishReserved(ctx context.Context, orderID string, items []domain.OrderItem) error {
	for _, item := range items {
		reserved := domain.InventoryReserved{
			OrderID:   orderID,
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
		}
		if err := e.bus.Publish(ctx, orderID, reserved); err != nil {
			return fmt.Errorf("publish inventory reserved: %w", err)
		}
	}
	return nil
}

func (e *Engine) publishUnavailable(ctx context.Context, orderID string, stockErr *StockError) error {
	unavailable := domain.InventoryUnavailable{
		OrderID:           orderID,
		ProductID:         stockErr.ProductID,
		RequestedQuantity: stockErr.Requested,
		AvailableQuantity: stockErr.Available,
	}

	if err := e.bus.Publish(ctx, orderID, unavailable); err != nil {
		return fmt.Errorf("publish inventory unavailable: %w", err)
	}

	e.logger.Info("insufficient stock", "order_id", orderID, "product_id", stockErr.ProductID,
		"requested", stockErr.Requested, "available", stockErr.Available)
	return nil
}
