package orders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/order-saga/internal/domain"
)

var (
	ErrEmptyOrder    = errors.New("order has no items")
	ErrInvalidItem   = errors.New("item quantity and price must be positive")
	ErrOrderTerminal = errors.New("order is in a terminal state")
)

// Store is the private durable store of the order manager.
type Store interface {
	Create(ctx context.Context, order *domain.Order) error
	GetByID(ctx context.Context, id string) (*domain.Order, error)
	UpdateStatusFrom(ctx context.Context, id string, status domain.OrderStatus, from []domain.OrderStatus) (bool, error)
	UpdateStatusFromEvent(ctx context.Context, eventID, id string, status domain.OrderStatus, from []domain.OrderStatus) (bool, error)
	ListByCustomer(ctx context.Context, customerID string) ([]domain.Order, error)
}

// Publisher is the slice of the event bus the manager needs.
type Publisher interface {
	Publish(ctx context.Context, key string, payload domain.Payload) error
}

// Manager owns the order lifecycle: it creates orders, emits the saga
// trigger, and applies terminal status updates from payment outcomes.
type Manager struct {
	store  Store
	bus    Publisher
	logger *slog.Logger
}

func NewManager(store Store, bus Publisher, logger *slog.Logger) *Manager {
	return &Manager{
		store:  store,
		bus:    bus,
		logger: logger,
	}
}

type CreateOrderRequest struct {
	CustomerID string             `json:"customer_id"`
	Items      []domain.OrderItem `json:"items"`
}

// CreateOrder validates the request, persists the order as pending and
// publishes order.created. The publish happens after the local commit with no
// atomicity between the two; a crash in between loses the saga trigger, so a
// failed publish is surfaced as an error rather than swallowed.
func (m *Manager) CreateOrder(ctx context.Context, req CreateOrderRequest) (*domain.Order, error) {
	if len(req.Items) == 0 {
		return nil, ErrEmptyOrder
	}

	var total int64
	for _, item := range req.Items {
		if item.Quantity <= 0 || item.Price <= 0 {
			return nil, fmt.Errorf("%w: product %s", ErrInvalidItem, item.ProductID)
		}
		total += int64(item.Quantity) * item.Price
	}

	order := &domain.Order{
		CustomerID:  req.CustomerID,
		Items:       req.Items,
		TotalAmount: total,
		Status:      domain.OrderStatusPending,
		CreatedAt:   time.Now().UTC(),
	}
	order.UpdatedAt = order.CreatedAt

	if err := m.store.Create(ctx, order); err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}

	event := domain.OrderCreated{
		OrderID:     order.ID,
		CustomerID:  order.CustomerID,
		Items:       order.Items,
		TotalAmount: order.TotalAmount,
	}
	if err := m.bus.Publish(ctx, order.ID, event); err != nil {
		return order, fmt.Errorf("publish order created: %w", err)
	}

	m.logger.Info("order created", "order_id", order.ID, "customer_id", order.CustomerID, "total_amount", order.TotalAmount)
	return order, nil
}

// CancelOrder cancels a non-terminal order and publishes order.cancelled.
func (m *Manager) CancelOrder(ctx context.Context, id, reason string) (*domain.Order, error) {
	order, err := m.store.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load order %s: %w", id, err)
	}
	if order == nil {
		return nil, nil
	}

	if order.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: %s is %s", ErrOrderTerminal, id, order.Status)
	}

	updated, err := m.store.UpdateStatusFrom(ctx, id, domain.OrderStatusCancelled,
		domain.OrderStatusCancelled.AllowedSources())
	if err != nil {
		return nil, fmt.Errorf("cancel order %s: %w", id, err)
	}
	if !updated {
		// Lost a race with a concurrent terminal transition.
		return nil, fmt.Errorf("%w: %s", ErrOrderTerminal, id)
	}

	event := domain.OrderCancelled{OrderID: id, Reason: reason}
	if err := m.bus.Publish(ctx, id, event); err != nil {
		return nil, fmt.Errorf("publish order cancelled: %w", err)
	}

	m.logger.Info("order cancelled", "order_id", id, "reason", reason)
	return m.store.GetByID(ctx, id)
}

func (m *Manager) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	return m.store.GetByID(ctx, id)
}

func (m *Manager) ListCustomerOrders(ctx context.Context, customerID string) ([]domain.Order, error) {
	return m.store.ListByCustomer(ctx, customerID)
}

// HandlePaymentProcessed completes the order named by the event.
func (m *Manager) HandlePaymentProcessed(ctx context.Context, env domain.Envelope) error {
	return m.applyPaymentOutcome(ctx, env, domain.OrderStatusCompleted)
}

// HandlePaymentFailed fails the order named by the event.
func (m *Manager) HandlePaymentFailed(ctx context.Context, env domain.Envelope) error {
	return m.applyPaymentOutcome(ctx, env, domain.OrderStatusFailed)
}

func (m *Manager) applyPaymentOutcome(ctx context.Context, env domain.Envelope, status domain.OrderStatus) error {
	payload, err := env.DecodePayload()
	if err != nil {
		return err
	}

	var orderID string
	switch event := payload.(type) {
	case *domain.PaymentProcessed:
		orderID = event.OrderID
	case *domain.PaymentFailed:
		orderID = event.OrderID
	default:
		return fmt.Errorf("unexpected payload %s for payment outcome", env.EventType)
	}

	updated, err := m.store.UpdateStatusFromEvent(ctx, env.EventID, orderID, status, status.AllowedSources())
	if errors.Is(err, domain.ErrEventProcessed) {
		m.logger.Info("duplicate event dropped", "event_id", env.EventID, "order_id", orderID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("set order %s to %s: %w", orderID, status, err)
	}

	if !updated {
		// Unknown order id or an illegal transition; either way no state
		// changes for events that do not belong to one of our live orders.
		m.logger.Warn("payment outcome not applied", "order_id", orderID, "status", status)
		return nil
	}

	m.logger.Info("order status updated", "order_id", orderID, "status", status)
	return nil
}
