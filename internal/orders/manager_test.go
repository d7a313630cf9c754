package orders

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/order-saga/internal/domain"
)

type fakeOrderStore struct {
	orders    map[string]*domain.Order
	processed map[string]bool

	eventErr error
}

func newFakeOrderStore() *fakeOrderStore {
	return &fakeOrderStore{
		orders:    make(map[string]*domain.Order),
		processed: make(map[string]bool),
	}
}

func (s *fakeOrderStore) Create(ctx context.Context, order *domain.Order) error {
	if order.ID == "" {
		order.ID = uuid.New().String()
	}
	copied := *order
	s.orders[order.ID] = &copied
	return nil
}

func (s *fakeOrderStore) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	order, ok := s.orders[id]
	if !ok {
		return nil, nil
	}
	copied := *order
	return &copied, nil
}

func (s *fakeOrderStore) UpdateStatusFrom(ctx context.Context, id string, status domain.OrderStatus, from []domain.OrderStatus) (bool, error) {
	order, ok := s.orders[id]
	if !ok {
		return false, nil
	}
	for _, source := range from {
		if order.Status == source {
			order.Status = status
			return true, nil
		}
	}
	return false, nil
}

// UpdateStatusFromEvent mirrors the repository: the claim and the update are
// one atomic step, and a duplicate event id changes nothing.
func (s *fakeOrderStore) UpdateStatusFromEvent(ctx context.Context, eventID, id string, status domain.OrderStatus, from []domain.OrderStatus) (bool, error) {
	if s.eventErr != nil {
		err := s.eventErr
		s.eventErr = nil
		return false, err
	}
	if s.processed[eventID] {
		return false, domain.ErrEventProcessed
	}
	s.processed[eventID] = true
	return s.UpdateStatusFrom(ctx, id, status, from)
}

func (s *fakeOrderStore) ListByCustomer(ctx context.Context, customerID string) ([]domain.Order, error) {
	var out []domain.Order
	for _, order := range s.orders {
		if order.CustomerID == customerID {
			out = append(out, *order)
		}
	}
	return out, nil
}

type fakeBus struct {
	published  []domain.Payload
	publishErr error
}

func (b *fakeBus) Publish(ctx context.Context, key string, payload domain.Payload) error {
	if b.publishErr != nil {
		return b.publishErr
	}
	b.published = append(b.published, payload)
	return nil
}

func newTestManager(store Store, bus Publisher) *Manager {
	return NewManager(store, bus, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestManager_CreateOrder(t *testing.T) {
	store := newFakeOrderStore()
	bus := &fakeBus{}
	manager := newTestManager(store, bus)

	order, err := manager.CreateOrder(context.Background(), CreateOrderRequest{
		CustomerID: "cust-1",
		Items: []domain.OrderItem{
			{ProductID: "prod-1", Quantity: 2, Price: 1999},
			{ProductID: "prod-2", Quantity: 1, Price: 500},
		},
	})
	require.NoError(t, err)
	require.NotNil(t, order)

	assert.NotEmpty(t, order.ID)
	assert.Equal(t, domain.OrderStatusPending, order.Status)
	assert.Equal(t, int64(2*1999+500), order.TotalAmount)

	require.Len(t, bus.published, 1)
	created, ok := bus.published[0].(domain.OrderCreated)
	require.True(t, ok, "expected OrderCreated, got %T", bus.published[0])
	assert.Equal(t, order.ID, created.OrderID)
	assert.Equal(t, order.TotalAmount, created.TotalAmount)
	assert.Len(t, created.Items, 2)
}

func TestManager_CreateOrderValidation(t *testing.T) {
	store := newFakeOrderStore()
	bus := &fakeBus{}
	manager := newTestManager(store, bus)

	_, err := manager.CreateOrder(context.Background(), CreateOrderRequest{CustomerID: "cust-1"})
	assert.ErrorIs(t, err, ErrEmptyOrder)

	_, err = manager.CreateOrder(context.Background(), CreateOrderRequest{
		CustomerID: "cust-1",
		Items:      []domain.OrderItem{{ProductID: "prod-1", Quantity: 0, Price: 100}},
	})
	assert.ErrorIs(t, err, ErrInvalidItem)

	_, err = manager.CreateOrder(context.Background(), CreateOrderRequest{
		CustomerID: "cust-1",
		Items:      []domain.OrderItem{{ProductID: "prod-1", Quantity: 1, Price: -5}},
	})
	assert.ErrorIs(t, err, ErrInvalidItem)

	assert.Empty(t, store.orders, "invalid requests must not persist")
	assert.Empty(t, bus.published)
}

func TestManager_CreateOrderPublishFailureReturnsOrder(t *testing.T) {
	store := newFakeOrderStore()
	bus := &fakeBus{publishErr: errors.New("broker unavailable")}
	manager := newTestManager(store, bus)

	order, err := manager.CreateOrder(context.Background(), CreateOrderRequest{
		CustomerID: "cust-1",
		Items:      []domain.OrderItem{{ProductID: "prod-1", Quantity: 1, Price: 100}},
	})
	require.Error(t, err)
	require.NotNil(t, order, "the persisted order is returned alongside the publish error")
	assert.Contains(t, store.orders, order.ID)
}

func TestManager_CancelOrder(t *testing.T) {
	store := newFakeOrderStore()
	bus := &fakeBus{}
	manager := newTestManager(store, bus)

	created, err := manager.CreateOrder(context.Background(), CreateOrderRequest{
		CustomerID: "cust-1",
		Items:      []domain.OrderItem{{ProductID: "prod-1", Quantity: 1, Price: 100}},
	})
	require.NoError(t, err)

	cancelled, err := manager.CancelOrder(context.Background(), created.ID, "changed my mind")
	require.NoError(t, err)
	require.NotNil(t, cancelled)
	assert.Equal(t, domain.OrderStatusCancelled, cancelled.Status)

	require.Len(t, bus.published, 2)
	event, ok := bus.published[1].(domain.OrderCancelled)
	require.True(t, ok)
	assert.Equal(t, "changed my mind", event.Reason)
}

func TestManager_CancelOrderGuards(t *testing.T) {
	store := newFakeOrderStore()
	bus := &fakeBus{}
	manager := newTestManager(store, bus)

	order, err := manager.CancelOrder(context.Background(), uuid.New().String(), "whatever")
	require.NoError(t, err)
	assert.Nil(t, order, "unknown orders report not found, not an error")

	completed := &domain.Order{CustomerID: "cust-1", Status: domain.OrderStatusCompleted}
	require.NoError(t, store.Create(context.Background(), completed))

	_, err = manager.CancelOrder(context.Background(), completed.ID, "too late")
	assert.ErrorIs(t, err, ErrOrderTerminal)
	assert.Empty(t, bus.published)
}

func TestManager_PaymentProcessedCompletesOrder(t *testing.T) {
	store := newFakeOrderStore()
	bus := &fakeBus{}
	manager := newTestManager(store, bus)

	created, err := manager.CreateOrder(context.Background(), CreateOrderRequest{
		CustomerID: "cust-1",
		Items:      []domain.OrderItem{{ProductID: "prod-1", Quantity: 1, Price: 100}},
	})
	require.NoError(t, err)

	env, err := domain.NewEnvelope(domain.PaymentProcessed{OrderID: created.ID, PaymentID: "pay-1"})
	require.NoError(t, err)
	require.NoError(t, manager.HandlePaymentProcessed(context.Background(), env))

	order, err := store.GetByID(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCompleted, order.Status)
}

func TestManager_PaymentFailedFailsOrder(t *testing.T) {
	store := newFakeOrderStore()
	bus := &fakeBus{}
	manager := newTestManager(store, bus)

	created, err := manager.CreateOrder(context.Background(), CreateOrderRequest{
		CustomerID: "cust-1",
		Items:      []domain.OrderItem{{ProductID: "prod-1", Quantity: 1, Price: 100}},
	})
	require.NoError(t, err)

	env, err := domain.NewEnvelope(domain.PaymentFailed{OrderID: created.ID, Reason: "declined"})
	require.NoError(t, err)
	require.NoError(t, manager.HandlePaymentFailed(context.Background(), env))

	order, err := store.GetByID(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusFailed, order.Status)
}

func TestManager_PaymentOutcomeIgnoresUnknownOrder(t *testing.T) {
	store := newFakeOrderStore()
	bus := &fakeBus{}
	manager := newTestManager(store, bus)

	env, err := domain.NewEnvelope(domain.PaymentProcessed{OrderID: uuid.New().String(), PaymentID: "pay-1"})
	require.NoError(t, err)

	// A payment event for an order this store never saw is logged and dropped.
	require.NoError(t, manager.HandlePaymentProcessed(context.Background(), env))
	assert.Empty(t, store.orders)
}

func TestManager_PaymentOutcomeSkipsIllegalTransition(t *testing.T) {
	store := newFakeOrderStore()
	bus := &fakeBus{}
	manager := newTestManager(store, bus)

	order := &domain.Order{CustomerID: "cust-1", Status: domain.OrderStatusCancelled}
	require.NoError(t, store.Create(context.Background(), order))

	env, err := domain.NewEnvelope(domain.PaymentProcessed{OrderID: order.ID, PaymentID: "pay-1"})
	require.NoError(t, err)
	require.NoError(t, manager.HandlePaymentProcessed(context.Background(), env))

	got, err := store.GetByID(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCancelled, got.Status, "cancelled orders stay cancelled")
}

func TestManager_PaymentOutcomeRetriesAfterTransientFailure(t *testing.T) {
	store := newFakeOrderStore()
	bus := &fakeBus{}
	manager := newTestManager(store, bus)

	created, err := manager.CreateOrder(context.Background(), CreateOrderRequest{
		CustomerID: "cust-1",
		Items:      []domain.OrderItem{{ProductID: "prod-1", Quantity: 1, Price: 100}},
	})
	require.NoError(t, err)

	env, err := domain.NewEnvelope(domain.PaymentProcessed{OrderID: created.ID, PaymentID: "pay-1"})
	require.NoError(t, err)

	// A transient store failure leaves no claim behind, so redelivery of the
	// same event must still complete the order.
	store.eventErr = errors.New("connection reset")
	require.Error(t, manager.HandlePaymentProcessed(context.Background(), env))

	order, err := store.GetByID(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPending, order.Status)

	require.NoError(t, manager.HandlePaymentProcessed(context.Background(), env))

	order, err = store.GetByID(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCompleted, order.Status)
}

func TestManager_DuplicatePaymentEventDropped(t *testing.T) {
	store := newFakeOrderStore()
	bus := &fakeBus{}
	manager := newTestManager(store, bus)

	created, err := manager.CreateOrder(context.Background(), CreateOrderRequest{
		CustomerID: "cust-1",
		Items:      []domain.OrderItem{{ProductID: "prod-1", Quantity: 1, Price: 100}},
	})
	require.NoError(t, err)

	env, err := domain.NewEnvelope(domain.PaymentFailed{OrderID: created.ID, Reason: "declined"})
	require.NoError(t, err)
	require.NoError(t, manager.HandlePaymentFailed(context.Background(), env))
	require.NoError(t, manager.HandlePaymentFailed(context.Background(), env))

	order, err := store.GetByID(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusFailed, order.Status)
}
