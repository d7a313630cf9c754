package inventory

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/order-saga/internal/domain"
)

// fakeInventoryStore mirrors the repository's transactional semantics in
// memory: ReserveAll is all-or-nothing and the event claim commits only with
// the holds it guards. failNext injects one transient failure before any
// state changes, the way a dropped connection would surface.
type fakeInventoryStore struct {
	records      map[string]*domain.InventoryRecord
	reservations map[string][]domain.Reservation
	processed    map[string]bool

	failNext error
}

func newFakeInventoryStore() *fakeInventoryStore {
	return &fakeInventoryStore{
		records:      make(map[string]*domain.InventoryRecord),
		reservations: make(map[string][]domain.Reservation),
		processed:    make(map[string]bool),
	}
}

func (s *fakeInventoryStore) setStock(productID string, available int) {
	s.records[productID] = &domain.InventoryRecord{ProductID: productID, Available: available}
}

func (s *fakeInventoryStore) ReserveAll(ctx context.Context, eventID, orderID string, items []domain.OrderItem) error {
	if s.failNext != nil {
		err := s.failNext
		s.failNext = nil
		return err
	}
	if s.processed[eventID] {
		return domain.ErrEventProcessed
	}

	staged := make(map[string]int)
	for _, item := range items {
		record, ok := s.records[item.ProductID]
		available := 0
		if ok {
			available = record.Available - staged[item.ProductID]
		}
		if available < item.Quantity {
			return &StockError{ProductID: item.ProductID, Requested: item.Quantity, Available: available}
		}
		staged[item.ProductID] += item.Quantity
	}

	for _, item := range items {
		record := s.records[item.ProductID]
		record.Available -= item.Quantity
		record.Reserved += item.Quantity
		s.reservations[orderID] = append(s.reservations[orderID], domain.Reservation{
			OrderID:   orderID,
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
		})
	}
	s.processed[eventID] = true
	return nil
}

func (s *fakeInventoryStore) ReservationsFor(ctx context.Context, orderID string) ([]domain.Reservation, error) {
	out := make([]domain.Reservation, len(s.reservations[orderID]))
	copy(out, s.reservations[orderID])
	return out, nil
}

func (s *fakeInventoryStore) ReleaseOrder(ctx context.Context, eventID, orderID string) ([]domain.Reservation, error) {
	if s.processed[eventID] {
		return nil, domain.ErrEventProcessed
	}
	released := s.reservations[orderID]
	for _, r := range released {
		if record, ok := s.records[r.ProductID]; ok {
			record.Available += r.Quantity
			record.Reserved -= r.Quantity
		}
	}
	delete(s.reservations, orderID)
	s.processed[eventID] = true
	return released, nil
}

func (s *fakeInventoryStore) record(t *testing.T, productID string) *domain.InventoryRecord {
	t.Helper()
	record, ok := s.records[productID]
	require.True(t, ok, "no inventory record for %s", productID)
	return record
}

type fakeBus struct {
	published []domain.Payload
	failNext  error
}

func (b *fakeBus) Publish(ctx context.Context, key string, payload domain.Payload) error {
	if b.failNext != nil {
		err := b.failNext
		b.failNext = nil
		return err
	}
	b.published = append(b.published, payload)
	return nil
}

func (b *fakeBus) reservedEvents() []domain.InventoryReserved {
	var out []domain.InventoryReserved
	for _, p := range b.published {
		if reserved, ok := p.(domain.InventoryReserved); ok {
			out = append(out, reserved)
		}
	}
	return out
}

func (b *fakeBus) unavailableEvents() []domain.InventoryUnavailable {
	var out []domain.InventoryUnavailable
	for _, p := range b.published {
		if unavailable, ok := p.(domain.InventoryUnavailable); ok {
			out = append(out, unavailable)
		}
	}
	return out
}

func newTestEngine(store Store, bus Publisher) *Engine {
	return NewEngine(store, bus, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func orderCreatedEnvelope(t *testing.T, orderID string, items ...domain.OrderItem) domain.Envelope {
	t.Helper()
	env, err := domain.NewEnvelope(domain.OrderCreated{
		OrderID:    orderID,
		CustomerID: "cust-1",
		Items:      items,
	})
	require.NoError(t, err)
	return env
}

func TestEngine_ReservesWhenStockSuffices(t *testing.T) {
	store := newFakeInventoryStore()
	store.setStock("prod-1", 5)
	bus := &fakeBus{}
	engine := newTestEngine(store, bus)

	env := orderCreatedEnvelope(t, "order-1", domain.OrderItem{ProductID: "prod-1", Quantity: 2})
	require.NoError(t, engine.HandleOrderCreated(context.Background(), env))

	record := store.record(t, "prod-1")
	assert.Equal(t, 3, record.Available)
	assert.Equal(t, 2, record.Reserved)

	reserved := bus.reservedEvents()
	require.Len(t, reserved, 1)
	assert.Equal(t, "order-1", reserved[0].OrderID)
	assert.Equal(t, "prod-1", reserved[0].ProductID)
	assert.Equal(t, 2, reserved[0].Quantity)
}

func TestEngine_ReportsInsufficientStock(t *testing.T) {
	store := newFakeInventoryStore()
	store.setStock("prod-1", 1)
	bus := &fakeBus{}
	engine := newTestEngine(store, bus)

	env := orderCreatedEnvelope(t, "order-1", domain.OrderItem{ProductID: "prod-1", Quantity: 5})
	require.NoError(t, engine.HandleOrderCreated(context.Background(), env))

	record := store.record(t, "prod-1")
	assert.Equal(t, 1, record.Available, "failed orders must not move stock")
	assert.Empty(t, bus.reservedEvents())

	unavailable := bus.unavailableEvents()
	require.Len(t, unavailable, 1)
	assert.Equal(t, 5, unavailable[0].RequestedQuantity)
	assert.Equal(t, 1, unavailable[0].AvailableQuantity)
}

func TestEngine_UnknownProductReportsZeroAvailable(t *testing.T) {
	store := newFakeInventoryStore()
	bus := &fakeBus{}
	engine := newTestEngine(store, bus)

	env := orderCreatedEnvelope(t, "order-1", domain.OrderItem{ProductID: "ghost", Quantity: 1})
	require.NoError(t, engine.HandleOrderCreated(context.Background(), env))

	unavailable := bus.unavailableEvents()
	require.Len(t, unavailable, 1)
	assert.Equal(t, "ghost", unavailable[0].ProductID)
	assert.Zero(t, unavailable[0].AvailableQuantity)
}

func TestEngine_FirstFailureShortCircuits(t *testing.T) {
	store := newFakeInventoryStore()
	store.setStock("prod-1", 0)
	store.setStock("prod-2", 0)
	bus := &fakeBus{}
	engine := newTestEngine(store, bus)

	env := orderCreatedEnvelope(t, "order-1",
		domain.OrderItem{ProductID: "prod-1", Quantity: 1},
		domain.OrderItem{ProductID: "prod-2", Quantity: 1},
	)
	require.NoError(t, engine.HandleOrderCreated(context.Background(), env))

	unavailable := bus.unavailableEvents()
	require.Len(t, unavailable, 1, "only the first failing item is reported")
	assert.Equal(t, "prod-1", unavailable[0].ProductID)
}

func TestEngine_NoPartialReservationOnMultiItemFailure(t *testing.T) {
	store := newFakeInventoryStore()
	store.setStock("prod-1", 10)
	store.setStock("prod-2", 0)
	bus := &fakeBus{}
	engine := newTestEngine(store, bus)

	env := orderCreatedEnvelope(t, "order-1",
		domain.OrderItem{ProductID: "prod-1", Quantity: 2},
		domain.OrderItem{ProductID: "prod-2", Quantity: 2},
	)
	require.NoError(t, engine.HandleOrderCreated(context.Background(), env))

	record := store.record(t, "prod-1")
	assert.Equal(t, 10, record.Available, "a rejected order must not hold any item")
	assert.Empty(t, bus.reservedEvents())
	assert.Empty(t, store.reservations["order-1"])
}

func TestEngine_RedeliveryAfterTransientFailureReserves(t *testing.T) {
	store := newFakeInventoryStore()
	store.setStock("prod-1", 5)
	store.failNext = errors.New("connection reset")
	bus := &fakeBus{}
	engine := newTestEngine(store, bus)

	env := orderCreatedEnvelope(t, "order-1", domain.OrderItem{ProductID: "prod-1", Quantity: 2})

	err := engine.HandleOrderCreated(context.Background(), env)
	require.Error(t, err, "a transient store failure must surface so the message is redelivered")
	assert.Empty(t, bus.published)

	// The failed delivery left no claim behind, so redelivery does the work.
	require.NoError(t, engine.HandleOrderCreated(context.Background(), env))

	record := store.record(t, "prod-1")
	assert.Equal(t, 3, record.Available)
	assert.Len(t, bus.reservedEvents(), 1)
}

func TestEngine_RedeliveryAfterPublishFailureRepublishes(t *testing.T) {
	store := newFakeInventoryStore()
	store.setStock("prod-1", 5)
	bus := &fakeBus{failNext: errors.New("broker unavailable")}
	engine := newTestEngine(store, bus)

	env := orderCreatedEnvelope(t, "order-1", domain.OrderItem{ProductID: "prod-1", Quantity: 2})

	err := engine.HandleOrderCreated(context.Background(), env)
	require.Error(t, err, "a failed publish must surface so the message is redelivered")

	// The reservation committed with the claim; redelivery must republish
	// from the held reservations instead of dropping the saga trigger.
	require.NoError(t, engine.HandleOrderCreated(context.Background(), env))

	record := store.record(t, "prod-1")
	assert.Equal(t, 3, record.Available, "redelivery must not reserve twice")
	assert.Equal(t, 2, record.Reserved)

	reserved := bus.reservedEvents()
	require.Len(t, reserved, 1)
	assert.Equal(t, "order-1", reserved[0].OrderID)
	assert.Equal(t, 2, reserved[0].Quantity)
}

func TestEngine_DuplicateDeliveryDoesNotReserveTwice(t *testing.T) {
	store := newFakeInventoryStore()
	store.setStock("prod-1", 5)
	bus := &fakeBus{}
	engine := newTestEngine(store, bus)

	env := orderCreatedEnvelope(t, "order-1", domain.OrderItem{ProductID: "prod-1", Quantity: 2})
	require.NoError(t, engine.HandleOrderCreated(context.Background(), env))
	require.NoError(t, engine.HandleOrderCreated(context.Background(), env))

	record := store.record(t, "prod-1")
	assert.Equal(t, 3, record.Available, "a redelivered event must not reserve twice")
	assert.Equal(t, 2, record.Reserved)
}

func TestEngine_RedeliveryAfterReleasePublishesNothing(t *testing.T) {
	store := newFakeInventoryStore()
	store.setStock("prod-1", 5)
	bus := &fakeBus{}
	engine := newTestEngine(store, bus)

	created := orderCreatedEnvelope(t, "order-1", domain.OrderItem{ProductID: "prod-1", Quantity: 2})
	require.NoError(t, engine.HandleOrderCreated(context.Background(), created))

	failed, err := domain.NewEnvelope(domain.PaymentFailed{OrderID: "order-1", PaymentID: "pay-1", Reason: "card declined"})
	require.NoError(t, err)
	require.NoError(t, engine.HandlePaymentFailed(context.Background(), failed))

	// A stale duplicate of the created event must not restart a compensated
	// saga: nothing is held any more, so nothing is republished.
	published := len(bus.reservedEvents())
	require.NoError(t, engine.HandleOrderCreated(context.Background(), created))
	assert.Len(t, bus.reservedEvents(), published)
}

func TestEngine_PaymentFailedReleasesReservations(t *testing.T) {
	store := newFakeInventoryStore()
	store.setStock("prod-1", 5)
	bus := &fakeBus{}
	engine := newTestEngine(store, bus)

	created := orderCreatedEnvelope(t, "order-1", domain.OrderItem{ProductID: "prod-1", Quantity: 2})
	require.NoError(t, engine.HandleOrderCreated(context.Background(), created))

	failed, err := domain.NewEnvelope(domain.PaymentFailed{
		OrderID:   "order-1",
		PaymentID: "pay-1",
		Reason:    "card declined",
	})
	require.NoError(t, err)
	require.NoError(t, engine.HandlePaymentFailed(context.Background(), failed))

	record := store.record(t, "prod-1")
	assert.Equal(t, 5, record.Available)
	assert.Zero(t, record.Reserved)

	// Redelivery of the same failure must not over-release.
	require.NoError(t, engine.HandlePaymentFailed(context.Background(), failed))
	assert.Equal(t, 5, store.record(t, "prod-1").Available)
}
