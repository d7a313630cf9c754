package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrEventProcessed reports that an envelope's event id was already claimed
// by this service, so its state change has been committed.
var ErrEventProcessed = errors.New("event already processed")

// EventType is the closed discriminator over the event catalogue. Adding a
// type means extending RoutingKey and DecodePayload together.
type EventType string

const (
	EventOrderCreated         EventType = "OrderCreated"
	EventOrderCancelled       EventType = "OrderCancelled"
	EventOrderConfirmed       EventType = "OrderConfirmed"
	EventOrderCompleted       EventType = "OrderCompleted"
	EventInventoryReserved    EventType = "InventoryReserved"
	EventInventoryUnavailable EventType = "InventoryUnavailable"
	EventPaymentProcessed     EventType = "PaymentProcessed"
	EventPaymentFailed        EventType = "PaymentFailed"
)

// RoutingKey maps an event type to the topic it is published on.
func (t EventType) RoutingKey() string {
	switch t {
	case EventOrderCreated:
		return "order.created"
	case EventOrderCancelled:
		return "order.cancelled"
	case EventOrderConfirmed:
		return "order.confirmed"
	case EventOrderCompleted:
		return "order.completed"
	case EventInventoryReserved:
		return "inventory.reserved"
	case EventInventoryUnavailable:
		return "inventory.unavailable"
	case EventPaymentProcessed:
		return "payment.processed"
	case EventPaymentFailed:
		return "payment.failed"
	}
	return ""
}

// Payload is implemented by every event payload in the catalogue.
type Payload interface {
	EventType() EventType
}

type OrderCreated struct {
	OrderID     string      `json:"order_id"`
	CustomerID  string      `json:"customer_id"`
	Items       []OrderItem `json:"items"`
	TotalAmount int64       `json:"total_amount"`
}

func (OrderCreated) EventType() EventType { return EventOrderCreated }

type OrderCancelled struct {
	OrderID string `json:"order_id"`
	Reason  string `json:"reason"`
}

func (OrderCancelled) EventType() EventType { return EventOrderCancelled }

// OrderConfirmed is defined for the notification dispatcher but has no
// emission point yet.
type OrderConfirmed struct {
	OrderID    string `json:"order_id"`
	CustomerID string `json:"customer_id"`
}

func (OrderConfirmed) EventType() EventType { return EventOrderConfirmed }

// OrderCompleted is defined for the notification dispatcher but has no
// emission point yet.
type OrderCompleted struct {
	OrderID    string `json:"order_id"`
	CustomerID string `json:"customer_id"`
}

func (OrderCompleted) EventType() EventType { return EventOrderCompleted }

type InventoryReserved struct {
	OrderID   string `json:"order_id"`
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

func (InventoryReserved) EventType() EventType { return EventInventoryReserved }

type InventoryUnavailable struct {
	OrderID           string `json:"order_id"`
	ProductID         string `json:"product_id"`
	RequestedQuantity int    `json:"requested_quantity"`
	AvailableQuantity int    `json:"available_quantity"`
}

func (InventoryUnavailable) EventType() EventType { return EventInventoryUnavailable }

type PaymentProcessed struct {
	OrderID   string `json:"order_id"`
	PaymentID string `json:"payment_id"`
	Amount    int64  `json:"amount"`
}

func (PaymentProcessed) EventType() EventType { return EventPaymentProcessed }

// PaymentFailed reports a terminal payment outcome. PaymentID is empty when
// the failure happened before a payment record existed.
type PaymentFailed struct {
	OrderID   string `json:"order_id"`
	PaymentID string `json:"payment_id"`
	Reason    string `json:"reason"`
}

func (PaymentFailed) EventType() EventType { return EventPaymentFailed }

// Envelope is the wire format shared by all events. Events are immutable and
// delivered at least once; consumers dedup on EventID.
type Envelope struct {
	EventID   string          `json:"event_id"`
	Timestamp time.Time       `json:"timestamp"`
	EventType EventType       `json:"event_type"`
	Payload   json.RawMessage `json:"payload"`
}

// NewEnvelope wraps a payload with a fresh event id and timestamp.
func NewEnvelope(payload Payload) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", payload.EventType(), err)
	}

	return Envelope{
		EventID:   uuid.New().String(),
		Timestamp: time.Now().UTC(),
		EventType: payload.EventType(),
		Payload:   data,
	}, nil
}

// DecodePayload decodes the envelope payload into its typed form. The switch
// is exhaustive over the catalogue; an unknown type is an error, never a
// silent skip.
func (e Envelope) DecodePayload() (Payload, error) {
	var payload Payload

	switch e.EventType {
	case EventOrderCreated:
		payload = &OrderCreated{}
	case EventOrderCancelled:
		payload = &OrderCancelled{}
	case EventOrderConfirmed:
		payload = &OrderConfirmed{}
	case EventOrderCompleted:
		payload = &OrderCompleted{}
	case EventInventoryReserved:
		payload = &InventoryReserved{}
	case EventInventoryUnavailable:
		payload = &InventoryUnavailable{}
	case EventPaymentProcessed:
		payload = &PaymentProcessed{}
	case EventPaymentFailed:
		payload = &PaymentFailed{}
	default:
		return nil, fmt.Errorf("unknown event type %q", e.EventType)
	}

	if err := json.Unmarshal(e.Payload, payload); err != nil {
		return nil, fmt.Errorf("unmarshal %s payload: %w", e.EventType, err)
	}

	return payload, nil
}
