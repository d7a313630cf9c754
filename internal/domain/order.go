package domain

import "time"

type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusConfirmed  OrderStatus = "confirmed"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusCompleted  OrderStatus = "completed"
	OrderStatusCancelled  OrderStatus = "cancelled"
	OrderStatusFailed     OrderStatus = "failed"
)

// IsTerminal reports whether no further status transition is allowed.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusCompleted, OrderStatusCancelled, OrderStatusFailed:
		return true
	}
	return false
}

// AllowedSources returns the statuses an order may be in for a transition
// to s to be legal. The order store uses this as its UPDATE predicate.
func (s OrderStatus) AllowedSources() []OrderStatus {
	switch s {
	case OrderStatusConfirmed:
		return []OrderStatus{OrderStatusPending}
	case OrderStatusProcessing:
		return []OrderStatus{OrderStatusPending, OrderStatusConfirmed}
	case OrderStatusCompleted, OrderStatusFailed, OrderStatusCancelled:
		return []OrderStatus{OrderStatusPending, OrderStatusConfirmed, OrderStatusProcessing}
	}
	return nil
}

type OrderItem struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	Price     int64  `json:"price"`
}

type Order struct {
	ID          string      `json:"id"`
	CustomerID  string      `json:"customer_id"`
	Items       []OrderItem `json:"items"`
	TotalAmount int64       `json:"total_amount"`
	Status      OrderStatus `json:"status"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}
