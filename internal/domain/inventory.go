package domain

// InventoryRecord tracks stock for a single product. Available and Reserved
// move together: reserving q units does available -= q, reserved += q.
type InventoryRecord struct {
	ProductID string `json:"product_id"`
	Available int    `json:"quantity_available"`
	Reserved  int    `json:"reserved_quantity"`
}

// Reservation is the stock held for one line item of an order. Recorded so
// that a later payment failure can release exactly what was reserved.
type Reservation struct {
	OrderID   string `json:"order_id"`
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}
