package inventory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/example/order-saga/internal/domain"
)

var ErrInsufficientStock = errors.New("insufficient stock")

// StockError reports the first line item a reservation could not satisfy. A
// product with no inventory record reports zero available.
type StockError struct {
	ProductID string
	Requested int
	Available int
}

func (e *StockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s: requested %d, available %d",
		e.ProductID, e.Requested, e.Available)
}

func (e *StockError) Unwrap() error { return ErrInsufficientStock }

type InventoryRepository struct {
	db *sql.DB
}

func NewInventoryRepository(db *sql.DB) *InventoryRepository {
	return &InventoryRepository{db: db}
}

func (r *InventoryRepository) GetRecord(ctx context.Context, productID string) (*domain.InventoryRecord, error) {
	record := &domain.InventoryRecord{}

	err := r.db.QueryRowContext(ctx, `
		SELECT product_id, quantity_available, reserved_quantity
		FROM inventory
		WHERE product_id = $1
	`, productID).Scan(&record.ProductID, &record.Available, &record.Reserved)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	return record, nil
}

func (r *InventoryRepository) ListRecords(ctx context.Context) ([]domain.InventoryRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT product_id, quantity_available, reserved_quantity
		FROM inventory
		ORDER BY product_id
	`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var records []domain.InventoryRecord
	for rows.Next() {
		var record domain.InventoryRecord
		if err := rows.Scan(&record.ProductID, &record.Available, &record.Reserved); err != nil {
			return nil, err
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return records, nil
}

func (r *InventoryRepository) CreateRecord(ctx context.Context, record *domain.InventoryRecord) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO inventory (product_id, quantity_available, reserved_quantity)
		VALUES ($1, $2, $3)
	`, record.ProductID, record.Available, record.Reserved)
	return err
}

func (r *InventoryRepository) SetAvailable(ctx context.Context, productID string, quantity int) (*domain.InventoryRecord, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE inventory SET quantity_available = $2
		WHERE product_id = $1
	`, productID, quantity)
	if err != nil {
		return nil, err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}

	if rowsAffected == 0 {
		return nil, nil
	}

	return r.GetRecord(ctx, productID)
}

// ReserveAll reserves every line item of the order in one transaction that
// also claims the triggering event id. The availability check and the
// decrement happen in one statement per item, so concurrent reservations can
// never drive quantity_available below zero, and any failure rolls back the
// claim together with the partial holds. A *StockError names the first item
// that could not be satisfied; domain.ErrEventProcessed means the whole
// reservation was already committed by an earlier delivery.
func (r *InventoryRepository) ReserveAll(ctx context.Context, eventID, orderID string, items []domain.OrderItem) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := claimEvent(ctx, tx, eventID); err != nil {
		return err
	}

	for _, item := range items {
		result, err := tx.ExecContext(ctx, `
			UPDATE inventory
			SET quantity_available = quantity_available - $2, reserved_quantity = reserved_quantity + $2
			WHERE product_id = $1 AND quantity_available >= $2
		`, item.ProductID, item.Quantity)
		if err != nil {
			return err
		}

		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return err
		}

		if rowsAffected == 0 {
			available := 0
			err := tx.QueryRowContext(ctx, `
				SELECT quantity_available FROM inventory WHERE product_id = $1
			`, item.ProductID).Scan(&available)
			if err != nil && err != sql.ErrNoRows {
				return err
			}
			return &StockError{ProductID: item.ProductID, Requested: item.Quantity, Available: available}
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO reservations (order_id, product_id, quantity)
			VALUES ($1, $2, $3)
		`, orderID, item.ProductID, item.Quantity)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// ReservationsFor returns the reservations currently held for the order.
func (r *InventoryRepository) ReservationsFor(ctx context.Context, orderID string) ([]domain.Reservation, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT order_id, product_id, quantity
		FROM reservations
		WHERE order_id = $1
		ORDER BY product_id
	`, orderID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var reservations []domain.Reservation
	for rows.Next() {
		var res domain.Reservation
		if err := rows.Scan(&res.OrderID, &res.ProductID, &res.Quantity); err != nil {
			return nil, err
		}
		reservations = append(reservations, res)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return reservations, nil
}

// ReleaseOrder returns every reservation held for the order back to
// available stock and drops the reservation rows, claiming the triggering
// event id in the same transaction. Releasing an order with no reservations
// is a no-op.
func (r *InventoryRepository) ReleaseOrder(ctx context.Context, eventID, orderID string) ([]domain.Reservation, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	if err := claimEvent(ctx, tx, eventID); err != nil {
		return nil, err
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT order_id, product_id, quantity
		FROM reservations
		WHERE order_id = $1
		FOR UPDATE
	`, orderID)
	if err != nil {
		return nil, err
	}

	var released []domain.Reservation
	for rows.Next() {
		var res domain.Reservation
		if err := rows.Scan(&res.OrderID, &res.ProductID, &res.Quantity); err != nil {
			_ = rows.Close()
			return nil, err
		}
		released = append(released, res)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	for _, res := range released {
		result, err := tx.ExecContext(ctx, `
			UPDATE inventory
			SET quantity_available = quantity_available + $2, reserved_quantity = reserved_quantity - $2
			WHERE product_id = $1 AND reserved_quantity >= $2
		`, res.ProductID, res.Quantity)
		if err != nil {
			return nil, err
		}

		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return nil, err
		}

		if rowsAffected == 0 {
			return nil, fmt.Errorf("release %d of %s: insufficient reserved stock", res.Quantity, res.ProductID)
		}
	}

	if len(released) > 0 {
		if _, err := tx.ExecContext(ctx, `DELETE FROM reservations WHERE order_id = $1`, orderID); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return released, nil
}

// claimEvent inserts the event id inside the caller's transaction, so the
// claim commits or rolls back together with the state change it guards.
func claimEvent(ctx context.Context, tx *sql.Tx, eventID string) error {
	result, err := tx.ExecContext(ctx, `
		INSERT INTO processed_events (event_id) VALUES ($1)
		ON CONFLICT (event_id) DO NOTHING
	`, eventID)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return domain.ErrEventProcessed
	}

	return nil
}
