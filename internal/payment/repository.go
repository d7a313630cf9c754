package payment

import (
	"context"
	"database/sql"

	"github.com/example/order-saga/internal/domain"
)

type PaymentRepository struct {
	db *sql.DB
}

func NewPaymentRepository(db *sql.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

// CreatePayment claims the triggering event id and inserts the payment in
// one transaction. It returns domain.ErrEventProcessed when the event id was
// already claimed, and (false, nil) when the event is fresh but another
// payment already exists for the order: a multi-item order produces one
// inventory.reserved event per item, and the unique index on order_id
// collapses those into a single payment while still consuming each event.
func (r *PaymentRepository) CreatePayment(ctx context.Context, eventID string, payment *domain.Payment) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	if err := claimEvent(ctx, tx, eventID); err != nil {
		return false, err
	}

	result, err := tx.ExecContext(ctx, `
		INSERT INTO payments (id, order_id, amount, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (order_id) DO NOTHING
	`, payment.ID, payment.OrderID, payment.Amount, payment.Status, payment.CreatedAt)
	if err != nil {
		return false, err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}

	return rowsAffected > 0, nil
}

func (r *PaymentRepository) UpdateStatus(ctx context.Context, paymentID string, status domain.PaymentStatus) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE payments SET status = $1, updated_at = NOW()
		WHERE id = $2
	`, status, paymentID)
	return err
}

func (r *PaymentRepository) GetPayment(ctx context.Context, id string) (*domain.Payment, error) {
	return r.scanPayment(r.db.QueryRowContext(ctx, `
		SELECT id, order_id, amount, status, created_at, updated_at
		FROM payments
		WHERE id = $1
	`, id))
}

func (r *PaymentRepository) GetPaymentByOrder(ctx context.Context, orderID string) (*domain.Payment, error) {
	return r.scanPayment(r.db.QueryRowContext(ctx, `
		SELECT id, order_id, amount, status, created_at, updated_at
		FROM payments
		WHERE order_id = $1
	`, orderID))
}

func (r *PaymentRepository) scanPayment(row *sql.Row) (*domain.Payment, error) {
	payment := &domain.Payment{}

	err := row.Scan(&payment.ID, &payment.OrderID, &payment.Amount, &payment.Status,
		&payment.CreatedAt, &payment.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	return payment, nil
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
