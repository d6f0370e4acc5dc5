package orders

import (
	"context"
	"time"

	"github.com/rmaluf/marketplace-recon/internal/domain"
)

// Fulfillment stamps are monotonic: each stage requires the previous stamp
// and the matching status, enforced in the WHERE clause so a repeated or
// out-of-order call is a no-op rather than an error.

func (r *OrderRepository) MarkSeparated(ctx context.Context, id string, at time.Time) (bool, error) {
	return r.exec(ctx, `
		UPDATE orders SET separated_at = $2, updated_at = now()
		WHERE id = $1 AND status = $3 AND separated_at IS NULL
	`, id, at, domain.OrderStatusProcessing)
}

func (r *OrderRepository) MarkPacked(ctx context.Context, id string, at time.Time) (bool, error) {
	return r.exec(ctx, `
		UPDATE orders SET packed_at = $2, updated_at = now()
		WHERE id = $1 AND status = $3 AND separated_at IS NOT NULL AND packed_at IS NULL
	`, id, at, domain.OrderStatusProcessing)
}

func (r *OrderRepository) MarkShipped(ctx context.Context, id string, at time.Time) (bool, error) {
	return r.exec(ctx, `
		UPDATE orders SET status = $3, shipped_at = $2, updated_at = now()
		WHERE id = $1 AND status = $4 AND packed_at IS NOT NULL AND shipped_at IS NULL
	`, id, at, domain.OrderStatusShipped, domain.OrderStatusProcessing)
}

func (r *OrderRepository) MarkDelivered(ctx context.Context, id string, at time.Time) (bool, error) {
	return r.exec(ctx, `
		UPDATE orders SET status = $3, delivered_at = $2, updated_at = now()
		WHERE id = $1 AND status = $4 AND delivered_at IS NULL
	`, id, at, domain.OrderStatusDelivered, domain.OrderStatusShipped)
}

// AdminResetFulfillment is the only path that moves an order backwards. It
// rewinds the order to PROCESSING and clears the fulfillment stamps.
func (r *OrderRepository) AdminResetFulfillment(ctx context.Context, id string) (bool, error) {
	return r.exec(ctx, `
		UPDATE orders
		SET status = $2, separated_at = NULL, packed_at = NULL,
		    shipped_at = NULL, delivered_at = NULL, updated_at = now()
		WHERE id = $1 AND status <> $3
	`, id, domain.OrderStatusProcessing, domain.OrderStatusPending)
}

// FindShippedBefore returns SHIPPED orders whose shipment predates the cutoff
// and which still have no delivery stamp.
func (r *OrderRepository) FindShippedBefore(ctx context.Context, cutoff time.Time) ([]domain.Order, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE status = $1 AND delivered_at IS NULL AND shipped_at < $2
		ORDER BY shipped_at
	`, domain.OrderStatusShipped, cutoff)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var orders []domain.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *order)
	}

	return orders, rows.Err()
}

// FlagForReview records a manual-review flag; repeated flags for the same
// order and reason collapse into one row.
func (r *OrderRepository) FlagForReview(ctx context.Context, id, reason string) (bool, error) {
	return r.exec(ctx, `
		INSERT INTO review_flags (order_id, reason)
		VALUES ($1, $2)
		ON CONFLICT (order_id, reason) DO NOTHING
	`, id, reason)
}

func (r *OrderRepository) exec(ctx context.Context, query string, args ...any) (bool, error) {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rowsAffected > 0, nil
}
