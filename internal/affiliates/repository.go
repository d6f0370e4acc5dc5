package affiliates

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/rmaluf/marketplace-recon/internal/domain"
)

type SaleRepository struct {
	db *sql.DB
}

func NewSaleRepository(db *sql.DB) *SaleRepository {
	return &SaleRepository{db: db}
}

// CreateForOrder records the commission accrual for an approved order.
// Creation is at-most-once per order: the unique order_id constraint absorbs
// replays, and the method reports whether this call inserted the row.
func (r *SaleRepository) CreateForOrder(ctx context.Context, orderID, affiliateID string, commission int64) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		INSERT INTO affiliate_sales (id, order_id, affiliate_id, commission_amount, status)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (order_id) DO NOTHING
	`, uuid.New().String(), orderID, affiliateID, commission, domain.AffiliateSalePending)
	if err != nil {
		return false, err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rowsAffected > 0, nil
}

func (r *SaleRepository) GetByOrder(ctx context.Context, orderID string) (*domain.AffiliateSale, error) {
	sale := &domain.AffiliateSale{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, order_id, affiliate_id, commission_amount, status, available_at, created_at
		FROM affiliate_sales
		WHERE order_id = $1
	`, orderID).Scan(&sale.ID, &sale.OrderID, &sale.AffiliateID, &sale.CommissionAmount,
		&sale.Status, &sale.AvailableAt, &sale.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return sale, nil
}

// Confirm moves a PENDING sale to CONFIRMED and starts the holding period.
// Guarded on the current status so a repeated confirm is a no-op.
func (r *SaleRepository) Confirm(ctx context.Context, orderID string, availableAt time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE affiliate_sales
		SET status = $2, available_at = $3, updated_at = now()
		WHERE order_id = $1 AND status = $4
	`, orderID, domain.AffiliateSaleConfirmed, availableAt, domain.AffiliateSalePending)
	if err != nil {
		return false, err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rowsAffected > 0, nil
}

// ReleaseMatured moves CONFIRMED sales whose holding period has elapsed to
// AVAILABLE, returning the order ids released.
func (r *SaleRepository) ReleaseMatured(ctx context.Context, now time.Time) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		UPDATE affiliate_sales
		SET status = $1, updated_at = now()
		WHERE status = $2 AND available_at <= $3
		RETURNING order_id
	`, domain.AffiliateSaleAvailable, domain.AffiliateSaleConfirmed, now)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var orderIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		orderIDs = append(orderIDs, id)
	}

	return orderIDs, rows.Err()
}

// FindPendingForDeliveredOrders returns sales stuck at PENDING although their
// order already reached DELIVERED. These violate the affiliate invariant and
// are force-confirmed by the consistency sweep.
func (r *SaleRepository) FindPendingForDeliveredOrders(ctx context.Context) ([]domain.AffiliateSale, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT s.id, s.order_id, s.affiliate_id, s.commission_amount, s.status, s.available_at, s.created_at
		FROM affiliate_sales s
		JOIN orders o ON o.id = s.order_id
		WHERE s.status = $1 AND o.status = $2
		ORDER BY s.created_at
	`, domain.AffiliateSalePending, domain.OrderStatusDelivered)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var sales []domain.AffiliateSale
	for rows.Next() {
		var sale domain.AffiliateSale
		if err := rows.Scan(&sale.ID, &sale.OrderID, &sale.AffiliateID, &sale.CommissionAmount,
			&sale.Status, &sale.AvailableAt, &sale.CreatedAt); err != nil {
			return nil, err
		}
		sales = append(sales, sale)
	}

	return sales, rows.Err()
}

// FindDeliveredWithoutSale returns delivered orders that carry an affiliate
// attribution but have no sale row at all, usually because the dispatcher
// failed after the status transition landed.
func (r *SaleRepository) FindDeliveredWithoutSale(ctx context.Context) ([]domain.Order, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT o.id, COALESCE(o.affiliate_id, ''), o.total
		FROM orders o
		LEFT JOIN affiliate_sales s ON s.order_id = o.id
		WHERE o.status = $1 AND o.affiliate_id IS NOT NULL AND s.id IS NULL
		ORDER BY o.created_at
	`, domain.OrderStatusDelivered)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var orders []domain.Order
	for rows.Next() {
		var order domain.Order
		if err := rows.Scan(&order.ID, &order.AffiliateID, &order.Total); err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}

	return orders, rows.Err()
}
