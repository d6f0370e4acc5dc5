package orders

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/rmaluf/marketplace-recon/internal/domain"
)

type OrderRepository struct {
	db *sql.DB
}

func NewOrderRepository(db *sql.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

const orderColumns = `id, COALESCE(group_id::text, ''), customer_id, COALESCE(affiliate_id, ''),
	status, payment_status, COALESCE(payment_id, ''), total, payment_approved_at,
	separated_at, packed_at, shipped_at, delivered_at, created_at`

func scanOrder(row interface{ Scan(...any) error }) (*domain.Order, error) {
	order := &domain.Order{}
	err := row.Scan(&order.ID, &order.GroupID, &order.CustomerID, &order.AffiliateID,
		&order.Status, &order.PaymentStatus, &order.PaymentID, &order.Total,
		&order.PaymentApprovedAt, &order.SeparatedAt, &order.PackedAt,
		&order.ShippedAt, &order.DeliveredAt, &order.CreatedAt)
	if err != nil {
		return nil, err
	}
	return order, nil
}

func (r *OrderRepository) Create(ctx context.Context, order *domain.Order) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if order.ID == "" {
		order.ID = uuid.New().String()
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (id, group_id, customer_id, affiliate_id, status, payment_status, payment_id, total, created_at, updated_at)
		VALUES ($1, NULLIF($2, '')::uuid, $3, NULLIF($4, ''), $5, $6, NULLIF($7, ''), $8, $9, $9)
	`, order.ID, order.GroupID, order.CustomerID, order.AffiliateID,
		order.Status, order.PaymentStatus, order.PaymentID, order.Total, order.CreatedAt)
	if err != nil {
		return err
	}

	for i := range order.Items {
		item := &order.Items[i]
		if item.ID == "" {
			item.ID = uuid.New().String()
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO order_items (id, order_id, product_id, seller_id, item_type, quantity, price, seller_revenue)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, item.ID, order.ID, item.ProductID, item.SellerID, item.ItemType,
			item.Quantity, item.Price, item.SellerRevenue)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (r *OrderRepository) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	order, err := scanOrder(r.db.QueryRowContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE id = $1
	`, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, product_id, seller_id, item_type, quantity, price, seller_revenue
		FROM order_items
		WHERE order_id = $1
	`, id)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var item domain.OrderItem
		if err := rows.Scan(&item.ID, &item.ProductID, &item.SellerID, &item.ItemType,
			&item.Quantity, &item.Price, &item.SellerRevenue); err != nil {
			return nil, err
		}
		order.Items = append(order.Items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return order, nil
}

// FindPendingWithPayment returns reconciliation candidates: orders still
// PENDING locally that carry an external payment reference. Items are not
// loaded; the poller only needs the payment reference and group id.
func (r *OrderRepository) FindPendingWithPayment(ctx context.Context, limit int) ([]domain.Order, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE status = $1 AND payment_id IS NOT NULL
		ORDER BY created_at
		LIMIT $2
	`, domain.OrderStatusPending, limit)
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

func (r *OrderRepository) ListByGroup(ctx context.Context, groupID string) ([]domain.Order, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE group_id = $1
		ORDER BY created_at
	`, groupID)
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

// TransitionOpts carries the payment fields written alongside a status move.
type TransitionOpts struct {
	PaymentStatus     domain.PaymentStatus
	PaymentApprovedAt *time.Time
	ClearPaymentID    bool
}

const transitionQuery = `
	UPDATE orders
	SET status = $3,
	    payment_status = CASE WHEN $4 <> '' THEN $4 ELSE payment_status END,
	    payment_approved_at = COALESCE($5, payment_approved_at),
	    payment_id = CASE WHEN $6 THEN NULL ELSE payment_id END,
	    updated_at = now()
	WHERE id = $1 AND status = $2
`

// ApplyTransition moves one order from an expected status to a target status
// with an optimistic-concurrency guard: the write only lands if the row is
// still at the expected status, so re-applying a transition is a no-op.
// Returns whether the write was applied.
func (r *OrderRepository) ApplyTransition(ctx context.Context, id string, from, to domain.OrderStatus, opts TransitionOpts) (bool, error) {
	result, err := r.db.ExecContext(ctx, transitionQuery,
		id, from, to, string(opts.PaymentStatus), opts.PaymentApprovedAt, opts.ClearPaymentID)
	if err != nil {
		return false, err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}

	return rowsAffected > 0, nil
}

// ApplyGroupTransition applies the same guarded transition to every sibling
// order sharing a group id, inside one transaction. The commit only happens
// if every sibling either moved now or was already at the target status, so
// observers never see a partially-transitioned group.
func (r *OrderRepository) ApplyGroupTransition(ctx context.Context, groupID string, from, to domain.OrderStatus, opts TransitionOpts) (int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `
		SELECT id, status
		FROM orders
		WHERE group_id = $1
		FOR UPDATE
	`, groupID)
	if err != nil {
		return 0, err
	}

	var pending, settled []string
	for rows.Next() {
		var id string
		var status domain.OrderStatus
		if err := rows.Scan(&id, &status); err != nil {
			_ = rows.Close()
			return 0, err
		}
		switch status {
		case from:
			pending = append(pending, id)
		case to:
			settled = append(settled, id)
		default:
			_ = rows.Close()
			return 0, fmt.Errorf("group %s: order %s is %s, expected %s or %s", groupID, id, status, from, to)
		}
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return 0, err
	}
	_ = rows.Close()

	if len(pending) == 0 {
		// every sibling already settled, nothing to do
		return 0, tx.Commit()
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE orders
		SET status = $2,
		    payment_status = CASE WHEN $3 <> '' THEN $3 ELSE payment_status END,
		    payment_approved_at = COALESCE($4, payment_approved_at),
		    payment_id = CASE WHEN $5 THEN NULL ELSE payment_id END,
		    updated_at = now()
		WHERE id = ANY($1) AND status = $6
	`, pq.Array(pending), to, string(opts.PaymentStatus), opts.PaymentApprovedAt, opts.ClearPaymentID, from)
	if err != nil {
		return 0, err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	if int(rowsAffected) != len(pending) {
		return 0, fmt.Errorf("group %s: moved %d of %d siblings", groupID, rowsAffected, len(pending))
	}

	return len(pending), tx.Commit()
}

// ClearPayment resets a rejected payment reference while the order stays
// PENDING, allowing the customer a fresh payment attempt.
func (r *OrderRepository) ClearPayment(ctx context.Context, id string, paymentStatus domain.PaymentStatus) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE orders
		SET payment_id = NULL, payment_status = $2, updated_at = now()
		WHERE id = $1 AND status = $3
	`, id, paymentStatus, domain.OrderStatusPending)
	if err != nil {
		return false, err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rowsAffected > 0, nil
}

func (r *OrderRepository) ClearGroupPayment(ctx context.Context, groupID string, paymentStatus domain.PaymentStatus) (int, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE orders
		SET payment_id = NULL, payment_status = $2, updated_at = now()
		WHERE group_id = $1 AND status = $3
	`, groupID, paymentStatus, domain.OrderStatusPending)
	if err != nil {
		return 0, err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(rowsAffected), nil
}
