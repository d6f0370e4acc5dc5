package sellers

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"github.com/rmaluf/marketplace-recon/internal/domain"
)

// LedgerRepository owns the seller balance and its backing transaction log.
// The log is append-only and authoritative; the balance column is a cached
// projection maintained in the same transaction as each ledger write.
type LedgerRepository struct {
	db *sql.DB
}

func NewLedgerRepository(db *sql.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// Credit appends a ledger entry and bumps the cached balance atomically.
// The (seller, order, kind) unique index makes a replayed credit for the same
// order a no-op, reported through the returned bool.
func (r *LedgerRepository) Credit(ctx context.Context, sellerID, orderID string, amount int64, kind domain.TransactionKind, memo string) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO seller_accounts (seller_id, balance)
		VALUES ($1, 0)
		ON CONFLICT (seller_id) DO NOTHING
	`, sellerID)
	if err != nil {
		return false, err
	}

	result, err := tx.ExecContext(ctx, `
		INSERT INTO seller_transactions (id, seller_id, order_id, amount, kind, memo)
		VALUES ($1, $2, NULLIF($3, '')::uuid, $4, $5, NULLIF($6, ''))
		ON CONFLICT (seller_id, order_id, kind) WHERE order_id IS NOT NULL DO NOTHING
	`, uuid.New().String(), sellerID, orderID, amount, kind, memo)
	if err != nil {
		return false, err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	if rowsAffected == 0 {
		// ledger already has this entry, leave the balance alone
		return false, tx.Commit()
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE seller_accounts
		SET balance = balance + $2, updated_at = now()
		WHERE seller_id = $1
	`, sellerID, amount)
	if err != nil {
		return false, err
	}

	return true, tx.Commit()
}

func (r *LedgerRepository) Balance(ctx context.Context, sellerID string) (int64, error) {
	var balance int64
	err := r.db.QueryRowContext(ctx, `
		SELECT balance FROM seller_accounts WHERE seller_id = $1
	`, sellerID).Scan(&balance)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, nil
		}
		return 0, err
	}
	return balance, nil
}

func (r *LedgerRepository) SumTransactions(ctx context.Context, sellerID string) (int64, error) {
	var sum int64
	err := r.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount), 0) FROM seller_transactions WHERE seller_id = $1
	`, sellerID).Scan(&sum)
	return sum, err
}

// FindDriftedAccounts returns sellers whose cached balance disagrees with the
// ledger sum.
func (r *LedgerRepository) FindDriftedAccounts(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT a.seller_id
		FROM seller_accounts a
		LEFT JOIN seller_transactions t ON t.seller_id = a.seller_id
		GROUP BY a.seller_id, a.balance
		HAVING a.balance <> COALESCE(SUM(t.amount), 0)
		ORDER BY a.seller_id
	`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var sellerIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		sellerIDs = append(sellerIDs, id)
	}

	return sellerIDs, rows.Err()
}

// RecomputeBalance rewrites the cached balance from the transaction log.
// Repair always flows from the log to the cache, never the other way.
func (r *LedgerRepository) RecomputeBalance(ctx context.Context, sellerID string) (int64, error) {
	var balance int64
	err := r.db.QueryRowContext(ctx, `
		UPDATE seller_accounts
		SET balance = (
			SELECT COALESCE(SUM(amount), 0)
			FROM seller_transactions
			WHERE seller_id = $1
		), updated_at = now()
		WHERE seller_id = $1
		RETURNING balance
	`, sellerID).Scan(&balance)
	return balance, err
}
