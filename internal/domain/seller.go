package domain

import "time"

type SellerAccount struct {
	SellerID  string    `json:"seller_id"`
	Balance   int64     `json:"balance"`
	UpdatedAt time.Time `json:"updated_at"`
}

type TransactionKind string

const (
	TransactionKindSale       TransactionKind = "SALE"
	TransactionKindAdjustment TransactionKind = "ADJUSTMENT"
	TransactionKindWithdrawal TransactionKind = "WITHDRAWAL"
)

// SellerTransaction is one append-only ledger entry. The account balance is a
// cached projection of these rows and is never authoritative on its own.
type SellerTransaction struct {
	ID        string          `json:"id"`
	SellerID  string          `json:"seller_id"`
	OrderID   string          `json:"order_id,omitempty"`
	Amount    int64           `json:"amount"`
	Kind      TransactionKind `json:"kind"`
	Memo      string          `json:"memo,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}
