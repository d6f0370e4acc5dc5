package recon

import (
	"context"
	"time"

	"github.com/rmaluf/marketplace-recon/internal/domain"
	"github.com/rmaluf/marketplace-recon/internal/gateway"
	"github.com/rmaluf/marketplace-recon/internal/orders"
)

// Store interfaces consumed by the reconciliation components. The concrete
// Postgres repositories satisfy them; tests substitute in-memory fakes.

type OrderStore interface {
	FindPendingWithPayment(ctx context.Context, limit int) ([]domain.Order, error)
	GetByID(ctx context.Context, id string) (*domain.Order, error)
	ListByGroup(ctx context.Context, groupID string) ([]domain.Order, error)
	ApplyTransition(ctx context.Context, id string, from, to domain.OrderStatus, opts orders.TransitionOpts) (bool, error)
	ApplyGroupTransition(ctx context.Context, groupID string, from, to domain.OrderStatus, opts orders.TransitionOpts) (int, error)
	ClearPayment(ctx context.Context, id string, paymentStatus domain.PaymentStatus) (bool, error)
	ClearGroupPayment(ctx context.Context, groupID string, paymentStatus domain.PaymentStatus) (int, error)
}

type AffiliateStore interface {
	CreateForOrder(ctx context.Context, orderID, affiliateID string, commission int64) (bool, error)
	Confirm(ctx context.Context, orderID string, availableAt time.Time) (bool, error)
}

type LedgerStore interface {
	Credit(ctx context.Context, sellerID, orderID string, amount int64, kind domain.TransactionKind, memo string) (bool, error)
}

type PaymentFetcher interface {
	GetPayment(ctx context.Context, id string) (*gateway.Payment, error)
}

type EventPublisher interface {
	Publish(ctx context.Context, key string, event any) error
}
