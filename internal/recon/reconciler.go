package recon

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/rmaluf/marketplace-recon/internal/domain"
	"github.com/rmaluf/marketplace-recon/internal/orders"
)

type Outcome string

const (
	OutcomeApproved  Outcome = "approved"
	OutcomeRejected  Outcome = "rejected"
	OutcomeCancelled Outcome = "cancelled"
	OutcomeNoop      Outcome = "noop"
)

// Reconciler maps a gateway-reported payment status onto the local order
// state machine. Transitions are applied with a status guard, so a status
// report that arrives twice, late, or out of order degrades to a no-op
// instead of corrupting state. Orders sharing a checkout group transition
// together or not at all.
type Reconciler struct {
	orders     OrderStore
	dispatcher *Dispatcher
	logger     *slog.Logger
	nowFunc    func() time.Time
}

func NewReconciler(orderStore OrderStore, dispatcher *Dispatcher, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		orders:     orderStore,
		dispatcher: dispatcher,
		logger:     logger,
		nowFunc:    time.Now,
	}
}

func (r *Reconciler) Apply(ctx context.Context, order *domain.Order, status domain.PaymentStatus) (Outcome, error) {
	if !status.Settled() {
		switch status {
		case domain.PaymentStatusPending, domain.PaymentStatusInProcess:
			// still in flight at the gateway, check again next tick
			return OutcomeNoop, nil
		default:
			return OutcomeNoop, fmt.Errorf("order %s: unknown gateway status %q", order.ID, status)
		}
	}

	switch status {
	case domain.PaymentStatusApproved:
		return r.applyApproval(ctx, order)
	case domain.PaymentStatusRejected:
		return r.applyRejection(ctx, order)
	default:
		// cancelled or refunded, both terminate the order
		return r.applyCancellation(ctx, order, status)
	}
}

func (r *Reconciler) applyApproval(ctx context.Context, order *domain.Order) (Outcome, error) {
	now := r.nowFunc().UTC()
	opts := orders.TransitionOpts{
		PaymentStatus:     domain.PaymentStatusApproved,
		PaymentApprovedAt: &now,
	}

	if order.GroupID != "" {
		moved, err := r.orders.ApplyGroupTransition(ctx, order.GroupID,
			domain.OrderStatusPending, domain.OrderStatusProcessing, opts)
		if err != nil {
			return OutcomeNoop, fmt.Errorf("approve group %s: %w", order.GroupID, err)
		}
		if moved == 0 {
			return OutcomeNoop, nil
		}

		siblings, err := r.orders.ListByGroup(ctx, order.GroupID)
		if err != nil {
			r.logger.Error("failed to load group for downstream effects",
				"group_id", order.GroupID, "error", err)
			return OutcomeApproved, nil
		}
		for i := range siblings {
			r.dispatch(ctx, &siblings[i])
		}
		return OutcomeApproved, nil
	}

	applied, err := r.orders.ApplyTransition(ctx, order.ID,
		domain.OrderStatusPending, domain.OrderStatusProcessing, opts)
	if err != nil {
		return OutcomeNoop, fmt.Errorf("approve order %s: %w", order.ID, err)
	}
	if !applied {
		return OutcomeNoop, nil
	}

	r.dispatch(ctx, order)
	return OutcomeApproved, nil
}

// applyRejection keeps the order PENDING but clears the payment reference so
// the customer can start a fresh payment attempt.
func (r *Reconciler) applyRejection(ctx context.Context, order *domain.Order) (Outcome, error) {
	if order.GroupID != "" {
		cleared, err := r.orders.ClearGroupPayment(ctx, order.GroupID, domain.PaymentStatusRejected)
		if err != nil {
			return OutcomeNoop, fmt.Errorf("reject group %s: %w", order.GroupID, err)
		}
		if cleared == 0 {
			return OutcomeNoop, nil
		}
		return OutcomeRejected, nil
	}

	cleared, err := r.orders.ClearPayment(ctx, order.ID, domain.PaymentStatusRejected)
	if err != nil {
		return OutcomeNoop, fmt.Errorf("reject order %s: %w", order.ID, err)
	}
	if !cleared {
		return OutcomeNoop, nil
	}
	return OutcomeRejected, nil
}

// applyCancellation terminates the order: an expired or refunded payment will
// not be retried. The payment reference is cleared with the same write.
func (r *Reconciler) applyCancellation(ctx context.Context, order *domain.Order, status domain.PaymentStatus) (Outcome, error) {
	opts := orders.TransitionOpts{
		PaymentStatus:  status,
		ClearPaymentID: true,
	}

	if order.GroupID != "" {
		moved, err := r.orders.ApplyGroupTransition(ctx, order.GroupID,
			domain.OrderStatusPending, domain.OrderStatusCancelled, opts)
		if err != nil {
			return OutcomeNoop, fmt.Errorf("cancel group %s: %w", order.GroupID, err)
		}
		if moved == 0 {
			return OutcomeNoop, nil
		}
		return OutcomeCancelled, nil
	}

	applied, err := r.orders.ApplyTransition(ctx, order.ID,
		domain.OrderStatusPending, domain.OrderStatusCancelled, opts)
	if err != nil {
		return OutcomeNoop, fmt.Errorf("cancel order %s: %w", order.ID, err)
	}
	if !applied {
		return OutcomeNoop, nil
	}
	return OutcomeCancelled, nil
}

// dispatch fires the downstream effects of an approval. Effects are
// best-effort: a failure is logged and left for the consistency sweep, the
// status transition itself is never rolled back.
func (r *Reconciler) dispatch(ctx context.Context, order *domain.Order) {
	if r.dispatcher == nil {
		return
	}
	if err := r.dispatcher.OrderApproved(ctx, order); err != nil {
		r.logger.Error("downstream effects failed after approval",
			"order_id", order.ID, "error", err)
	}
}
