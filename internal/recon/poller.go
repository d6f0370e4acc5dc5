package recon

import (
	"context"
	"errors"
	"log/slog"

	"github.com/rmaluf/marketplace-recon/internal/gateway"
	"github.com/rmaluf/marketplace-recon/internal/telemetry"
)

// Poller scans locally-pending orders that carry a payment reference and asks
// the gateway for the authoritative status of each. Orders are processed
// sequentially to bound gateway load; a failed lookup is logged and skipped,
// the order is picked up again on the next tick.
type Poller struct {
	orders     OrderStore
	gateway    PaymentFetcher
	reconciler *Reconciler
	batchSize  int
	metrics    *telemetry.Recorder
	logger     *slog.Logger
}

func NewPoller(orderStore OrderStore, paymentGateway PaymentFetcher, reconciler *Reconciler, batchSize int, metrics *telemetry.Recorder, logger *slog.Logger) *Poller {
	return &Poller{
		orders:     orderStore,
		gateway:    paymentGateway,
		reconciler: reconciler,
		batchSize:  batchSize,
		metrics:    metrics,
		logger:     logger,
	}
}

type TickSummary struct {
	Checked   int `json:"checked"`
	Approved  int `json:"approved"`
	Rejected  int `json:"rejected"`
	Cancelled int `json:"cancelled"`
	Unchanged int `json:"unchanged"`
	Failed    int `json:"failed"`
}

func (p *Poller) Tick(ctx context.Context) (*TickSummary, error) {
	candidates, err := p.orders.FindPendingWithPayment(ctx, p.batchSize)
	if err != nil {
		return nil, err
	}

	summary := &TickSummary{}
	seenGroups := make(map[string]bool)

	for i := range candidates {
		order := &candidates[i]

		// siblings share one payment; reconciling the group once is enough
		if order.GroupID != "" {
			if seenGroups[order.GroupID] {
				continue
			}
			seenGroups[order.GroupID] = true
		}

		summary.Checked++

		payment, err := p.gateway.GetPayment(ctx, order.PaymentID)
		if err != nil {
			if errors.Is(err, gateway.ErrPaymentNotFound) {
				p.logger.Warn("payment unknown to gateway",
					"order_id", order.ID, "payment_id", order.PaymentID)
			} else {
				p.logger.Error("payment lookup failed",
					"order_id", order.ID, "payment_id", order.PaymentID, "error", err)
			}
			summary.Failed++
			continue
		}

		outcome, err := p.reconciler.Apply(ctx, order, payment.Status)
		if err != nil {
			p.logger.Error("reconciliation failed",
				"order_id", order.ID, "gateway_status", payment.Status, "error", err)
			summary.Failed++
			continue
		}

		p.metrics.RecordReconciliation(ctx, string(outcome))

		switch outcome {
		case OutcomeApproved:
			summary.Approved++
			p.logger.Info("order approved", "order_id", order.ID, "group_id", order.GroupID)
		case OutcomeRejected:
			summary.Rejected++
			p.logger.Info("payment rejected, order kept for retry", "order_id", order.ID)
		case OutcomeCancelled:
			summary.Cancelled++
			p.logger.Info("order cancelled", "order_id", order.ID, "gateway_status", payment.Status)
		default:
			summary.Unchanged++
		}
	}

	return summary, nil
}
