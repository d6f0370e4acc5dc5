package recon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rmaluf/marketplace-recon/internal/domain"
)

// Dispatcher fires the dependent state changes of an order's lifecycle:
// commission accrual on approval, commission confirmation and seller ledger
// credits on delivery, plus the notification events. Every write it performs
// is idempotent, so the consistency sweep can safely re-run any of them.
type Dispatcher struct {
	affiliates AffiliateStore
	ledger     LedgerStore

	approvedEvents  EventPublisher
	deliveredEvents EventPublisher

	holdPeriod    time.Duration
	commissionBps int64

	logger  *slog.Logger
	nowFunc func() time.Time
}

func NewDispatcher(affiliateStore AffiliateStore, ledger LedgerStore, approvedEvents, deliveredEvents EventPublisher, holdPeriod time.Duration, commissionBps int64, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		affiliates:      affiliateStore,
		ledger:          ledger,
		approvedEvents:  approvedEvents,
		deliveredEvents: deliveredEvents,
		holdPeriod:      holdPeriod,
		commissionBps:   commissionBps,
		logger:          logger,
		nowFunc:         time.Now,
	}
}

// OrderApproved accrues the affiliate commission (at most once per order) and
// publishes the approval event.
func (d *Dispatcher) OrderApproved(ctx context.Context, order *domain.Order) error {
	var errs []error

	if order.AffiliateID != "" {
		commission := domain.Commission(order.Total, d.commissionBps)
		created, err := d.affiliates.CreateForOrder(ctx, order.ID, order.AffiliateID, commission)
		if err != nil {
			errs = append(errs, fmt.Errorf("create affiliate sale: %w", err))
		} else if created {
			d.logger.Info("affiliate sale created",
				"order_id", order.ID, "affiliate_id", order.AffiliateID, "commission", commission)
		}
	}

	if d.approvedEvents != nil {
		event := domain.PaymentApprovedEvent{
			OrderID:    order.ID,
			GroupID:    order.GroupID,
			CustomerID: order.CustomerID,
			PaymentID:  order.PaymentID,
			Total:      order.Total,
			Timestamp:  d.nowFunc().UTC(),
		}
		if err := d.approvedEvents.Publish(ctx, order.ID, event); err != nil {
			errs = append(errs, fmt.Errorf("publish approval event: %w", err))
		}
	}

	return errors.Join(errs...)
}

// OrderDelivered confirms the affiliate sale, starting the holding period,
// and credits each seller's ledger with its share of the order. The ledger
// write is atomic with the balance update and deduplicated per seller+order.
func (d *Dispatcher) OrderDelivered(ctx context.Context, order *domain.Order) error {
	var errs []error

	if order.AffiliateID != "" {
		availableAt := d.nowFunc().UTC().Add(d.holdPeriod)
		confirmed, err := d.affiliates.Confirm(ctx, order.ID, availableAt)
		if err != nil {
			errs = append(errs, fmt.Errorf("confirm affiliate sale: %w", err))
		} else if confirmed {
			d.logger.Info("affiliate sale confirmed",
				"order_id", order.ID, "available_at", availableAt)
		}
	}

	for sellerID, revenue := range sellerRevenues(order.Items) {
		credited, err := d.ledger.Credit(ctx, sellerID, order.ID, revenue,
			domain.TransactionKindSale, "order "+order.ID+" delivered")
		if err != nil {
			errs = append(errs, fmt.Errorf("credit seller %s: %w", sellerID, err))
			continue
		}
		if credited {
			d.logger.Info("seller credited",
				"order_id", order.ID, "seller_id", sellerID, "amount", revenue)
		}
	}

	if d.deliveredEvents != nil {
		event := domain.OrderDeliveredEvent{
			OrderID:    order.ID,
			CustomerID: order.CustomerID,
			SellerIDs:  sellerIDs(order.Items),
			Timestamp:  d.nowFunc().UTC(),
		}
		if err := d.deliveredEvents.Publish(ctx, order.ID, event); err != nil {
			errs = append(errs, fmt.Errorf("publish delivery event: %w", err))
		}
	}

	return errors.Join(errs...)
}

func sellerRevenues(items []domain.OrderItem) map[string]int64 {
	revenues := make(map[string]int64, len(items))
	for _, item := range items {
		revenues[item.SellerID] += item.SellerRevenue
	}
	return revenues
}

func sellerIDs(items []domain.OrderItem) []string {
	seen := make(map[string]bool, len(items))
	var ids []string
	for _, item := range items {
		if !seen[item.SellerID] {
			seen[item.SellerID] = true
			ids = append(ids, item.SellerID)
		}
	}
	return ids
}
