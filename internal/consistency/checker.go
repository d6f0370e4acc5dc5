package consistency

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/rmaluf/marketplace-recon/internal/domain"
	"github.com/rmaluf/marketplace-recon/internal/telemetry"
)

type OrderStore interface {
	FindShippedBefore(ctx context.Context, cutoff time.Time) ([]domain.Order, error)
	FlagForReview(ctx context.Context, id, reason string) (bool, error)
}

type AffiliateStore interface {
	CreateForOrder(ctx context.Context, orderID, affiliateID string, commission int64) (bool, error)
	Confirm(ctx context.Context, orderID string, availableAt time.Time) (bool, error)
	ReleaseMatured(ctx context.Context, now time.Time) ([]string, error)
	FindPendingForDeliveredOrders(ctx context.Context) ([]domain.AffiliateSale, error)
	FindDeliveredWithoutSale(ctx context.Context) ([]domain.Order, error)
}

type LedgerStore interface {
	FindDriftedAccounts(ctx context.Context) ([]string, error)
	RecomputeBalance(ctx context.Context, sellerID string) (int64, error)
}

const ReasonDeliveryOverdue = "delivery_overdue"

// Anomaly summarizes one drift class: how many records were found, which, and
// how many of them this run repaired.
type Anomaly struct {
	Detected int      `json:"detected"`
	Repaired int      `json:"repaired"`
	IDs      []string `json:"ids,omitempty"`
}

type Report struct {
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Repair     bool      `json:"repair"`

	// Affiliate sales still PENDING although the order is DELIVERED.
	StalePendingSales Anomaly `json:"stale_pending_sales"`
	// Delivered orders with affiliate attribution but no sale row at all.
	MissingSales Anomaly `json:"missing_sales"`
	// SHIPPED orders past the delivery SLA; flagged, never auto-resolved.
	OverdueShipments Anomaly `json:"overdue_shipments"`
	// Seller balances that disagree with their transaction log.
	DriftedBalances Anomaly `json:"drifted_balances"`
	// CONFIRMED commissions whose holding period elapsed this run.
	ReleasedCommissions Anomaly `json:"released_commissions"`

	Errors []string `json:"errors,omitempty"`
}

// Checker is the periodic drift sweep. The same Run serves the scheduler tick
// and the on-demand admin trigger, so both paths behave identically. With
// Repair disabled it only reports.
type Checker struct {
	orders     OrderStore
	affiliates AffiliateStore
	ledger     LedgerStore

	holdPeriod    time.Duration
	commissionBps int64
	deliverySLA   time.Duration
	repair        bool

	metrics *telemetry.Recorder
	logger  *slog.Logger
	nowFunc func() time.Time
}

type Options struct {
	HoldPeriod    time.Duration
	CommissionBps int64
	DeliverySLA   time.Duration
	Repair        bool
}

func NewChecker(orderStore OrderStore, affiliateStore AffiliateStore, ledger LedgerStore, opts Options, metrics *telemetry.Recorder, logger *slog.Logger) *Checker {
	return &Checker{
		orders:        orderStore,
		affiliates:    affiliateStore,
		ledger:        ledger,
		holdPeriod:    opts.HoldPeriod,
		commissionBps: opts.CommissionBps,
		deliverySLA:   opts.DeliverySLA,
		repair:        opts.Repair,
		metrics:       metrics,
		logger:        logger,
		nowFunc:       time.Now,
	}
}

func (c *Checker) Run(ctx context.Context) (*Report, error) {
	now := c.nowFunc().UTC()
	report := &Report{StartedAt: now, Repair: c.repair}

	c.checkStalePendingSales(ctx, report, now)
	c.checkMissingSales(ctx, report, now)
	c.checkOverdueShipments(ctx, report, now)
	c.checkDriftedBalances(ctx, report)
	c.releaseMaturedCommissions(ctx, report, now)

	report.FinishedAt = c.nowFunc().UTC()

	c.logger.Info("consistency sweep finished",
		"stale_pending_sales", report.StalePendingSales.Detected,
		"missing_sales", report.MissingSales.Detected,
		"overdue_shipments", report.OverdueShipments.Detected,
		"drifted_balances", report.DriftedBalances.Detected,
		"released_commissions", report.ReleasedCommissions.Detected,
		"errors", len(report.Errors),
		"repair", c.repair,
	)

	return report, nil
}

func (c *Checker) checkStalePendingSales(ctx context.Context, report *Report, now time.Time) {
	sales, err := c.affiliates.FindPendingForDeliveredOrders(ctx)
	if err != nil {
		report.fail("find stale pending sales: %v", err)
		return
	}

	for _, sale := range sales {
		report.StalePendingSales.add(sale.OrderID)
		c.metrics.RecordAnomaly(ctx, "stale_pending_sale", c.repair)
		if !c.repair {
			continue
		}

		confirmed, err := c.affiliates.Confirm(ctx, sale.OrderID, now.Add(c.holdPeriod))
		if err != nil {
			report.fail("force-confirm sale for order %s: %v", sale.OrderID, err)
			continue
		}
		if confirmed {
			report.StalePendingSales.Repaired++
			c.logger.Warn("force-confirmed stale affiliate sale", "order_id", sale.OrderID)
		}
	}
}

func (c *Checker) checkMissingSales(ctx context.Context, report *Report, now time.Time) {
	missing, err := c.affiliates.FindDeliveredWithoutSale(ctx)
	if err != nil {
		report.fail("find missing sales: %v", err)
		return
	}

	for _, order := range missing {
		report.MissingSales.add(order.ID)
		c.metrics.RecordAnomaly(ctx, "missing_sale", c.repair)
		if !c.repair {
			continue
		}

		commission := domain.Commission(order.Total, c.commissionBps)
		if _, err := c.affiliates.CreateForOrder(ctx, order.ID, order.AffiliateID, commission); err != nil {
			report.fail("create missing sale for order %s: %v", order.ID, err)
			continue
		}
		// the order is already delivered, move straight into the holding period
		if _, err := c.affiliates.Confirm(ctx, order.ID, now.Add(c.holdPeriod)); err != nil {
			report.fail("confirm recreated sale for order %s: %v", order.ID, err)
			continue
		}
		report.MissingSales.Repaired++
		c.logger.Warn("recreated missing affiliate sale", "order_id", order.ID)
	}
}

func (c *Checker) checkOverdueShipments(ctx context.Context, report *Report, now time.Time) {
	overdue, err := c.orders.FindShippedBefore(ctx, now.Add(-c.deliverySLA))
	if err != nil {
		report.fail("find overdue shipments: %v", err)
		return
	}

	for _, order := range overdue {
		report.OverdueShipments.add(order.ID)
		c.metrics.RecordAnomaly(ctx, "overdue_shipment", false)
		if !c.repair {
			continue
		}

		// flag only; a missing delivery scan needs human eyes
		flagged, err := c.orders.FlagForReview(ctx, order.ID, ReasonDeliveryOverdue)
		if err != nil {
			report.fail("flag order %s: %v", order.ID, err)
			continue
		}
		if flagged {
			report.OverdueShipments.Repaired++
		}
	}
}

func (c *Checker) checkDriftedBalances(ctx context.Context, report *Report) {
	drifted, err := c.ledger.FindDriftedAccounts(ctx)
	if err != nil {
		report.fail("find drifted balances: %v", err)
		return
	}

	for _, sellerID := range drifted {
		report.DriftedBalances.add(sellerID)
		c.metrics.RecordAnomaly(ctx, "drifted_balance", c.repair)
		if !c.repair {
			continue
		}

		balance, err := c.ledger.RecomputeBalance(ctx, sellerID)
		if err != nil {
			report.fail("recompute balance for seller %s: %v", sellerID, err)
			continue
		}
		report.DriftedBalances.Repaired++
		c.logger.Warn("recomputed drifted seller balance", "seller_id", sellerID, "balance", balance)
	}
}

func (c *Checker) releaseMaturedCommissions(ctx context.Context, report *Report, now time.Time) {
	if !c.repair {
		return
	}

	released, err := c.affiliates.ReleaseMatured(ctx, now)
	if err != nil {
		report.fail("release matured commissions: %v", err)
		return
	}

	for _, orderID := range released {
		report.ReleasedCommissions.add(orderID)
		report.ReleasedCommissions.Repaired++
	}
}

func (a *Anomaly) add(id string) {
	a.Detected++
	a.IDs = append(a.IDs, id)
}

func (r *Report) fail(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}
