package recon

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rmaluf/marketplace-recon/internal/domain"
	"github.com/rmaluf/marketplace-recon/internal/gateway"
)

func TestPollerTick(t *testing.T) {
	now := time.Now()
	store := newMemOrderStore(
		&domain.Order{ID: "o1", Status: domain.OrderStatusPending, PaymentID: "p1", CreatedAt: now},
		&domain.Order{ID: "o2", Status: domain.OrderStatusPending, PaymentID: "p2", CreatedAt: now.Add(time.Second)},
		&domain.Order{ID: "o3", Status: domain.OrderStatusPending, PaymentID: "p3", CreatedAt: now.Add(2 * time.Second)},
		&domain.Order{ID: "o4", Status: domain.OrderStatusProcessing, PaymentID: "p4", CreatedAt: now},
		&domain.Order{ID: "o5", Status: domain.OrderStatusPending, CreatedAt: now},
	)
	gw := &fakeGateway{
		payments: map[string]*gateway.Payment{
			"p1": {ID: "p1", Status: domain.PaymentStatusApproved},
			"p3": {ID: "p3", Status: domain.PaymentStatusInProcess},
		},
		errs: map[string]error{
			"p2": errors.New("gateway timeout"),
		},
	}
	r := newTestReconciler(store, newMemAffiliateStore(), newMemLedger(), nil)
	p := NewPoller(store, gw, r, 100, nil, testLogger())

	summary, err := p.Tick(context.Background())
	require.NoError(t, err)

	// o4 is not PENDING and o5 has no payment reference; neither is polled
	assert.Equal(t, 3, summary.Checked)
	assert.Equal(t, 1, summary.Approved)
	assert.Equal(t, 1, summary.Failed, "one failed lookup must not abort the batch")
	assert.Equal(t, 1, summary.Unchanged)

	assert.Equal(t, domain.OrderStatusProcessing, store.get("o1").Status)
	assert.Equal(t, domain.OrderStatusPending, store.get("o2").Status)
	assert.Equal(t, domain.OrderStatusPending, store.get("o3").Status)
}

func TestPollerTickDeduplicatesGroups(t *testing.T) {
	now := time.Now()
	store := newMemOrderStore(
		&domain.Order{ID: "o3a", GroupID: "g1", Status: domain.OrderStatusPending, PaymentID: "p1", CreatedAt: now},
		&domain.Order{ID: "o3b", GroupID: "g1", Status: domain.OrderStatusPending, PaymentID: "p1", CreatedAt: now.Add(time.Second)},
	)
	gw := &fakeGateway{
		payments: map[string]*gateway.Payment{
			"p1": {ID: "p1", Status: domain.PaymentStatusApproved},
		},
	}
	r := newTestReconciler(store, newMemAffiliateStore(), newMemLedger(), nil)
	p := NewPoller(store, gw, r, 100, nil, testLogger())

	summary, err := p.Tick(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Checked, "siblings share one payment, polled once")
	assert.Len(t, gw.calls, 1)
	assert.Equal(t, domain.OrderStatusProcessing, store.get("o3a").Status)
	assert.Equal(t, domain.OrderStatusProcessing, store.get("o3b").Status)
}

func TestPollerTickUnknownPayment(t *testing.T) {
	store := newMemOrderStore(
		&domain.Order{ID: "o1", Status: domain.OrderStatusPending, PaymentID: "missing", CreatedAt: time.Now()},
	)
	gw := &fakeGateway{}
	r := newTestReconciler(store, newMemAffiliateStore(), newMemLedger(), nil)
	p := NewPoller(store, gw, r, 100, nil, testLogger())

	summary, err := p.Tick(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, domain.OrderStatusPending, store.get("o1").Status)
}
