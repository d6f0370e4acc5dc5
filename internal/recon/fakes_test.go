package recon

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rmaluf/marketplace-recon/internal/domain"
	"github.com/rmaluf/marketplace-recon/internal/gateway"
	"github.com/rmaluf/marketplace-recon/internal/orders"
)

// In-memory store fakes mirroring the guard semantics of the Postgres
// repositories.

type memOrderStore struct {
	mu     sync.Mutex
	orders map[string]*domain.Order
}

func newMemOrderStore(seed ...*domain.Order) *memOrderStore {
	s := &memOrderStore{orders: map[string]*domain.Order{}}
	for _, o := range seed {
		cp := *o
		s.orders[o.ID] = &cp
	}
	return s
}

func (s *memOrderStore) get(id string) *domain.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o, ok := s.orders[id]; ok {
		cp := *o
		return &cp
	}
	return nil
}

func (s *memOrderStore) FindPendingWithPayment(ctx context.Context, limit int) ([]domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Order
	for _, o := range s.orders {
		if o.Status == domain.OrderStatusPending && o.PaymentID != "" {
			out = append(out, *o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memOrderStore) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	return s.get(id), nil
}

func (s *memOrderStore) ListByGroup(ctx context.Context, groupID string) ([]domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Order
	for _, o := range s.orders {
		if o.GroupID == groupID {
			out = append(out, *o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func applyOpts(o *domain.Order, opts orders.TransitionOpts) {
	if opts.PaymentStatus != "" {
		o.PaymentStatus = opts.PaymentStatus
	}
	if opts.PaymentApprovedAt != nil {
		o.PaymentApprovedAt = opts.PaymentApprovedAt
	}
	if opts.ClearPaymentID {
		o.PaymentID = ""
	}
}

func (s *memOrderStore) ApplyTransition(ctx context.Context, id string, from, to domain.OrderStatus, opts orders.TransitionOpts) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok || o.Status != from {
		return false, nil
	}
	o.Status = to
	applyOpts(o, opts)
	return true, nil
}

func (s *memOrderStore) ApplyGroupTransition(ctx context.Context, groupID string, from, to domain.OrderStatus, opts orders.TransitionOpts) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var pending []*domain.Order
	for _, o := range s.orders {
		if o.GroupID != groupID {
			continue
		}
		switch o.Status {
		case from:
			pending = append(pending, o)
		case to:
		default:
			return 0, fmt.Errorf("group %s: order %s is %s, expected %s or %s", groupID, o.ID, o.Status, from, to)
		}
	}

	for _, o := range pending {
		o.Status = to
		applyOpts(o, opts)
	}
	return len(pending), nil
}

func (s *memOrderStore) ClearPayment(ctx context.Context, id string, paymentStatus domain.PaymentStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok || o.Status != domain.OrderStatusPending {
		return false, nil
	}
	o.PaymentID = ""
	o.PaymentStatus = paymentStatus
	return true, nil
}

func (s *memOrderStore) ClearGroupPayment(ctx context.Context, groupID string, paymentStatus domain.PaymentStatus) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cleared := 0
	for _, o := range s.orders {
		if o.GroupID == groupID && o.Status == domain.OrderStatusPending {
			o.PaymentID = ""
			o.PaymentStatus = paymentStatus
			cleared++
		}
	}
	return cleared, nil
}

type memAffiliateStore struct {
	mu    sync.Mutex
	sales map[string]*domain.AffiliateSale // keyed by order id
}

func newMemAffiliateStore() *memAffiliateStore {
	return &memAffiliateStore{sales: map[string]*domain.AffiliateSale{}}
}

func (s *memAffiliateStore) CreateForOrder(ctx context.Context, orderID, affiliateID string, commission int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sales[orderID]; exists {
		return false, nil
	}
	s.sales[orderID] = &domain.AffiliateSale{
		ID:               "sale-" + orderID,
		OrderID:          orderID,
		AffiliateID:      affiliateID,
		CommissionAmount: commission,
		Status:           domain.AffiliateSalePending,
	}
	return true, nil
}

func (s *memAffiliateStore) Confirm(ctx context.Context, orderID string, availableAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sale, ok := s.sales[orderID]
	if !ok || sale.Status != domain.AffiliateSalePending {
		return false, nil
	}
	sale.Status = domain.AffiliateSaleConfirmed
	sale.AvailableAt = &availableAt
	return true, nil
}

type memLedger struct {
	mu       sync.Mutex
	balances map[string]int64
	entries  map[string]int64 // keyed seller|order|kind
}

func newMemLedger() *memLedger {
	return &memLedger{balances: map[string]int64{}, entries: map[string]int64{}}
}

func (l *memLedger) Credit(ctx context.Context, sellerID, orderID string, amount int64, kind domain.TransactionKind, memo string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := sellerID + "|" + orderID + "|" + string(kind)
	if _, exists := l.entries[key]; exists {
		return false, nil
	}
	l.entries[key] = amount
	l.balances[sellerID] += amount
	return true, nil
}

type fakeGateway struct {
	payments map[string]*gateway.Payment
	errs     map[string]error
	calls    []string
}

func (g *fakeGateway) GetPayment(ctx context.Context, id string) (*gateway.Payment, error) {
	g.calls = append(g.calls, id)
	if err, ok := g.errs[id]; ok {
		return nil, err
	}
	if p, ok := g.payments[id]; ok {
		return p, nil
	}
	return nil, gateway.ErrPaymentNotFound
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []any
}

func (p *recordingPublisher) Publish(ctx context.Context, key string, event any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}
