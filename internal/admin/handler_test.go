package admin

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rmaluf/marketplace-recon/internal/consistency"
	"github.com/rmaluf/marketplace-recon/internal/domain"
	"github.com/rmaluf/marketplace-recon/internal/orders"
	"github.com/rmaluf/marketplace-recon/internal/recon"
	"github.com/rmaluf/marketplace-recon/internal/scheduler"
)

type fakeOrderStore struct {
	order       *domain.Order
	transitions []string
	reset       bool
	delivered   bool
}

func (f *fakeOrderStore) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	if f.order == nil || f.order.ID != id {
		return nil, nil
	}
	cp := *f.order
	return &cp, nil
}

func (f *fakeOrderStore) ApplyTransition(ctx context.Context, id string, from, to domain.OrderStatus, opts orders.TransitionOpts) (bool, error) {
	if f.order == nil || f.order.Status != from {
		return false, nil
	}
	f.order.Status = to
	f.transitions = append(f.transitions, string(from)+"->"+string(to))
	return true, nil
}

func (f *fakeOrderStore) AdminResetFulfillment(ctx context.Context, id string) (bool, error) {
	if f.order == nil || f.order.Status == domain.OrderStatusPending {
		return false, nil
	}
	f.order.Status = domain.OrderStatusProcessing
	f.order.SeparatedAt = nil
	f.order.PackedAt = nil
	f.order.ShippedAt = nil
	f.order.DeliveredAt = nil
	f.reset = true
	return true, nil
}

func (f *fakeOrderStore) MarkSeparated(ctx context.Context, id string, at time.Time) (bool, error) {
	if f.order.Status != domain.OrderStatusProcessing || f.order.SeparatedAt != nil {
		return false, nil
	}
	f.order.SeparatedAt = &at
	return true, nil
}

func (f *fakeOrderStore) MarkPacked(ctx context.Context, id string, at time.Time) (bool, error) {
	if f.order.SeparatedAt == nil || f.order.PackedAt != nil {
		return false, nil
	}
	f.order.PackedAt = &at
	return true, nil
}

func (f *fakeOrderStore) MarkShipped(ctx context.Context, id string, at time.Time) (bool, error) {
	if f.order.PackedAt == nil || f.order.ShippedAt != nil {
		return false, nil
	}
	f.order.Status = domain.OrderStatusShipped
	f.order.ShippedAt = &at
	return true, nil
}

func (f *fakeOrderStore) MarkDelivered(ctx context.Context, id string, at time.Time) (bool, error) {
	if f.order.Status != domain.OrderStatusShipped {
		return false, nil
	}
	f.order.Status = domain.OrderStatusDelivered
	f.order.DeliveredAt = &at
	return true, nil
}

type fakeSweeper struct {
	report *consistency.Report
}

func (f *fakeSweeper) Run(ctx context.Context) (*consistency.Report, error) {
	return f.report, nil
}

type fakePoller struct {
	summary *recon.TickSummary
}

func (f *fakePoller) Tick(ctx context.Context) (*recon.TickSummary, error) {
	return f.summary, nil
}

type fakeJobs struct{}

func (fakeJobs) Statuses() []scheduler.JobStatus {
	return []scheduler.JobStatus{{Name: "payment-poll", Interval: time.Minute, Runs: 7}}
}

type fakeDispatcher struct {
	delivered []string
}

func (f *fakeDispatcher) OrderDelivered(ctx context.Context, order *domain.Order) error {
	f.delivered = append(f.delivered, order.ID)
	return nil
}

func newTestHandler(store *fakeOrderStore, dispatcher *fakeDispatcher) *Handler {
	return NewHandler(store,
		&fakeSweeper{report: &consistency.Report{Repair: true}},
		&fakePoller{summary: &recon.TickSummary{Checked: 2, Approved: 1}},
		fakeJobs{},
		dispatcher,
		slog.New(slog.NewTextHandler(io.Discard, nil)),
	)
}

func newMux(h *Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /admin/consistency/run", h.HandleRunSweep)
	mux.HandleFunc("POST /admin/poller/run", h.HandleRunPoll)
	mux.HandleFunc("GET /admin/scheduler", h.HandleJobs)
	mux.HandleFunc("GET /admin/orders/{id}", h.HandleGetOrder)
	mux.HandleFunc("PATCH /admin/orders/{id}/status", h.HandleOverrideStatus)
	mux.HandleFunc("POST /admin/orders/{id}/fulfillment", h.HandleFulfillment)
	return mux
}

func TestHandleRunSweep(t *testing.T) {
	h := newTestHandler(&fakeOrderStore{}, &fakeDispatcher{})
	req := httptest.NewRequest(http.MethodPost, "/admin/consistency/run", nil)
	rec := httptest.NewRecorder()

	newMux(h).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var report consistency.Report
	if err := json.NewDecoder(rec.Body).Decode(&report); err != nil {
		t.Fatalf("failed to decode report: %v", err)
	}
	if !report.Repair {
		t.Error("expected repair report")
	}
}

func TestHandleRunPoll(t *testing.T) {
	h := newTestHandler(&fakeOrderStore{}, &fakeDispatcher{})
	req := httptest.NewRequest(http.MethodPost, "/admin/poller/run", nil)
	rec := httptest.NewRecorder()

	newMux(h).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var summary recon.TickSummary
	if err := json.NewDecoder(rec.Body).Decode(&summary); err != nil {
		t.Fatalf("failed to decode summary: %v", err)
	}
	if summary.Checked != 2 || summary.Approved != 1 {
		t.Errorf("unexpected summary: %+v", summary)
	}
}

func TestHandleJobs(t *testing.T) {
	h := newTestHandler(&fakeOrderStore{}, &fakeDispatcher{})
	req := httptest.NewRequest(http.MethodGet, "/admin/scheduler", nil)
	rec := httptest.NewRecorder()

	newMux(h).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "payment-poll") {
		t.Errorf("expected job name in body: %s", rec.Body.String())
	}
}

func TestHandleOverrideStatus(t *testing.T) {
	t.Run("applies an allowed transition", func(t *testing.T) {
		store := &fakeOrderStore{order: &domain.Order{ID: "o1", Status: domain.OrderStatusProcessing}}
		h := newTestHandler(store, &fakeDispatcher{})

		req := httptest.NewRequest(http.MethodPatch, "/admin/orders/o1/status",
			strings.NewReader(`{"status":"CANCELLED"}`))
		rec := httptest.NewRecorder()
		newMux(h).ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		if store.order.Status != domain.OrderStatusCancelled {
			t.Errorf("expected CANCELLED, got %s", store.order.Status)
		}
	})

	t.Run("rejects a disallowed transition", func(t *testing.T) {
		store := &fakeOrderStore{order: &domain.Order{ID: "o1", Status: domain.OrderStatusPending}}
		h := newTestHandler(store, &fakeDispatcher{})

		req := httptest.NewRequest(http.MethodPatch, "/admin/orders/o1/status",
			strings.NewReader(`{"status":"DELIVERED"}`))
		rec := httptest.NewRecorder()
		newMux(h).ServeHTTP(rec, req)

		if rec.Code != http.StatusConflict {
			t.Fatalf("expected 409, got %d", rec.Code)
		}
		if store.order.Status != domain.OrderStatusPending {
			t.Errorf("order must be untouched, got %s", store.order.Status)
		}
	})

	t.Run("delivered override stamps and fires downstream effects", func(t *testing.T) {
		shipped := time.Now()
		store := &fakeOrderStore{order: &domain.Order{
			ID: "o1", Status: domain.OrderStatusShipped, ShippedAt: &shipped,
		}}
		dispatcher := &fakeDispatcher{}
		h := newTestHandler(store, dispatcher)

		req := httptest.NewRequest(http.MethodPatch, "/admin/orders/o1/status",
			strings.NewReader(`{"status":"DELIVERED"}`))
		rec := httptest.NewRecorder()
		newMux(h).ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		if store.order.Status != domain.OrderStatusDelivered {
			t.Errorf("expected DELIVERED, got %s", store.order.Status)
		}
		if store.order.DeliveredAt == nil {
			t.Error("expected delivered stamp set")
		}
		if len(dispatcher.delivered) != 1 || dispatcher.delivered[0] != "o1" {
			t.Errorf("expected delivery effects for o1, got %v", dispatcher.delivered)
		}
	})

	t.Run("terminal order conflicts", func(t *testing.T) {
		store := &fakeOrderStore{order: &domain.Order{ID: "o1", Status: domain.OrderStatusCancelled}}
		h := newTestHandler(store, &fakeDispatcher{})

		req := httptest.NewRequest(http.MethodPatch, "/admin/orders/o1/status",
			strings.NewReader(`{"status":"PROCESSING"}`))
		rec := httptest.NewRecorder()
		newMux(h).ServeHTTP(rec, req)

		if rec.Code != http.StatusConflict {
			t.Fatalf("expected 409, got %d", rec.Code)
		}
		if store.order.Status != domain.OrderStatusCancelled {
			t.Errorf("order must be untouched, got %s", store.order.Status)
		}
	})

	t.Run("force reset rewinds fulfillment", func(t *testing.T) {
		shipped := time.Now()
		store := &fakeOrderStore{order: &domain.Order{
			ID: "o1", Status: domain.OrderStatusShipped, ShippedAt: &shipped,
		}}
		h := newTestHandler(store, &fakeDispatcher{})

		req := httptest.NewRequest(http.MethodPatch, "/admin/orders/o1/status",
			strings.NewReader(`{"status":"PROCESSING","force":true}`))
		rec := httptest.NewRecorder()
		newMux(h).ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		if !store.reset {
			t.Error("expected fulfillment reset")
		}
		if store.order.ShippedAt != nil {
			t.Error("expected shipped stamp cleared")
		}
	})

	t.Run("404 for unknown order", func(t *testing.T) {
		h := newTestHandler(&fakeOrderStore{}, &fakeDispatcher{})

		req := httptest.NewRequest(http.MethodPatch, "/admin/orders/nope/status",
			strings.NewReader(`{"status":"CANCELLED"}`))
		rec := httptest.NewRecorder()
		newMux(h).ServeHTTP(rec, req)

		if rec.Code != http.StatusNotFound {
			t.Fatalf("expected 404, got %d", rec.Code)
		}
	})
}

func TestHandleFulfillment(t *testing.T) {
	t.Run("delivered fires downstream effects", func(t *testing.T) {
		packed := time.Now()
		shipped := time.Now()
		store := &fakeOrderStore{order: &domain.Order{
			ID: "o1", Status: domain.OrderStatusShipped,
			SeparatedAt: &packed, PackedAt: &packed, ShippedAt: &shipped,
		}}
		dispatcher := &fakeDispatcher{}
		h := newTestHandler(store, dispatcher)

		req := httptest.NewRequest(http.MethodPost, "/admin/orders/o1/fulfillment",
			strings.NewReader(`{"stage":"delivered"}`))
		rec := httptest.NewRecorder()
		newMux(h).ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		if store.order.Status != domain.OrderStatusDelivered {
			t.Errorf("expected DELIVERED, got %s", store.order.Status)
		}
		if len(dispatcher.delivered) != 1 || dispatcher.delivered[0] != "o1" {
			t.Errorf("expected delivery effects for o1, got %v", dispatcher.delivered)
		}
	})

	t.Run("out-of-order stage conflicts", func(t *testing.T) {
		store := &fakeOrderStore{order: &domain.Order{ID: "o1", Status: domain.OrderStatusProcessing}}
		h := newTestHandler(store, &fakeDispatcher{})

		req := httptest.NewRequest(http.MethodPost, "/admin/orders/o1/fulfillment",
			strings.NewReader(`{"stage":"shipped"}`))
		rec := httptest.NewRecorder()
		newMux(h).ServeHTTP(rec, req)

		if rec.Code != http.StatusConflict {
			t.Fatalf("expected 409, got %d", rec.Code)
		}
	})

	t.Run("unknown stage is a bad request", func(t *testing.T) {
		store := &fakeOrderStore{order: &domain.Order{ID: "o1", Status: domain.OrderStatusProcessing}}
		h := newTestHandler(store, &fakeDispatcher{})

		req := httptest.NewRequest(http.MethodPost, "/admin/orders/o1/fulfillment",
			strings.NewReader(`{"stage":"teleported"}`))
		rec := httptest.NewRecorder()
		newMux(h).ServeHTTP(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rec.Code)
		}
	})
}
