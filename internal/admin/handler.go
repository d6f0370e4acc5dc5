package admin

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/rmaluf/marketplace-recon/internal/consistency"
	"github.com/rmaluf/marketplace-recon/internal/domain"
	"github.com/rmaluf/marketplace-recon/internal/orders"
	"github.com/rmaluf/marketplace-recon/internal/recon"
	"github.com/rmaluf/marketplace-recon/internal/scheduler"
)

type OrderStore interface {
	GetByID(ctx context.Context, id string) (*domain.Order, error)
	ApplyTransition(ctx context.Context, id string, from, to domain.OrderStatus, opts orders.TransitionOpts) (bool, error)
	AdminResetFulfillment(ctx context.Context, id string) (bool, error)
	MarkSeparated(ctx context.Context, id string, at time.Time) (bool, error)
	MarkPacked(ctx context.Context, id string, at time.Time) (bool, error)
	MarkShipped(ctx context.Context, id string, at time.Time) (bool, error)
	MarkDelivered(ctx context.Context, id string, at time.Time) (bool, error)
}

type Sweeper interface {
	Run(ctx context.Context) (*consistency.Report, error)
}

type PollRunner interface {
	Tick(ctx context.Context) (*recon.TickSummary, error)
}

type JobReporter interface {
	Statuses() []scheduler.JobStatus
}

type DeliveryDispatcher interface {
	OrderDelivered(ctx context.Context, order *domain.Order) error
}

// Handler is the back-office surface: on-demand sweeps and poll ticks, job
// status, and manual order overrides. The on-demand paths invoke the exact
// same code the scheduler runs.
type Handler struct {
	orders     OrderStore
	sweeper    Sweeper
	poller     PollRunner
	jobs       JobReporter
	dispatcher DeliveryDispatcher
	logger     *slog.Logger
	nowFunc    func() time.Time
}

func NewHandler(orderStore OrderStore, sweeper Sweeper, poller PollRunner, jobs JobReporter, dispatcher DeliveryDispatcher, logger *slog.Logger) *Handler {
	return &Handler{
		orders:     orderStore,
		sweeper:    sweeper,
		poller:     poller,
		jobs:       jobs,
		dispatcher: dispatcher,
		logger:     logger,
		nowFunc:    time.Now,
	}
}

func (h *Handler) HandleRunSweep(w http.ResponseWriter, r *http.Request) {
	report, err := h.sweeper.Run(r.Context())
	if err != nil {
		h.logger.Error("on-demand sweep failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "sweep failed")
		return
	}

	h.logger.Info("on-demand sweep completed", "errors", len(report.Errors))
	h.writeJSON(w, http.StatusOK, report)
}

func (h *Handler) HandleRunPoll(w http.ResponseWriter, r *http.Request) {
	summary, err := h.poller.Tick(r.Context())
	if err != nil {
		h.logger.Error("on-demand poll failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "poll failed")
		return
	}

	h.writeJSON(w, http.StatusOK, summary)
}

func (h *Handler) HandleJobs(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.jobs.Statuses())
}

type overrideStatusRequest struct {
	Status domain.OrderStatus `json:"status"`
	Force  bool               `json:"force"`
}

// HandleOverrideStatus applies a manual status change. Regular overrides must
// respect the transition table; force resets rewind the order to PROCESSING
// and clear its fulfillment stamps.
func (h *Handler) HandleOverrideStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		h.writeError(w, http.StatusBadRequest, "missing order id")
		return
	}

	var req overrideStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !domain.ValidOrderStatus(req.Status) {
		h.writeError(w, http.StatusBadRequest, "invalid status")
		return
	}

	order, err := h.orders.GetByID(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to get order", "error", err, "id", id)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if order == nil {
		h.writeError(w, http.StatusNotFound, "order not found")
		return
	}

	if req.Force && req.Status == domain.OrderStatusProcessing {
		applied, err := h.orders.AdminResetFulfillment(r.Context(), id)
		if err != nil {
			h.logger.Error("failed to reset fulfillment", "error", err, "id", id)
			h.writeError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		if !applied {
			h.writeError(w, http.StatusConflict, "order cannot be reset")
			return
		}
		h.logger.Warn("order fulfillment reset", "order_id", id)
		h.respondWithOrder(w, r, id)
		return
	}

	if order.Status.Terminal() {
		h.writeError(w, http.StatusConflict, "order is in a terminal state")
		return
	}
	if !domain.CanTransition(order.Status, req.Status) {
		h.writeError(w, http.StatusConflict, "transition not allowed")
		return
	}

	// An override to DELIVERED is still a delivery: it stamps delivered_at
	// and owes the same downstream effects as the fulfillment path.
	if req.Status == domain.OrderStatusDelivered {
		applied, err := h.orders.MarkDelivered(r.Context(), id, h.nowFunc().UTC())
		if err != nil {
			h.logger.Error("failed to override status", "error", err, "id", id)
			h.writeError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		if !applied {
			h.writeError(w, http.StatusConflict, "order status changed concurrently")
			return
		}

		h.logger.Warn("order status overridden",
			"order_id", id, "from", order.Status, "to", req.Status)
		h.fireDeliveryEffects(r.Context(), id)
		h.respondWithOrder(w, r, id)
		return
	}

	applied, err := h.orders.ApplyTransition(r.Context(), id, order.Status, req.Status, orders.TransitionOpts{})
	if err != nil {
		h.logger.Error("failed to override status", "error", err, "id", id)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if !applied {
		h.writeError(w, http.StatusConflict, "order status changed concurrently")
		return
	}

	h.logger.Warn("order status overridden",
		"order_id", id, "from", order.Status, "to", req.Status)
	h.respondWithOrder(w, r, id)
}

type fulfillmentRequest struct {
	Stage string `json:"stage"`
}

// HandleFulfillment stamps the next fulfillment stage. Delivery additionally
// fires the downstream effects (commission confirmation, seller credits).
func (h *Handler) HandleFulfillment(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		h.writeError(w, http.StatusBadRequest, "missing order id")
		return
	}

	var req fulfillmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	now := h.nowFunc().UTC()
	var applied bool
	var err error

	switch req.Stage {
	case "separated":
		applied, err = h.orders.MarkSeparated(r.Context(), id, now)
	case "packed":
		applied, err = h.orders.MarkPacked(r.Context(), id, now)
	case "shipped":
		applied, err = h.orders.MarkShipped(r.Context(), id, now)
	case "delivered":
		applied, err = h.orders.MarkDelivered(r.Context(), id, now)
	default:
		h.writeError(w, http.StatusBadRequest, "unknown stage")
		return
	}

	if err != nil {
		h.logger.Error("failed to stamp fulfillment", "error", err, "id", id, "stage", req.Stage)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if !applied {
		h.writeError(w, http.StatusConflict, "stage not applicable in current state")
		return
	}

	h.logger.Info("fulfillment stage stamped", "order_id", id, "stage", req.Stage)

	if req.Stage == "delivered" {
		h.fireDeliveryEffects(r.Context(), id)
	}

	h.respondWithOrder(w, r, id)
}

// fireDeliveryEffects reloads the order and dispatches commission confirmation
// and seller credits. Best-effort; the consistency sweep repairs anything
// missed here.
func (h *Handler) fireDeliveryEffects(ctx context.Context, id string) {
	if h.dispatcher == nil {
		return
	}

	order, err := h.orders.GetByID(ctx, id)
	if err != nil {
		h.logger.Error("failed to reload delivered order", "error", err, "id", id)
		return
	}
	if order == nil {
		return
	}
	if err := h.dispatcher.OrderDelivered(ctx, order); err != nil {
		h.logger.Error("delivery effects failed", "error", err, "order_id", id)
	}
}

func (h *Handler) HandleGetOrder(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		h.writeError(w, http.StatusBadRequest, "missing order id")
		return
	}

	order, err := h.orders.GetByID(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to get order", "error", err, "id", id)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if order == nil {
		h.writeError(w, http.StatusNotFound, "order not found")
		return
	}

	h.writeJSON(w, http.StatusOK, order)
}

func (h *Handler) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) respondWithOrder(w http.ResponseWriter, r *http.Request, id string) {
	order, err := h.orders.GetByID(r.Context(), id)
	if err != nil || order == nil {
		h.writeJSON(w, http.StatusOK, map[string]string{"id": id})
		return
	}
	h.writeJSON(w, http.StatusOK, order)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
