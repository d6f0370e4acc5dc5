package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/rmaluf/marketplace-recon/internal/domain"
)

// NotificationHandler turns reconciliation events into customer emails via
// the external email service.
type NotificationHandler struct {
	emailServiceURL string
	httpClient      *http.Client
	logger          *slog.Logger
}

func NewNotificationHandler(emailServiceURL string, client *http.Client, logger *slog.Logger) *NotificationHandler {
	return &NotificationHandler{
		emailServiceURL: emailServiceURL,
		httpClient:      client,
		logger:          logger,
	}
}

func (h *NotificationHandler) HandlePaymentApproved(ctx context.Context, payload []byte) error {
	var event domain.PaymentApprovedEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return fmt.Errorf("unmarshal payment approved event: %w", err)
	}

	h.logger.Info("processing payment approved event",
		"order_id", event.OrderID, "customer_id", event.CustomerID)

	body := map[string]string{
		"to":      event.CustomerID + "@example.com",
		"subject": "Pagamento aprovado: " + event.OrderID,
		"body":    fmt.Sprintf("Payment for order %s was approved and the order is now being prepared.", event.OrderID),
	}
	if err := h.sendEmail(ctx, body); err != nil {
		return fmt.Errorf("send approval email: %w", err)
	}

	return nil
}

func (h *NotificationHandler) HandleOrderDelivered(ctx context.Context, payload []byte) error {
	var event domain.OrderDeliveredEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return fmt.Errorf("unmarshal order delivered event: %w", err)
	}

	h.logger.Info("processing order delivered event",
		"order_id", event.OrderID, "customer_id", event.CustomerID)

	body := map[string]string{
		"to":      event.CustomerID + "@example.com",
		"subject": "Pedido entregue: " + event.OrderID,
		"body":    fmt.Sprintf("Order %s was delivered. Thank you for buying with us.", event.OrderID),
	}
	if err := h.sendEmail(ctx, body); err != nil {
		return fmt.Errorf("send delivery email: %w", err)
	}

	return nil
}

func (h *NotificationHandler) sendEmail(ctx context.Context, body map[string]string) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.emailServiceURL+"/send", bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("email service returned status %d", resp.StatusCode)
	}

	return nil
}
