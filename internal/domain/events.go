package domain

import "time"

const (
	TopicPaymentApproved = "payment.approved"
	TopicOrderDelivered  = "order.delivered"
)

type PaymentApprovedEvent struct {
	OrderID    string    `json:"order_id"`
	GroupID    string    `json:"group_id,omitempty"`
	CustomerID string    `json:"customer_id"`
	PaymentID  string    `json:"payment_id"`
	Total      int64     `json:"total"`
	Timestamp  time.Time `json:"timestamp"`
}

type OrderDeliveredEvent struct {
	OrderID    string    `json:"order_id"`
	CustomerID string    `json:"customer_id"`
	SellerIDs  []string  `json:"seller_ids"`
	Timestamp  time.Time `json:"timestamp"`
}
