package domain

import "time"

type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "PENDING"
	OrderStatusProcessing OrderStatus = "PROCESSING"
	OrderStatusShipped    OrderStatus = "SHIPPED"
	OrderStatusDelivered  OrderStatus = "DELIVERED"
	OrderStatusCancelled  OrderStatus = "CANCELLED"
)

type ItemType string

const (
	ItemTypeStock        ItemType = "STOCK"
	ItemTypeDropshipping ItemType = "DROPSHIPPING"
)

type OrderItem struct {
	ID            string   `json:"id"`
	ProductID     string   `json:"product_id"`
	SellerID      string   `json:"seller_id"`
	ItemType      ItemType `json:"item_type"`
	Quantity      int      `json:"quantity"`
	Price         int64    `json:"price"`
	SellerRevenue int64    `json:"seller_revenue"`
}

type Order struct {
	ID                string        `json:"id"`
	GroupID           string        `json:"group_id,omitempty"`
	CustomerID        string        `json:"customer_id"`
	AffiliateID       string        `json:"affiliate_id,omitempty"`
	Items             []OrderItem   `json:"items"`
	Total             int64         `json:"total"`
	Status            OrderStatus   `json:"status"`
	PaymentStatus     PaymentStatus `json:"payment_status"`
	PaymentID         string        `json:"payment_id,omitempty"`
	PaymentApprovedAt *time.Time    `json:"payment_approved_at,omitempty"`
	SeparatedAt       *time.Time    `json:"separated_at,omitempty"`
	PackedAt          *time.Time    `json:"packed_at,omitempty"`
	ShippedAt         *time.Time    `json:"shipped_at,omitempty"`
	DeliveredAt       *time.Time    `json:"delivered_at,omitempty"`
	CreatedAt         time.Time     `json:"created_at"`
}

// transitions holds the allowed forward moves of the order status machine.
// Payment approval drives PENDING→PROCESSING; fulfillment drives the rest.
// CANCELLED is reachable from any non-terminal state and is terminal.
var transitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:    {OrderStatusProcessing, OrderStatusCancelled},
	OrderStatusProcessing: {OrderStatusShipped, OrderStatusCancelled},
	OrderStatusShipped:    {OrderStatusDelivered, OrderStatusCancelled},
}

func CanTransition(from, to OrderStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func (s OrderStatus) Terminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled
}

func ValidOrderStatus(s OrderStatus) bool {
	switch s {
	case OrderStatusPending, OrderStatusProcessing, OrderStatusShipped,
		OrderStatusDelivered, OrderStatusCancelled:
		return true
	}
	return false
}
