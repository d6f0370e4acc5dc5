package domain

import "time"

type AffiliateSaleStatus string

const (
	// AffiliateSalePending: order approved, commission accrued but not yet earned.
	AffiliateSalePending AffiliateSaleStatus = "PENDING"
	// AffiliateSaleConfirmed: order delivered, holding period running.
	AffiliateSaleConfirmed AffiliateSaleStatus = "CONFIRMED"
	// AffiliateSaleAvailable: holding period elapsed, commission withdrawable.
	AffiliateSaleAvailable AffiliateSaleStatus = "AVAILABLE"
)

type AffiliateSale struct {
	ID               string              `json:"id"`
	OrderID          string              `json:"order_id"`
	AffiliateID      string              `json:"affiliate_id"`
	CommissionAmount int64               `json:"commission_amount"`
	Status           AffiliateSaleStatus `json:"status"`
	AvailableAt      *time.Time          `json:"available_at,omitempty"`
	CreatedAt        time.Time           `json:"created_at"`
}

// Commission computes the affiliate commission for an order total, in
// centavos, at the given rate in basis points. Truncates toward zero.
func Commission(total int64, rateBps int64) int64 {
	return total * rateBps / 10000
}
