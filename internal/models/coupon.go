package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CouponLifetime is fixed; callers cannot choose a longer expiry.
const CouponLifetime = 7 * 24 * time.Hour

type Coupon struct {
	ID              uuid.UUID       `json:"id"`
	VendorID        uuid.UUID       `json:"vendor_id"`
	Code            string          `json:"code"`
	DiscountPercent decimal.Decimal `json:"discount_percent"`
	MaxUses         *int            `json:"max_uses,omitempty"`
	CurrentUses     int             `json:"current_uses"`
	IsActive        bool            `json:"is_active"`
	ExpiresAt       time.Time       `json:"expires_at"`
	CreatedAt       time.Time       `json:"created_at"`
}

// Redeemable reports whether the coupon can take one more use at now.
func (c *Coupon) Redeemable(now time.Time) bool {
	if !c.IsActive || !now.Before(c.ExpiresAt) {
		return false
	}
	return c.MaxUses == nil || c.CurrentUses < *c.MaxUses
}
