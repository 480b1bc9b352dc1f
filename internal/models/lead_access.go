package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPaid    PaymentStatus = "paid"
)

// LeadAccess records that a vendor has (or is paying for) the right to a quote's contact details.
// One row per (quote, vendor).
type LeadAccess struct {
	ID                uuid.UUID           `json:"id"`
	QuoteID           uuid.UUID           `json:"quote_id"`
	VendorID          uuid.UUID           `json:"vendor_id"`
	PaymentStatus     PaymentStatus       `json:"payment_status"`
	UnlockedAt        *time.Time          `json:"unlocked_at,omitempty"`
	DealClosed        bool                `json:"deal_closed"`
	DealValue         decimal.NullDecimal `json:"deal_value"`
	DealClosedAt      *time.Time          `json:"deal_closed_at,omitempty"`
	ReviewRequestedAt *time.Time          `json:"review_requested_at,omitempty"`
	CreatedAt         time.Time           `json:"created_at"`
}
