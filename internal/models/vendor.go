package models

import (
	"time"

	"github.com/google/uuid"
)

type SubscriptionStatus string

const (
	SubscriptionActive   SubscriptionStatus = "active"
	SubscriptionInactive SubscriptionStatus = "inactive"
	SubscriptionPastDue  SubscriptionStatus = "past_due"
)

// ApprovalStatus is moderated by admins only. Payments never change it.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
	ApprovalDeleted  ApprovalStatus = "deleted"
)

// Vendor.ID is the owning account's id.
type Vendor struct {
	ID                    uuid.UUID          `json:"id"`
	BusinessName          string             `json:"business_name"`
	ContactEmail          string             `json:"contact_email"`
	CreditBalance         int                `json:"credit_balance"`
	SubscriptionStatus    SubscriptionStatus `json:"subscription_status"`
	SubscriptionExpiry    *time.Time         `json:"subscription_expiry,omitempty"`
	SubscriptionReference *string            `json:"-"`
	ApprovalStatus        ApprovalStatus     `json:"approval_status"`
	CreatedAt             time.Time          `json:"created_at"`
	UpdatedAt             time.Time          `json:"updated_at"`
}
