package payments

import (
	"context"
	"fmt"
	"strconv"

	"github.com/google/uuid"

	"github.com/festalink/backend/internal/apperr"
)

// Purpose says what a checkout session pays for. It travels in session metadata.
type Purpose string

const (
	PurposeCreditPurchase Purpose = "credit_purchase"
	PurposeLeadUnlock     Purpose = "lead_unlock"
	PurposeSubscription   Purpose = "subscription"
)

func (p Purpose) Valid() bool {
	switch p {
	case PurposeCreditPurchase, PurposeLeadUnlock, PurposeSubscription:
		return true
	}
	return false
}

type Mode string

const (
	ModePayment      Mode = "payment"
	ModeSubscription Mode = "subscription"
)

// Metadata keys written on every checkout session.
const (
	metaPurpose = "purpose"
	metaVendor  = "vendor_id"
	metaCredits = "credits"
	metaQuote   = "quote_id"
)

type CheckoutRequest struct {
	VendorID uuid.UUID
	PriceID  string
	Mode     Mode
	Metadata map[string]string
}

type Checkout struct {
	SessionID string `json:"session_id"`
	URL       string `json:"url"`
}

// Session is a provider checkout session reduced to what reconciliation needs.
type Session struct {
	ID       string
	Paid     bool
	Purpose  Purpose
	VendorID uuid.UUID
	QuoteID  uuid.UUID
	Credits  int
}

// Provider is the payment provider: create a hosted checkout and read it back.
type Provider interface {
	CreateCheckout(ctx context.Context, req CheckoutRequest) (*Checkout, error)
	RetrieveSession(ctx context.Context, sessionID string) (*Session, error)
}

// parseMetadata fills the typed fields of s from session metadata. A session not
// created by this service, or with damaged metadata, is reported as not found.
func parseMetadata(s *Session, md map[string]string) error {
	malformed := func(what string) error {
		return fmt.Errorf("session %s: %s: %w", s.ID, what, apperr.ErrNotFound)
	}
	s.Purpose = Purpose(md[metaPurpose])
	if !s.Purpose.Valid() {
		return malformed("unknown purpose")
	}
	vendorID, err := uuid.Parse(md[metaVendor])
	if err != nil {
		return malformed("bad vendor id")
	}
	s.VendorID = vendorID
	switch s.Purpose {
	case PurposeCreditPurchase:
		n, err := strconv.Atoi(md[metaCredits])
		if err != nil || n <= 0 {
			return malformed("bad credit amount")
		}
		s.Credits = n
	case PurposeLeadUnlock:
		q, err := uuid.Parse(md[metaQuote])
		if err != nil {
			return malformed("bad quote id")
		}
		s.QuoteID = q
	}
	return nil
}
