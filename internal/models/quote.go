package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type QuoteStatus string

const (
	QuoteOpen      QuoteStatus = "open"
	QuoteProposed  QuoteStatus = "proposed"
	QuoteUnlocked  QuoteStatus = "unlocked"
	QuoteCompleted QuoteStatus = "completed"
	QuoteCancelled QuoteStatus = "cancelled"
)

// Terminal reports whether no further transition is possible.
func (s QuoteStatus) Terminal() bool {
	return s == QuoteCompleted || s == QuoteCancelled
}

type ClientResponse string

const (
	ResponseAccepted ClientResponse = "accepted"
	ResponseRejected ClientResponse = "rejected"
)

type Quote struct {
	ID                uuid.UUID           `json:"id"`
	ClientID          uuid.UUID           `json:"client_id"`
	VendorID          uuid.UUID           `json:"vendor_id"`
	EventDate         time.Time           `json:"event_date"`
	PaxCount          int                 `json:"pax_count"`
	Description       string              `json:"description"`
	ContactName       string              `json:"contact_name,omitempty"`
	ContactEmail      string              `json:"contact_email,omitempty"`
	ContactPhone      string              `json:"contact_phone,omitempty"`
	CreditCost        int                 `json:"credit_cost"`
	Status            QuoteStatus         `json:"status"`
	ProposedValue     decimal.NullDecimal `json:"proposed_value"`
	ProposalMessage   string              `json:"proposal_message,omitempty"`
	ProposedAt        *time.Time          `json:"proposed_at,omitempty"`
	ContractURL       *string             `json:"contract_url,omitempty"`
	ClientResponse    *ClientResponse     `json:"client_response,omitempty"`
	ClientRespondedAt *time.Time          `json:"client_responded_at,omitempty"`
	CreatedAt         time.Time           `json:"created_at"`
	UpdatedAt         time.Time           `json:"updated_at"`
}

// HideContact blanks the client's contact details for vendors that have not unlocked the lead.
func (q *Quote) HideContact() {
	q.ContactName = ""
	q.ContactEmail = ""
	q.ContactPhone = ""
}

// AwaitingResponse reports whether a proposal is out and the client has not answered it.
func (q *Quote) AwaitingResponse() bool {
	return q.Status == QuoteProposed && q.ClientResponse == nil
}
