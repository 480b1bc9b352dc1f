package models

import (
	"time"

	"github.com/google/uuid"
)

type MessageKind string

const (
	MessageProposalAccepted MessageKind = "proposal_accepted"
	MessageProposalRejected MessageKind = "proposal_rejected"
	MessageProposalReceived MessageKind = "proposal_received"
	MessageReviewRequest    MessageKind = "review_request"
	MessageAdminBroadcast   MessageKind = "admin_broadcast"
	MessageApprovalChanged  MessageKind = "approval_changed"
)

// Message is an in-app notification row. Delivery by email is a separate best-effort step.
type Message struct {
	ID          uuid.UUID   `json:"id"`
	RecipientID uuid.UUID   `json:"recipient_id"`
	SenderID    *uuid.UUID  `json:"sender_id,omitempty"`
	QuoteID     *uuid.UUID  `json:"quote_id,omitempty"`
	Kind        MessageKind `json:"kind"`
	Subject     string      `json:"subject"`
	Body        string      `json:"body"`
	BatchID     *uuid.UUID  `json:"batch_id,omitempty"`
	ReadAt      *time.Time  `json:"read_at,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
}
