package models

import (
	"time"

	"github.com/google/uuid"
)

// TransactionType values stored in credit_transactions.transaction_type.
type TransactionType string

const (
	TxPurchase        TransactionType = "purchase"
	TxLeadUnlock      TransactionType = "lead_unlock"
	TxRefund          TransactionType = "refund"
	TxBonus           TransactionType = "bonus"
	TxBonusExpiration TransactionType = "bonus_expiration"
)

func (t TransactionType) Valid() bool {
	switch t {
	case TxPurchase, TxLeadUnlock, TxRefund, TxBonus, TxBonusExpiration:
		return true
	}
	return false
}

// CreditTransaction is one append-only row of a vendor's credit ledger.
// BalanceAfter equals the running sum of Amount up to and including this row.
type CreditTransaction struct {
	ID                       uuid.UUID       `json:"id"`
	VendorID                 uuid.UUID       `json:"vendor_id"`
	Amount                   int             `json:"amount"`
	BalanceAfter             int             `json:"balance_after"`
	Type                     TransactionType `json:"transaction_type"`
	Description              string          `json:"description"`
	ExpiresAt                *time.Time      `json:"expires_at,omitempty"`
	ExternalPaymentReference *string         `json:"external_payment_reference,omitempty"`
	CreatedAt                time.Time       `json:"created_at"`
}
