// Package leads sells access to a quote's client contact details. Access is one
// lead_access row per (quote, vendor), paid with credits or through checkout.
package leads

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/festalink/backend/internal/apperr"
	"github.com/festalink/backend/internal/ledger"
	"github.com/festalink/backend/internal/metrics"
	"github.com/festalink/backend/internal/models"
)

type Store interface {
	LockQuote(ctx context.Context, tx pgx.Tx, quoteID uuid.UUID) (*models.Quote, error)
	FindAccess(ctx context.Context, quoteID, vendorID uuid.UUID) (*models.LeadAccess, error)
	InsertPaid(ctx context.Context, tx pgx.Tx, quoteID, vendorID uuid.UUID, at time.Time) (bool, error)
	InsertPending(ctx context.Context, quoteID, vendorID uuid.UUID) error
	MarkQuoteUnlocked(ctx context.Context, tx pgx.Tx, quoteID uuid.UUID) error
	StampDeal(ctx context.Context, tx pgx.Tx, quoteID, vendorID uuid.UUID, value decimal.Decimal, at time.Time) (bool, error)
}

// Ledger is the part of ledger.Service an unlock needs.
type Ledger interface {
	AppendTx(ctx context.Context, tx pgx.Tx, e ledger.Entry) (int, error)
	Balance(ctx context.Context, vendorID uuid.UUID) (int, error)
}

type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

type UnlockResult struct {
	AlreadyUnlocked bool `json:"already_unlocked"`
	Balance         int  `json:"balance"`
}

type Service struct {
	db     TxBeginner
	store  Store
	ledger Ledger
	log    *slog.Logger
	now    func() time.Time
}

func NewService(db TxBeginner, store Store, l Ledger, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{db: db, store: store, ledger: l, log: log, now: time.Now}
}

// UnlockRef is the ledger reference of the debit paying for a lead.
func UnlockRef(quoteID uuid.UUID) string {
	return "lead-unlock:" + quoteID.String()
}

// UnlockLead spends the quote's credit cost to reveal its contact details to
// the vendor. The debit and the access row commit together; a vendor that
// already holds paid access is charged nothing.
func (s *Service) UnlockLead(ctx context.Context, vendorID, quoteID uuid.UUID) (UnlockResult, error) {
	existing, err := s.store.FindAccess(ctx, quoteID, vendorID)
	if err != nil {
		return UnlockResult{}, err
	}
	if existing != nil && existing.PaymentStatus == models.PaymentPaid {
		return s.already(ctx, vendorID)
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return UnlockResult{}, err
	}
	defer tx.Rollback(ctx)

	q, err := s.lockUnlockable(ctx, tx, vendorID, quoteID)
	if err != nil {
		return UnlockResult{}, err
	}
	inserted, err := s.store.InsertPaid(ctx, tx, quoteID, vendorID, s.now())
	if err != nil {
		return UnlockResult{}, err
	}
	if !inserted {
		_ = tx.Rollback(ctx)
		return s.already(ctx, vendorID)
	}
	balance, err := s.ledger.AppendTx(ctx, tx, ledger.Entry{
		VendorID:    vendorID,
		Amount:      -q.CreditCost,
		Type:        models.TxLeadUnlock,
		Description: fmt.Sprintf("Unlocked lead %s", quoteID),
		ExternalRef: UnlockRef(quoteID),
	})
	if err != nil {
		metrics.LeadUnlocks.WithLabelValues(unlockFailure(err)).Inc()
		return UnlockResult{}, err
	}
	if err := s.store.MarkQuoteUnlocked(ctx, tx, quoteID); err != nil {
		return UnlockResult{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return UnlockResult{}, err
	}
	metrics.LeadUnlocks.WithLabelValues("unlocked").Inc()
	s.log.Info("lead unlocked", "vendor_id", vendorID, "quote_id", quoteID, "cost", q.CreditCost, "balance", balance)
	return UnlockResult{Balance: balance}, nil
}

func (s *Service) already(ctx context.Context, vendorID uuid.UUID) (UnlockResult, error) {
	metrics.LeadUnlocks.WithLabelValues("already_unlocked").Inc()
	balance, err := s.ledger.Balance(ctx, vendorID)
	if err != nil {
		return UnlockResult{}, err
	}
	return UnlockResult{AlreadyUnlocked: true, Balance: balance}, nil
}

func (s *Service) lockUnlockable(ctx context.Context, tx pgx.Tx, vendorID, quoteID uuid.UUID) (*models.Quote, error) {
	q, err := s.store.LockQuote(ctx, tx, quoteID)
	if err != nil {
		return nil, err
	}
	if q.VendorID != vendorID {
		return nil, fmt.Errorf("%w: quote %s was sent to another vendor", apperr.ErrForbidden, quoteID)
	}
	if q.Status.Terminal() {
		return nil, fmt.Errorf("%w: quote is %s", apperr.ErrInvalidTransition, q.Status)
	}
	return q, nil
}

func unlockFailure(err error) string {
	if errors.Is(err, apperr.ErrInsufficientBalance) {
		return "insufficient"
	}
	return "error"
}

// PrepareCheckout checks that the vendor may buy this lead with money and
// records a pending access row for the checkout to settle.
func (s *Service) PrepareCheckout(ctx context.Context, vendorID, quoteID uuid.UUID) error {
	existing, err := s.store.FindAccess(ctx, quoteID, vendorID)
	if err != nil {
		return err
	}
	if existing != nil && existing.PaymentStatus == models.PaymentPaid {
		return fmt.Errorf("%w: lead already unlocked", apperr.ErrConflict)
	}
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	if _, err := s.lockUnlockable(ctx, tx, vendorID, quoteID); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	return s.store.InsertPending(ctx, quoteID, vendorID)
}

// UnlockViaPayment grants access paid for through checkout. No credits move.
// It reports true when the vendor already held paid access.
func (s *Service) UnlockViaPayment(ctx context.Context, vendorID, quoteID uuid.UUID) (bool, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	q, err := s.store.LockQuote(ctx, tx, quoteID)
	if err != nil {
		return false, err
	}
	if q.VendorID != vendorID {
		return false, fmt.Errorf("%w: quote %s was sent to another vendor", apperr.ErrForbidden, quoteID)
	}
	inserted, err := s.store.InsertPaid(ctx, tx, quoteID, vendorID, s.now())
	if err != nil {
		return false, err
	}
	if !inserted {
		return true, nil
	}
	if err := s.store.MarkQuoteUnlocked(ctx, tx, quoteID); err != nil {
		return false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	metrics.LeadUnlocks.WithLabelValues("paid_checkout").Inc()
	s.log.Info("lead unlocked by payment", "vendor_id", vendorID, "quote_id", quoteID)
	return false, nil
}

// HasPaidAccess reports whether the vendor may see the quote's contact details.
func (s *Service) HasPaidAccess(ctx context.Context, quoteID, vendorID uuid.UUID) (bool, error) {
	a, err := s.store.FindAccess(ctx, quoteID, vendorID)
	if err != nil {
		return false, err
	}
	return a != nil && a.PaymentStatus == models.PaymentPaid, nil
}

// StampDealTx marks the vendor's access row deal-closed inside the caller's
// transaction. A row that is missing, unpaid or already closed is a conflict.
func (s *Service) StampDealTx(ctx context.Context, tx pgx.Tx, quoteID, vendorID uuid.UUID, value decimal.Decimal) error {
	ok, err := s.store.StampDeal(ctx, tx, quoteID, vendorID, value, s.now())
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: deal for quote %s already closed or lead not unlocked", apperr.ErrConflict, quoteID)
	}
	return nil
}
