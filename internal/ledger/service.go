// Package ledger is the append-only credit ledger. Every balance change is one
// credit_transactions row written under the vendor's row lock.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/festalink/backend/internal/apperr"
	"github.com/festalink/backend/internal/metrics"
	"github.com/festalink/backend/internal/models"
)

// Store is the persistence the ledger needs. Methods taking a pgx.Tx must run
// inside the caller's transaction; LockBalance takes the vendor row lock.
type Store interface {
	LockBalance(ctx context.Context, tx pgx.Tx, vendorID uuid.UUID) (int, error)
	FindByRef(ctx context.Context, tx pgx.Tx, vendorID uuid.UUID, ref string) (*models.CreditTransaction, error)
	SetBalance(ctx context.Context, tx pgx.Tx, vendorID uuid.UUID, balance int) error
	Insert(ctx context.Context, tx pgx.Tx, t *models.CreditTransaction) error
	Entries(ctx context.Context, tx pgx.Tx, vendorID uuid.UUID) ([]*models.CreditTransaction, error)
	Balance(ctx context.Context, vendorID uuid.UUID) (int, error)
	History(ctx context.Context, vendorID uuid.UUID, limit int) ([]*models.CreditTransaction, error)
	VendorsWithExpiredBonuses(ctx context.Context, now time.Time) ([]uuid.UUID, error)
}

// TxBeginner is satisfied by *pgxpool.Pool.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Entry is a requested ledger append. ExternalRef, when set, makes the append
// idempotent per vendor.
type Entry struct {
	VendorID    uuid.UUID
	Amount      int
	Type        models.TransactionType
	Description string
	ExpiresAt   *time.Time
	ExternalRef string
}

type Service struct {
	db    TxBeginner
	store Store
	log   *slog.Logger
	now   func() time.Time
}

func NewService(db TxBeginner, store Store, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{db: db, store: store, log: log, now: time.Now}
}

// SetClock replaces the time source used for expiry decisions.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// Balance returns the vendor's current balance.
func (s *Service) Balance(ctx context.Context, vendorID uuid.UUID) (int, error) {
	return s.store.Balance(ctx, vendorID)
}

// History returns the vendor's entries newest first.
func (s *Service) History(ctx context.Context, vendorID uuid.UUID, limit int) ([]*models.CreditTransaction, error) {
	if limit <= 0 {
		limit = 100
	}
	if _, err := s.store.Balance(ctx, vendorID); err != nil {
		return nil, err
	}
	return s.store.History(ctx, vendorID, limit)
}

// Append writes e in its own transaction and returns the new balance.
// A replayed ExternalRef returns the balance recorded by the original entry.
func (s *Service) Append(ctx context.Context, e Entry) (int, error) {
	if err := validateEntry(e); err != nil {
		return 0, err
	}
	var lastErr error
	// A concurrent insert of the same reference surfaces as a unique
	// violation; the second pass finds the committed row and replays it.
	for attempt := 0; attempt < 2; attempt++ {
		balance, err := s.appendOwnTx(ctx, e)
		if err == nil {
			return balance, nil
		}
		if e.ExternalRef == "" || !apperr.IsUniqueViolation(err) {
			return 0, err
		}
		lastErr = err
	}
	return 0, fmt.Errorf("append %s for vendor %s: %w", e.Type, e.VendorID, lastErr)
}

func (s *Service) appendOwnTx(ctx context.Context, e Entry) (int, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)
	balance, err := s.AppendTx(ctx, tx, e)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return balance, nil
}

// AppendTx writes e inside the caller's transaction. The vendor row stays locked
// until that transaction ends, so the caller's other writes commit or roll back
// together with the ledger row.
func (s *Service) AppendTx(ctx context.Context, tx pgx.Tx, e Entry) (int, error) {
	if err := validateEntry(e); err != nil {
		return 0, err
	}
	balance, err := s.store.LockBalance(ctx, tx, e.VendorID)
	if err != nil {
		metrics.LedgerEntries.WithLabelValues(string(e.Type), "error").Inc()
		return 0, err
	}
	if e.ExternalRef != "" {
		existing, err := s.store.FindByRef(ctx, tx, e.VendorID, e.ExternalRef)
		if err != nil {
			return 0, err
		}
		if existing != nil {
			metrics.LedgerEntries.WithLabelValues(string(e.Type), "replayed").Inc()
			s.log.Info("ledger entry replayed", "vendor_id", e.VendorID, "ref", e.ExternalRef)
			return existing.BalanceAfter, nil
		}
	}
	if e.Amount < 0 && e.Type != models.TxBonusExpiration {
		// Lots past their expiry are closed before the debit so they cannot be spent.
		if balance, _, err = s.closeExpiredTx(ctx, tx, e.VendorID, balance); err != nil {
			return 0, err
		}
	}
	next := balance + e.Amount
	if next < 0 {
		metrics.LedgerEntries.WithLabelValues(string(e.Type), "insufficient").Inc()
		return 0, fmt.Errorf("%w: balance %d, debit %d", apperr.ErrInsufficientBalance, balance, -e.Amount)
	}
	if err := s.store.SetBalance(ctx, tx, e.VendorID, next); err != nil {
		return 0, err
	}
	row := &models.CreditTransaction{
		ID:           uuid.New(),
		VendorID:     e.VendorID,
		Amount:       e.Amount,
		BalanceAfter: next,
		Type:         e.Type,
		Description:  e.Description,
		ExpiresAt:    e.ExpiresAt,
	}
	if e.ExternalRef != "" {
		ref := e.ExternalRef
		row.ExternalPaymentReference = &ref
	}
	if err := s.store.Insert(ctx, tx, row); err != nil {
		return 0, err
	}
	metrics.LedgerEntries.WithLabelValues(string(e.Type), "applied").Inc()
	return next, nil
}

func validateEntry(e Entry) error {
	if e.VendorID == uuid.Nil {
		return fmt.Errorf("%w: vendor id is required", apperr.ErrValidation)
	}
	switch e.Type {
	case models.TxPurchase, models.TxRefund:
		if e.Amount <= 0 {
			return fmt.Errorf("%w: %s amount must be positive", apperr.ErrValidation, e.Type)
		}
	case models.TxBonus:
		if e.Amount <= 0 {
			return fmt.Errorf("%w: bonus amount must be positive", apperr.ErrValidation)
		}
		if e.ExpiresAt == nil {
			return fmt.Errorf("%w: bonus requires an expiry", apperr.ErrValidation)
		}
	case models.TxLeadUnlock:
		if e.Amount >= 0 {
			return fmt.Errorf("%w: lead unlock amount must be negative", apperr.ErrValidation)
		}
	case models.TxBonusExpiration:
		if e.Amount > 0 {
			return fmt.Errorf("%w: bonus expiration amount cannot be positive", apperr.ErrValidation)
		}
		if e.ExternalRef == "" {
			return fmt.Errorf("%w: bonus expiration requires a reference", apperr.ErrValidation)
		}
	default:
		return fmt.Errorf("%w: unknown transaction type %q", apperr.ErrValidation, e.Type)
	}
	return nil
}

// ExpireBonuses closes every lot of the vendor whose expiry has passed. Each
// closure is a bonus_expiration row removing the unspent part of that lot;
// a fully spent lot is closed with a zero row. Returns the number of lots closed.
func (s *Service) ExpireBonuses(ctx context.Context, vendorID uuid.UUID) (int, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	balance, err := s.store.LockBalance(ctx, tx, vendorID)
	if err != nil {
		return 0, err
	}
	balance, closed, err := s.closeExpiredTx(ctx, tx, vendorID, balance)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	if closed > 0 {
		s.log.Info("bonuses expired", "vendor_id", vendorID, "lots", closed, "balance", balance)
	}
	return closed, nil
}

// closeExpiredTx writes a bonus_expiration row for every open lot of the vendor
// whose expiry has passed. The vendor row must already be locked by tx. It
// returns the balance after the closures and the number of lots closed.
func (s *Service) closeExpiredTx(ctx context.Context, tx pgx.Tx, vendorID uuid.UUID, balance int) (int, int, error) {
	entries, err := s.store.Entries(ctx, tx, vendorID)
	if err != nil {
		return 0, 0, err
	}
	expired := Expired(OpenLots(entries), s.now())
	for _, lot := range expired {
		amount := min(lot.Remaining, balance)
		balance, err = s.AppendTx(ctx, tx, Entry{
			VendorID:    vendorID,
			Amount:      -amount,
			Type:        models.TxBonusExpiration,
			Description: fmt.Sprintf("Bonus of %d credits expired (%d unused)", lot.Granted, amount),
			ExternalRef: ExpiryRef(lot.BonusID),
		})
		if err != nil {
			return 0, 0, fmt.Errorf("expire bonus %s: %w", lot.BonusID, err)
		}
	}
	if len(expired) > 0 {
		metrics.BonusesExpired.Add(float64(len(expired)))
	}
	return balance, len(expired), nil
}

// SweepResult summarizes one pass of the bonus expiry sweep.
type SweepResult struct {
	Vendors int
	Expired int
	Failed  int
}

// SweepExpiredBonuses runs ExpireBonuses for every vendor holding an expired
// open lot. A failing vendor is logged and skipped; the sweep is safe to rerun.
func (s *Service) SweepExpiredBonuses(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	vendors, err := s.store.VendorsWithExpiredBonuses(ctx, s.now())
	if err != nil {
		return res, fmt.Errorf("list vendors with expired bonuses: %w", err)
	}
	for _, id := range vendors {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.Vendors++
		n, err := s.ExpireBonuses(ctx, id)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return res, err
			}
			res.Failed++
			s.log.Error("bonus expiry failed", "vendor_id", id, "error", err)
			continue
		}
		res.Expired += n
	}
	return res, nil
}
