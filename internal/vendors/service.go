// Package vendors keeps vendor profiles, admin approval and subscription state.
// Approval is moderated by admins only; payments touch subscription fields alone.
package vendors

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/festalink/backend/internal/apperr"
	"github.com/festalink/backend/internal/models"
)

type Store interface {
	CreateTx(ctx context.Context, tx pgx.Tx, v *models.Vendor) error
	Get(ctx context.Context, id uuid.UUID) (*models.Vendor, error)
	SetApproval(ctx context.Context, tx pgx.Tx, id uuid.UUID, from []models.ApprovalStatus, status models.ApprovalStatus) (*models.Vendor, error)
	ExtendSubscription(ctx context.Context, tx pgx.Tx, id uuid.UUID, ref string, now time.Time, period time.Duration) (*models.Vendor, error)
	RecordSubscriptionPayment(ctx context.Context, tx pgx.Tx, id uuid.UUID, ref string) (bool, error)
	MarkLapsed(ctx context.Context, now time.Time) ([]uuid.UUID, error)
}

type BalanceReader interface {
	Balance(ctx context.Context, vendorID uuid.UUID) (int, error)
}

type Notifier interface {
	RecordTx(ctx context.Context, tx pgx.Tx, m *models.Message) error
	EmailAccountTx(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, subject, body string)
	EmailAccount(ctx context.Context, accountID uuid.UUID, subject, body string)
}

type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

var approvalTransitions = map[models.ApprovalStatus][]models.ApprovalStatus{
	models.ApprovalPending:  {models.ApprovalApproved, models.ApprovalRejected, models.ApprovalDeleted},
	models.ApprovalApproved: {models.ApprovalRejected, models.ApprovalDeleted},
	models.ApprovalRejected: {models.ApprovalApproved, models.ApprovalDeleted},
}

// sourcesFor lists the statuses from which target can be reached.
func sourcesFor(target models.ApprovalStatus) []models.ApprovalStatus {
	var from []models.ApprovalStatus
	for _, s := range []models.ApprovalStatus{models.ApprovalPending, models.ApprovalApproved, models.ApprovalRejected} {
		if slices.Contains(approvalTransitions[s], target) {
			from = append(from, s)
		}
	}
	return from
}

type Service struct {
	db      TxBeginner
	store   Store
	ledger  BalanceReader
	notify  Notifier
	period  time.Duration
	log     *slog.Logger
	now     func() time.Time
}

func NewService(db TxBeginner, store Store, ledger BalanceReader, notify Notifier, subscriptionPeriod time.Duration, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{db: db, store: store, ledger: ledger, notify: notify, period: subscriptionPeriod, log: log, now: time.Now}
}

func (s *Service) SetClock(now func() time.Time) { s.now = now }

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.Vendor, error) {
	return s.store.Get(ctx, id)
}

// Profile returns the vendor with its balance taken from the ledger sum.
func (s *Service) Profile(ctx context.Context, id uuid.UUID) (*models.Vendor, error) {
	v, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	balance, err := s.ledger.Balance(ctx, id)
	if err != nil {
		return nil, err
	}
	v.CreditBalance = balance
	return v, nil
}

// Decide applies an admin approval decision.
func (s *Service) Decide(ctx context.Context, adminID, vendorID uuid.UUID, decision models.ApprovalStatus, note string) (*models.Vendor, error) {
	from := sourcesFor(decision)
	if len(from) == 0 {
		return nil, fmt.Errorf("%w: decision must be approved, rejected or deleted", apperr.ErrValidation)
	}
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	v, err := s.store.SetApproval(ctx, tx, vendorID, from, decision)
	if err != nil {
		return nil, err
	}
	if v == nil {
		current, err := s.store.Get(ctx, vendorID)
		if err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: vendor is %s", apperr.ErrInvalidTransition, current.ApprovalStatus)
	}
	subject := fmt.Sprintf("Your vendor profile was %s", decision)
	body := subject + "."
	if note != "" {
		body += "\n\n" + note
	}
	if err := s.notify.RecordTx(ctx, tx, &models.Message{
		RecipientID: vendorID,
		SenderID:    &adminID,
		Kind:        models.MessageApprovalChanged,
		Subject:     subject,
		Body:        body,
	}); err != nil {
		return nil, err
	}
	s.notify.EmailAccountTx(ctx, tx, vendorID, subject, body)
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	s.log.Info("vendor approval changed", "vendor_id", vendorID, "status", decision, "admin_id", adminID)
	return v, nil
}

// ApplySubscription adds one subscription period for the payment identified by
// ref, a checkout session or renewal invoice id. It reports false when that
// payment was already applied.
func (s *Service) ApplySubscription(ctx context.Context, vendorID uuid.UUID, ref string) (bool, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	// The update takes the vendor row lock, so replays of one payment serialize here.
	v, err := s.store.ExtendSubscription(ctx, tx, vendorID, ref, s.now(), s.period)
	if err != nil {
		return false, err
	}
	if v == nil {
		return false, fmt.Errorf("vendor %s: %w", vendorID, apperr.ErrNotFound)
	}
	fresh, err := s.store.RecordSubscriptionPayment(ctx, tx, vendorID, ref)
	if err != nil {
		return false, err
	}
	if !fresh {
		s.log.Info("subscription payment replayed", "vendor_id", vendorID, "ref", ref)
		return false, nil
	}
	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	s.log.Info("subscription extended", "vendor_id", vendorID, "ref", ref, "expiry", v.SubscriptionExpiry)
	return true, nil
}

// SweepLapsedSubscriptions marks expired active subscriptions past_due.
func (s *Service) SweepLapsedSubscriptions(ctx context.Context) (int, error) {
	ids, err := s.store.MarkLapsed(ctx, s.now())
	if err != nil {
		return 0, err
	}
	for _, id := range ids {
		s.notify.EmailAccount(ctx, id, "Your subscription has lapsed",
			"Your listing subscription expired. Renew it to stay visible to clients.")
	}
	if len(ids) > 0 {
		s.log.Info("subscriptions lapsed", "count", len(ids))
	}
	return len(ids), nil
}
