// Package reviews lets the two parties of a closed deal rate each other once the
// event is over, and reminds them to do so.
package reviews

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/festalink/backend/internal/apperr"
	"github.com/festalink/backend/internal/middleware"
	"github.com/festalink/backend/internal/models"
)

// Eligibility is what the review rules need to know about a quote.
type Eligibility struct {
	QuoteID    uuid.UUID
	ClientID   uuid.UUID
	VendorID   uuid.UUID
	EventDate  time.Time
	DealClosed bool
}

// Due is a closed deal claimed for a review reminder.
type Due struct {
	QuoteID  uuid.UUID
	ClientID uuid.UUID
	VendorID uuid.UUID
}

type Store interface {
	Eligibility(ctx context.Context, quoteID uuid.UUID) (*Eligibility, error)
	Insert(ctx context.Context, r *models.Review) error
	ListForReviewee(ctx context.Context, revieweeID uuid.UUID, limit int) ([]models.Review, error)
	ClaimDue(ctx context.Context, tx pgx.Tx, now time.Time, limit int) ([]Due, error)
}

type Notifier interface {
	RecordTx(ctx context.Context, tx pgx.Tx, m *models.Message) error
	EmailAccountTx(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, subject, body string)
}

type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

type Service struct {
	db     TxBeginner
	store  Store
	notify Notifier
	log    *slog.Logger
	now    func() time.Time
}

func NewService(db TxBeginner, store Store, notify Notifier, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{db: db, store: store, notify: notify, log: log, now: time.Now}
}

func (s *Service) SetClock(now func() time.Time) { s.now = now }

// Create records the principal's review of the other party to the quote.
func (s *Service) Create(ctx context.Context, p middleware.Principal, quoteID uuid.UUID, rating int, comment string) (*models.Review, error) {
	if rating < 1 || rating > 5 {
		return nil, fmt.Errorf("%w: rating must be between 1 and 5", apperr.ErrValidation)
	}
	e, err := s.store.Eligibility(ctx, quoteID)
	if err != nil {
		return nil, err
	}
	var reviewee uuid.UUID
	switch p.AccountID {
	case e.ClientID:
		reviewee = e.VendorID
	case e.VendorID:
		reviewee = e.ClientID
	default:
		return nil, fmt.Errorf("%w: only the client and vendor of a quote can review it", apperr.ErrForbidden)
	}
	if !e.DealClosed {
		return nil, fmt.Errorf("%w: the deal for this quote is not closed", apperr.ErrInvalidTransition)
	}
	if !e.EventDate.Before(s.now()) {
		return nil, fmt.Errorf("%w: reviews open after the event date", apperr.ErrInvalidTransition)
	}
	r := &models.Review{
		ID:         uuid.New(),
		QuoteID:    quoteID,
		ReviewerID: p.AccountID,
		RevieweeID: reviewee,
		Rating:     rating,
		Comment:    strings.TrimSpace(comment),
	}
	if err := s.store.Insert(ctx, r); err != nil {
		return nil, err
	}
	s.log.Info("review created", "quote_id", quoteID, "reviewer_id", p.AccountID, "rating", rating)
	return r, nil
}

func (s *Service) ForReviewee(ctx context.Context, revieweeID uuid.UUID) ([]models.Review, error) {
	return s.store.ListForReviewee(ctx, revieweeID, 100)
}

// SendDueReminders claims up to limit due deals and records a review request
// for both parties. The emails are queued in the same transaction as the claim.
func (s *Service) SendDueReminders(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = 100
	}
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	due, err := s.store.ClaimDue(ctx, tx, s.now(), limit)
	if err != nil {
		return 0, fmt.Errorf("claim due reviews: %w", err)
	}
	for _, d := range due {
		quoteID := d.QuoteID
		for _, to := range []uuid.UUID{d.ClientID, d.VendorID} {
			m := &models.Message{
				RecipientID: to,
				QuoteID:     &quoteID,
				Kind:        models.MessageReviewRequest,
				Subject:     "How did the event go?",
				Body:        fmt.Sprintf("Your event for quote %s is over. Leave a review to help others choose.", quoteID),
			}
			if err := s.notify.RecordTx(ctx, tx, m); err != nil {
				return 0, err
			}
			s.notify.EmailAccountTx(ctx, tx, to, m.Subject, m.Body)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	if len(due) > 0 {
		s.log.Info("review reminders sent", "deals", len(due))
	}
	return len(due), nil
}
