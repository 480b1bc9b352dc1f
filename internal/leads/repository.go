package leads

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/festalink/backend/internal/apperr"
	"github.com/festalink/backend/internal/models"
)

const accessColumns = `id, quote_id, vendor_id, payment_status, unlocked_at, deal_closed, deal_value, deal_closed_at, review_requested_at, created_at`

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ Store = (*Repository)(nil)

// LockQuote takes the quote row lock and returns the fields an unlock needs.
func (r *Repository) LockQuote(ctx context.Context, tx pgx.Tx, quoteID uuid.UUID) (*models.Quote, error) {
	var q models.Quote
	err := tx.QueryRow(ctx, `
		SELECT id, client_id, vendor_id, status, credit_cost
		FROM quotes WHERE id = $1 FOR UPDATE
	`, quoteID).Scan(&q.ID, &q.ClientID, &q.VendorID, &q.Status, &q.CreditCost)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("quote %s: %w", quoteID, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &q, nil
}

func (r *Repository) FindAccess(ctx context.Context, quoteID, vendorID uuid.UUID) (*models.LeadAccess, error) {
	var a models.LeadAccess
	err := r.pool.QueryRow(ctx, `
		SELECT `+accessColumns+`
		FROM lead_access WHERE quote_id = $1 AND vendor_id = $2
	`, quoteID, vendorID).Scan(&a.ID, &a.QuoteID, &a.VendorID, &a.PaymentStatus, &a.UnlockedAt,
		&a.DealClosed, &a.DealValue, &a.DealClosedAt, &a.ReviewRequestedAt, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// InsertPaid creates the paid row or upgrades a pending one. It reports false
// when a paid row already existed; the unique (quote_id, vendor_id) index makes
// that answer race-free.
func (r *Repository) InsertPaid(ctx context.Context, tx pgx.Tx, quoteID, vendorID uuid.UUID, at time.Time) (bool, error) {
	var id uuid.UUID
	err := tx.QueryRow(ctx, `
		INSERT INTO lead_access (quote_id, vendor_id, payment_status, unlocked_at)
		VALUES ($1, $2, 'paid', $3)
		ON CONFLICT (quote_id, vendor_id) DO UPDATE
			SET payment_status = 'paid', unlocked_at = EXCLUDED.unlocked_at
			WHERE lead_access.payment_status = 'pending'
		RETURNING id
	`, quoteID, vendorID, at).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *Repository) InsertPending(ctx context.Context, quoteID, vendorID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO lead_access (quote_id, vendor_id, payment_status)
		VALUES ($1, $2, 'pending')
		ON CONFLICT (quote_id, vendor_id) DO NOTHING
	`, quoteID, vendorID)
	return err
}

func (r *Repository) MarkQuoteUnlocked(ctx context.Context, tx pgx.Tx, quoteID uuid.UUID) error {
	_, err := tx.Exec(ctx, `
		UPDATE quotes SET status = 'unlocked', updated_at = now()
		WHERE id = $1 AND status = 'open'
	`, quoteID)
	return err
}

func (r *Repository) StampDeal(ctx context.Context, tx pgx.Tx, quoteID, vendorID uuid.UUID, value decimal.Decimal, at time.Time) (bool, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE lead_access
		SET deal_closed = true, deal_value = $3, deal_closed_at = $4
		WHERE quote_id = $1 AND vendor_id = $2 AND payment_status = 'paid' AND NOT deal_closed
	`, quoteID, vendorID, value, at)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}
