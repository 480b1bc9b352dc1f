package reviews

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/festalink/backend/internal/apperr"
	"github.com/festalink/backend/internal/models"
)

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ Store = (*Repository)(nil)

func (r *Repository) Eligibility(ctx context.Context, quoteID uuid.UUID) (*Eligibility, error) {
	var e Eligibility
	err := r.pool.QueryRow(ctx, `
		SELECT q.id, q.client_id, q.vendor_id, q.event_date, COALESCE(la.deal_closed, false)
		FROM quotes q
		LEFT JOIN lead_access la ON la.quote_id = q.id AND la.vendor_id = q.vendor_id
		WHERE q.id = $1
	`, quoteID).Scan(&e.QuoteID, &e.ClientID, &e.VendorID, &e.EventDate, &e.DealClosed)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("quote %s: %w", quoteID, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *Repository) Insert(ctx context.Context, rv *models.Review) error {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO reviews (id, quote_id, reviewer_id, reviewee_id, rating, comment)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`, rv.ID, rv.QuoteID, rv.ReviewerID, rv.RevieweeID, rv.Rating, rv.Comment).Scan(&rv.CreatedAt)
	if apperr.IsUniqueViolation(err) {
		return fmt.Errorf("%w: quote already reviewed", apperr.ErrConflict)
	}
	return err
}

func (r *Repository) ListForReviewee(ctx context.Context, revieweeID uuid.UUID, limit int) ([]models.Review, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, quote_id, reviewer_id, reviewee_id, rating, comment, created_at
		FROM reviews WHERE reviewee_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, revieweeID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []models.Review{}
	for rows.Next() {
		var rv models.Review
		if err := rows.Scan(&rv.ID, &rv.QuoteID, &rv.ReviewerID, &rv.RevieweeID, &rv.Rating, &rv.Comment, &rv.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, rv)
	}
	return out, rows.Err()
}

// ClaimDue stamps review_requested_at on up to limit deal-closed rows whose
// event date has passed. Rows locked by a concurrent claimer are skipped, so
// each row is claimed once.
func (r *Repository) ClaimDue(ctx context.Context, tx pgx.Tx, now time.Time, limit int) ([]Due, error) {
	rows, err := tx.Query(ctx, `
		UPDATE lead_access la
		SET review_requested_at = $1
		FROM quotes q
		WHERE q.id = la.quote_id
		  AND la.id IN (
			SELECT la2.id
			FROM lead_access la2
			JOIN quotes q2 ON q2.id = la2.quote_id
			WHERE la2.deal_closed
			  AND la2.review_requested_at IS NULL
			  AND q2.event_date < $1
			ORDER BY la2.deal_closed_at
			LIMIT $2
			FOR UPDATE OF la2 SKIP LOCKED
		  )
		RETURNING la.quote_id, q.client_id, la.vendor_id
	`, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Due
	for rows.Next() {
		var d Due
		if err := rows.Scan(&d.QuoteID, &d.ClientID, &d.VendorID); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
