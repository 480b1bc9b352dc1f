package quotes

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/festalink/backend/internal/apperr"
	"github.com/festalink/backend/internal/models"
)

const quoteColumns = `id, client_id, vendor_id, event_date, pax_count, description, contact_name, contact_email, contact_phone,
	credit_cost, status, proposed_value, proposal_message, proposed_at, contract_url, client_response, client_responded_at,
	created_at, updated_at`

const pgForeignKeyViolation = "23503"

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ Store = (*Repository)(nil)

func (r *Repository) Create(ctx context.Context, q *models.Quote) error {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO quotes (id, client_id, vendor_id, event_date, pax_count, description, contact_name, contact_email, contact_phone, credit_cost, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at, updated_at
	`, q.ID, q.ClientID, q.VendorID, q.EventDate, q.PaxCount, q.Description, q.ContactName, q.ContactEmail, q.ContactPhone,
		q.CreditCost, q.Status).Scan(&q.CreatedAt, &q.UpdatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation {
		return fmt.Errorf("vendor %s: %w", q.VendorID, apperr.ErrNotFound)
	}
	return err
}

func (r *Repository) Get(ctx context.Context, id uuid.UUID) (*models.Quote, error) {
	q, err := scanQuote(r.pool.QueryRow(ctx, `SELECT `+quoteColumns+` FROM quotes WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("quote %s: %w", id, apperr.ErrNotFound)
	}
	return q, err
}

func (r *Repository) List(ctx context.Context, f ListFilter) ([]*models.Quote, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+quoteColumns+`
		FROM quotes
		WHERE ($1::uuid IS NULL OR client_id = $1)
		  AND ($2::uuid IS NULL OR vendor_id = $2)
		  AND ($3::text IS NULL OR status = $3)
		ORDER BY created_at DESC
		LIMIT $4
	`, f.ClientID, f.VendorID, f.Status, f.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.Quote
	for rows.Next() {
		q, err := scanQuote(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, q)
	}
	return list, rows.Err()
}

// Propose writes the proposal when the quote is unlocked or its previous
// proposal was rejected. Returns nil when the guard did not match.
func (r *Repository) Propose(ctx context.Context, tx pgx.Tx, p Proposal) (*models.Quote, error) {
	q, err := scanQuote(tx.QueryRow(ctx, `
		UPDATE quotes
		SET status = 'proposed', proposed_value = $3, proposal_message = $4, contract_url = $5, proposed_at = $6,
			client_response = NULL, client_responded_at = NULL, updated_at = now()
		WHERE id = $1 AND vendor_id = $2
		  AND (status = 'unlocked' OR (status = 'proposed' AND client_response = 'rejected'))
		RETURNING `+quoteColumns,
		p.QuoteID, p.VendorID, p.Value, p.Message, p.ContractURL, p.At))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return q, err
}

// Respond records the client's answer to the proposal made at proposedAt.
// Acceptance completes the quote. Returns nil when the guard did not match.
func (r *Repository) Respond(ctx context.Context, tx pgx.Tx, resp Response) (*models.Quote, error) {
	q, err := scanQuote(tx.QueryRow(ctx, `
		UPDATE quotes
		SET client_response = $4, client_responded_at = $5,
			status = CASE WHEN $4 = 'accepted' THEN 'completed' ELSE status END,
			updated_at = now()
		WHERE id = $1 AND client_id = $2 AND status = 'proposed'
		  AND client_response IS NULL AND proposed_at = $3
		RETURNING `+quoteColumns,
		resp.QuoteID, resp.ClientID, resp.ProposedAt, string(resp.Answer), resp.At))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return q, err
}

func (r *Repository) Cancel(ctx context.Context, id uuid.UUID) (*models.Quote, error) {
	q, err := scanQuote(r.pool.QueryRow(ctx, `
		UPDATE quotes SET status = 'cancelled', updated_at = now()
		WHERE id = $1 AND status IN ('open', 'unlocked', 'proposed')
		RETURNING `+quoteColumns, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return q, err
}

func scanQuote(row pgx.Row) (*models.Quote, error) {
	var q models.Quote
	err := row.Scan(&q.ID, &q.ClientID, &q.VendorID, &q.EventDate, &q.PaxCount, &q.Description,
		&q.ContactName, &q.ContactEmail, &q.ContactPhone, &q.CreditCost, &q.Status,
		&q.ProposedValue, &q.ProposalMessage, &q.ProposedAt, &q.ContractURL, &q.ClientResponse, &q.ClientRespondedAt,
		&q.CreatedAt, &q.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &q, nil
}

