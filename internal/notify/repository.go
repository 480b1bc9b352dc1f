package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/festalink/backend/internal/apperr"
	"github.com/festalink/backend/internal/models"
)

const messageColumns = `id, recipient_id, sender_id, quote_id, kind, subject, body, batch_id, read_at, created_at`

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ Store = (*Repository)(nil)

// InsertTx writes the message. A row already present for the same recipient and
// batch is left alone and reported as false.
func (r *Repository) InsertTx(ctx context.Context, tx pgx.Tx, m *models.Message) (bool, error) {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	err := tx.QueryRow(ctx, `
		INSERT INTO messages (id, recipient_id, sender_id, quote_id, kind, subject, body, batch_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (recipient_id, batch_id) DO NOTHING
		RETURNING created_at
	`, m.ID, m.RecipientID, m.SenderID, m.QuoteID, m.Kind, m.Subject, m.Body, m.BatchID).Scan(&m.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("insert message: %w", err)
	}
	return true, nil
}

// Contact resolves where email for an account goes. Vendors use their business
// contact address when set.
func (r *Repository) Contact(ctx context.Context, accountID uuid.UUID) (*Contact, error) {
	var c Contact
	err := r.pool.QueryRow(ctx, `
		SELECT COALESCE(NULLIF(v.contact_email, ''), a.email), COALESCE(v.business_name, a.display_name)
		FROM accounts a
		LEFT JOIN vendors v ON v.id = a.id
		WHERE a.id = $1
	`, accountID).Scan(&c.Email, &c.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("account %s: %w", accountID, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *Repository) ListForRecipient(ctx context.Context, recipientID uuid.UUID, limit int) ([]models.Message, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE recipient_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, recipientID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Message
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.ID, &m.RecipientID, &m.SenderID, &m.QuoteID, &m.Kind, &m.Subject, &m.Body,
			&m.BatchID, &m.ReadAt, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
