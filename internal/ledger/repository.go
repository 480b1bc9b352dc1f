package ledger

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

const txColumns = `id, vendor_id, amount, balance_after, transaction_type, description, expires_at, external_payment_reference, created_at`

// Repository is the Postgres Store. vendors.credit_balance is the lock row and
// cached running sum; credit_transactions is the source of truth.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ Store = (*Repository)(nil)

func (r *Repository) LockBalance(ctx context.Context, tx pgx.Tx, vendorID uuid.UUID) (int, error) {
	var balance int
	err := tx.QueryRow(ctx, `SELECT credit_balance FROM vendors WHERE id = $1 FOR UPDATE`, vendorID).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("vendor %s: %w", vendorID, apperr.ErrNotFound)
	}
	return balance, err
}

func (r *Repository) FindByRef(ctx context.Context, tx pgx.Tx, vendorID uuid.UUID, ref string) (*models.CreditTransaction, error) {
	row := tx.QueryRow(ctx, `
		SELECT `+txColumns+`
		FROM credit_transactions WHERE vendor_id = $1 AND external_payment_reference = $2
	`, vendorID, ref)
	t, err := scanTx(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return t, err
}

func (r *Repository) SetBalance(ctx context.Context, tx pgx.Tx, vendorID uuid.UUID, balance int) error {
	_, err := tx.Exec(ctx, `UPDATE vendors SET credit_balance = $2, updated_at = now() WHERE id = $1`, vendorID, balance)
	return err
}

func (r *Repository) Insert(ctx context.Context, tx pgx.Tx, t *models.CreditTransaction) error {
	return tx.QueryRow(ctx, `
		INSERT INTO credit_transactions (id, vendor_id, amount, balance_after, transaction_type, description, expires_at, external_payment_reference)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at
	`, t.ID, t.VendorID, t.Amount, t.BalanceAfter, t.Type, t.Description, t.ExpiresAt, t.ExternalPaymentReference).Scan(&t.CreatedAt)
}

// Entries returns every row for the vendor in append order.
func (r *Repository) Entries(ctx context.Context, tx pgx.Tx, vendorID uuid.UUID) ([]*models.CreditTransaction, error) {
	rows, err := tx.Query(ctx, `
		SELECT `+txColumns+`
		FROM credit_transactions WHERE vendor_id = $1 ORDER BY created_at, id
	`, vendorID)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

// Balance is the sum of the vendor's amounts, not the cached column.
func (r *Repository) Balance(ctx context.Context, vendorID uuid.UUID) (int, error) {
	var balance int
	err := r.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(t.amount), 0)::int
		FROM vendors v LEFT JOIN credit_transactions t ON t.vendor_id = v.id
		WHERE v.id = $1
		GROUP BY v.id
	`, vendorID).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("vendor %s: %w", vendorID, apperr.ErrNotFound)
	}
	return balance, err
}

func (r *Repository) History(ctx context.Context, vendorID uuid.UUID, limit int) ([]*models.CreditTransaction, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+txColumns+`
		FROM credit_transactions WHERE vendor_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2
	`, vendorID, limit)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

// VendorsWithExpiredBonuses lists vendors holding a bonus whose expiry passed and
// which has no bonus_expiration row yet.
func (r *Repository) VendorsWithExpiredBonuses(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT DISTINCT b.vendor_id
		FROM credit_transactions b
		WHERE b.transaction_type = 'bonus' AND b.expires_at <= $1
		  AND NOT EXISTS (
			SELECT 1 FROM credit_transactions x
			WHERE x.vendor_id = b.vendor_id AND x.external_payment_reference = $2 || b.id::text
		  )
	`, now, expiryRefPrefix)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func scanTx(row pgx.Row) (*models.CreditTransaction, error) {
	var t models.CreditTransaction
	if err := row.Scan(&t.ID, &t.VendorID, &t.Amount, &t.BalanceAfter, &t.Type, &t.Description, &t.ExpiresAt, &t.ExternalPaymentReference, &t.CreatedAt); err != nil {
		return nil, err
	}
	return &t, nil
}

func collect(rows pgx.Rows) ([]*models.CreditTransaction, error) {
	defer rows.Close()
	var list []*models.CreditTransaction
	for rows.Next() {
		t, err := scanTx(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, t)
	}
	return list, rows.Err()
}
