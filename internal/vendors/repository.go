package vendors

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

const vendorColumns = `id, business_name, contact_email, credit_balance, subscription_status, subscription_expiry,
	subscription_reference, approval_status, created_at, updated_at`

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ Store = (*Repository)(nil)

// CreateTx inserts the vendor profile for a freshly registered account.
func (r *Repository) CreateTx(ctx context.Context, tx pgx.Tx, v *models.Vendor) error {
	return tx.QueryRow(ctx, `
		INSERT INTO vendors (id, business_name, contact_email)
		VALUES ($1, $2, $3)
		RETURNING credit_balance, subscription_status, approval_status, created_at, updated_at
	`, v.ID, v.BusinessName, v.ContactEmail).Scan(&v.CreditBalance, &v.SubscriptionStatus, &v.ApprovalStatus, &v.CreatedAt, &v.UpdatedAt)
}

func (r *Repository) Get(ctx context.Context, id uuid.UUID) (*models.Vendor, error) {
	v, err := scanVendor(r.pool.QueryRow(ctx, `SELECT `+vendorColumns+` FROM vendors WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("vendor %s: %w", id, apperr.ErrNotFound)
	}
	return v, err
}

// SetApproval moves the vendor to status when its current status is one of from.
func (r *Repository) SetApproval(ctx context.Context, tx pgx.Tx, id uuid.UUID, from []models.ApprovalStatus, status models.ApprovalStatus) (*models.Vendor, error) {
	allowed := make([]string, len(from))
	for i, s := range from {
		allowed[i] = string(s)
	}
	v, err := scanVendor(tx.QueryRow(ctx, `
		UPDATE vendors SET approval_status = $2, updated_at = now()
		WHERE id = $1 AND approval_status = ANY($3)
		RETURNING `+vendorColumns, id, string(status), allowed))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return v, err
}

// RecordSubscriptionPayment remembers ref as applied to the vendor's
// subscription. It reports false when ref was recorded before.
func (r *Repository) RecordSubscriptionPayment(ctx context.Context, tx pgx.Tx, id uuid.UUID, ref string) (bool, error) {
	tag, err := tx.Exec(ctx, `
		INSERT INTO subscription_payments (vendor_id, reference)
		VALUES ($1, $2)
		ON CONFLICT (vendor_id, reference) DO NOTHING
	`, id, ref)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// ExtendSubscription activates the subscription paid by ref for one more period,
// counted from the later of now and the current expiry. Nil means no such vendor.
func (r *Repository) ExtendSubscription(ctx context.Context, tx pgx.Tx, id uuid.UUID, ref string, now time.Time, period time.Duration) (*models.Vendor, error) {
	v, err := scanVendor(tx.QueryRow(ctx, `
		UPDATE vendors
		SET subscription_status = 'active',
			subscription_expiry = GREATEST(COALESCE(subscription_expiry, $3), $3) + make_interval(secs => $4),
			subscription_reference = $2,
			updated_at = now()
		WHERE id = $1
		RETURNING `+vendorColumns, id, ref, now, period.Seconds()))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return v, err
}

// MarkLapsed moves active subscriptions whose expiry passed to past_due.
func (r *Repository) MarkLapsed(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `
		UPDATE vendors SET subscription_status = 'past_due', updated_at = now()
		WHERE subscription_status = 'active' AND subscription_expiry <= $1
		RETURNING id
	`, now)
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

func scanVendor(row pgx.Row) (*models.Vendor, error) {
	var v models.Vendor
	err := row.Scan(&v.ID, &v.BusinessName, &v.ContactEmail, &v.CreditBalance, &v.SubscriptionStatus, &v.SubscriptionExpiry,
		&v.SubscriptionReference, &v.ApprovalStatus, &v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &v, nil
}
