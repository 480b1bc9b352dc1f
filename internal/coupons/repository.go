package coupons

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

const couponColumns = `id, vendor_id, code, discount_percent, max_uses, current_uses, is_active, expires_at, created_at`

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ Store = (*Repository)(nil)

func (r *Repository) Create(ctx context.Context, c *models.Coupon) error {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO coupons (id, vendor_id, code, discount_percent, max_uses, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING current_uses, is_active, created_at
	`, c.ID, c.VendorID, c.Code, c.DiscountPercent, c.MaxUses, c.ExpiresAt).Scan(&c.CurrentUses, &c.IsActive, &c.CreatedAt)
	if apperr.IsUniqueViolation(err) {
		return fmt.Errorf("%w: coupon code %s already exists", apperr.ErrConflict, c.Code)
	}
	return err
}

func (r *Repository) Get(ctx context.Context, id uuid.UUID) (*models.Coupon, error) {
	c, err := scanCoupon(r.pool.QueryRow(ctx, `SELECT `+couponColumns+` FROM coupons WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("coupon %s: %w", id, apperr.ErrNotFound)
	}
	return c, err
}

func (r *Repository) FindByCode(ctx context.Context, vendorID uuid.UUID, code string) (*models.Coupon, error) {
	c, err := scanCoupon(r.pool.QueryRow(ctx, `SELECT `+couponColumns+` FROM coupons WHERE vendor_id = $1 AND code = $2`, vendorID, code))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("coupon %s: %w", code, apperr.ErrNotFound)
	}
	return c, err
}

func (r *Repository) ListByVendor(ctx context.Context, vendorID uuid.UUID) ([]models.Coupon, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+couponColumns+` FROM coupons WHERE vendor_id = $1 ORDER BY created_at DESC`, vendorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []models.Coupon{}
	for rows.Next() {
		c, err := scanCoupon(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// Deactivate soft-deletes the vendor's coupon. Returns nil when no row matched.
func (r *Repository) Deactivate(ctx context.Context, vendorID, id uuid.UUID) (*models.Coupon, error) {
	c, err := scanCoupon(r.pool.QueryRow(ctx, `
		UPDATE coupons SET is_active = false
		WHERE id = $1 AND vendor_id = $2
		RETURNING `+couponColumns, id, vendorID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return c, err
}

// Redeem takes one use of the coupon if it is active, unexpired and under its
// limit. Returns nil when the guard rejects the use.
func (r *Repository) Redeem(ctx context.Context, vendorID uuid.UUID, code string, now time.Time) (*models.Coupon, error) {
	c, err := scanCoupon(r.pool.QueryRow(ctx, `
		UPDATE coupons SET current_uses = current_uses + 1
		WHERE vendor_id = $1 AND code = $2
		  AND is_active
		  AND expires_at > $3
		  AND (max_uses IS NULL OR current_uses < max_uses)
		RETURNING `+couponColumns, vendorID, code, now))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return c, err
}

func scanCoupon(row pgx.Row) (*models.Coupon, error) {
	var c models.Coupon
	if err := row.Scan(&c.ID, &c.VendorID, &c.Code, &c.DiscountPercent, &c.MaxUses, &c.CurrentUses, &c.IsActive,
		&c.ExpiresAt, &c.CreatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}
