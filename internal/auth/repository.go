package auth

import (
	"context"
	"errors"
	"fmt"

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

// CreateTx inserts a new account. A duplicate email surfaces as ErrDuplicateEmail.
func (r *Repository) CreateTx(ctx context.Context, tx pgx.Tx, a *models.Account) error {
	err := tx.QueryRow(ctx, `
		INSERT INTO accounts (email, password_hash, display_name, phone, role)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`, a.Email, a.PasswordHash, a.DisplayName, a.Phone, string(a.Role)).Scan(&a.ID, &a.CreatedAt)
	if apperr.IsUniqueViolation(err) {
		return ErrDuplicateEmail
	}
	return err
}

// GetByEmail returns the account including its password hash.
func (r *Repository) GetByEmail(ctx context.Context, email string) (*models.Account, error) {
	var a models.Account
	var role string
	err := r.pool.QueryRow(ctx, `
		SELECT id, email, password_hash, display_name, phone, role, created_at
		FROM accounts WHERE email = $1
	`, email).Scan(&a.ID, &a.Email, &a.PasswordHash, &a.DisplayName, &a.Phone, &role, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("account %s: %w", email, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	a.Role = models.Role(role)
	return &a, nil
}
