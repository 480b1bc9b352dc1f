// Package auth registers accounts, checks passwords and issues the HS256 JWTs
// that carry the caller's role.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/festalink/backend/internal/apperr"
	"github.com/festalink/backend/internal/config"
	"github.com/festalink/backend/internal/models"
)

// ErrDuplicateEmail is returned when registering with an email that already exists.
var ErrDuplicateEmail = fmt.Errorf("%w: email already registered", apperr.ErrConflict)

var errInvalidCredentials = fmt.Errorf("%w: invalid credentials", apperr.ErrUnauthorized)

const minPasswordLen = 8

type Store interface {
	CreateTx(ctx context.Context, tx pgx.Tx, a *models.Account) error
	GetByEmail(ctx context.Context, email string) (*models.Account, error)
}

// VendorCreator inserts the vendor profile that belongs to a vendor account.
type VendorCreator interface {
	CreateTx(ctx context.Context, tx pgx.Tx, v *models.Vendor) error
}

type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

type RegisterInput struct {
	Email        string
	Password     string
	DisplayName  string
	Phone        string
	Role         models.Role
	BusinessName string
}

type Token struct {
	Token     string         `json:"token"`
	ExpiresAt time.Time      `json:"expires_at"`
	Account   models.Account `json:"account"`
}

type Service interface {
	Register(ctx context.Context, in RegisterInput) (*models.Account, error)
	CreateAdmin(ctx context.Context, email, password, displayName string) (*models.Account, error)
	Login(ctx context.Context, email, password string) (*Token, error)
	ValidateToken(ctx context.Context, token string) (uuid.UUID, string, error)
}

type service struct {
	db      TxBeginner
	repo    Store
	vendors VendorCreator
	secret  []byte
	ttl     time.Duration
	log     *slog.Logger
	now     func() time.Time
}

func NewService(db TxBeginner, repo Store, vendors VendorCreator, cfg config.AuthConfig, log *slog.Logger) *service {
	if log == nil {
		log = slog.Default()
	}
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &service{db: db, repo: repo, vendors: vendors, secret: []byte(cfg.JWTSecret), ttl: ttl, log: log, now: time.Now}
}

// Ensure service implements Service at compile time.
var _ Service = (*service)(nil)

func (s *service) SetClock(now func() time.Time) { s.now = now }

type claims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

func normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", fmt.Errorf("%w: invalid email", apperr.ErrValidation)
	}
	return email, nil
}

// Register creates a client or vendor account. Vendor accounts get their
// profile in the same transaction, pending approval.
func (s *service) Register(ctx context.Context, in RegisterInput) (*models.Account, error) {
	if in.Role != models.RoleClient && in.Role != models.RoleVendor {
		return nil, fmt.Errorf("%w: role must be client or vendor", apperr.ErrValidation)
	}
	businessName := strings.TrimSpace(in.BusinessName)
	if in.Role == models.RoleVendor && businessName == "" {
		return nil, fmt.Errorf("%w: business_name is required for vendors", apperr.ErrValidation)
	}
	acc, err := s.newAccount(in.Email, in.Password, in.DisplayName, in.Role)
	if err != nil {
		return nil, err
	}
	acc.Phone = strings.TrimSpace(in.Phone)

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	if err := s.repo.CreateTx(ctx, tx, acc); err != nil {
		return nil, err
	}
	if acc.Role == models.RoleVendor {
		v := &models.Vendor{ID: acc.ID, BusinessName: businessName, ContactEmail: acc.Email}
		if err := s.vendors.CreateTx(ctx, tx, v); err != nil {
			return nil, fmt.Errorf("create vendor profile: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	s.log.Info("account registered", "account_id", acc.ID, "role", acc.Role)
	return acc, nil
}

// CreateAdmin provisions an admin account. It is only reachable from marketctl.
func (s *service) CreateAdmin(ctx context.Context, email, password, displayName string) (*models.Account, error) {
	acc, err := s.newAccount(email, password, displayName, models.RoleAdmin)
	if err != nil {
		return nil, err
	}
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)
	if err := s.repo.CreateTx(ctx, tx, acc); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	s.log.Info("admin provisioned", "account_id", acc.ID)
	return acc, nil
}

func (s *service) newAccount(email, password, displayName string, role models.Role) (*models.Account, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	if len(password) < minPasswordLen {
		return nil, fmt.Errorf("%w: password must be at least %d characters", apperr.ErrValidation, minPasswordLen)
	}
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		return nil, fmt.Errorf("%w: display_name is required", apperr.ErrValidation)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	return &models.Account{Email: email, PasswordHash: string(hash), DisplayName: displayName, Role: role}, nil
}

func (s *service) Login(ctx context.Context, email, password string) (*Token, error) {
	acc, err := s.repo.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, errInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(acc.PasswordHash), []byte(password)); err != nil {
		return nil, errInvalidCredentials
	}
	tok, exp, err := s.issueToken(acc.ID, acc.Role)
	if err != nil {
		return nil, err
	}
	return &Token{Token: tok, ExpiresAt: exp, Account: *acc}, nil
}

func (s *service) issueToken(userID uuid.UUID, role models.Role) (string, time.Time, error) {
	now := s.now()
	exp := now.Add(s.ttl)
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		Role: string(role),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := tok.SignedString(s.secret)
	return signed, exp, err
}

func (s *service) ValidateToken(ctx context.Context, token string) (uuid.UUID, string, error) {
	tok, err := jwt.ParseWithClaims(token, &claims{}, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now), jwt.WithExpirationRequired())
	if err != nil {
		return uuid.Nil, "", fmt.Errorf("%w: %v", apperr.ErrUnauthorized, err)
	}
	c, ok := tok.Claims.(*claims)
	if !ok || !tok.Valid {
		return uuid.Nil, "", fmt.Errorf("%w: invalid token", apperr.ErrUnauthorized)
	}
	id, err := uuid.Parse(c.Subject)
	if err != nil {
		return uuid.Nil, "", fmt.Errorf("%w: invalid subject", apperr.ErrUnauthorized)
	}
	return id, c.Role, nil
}
