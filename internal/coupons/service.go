// Package coupons manages vendor discount codes. Every coupon expires seven days
// after creation and its use count never passes max_uses.
package coupons

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/festalink/backend/internal/apperr"
	"github.com/festalink/backend/internal/models"
)

var codePattern = regexp.MustCompile(`^[A-Z0-9][A-Z0-9-]{2,31}$`)

var (
	minDiscount = decimal.NewFromInt(1)
	maxDiscount = decimal.NewFromInt(100)
)

type Store interface {
	Create(ctx context.Context, c *models.Coupon) error
	Get(ctx context.Context, id uuid.UUID) (*models.Coupon, error)
	FindByCode(ctx context.Context, vendorID uuid.UUID, code string) (*models.Coupon, error)
	ListByVendor(ctx context.Context, vendorID uuid.UUID) ([]models.Coupon, error)
	Deactivate(ctx context.Context, vendorID, id uuid.UUID) (*models.Coupon, error)
	Redeem(ctx context.Context, vendorID uuid.UUID, code string, now time.Time) (*models.Coupon, error)
}

type CreateInput struct {
	Code            string
	DiscountPercent decimal.Decimal
	MaxUses         *int
}

type Service struct {
	store Store
	log   *slog.Logger
	now   func() time.Time
}

func NewService(store Store, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{store: store, log: log, now: time.Now}
}

func (s *Service) SetClock(now func() time.Time) { s.now = now }

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func (s *Service) Create(ctx context.Context, vendorID uuid.UUID, in CreateInput) (*models.Coupon, error) {
	code := normalizeCode(in.Code)
	if !codePattern.MatchString(code) {
		return nil, fmt.Errorf("%w: code must be 3-32 letters, digits or dashes", apperr.ErrValidation)
	}
	if in.DiscountPercent.LessThan(minDiscount) || in.DiscountPercent.GreaterThan(maxDiscount) {
		return nil, fmt.Errorf("%w: discount_percent must be between 1 and 100", apperr.ErrValidation)
	}
	if in.MaxUses != nil && *in.MaxUses <= 0 {
		return nil, fmt.Errorf("%w: max_uses must be positive", apperr.ErrValidation)
	}
	now := s.now()
	c := &models.Coupon{
		ID:              uuid.New(),
		VendorID:        vendorID,
		Code:            code,
		DiscountPercent: in.DiscountPercent.Round(2),
		MaxUses:         in.MaxUses,
		ExpiresAt:       now.Add(models.CouponLifetime),
	}
	if err := s.store.Create(ctx, c); err != nil {
		return nil, err
	}
	s.log.Info("coupon created", "vendor_id", vendorID, "code", code, "expires_at", c.ExpiresAt)
	return c, nil
}

func (s *Service) List(ctx context.Context, vendorID uuid.UUID) ([]models.Coupon, error) {
	return s.store.ListByVendor(ctx, vendorID)
}

func (s *Service) Deactivate(ctx context.Context, vendorID, id uuid.UUID) (*models.Coupon, error) {
	c, err := s.store.Deactivate(ctx, vendorID, id)
	if err != nil {
		return nil, err
	}
	if c == nil {
		if _, err := s.store.Get(ctx, id); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: coupon belongs to another vendor", apperr.ErrForbidden)
	}
	return c, nil
}

// Redeem takes one use of the vendor's coupon.
func (s *Service) Redeem(ctx context.Context, vendorID uuid.UUID, code string) (*models.Coupon, error) {
	code = normalizeCode(code)
	now := s.now()
	c, err := s.store.Redeem(ctx, vendorID, code, now)
	if err != nil {
		return nil, err
	}
	if c != nil {
		s.log.Info("coupon redeemed", "vendor_id", vendorID, "code", code, "uses", c.CurrentUses)
		return c, nil
	}
	current, err := s.store.FindByCode(ctx, vendorID, code)
	if err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("%w: %s", apperr.ErrInvalidTransition, unusableReason(current, now))
}

func unusableReason(c *models.Coupon, now time.Time) string {
	switch {
	case !c.IsActive:
		return "coupon is no longer active"
	case !now.Before(c.ExpiresAt):
		return "coupon has expired"
	case c.MaxUses != nil && c.CurrentUses >= *c.MaxUses:
		return "coupon has no uses left"
	default:
		return "coupon cannot be used"
	}
}
