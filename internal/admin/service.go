// Package admin runs operator actions over many vendors at once. Each vendor is
// processed on its own; one failure is reported and the batch carries on.
package admin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/festalink/backend/internal/apperr"
	"github.com/festalink/backend/internal/ledger"
	"github.com/festalink/backend/internal/models"
)

const (
	maxBatch        = 1000
	defaultTemplate = "Bonus of {amount} credits"
	bulkBonusPrefix = "bulk-bonus:"
)

type Ledger interface {
	Append(ctx context.Context, e ledger.Entry) (int, error)
}

type Vendors interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Vendor, error)
}

type Messages interface {
	RecordOnceTx(ctx context.Context, tx pgx.Tx, m *models.Message) (bool, error)
	EmailAccountTx(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, subject, body string)
}

type Reports interface {
	DealSummary(ctx context.Context, from, to *time.Time, top int) (*DealReport, error)
}

type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

type BonusInput struct {
	// BatchID identifies the invocation; a retried call with the same id never credits twice.
	BatchID   uuid.UUID
	VendorIDs []uuid.UUID
	Amount    int
	// ReasonTemplate may use {vendor} and {amount}.
	ReasonTemplate string
	ExpiresAt      *time.Time
}

type MessageInput struct {
	BatchID   uuid.UUID
	VendorIDs []uuid.UUID
	Subject   string
	Body      string
	Email     bool
}

type VendorResult struct {
	VendorID uuid.UUID `json:"vendor_id"`
	Balance  *int      `json:"balance,omitempty"`
	Error    string    `json:"error,omitempty"`
}

type BulkResult struct {
	BatchID   uuid.UUID      `json:"batch_id"`
	Succeeded []VendorResult `json:"succeeded"`
	Failed    []VendorResult `json:"failed"`
}

type VendorDeals struct {
	VendorID     uuid.UUID       `json:"vendor_id"`
	BusinessName string          `json:"business_name"`
	Deals        int             `json:"deals"`
	TotalValue   decimal.Decimal `json:"total_value"`
}

type DealReport struct {
	From       *time.Time      `json:"from,omitempty"`
	To         *time.Time      `json:"to,omitempty"`
	Deals      int             `json:"deals"`
	TotalValue decimal.Decimal `json:"total_value"`
	ByVendor   []VendorDeals   `json:"by_vendor"`
}

type Service struct {
	db            TxBeginner
	ledger        Ledger
	vendors       Vendors
	messages      Messages
	reports       Reports
	bonusLifetime time.Duration
	log           *slog.Logger
	now           func() time.Time
}

func NewService(db TxBeginner, l Ledger, vendors Vendors, messages Messages, reports Reports, bonusLifetime time.Duration, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{db: db, ledger: l, vendors: vendors, messages: messages, reports: reports,
		bonusLifetime: bonusLifetime, log: log, now: time.Now}
}

func (s *Service) SetClock(now func() time.Time) { s.now = now }

// BonusRef is the ledger reference of a bulk bonus batch.
func BonusRef(batchID uuid.UUID) string { return bulkBonusPrefix + batchID.String() }

// ApplyBonusToMany grants amount bonus credits to every listed vendor.
func (s *Service) ApplyBonusToMany(ctx context.Context, adminID uuid.UUID, in BonusInput) (*BulkResult, error) {
	if in.Amount <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", apperr.ErrValidation)
	}
	ids, err := checkBatch(in.VendorIDs)
	if err != nil {
		return nil, err
	}
	now := s.now()
	expires := now.Add(s.bonusLifetime)
	if in.ExpiresAt != nil {
		if !in.ExpiresAt.After(now) {
			return nil, fmt.Errorf("%w: expires_at must be in the future", apperr.ErrValidation)
		}
		expires = *in.ExpiresAt
	}
	if in.BatchID == uuid.Nil {
		in.BatchID = uuid.New()
	}
	tmpl := in.ReasonTemplate
	if tmpl == "" {
		tmpl = defaultTemplate
	}

	res := newResult(in.BatchID)
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		v, err := s.vendors.Get(ctx, id)
		if err != nil {
			s.fail(res, id, err)
			continue
		}
		balance, err := s.ledger.Append(ctx, ledger.Entry{
			VendorID:    id,
			Amount:      in.Amount,
			Type:        models.TxBonus,
			Description: render(tmpl, v.BusinessName, in.Amount),
			ExpiresAt:   &expires,
			ExternalRef: BonusRef(in.BatchID),
		})
		if err != nil {
			s.fail(res, id, err)
			continue
		}
		res.Succeeded = append(res.Succeeded, VendorResult{VendorID: id, Balance: &balance})
	}
	s.log.Info("bulk bonus applied", "admin_id", adminID, "batch_id", in.BatchID, "amount", in.Amount,
		"succeeded", len(res.Succeeded), "failed", len(res.Failed))
	return res, nil
}

// SendMessageToMany writes one message row per vendor. Redelivering a batch to
// a vendor that already has it counts as success without a second row.
func (s *Service) SendMessageToMany(ctx context.Context, adminID uuid.UUID, in MessageInput) (*BulkResult, error) {
	if strings.TrimSpace(in.Subject) == "" || strings.TrimSpace(in.Body) == "" {
		return nil, fmt.Errorf("%w: subject and body are required", apperr.ErrValidation)
	}
	ids, err := checkBatch(in.VendorIDs)
	if err != nil {
		return nil, err
	}
	if in.BatchID == uuid.Nil {
		in.BatchID = uuid.New()
	}
	res := newResult(in.BatchID)
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if err := s.deliver(ctx, adminID, id, in); err != nil {
			s.fail(res, id, err)
			continue
		}
		res.Succeeded = append(res.Succeeded, VendorResult{VendorID: id})
	}
	s.log.Info("bulk message sent", "admin_id", adminID, "batch_id", in.BatchID,
		"succeeded", len(res.Succeeded), "failed", len(res.Failed))
	return res, nil
}

// deliver writes the vendor's message row and, for a first delivery, queues
// the email copy in the same transaction.
func (s *Service) deliver(ctx context.Context, adminID, vendorID uuid.UUID, in MessageInput) error {
	if _, err := s.vendors.Get(ctx, vendorID); err != nil {
		return err
	}
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	batch := in.BatchID
	inserted, err := s.messages.RecordOnceTx(ctx, tx, &models.Message{
		RecipientID: vendorID,
		SenderID:    &adminID,
		Kind:        models.MessageAdminBroadcast,
		Subject:     in.Subject,
		Body:        in.Body,
		BatchID:     &batch,
	})
	if err != nil {
		return err
	}
	if inserted && in.Email {
		s.messages.EmailAccountTx(ctx, tx, vendorID, in.Subject, in.Body)
	}
	return tx.Commit(ctx)
}

// DealReport summarizes closed deals between from and to.
func (s *Service) DealReport(ctx context.Context, from, to *time.Time) (*DealReport, error) {
	if from != nil && to != nil && !from.Before(*to) {
		return nil, fmt.Errorf("%w: from must be before to", apperr.ErrValidation)
	}
	return s.reports.DealSummary(ctx, from, to, 20)
}

func checkBatch(ids []uuid.UUID) ([]uuid.UUID, error) {
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: vendor_ids is required", apperr.ErrValidation)
	}
	seen := make(map[uuid.UUID]bool, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if id == uuid.Nil || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: vendor_ids is required", apperr.ErrValidation)
	}
	if len(out) > maxBatch {
		return nil, fmt.Errorf("%w: at most %d vendors per batch", apperr.ErrValidation, maxBatch)
	}
	return out, nil
}

func render(tmpl, vendor string, amount int) string {
	return strings.NewReplacer("{vendor}", vendor, "{amount}", strconv.Itoa(amount)).Replace(tmpl)
}

func newResult(batchID uuid.UUID) *BulkResult {
	return &BulkResult{BatchID: batchID, Succeeded: []VendorResult{}, Failed: []VendorResult{}}
}

func (s *Service) fail(r *BulkResult, id uuid.UUID, err error) {
	_, msg := apperr.Status(err)
	if errors.Is(err, apperr.ErrNotFound) {
		msg = "vendor not found"
	}
	s.log.Warn("bulk operation failed for vendor", "batch_id", r.BatchID, "vendor_id", id, "error", err)
	r.Failed = append(r.Failed, VendorResult{VendorID: id, Error: msg})
}
