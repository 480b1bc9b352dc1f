// Package quotes runs the quote/proposal lifecycle between a client and a vendor.
//
//	open -> unlocked -> proposed -> completed (accepted)
//	                    proposed + rejected -> proposed (re-proposal)
//	open | unlocked | proposed -> cancelled
//
// Every transition is a single conditional UPDATE so that concurrent callers
// cannot both win.
package quotes

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/festalink/backend/internal/apperr"
	"github.com/festalink/backend/internal/middleware"
	"github.com/festalink/backend/internal/models"
)

type ListFilter struct {
	ClientID *uuid.UUID
	VendorID *uuid.UUID
	Status   *models.QuoteStatus
	Limit    int
}

type Proposal struct {
	QuoteID     uuid.UUID
	VendorID    uuid.UUID
	Value       decimal.Decimal
	Message     string
	ContractURL *string
	At          time.Time
}

type Response struct {
	QuoteID    uuid.UUID
	ClientID   uuid.UUID
	ProposedAt time.Time
	Answer     models.ClientResponse
	// DealValue overrides the proposed value on acceptance.
	DealValue *decimal.Decimal
	At        time.Time
}

type Store interface {
	Create(ctx context.Context, q *models.Quote) error
	Get(ctx context.Context, id uuid.UUID) (*models.Quote, error)
	List(ctx context.Context, f ListFilter) ([]*models.Quote, error)
	Propose(ctx context.Context, tx pgx.Tx, p Proposal) (*models.Quote, error)
	Respond(ctx context.Context, tx pgx.Tx, r Response) (*models.Quote, error)
	Cancel(ctx context.Context, id uuid.UUID) (*models.Quote, error)
}

// Leads is the lead-access side a proposal depends on.
type Leads interface {
	HasPaidAccess(ctx context.Context, quoteID, vendorID uuid.UUID) (bool, error)
	StampDealTx(ctx context.Context, tx pgx.Tx, quoteID, vendorID uuid.UUID, value decimal.Decimal) error
}

// Vendors answers whether a vendor may receive quote requests.
type Vendors interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Vendor, error)
}

// Notifier writes in-app messages inside a transaction and sends best-effort email after it.
type Notifier interface {
	RecordTx(ctx context.Context, tx pgx.Tx, m *models.Message) error
	EmailAccountTx(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, subject, body string)
	EmailAccount(ctx context.Context, accountID uuid.UUID, subject, body string)
}

type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

type Service struct {
	db         TxBeginner
	store      Store
	leads      Leads
	vendors    Vendors
	notify     Notifier
	creditCost int
	log        *slog.Logger
	now        func() time.Time
}

func NewService(db TxBeginner, store Store, leads Leads, vendors Vendors, notify Notifier, creditCost int, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	if creditCost <= 0 {
		creditCost = 1
	}
	return &Service{db: db, store: store, leads: leads, vendors: vendors, notify: notify, creditCost: creditCost, log: log, now: time.Now}
}

func (s *Service) SetClock(now func() time.Time) { s.now = now }

type CreateInput struct {
	VendorID     uuid.UUID
	EventDate    time.Time
	PaxCount     int
	Description  string
	ContactName  string
	ContactEmail string
	ContactPhone string
}

// Create opens a quote request from a client to an approved vendor.
func (s *Service) Create(ctx context.Context, clientID uuid.UUID, in CreateInput) (*models.Quote, error) {
	if !in.EventDate.After(s.now()) {
		return nil, fmt.Errorf("%w: event date must be in the future", apperr.ErrValidation)
	}
	if in.PaxCount <= 0 {
		return nil, fmt.Errorf("%w: pax count must be positive", apperr.ErrValidation)
	}
	v, err := s.vendors.Get(ctx, in.VendorID)
	if err != nil {
		return nil, err
	}
	if v.ApprovalStatus != models.ApprovalApproved {
		return nil, fmt.Errorf("%w: vendor is not accepting quotes", apperr.ErrInvalidTransition)
	}
	q := &models.Quote{
		ID:           uuid.New(),
		ClientID:     clientID,
		VendorID:     in.VendorID,
		EventDate:    in.EventDate,
		PaxCount:     in.PaxCount,
		Description:  in.Description,
		ContactName:  in.ContactName,
		ContactEmail: in.ContactEmail,
		ContactPhone: in.ContactPhone,
		CreditCost:   s.creditCost,
		Status:       models.QuoteOpen,
	}
	if err := s.store.Create(ctx, q); err != nil {
		return nil, err
	}
	s.log.Info("quote created", "quote_id", q.ID, "vendor_id", q.VendorID, "client_id", clientID)
	s.notify.EmailAccount(ctx, q.VendorID, "New quote request",
		fmt.Sprintf("You have a new quote request for %d guests on %s.", q.PaxCount, q.EventDate.Format("2006-01-02")))
	return q, nil
}

// Get returns the quote as the principal may see it.
func (s *Service) Get(ctx context.Context, p middleware.Principal, id uuid.UUID) (*models.Quote, error) {
	q, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := authorizeParty(p, q); err != nil {
		return nil, err
	}
	if err := s.redact(ctx, p, q); err != nil {
		return nil, err
	}
	return q, nil
}

// List returns the principal's quotes: a client's own requests, a vendor's inbox, or everything for admins.
func (s *Service) List(ctx context.Context, p middleware.Principal, status *models.QuoteStatus, limit int) ([]*models.Quote, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	f := ListFilter{Status: status, Limit: limit}
	switch p.Role {
	case models.RoleClient:
		f.ClientID = &p.AccountID
	case models.RoleVendor:
		f.VendorID = &p.AccountID
	case models.RoleAdmin:
	default:
		return nil, apperr.ErrForbidden
	}
	list, err := s.store.List(ctx, f)
	if err != nil {
		return nil, err
	}
	for _, q := range list {
		if err := s.redact(ctx, p, q); err != nil {
			return nil, err
		}
	}
	return list, nil
}

// redact hides the client's contact details from a vendor without paid access.
func (s *Service) redact(ctx context.Context, p middleware.Principal, q *models.Quote) error {
	if p.Role != models.RoleVendor {
		return nil
	}
	// Unlocking moves an open quote forward, so an open quote was never unlocked.
	if q.Status == models.QuoteOpen {
		q.HideContact()
		return nil
	}
	ok, err := s.leads.HasPaidAccess(ctx, q.ID, p.AccountID)
	if err != nil {
		return err
	}
	if !ok {
		q.HideContact()
	}
	return nil
}

type ProposeInput struct {
	Value       decimal.Decimal
	Message     string
	ContractURL *string
}

// Propose sends or re-sends the vendor's offer. The vendor must have unlocked
// the lead, and a proposal still awaiting the client's answer cannot be replaced.
func (s *Service) Propose(ctx context.Context, vendorID, quoteID uuid.UUID, in ProposeInput) (*models.Quote, error) {
	if !in.Value.IsPositive() {
		return nil, fmt.Errorf("%w: proposed value must be positive", apperr.ErrValidation)
	}
	ok, err := s.leads.HasPaidAccess(ctx, quoteID, vendorID)
	if err != nil {
		return nil, err
	}
	if !ok {
		current, err := s.store.Get(ctx, quoteID)
		if err != nil {
			return nil, err
		}
		if current.VendorID != vendorID {
			return nil, apperr.ErrForbidden
		}
		return nil, fmt.Errorf("%w: unlock the lead before sending a proposal", apperr.ErrForbidden)
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	q, err := s.store.Propose(ctx, tx, Proposal{
		QuoteID:     quoteID,
		VendorID:    vendorID,
		Value:       in.Value,
		Message:     in.Message,
		ContractURL: in.ContractURL,
		At:          s.now().UTC().Truncate(time.Microsecond),
	})
	if err != nil {
		return nil, err
	}
	if q == nil {
		_ = tx.Rollback(ctx)
		return nil, s.explainProposeMiss(ctx, vendorID, quoteID)
	}
	msg := &models.Message{
		RecipientID: q.ClientID,
		SenderID:    &vendorID,
		QuoteID:     &q.ID,
		Kind:        models.MessageProposalReceived,
		Subject:     "You received a proposal",
		Body:        fmt.Sprintf("A vendor proposed %s for your event on %s.", in.Value.StringFixed(2), q.EventDate.Format("2006-01-02")),
	}
	if err := s.notify.RecordTx(ctx, tx, msg); err != nil {
		return nil, err
	}
	s.notify.EmailAccountTx(ctx, tx, q.ClientID, msg.Subject, msg.Body)
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	s.log.Info("proposal sent", "quote_id", q.ID, "vendor_id", vendorID, "value", in.Value.String())
	return q, nil
}

func (s *Service) explainProposeMiss(ctx context.Context, vendorID, quoteID uuid.UUID) error {
	q, err := s.store.Get(ctx, quoteID)
	if err != nil {
		return err
	}
	switch {
	case q.VendorID != vendorID:
		return apperr.ErrForbidden
	case q.AwaitingResponse():
		return fmt.Errorf("%w: the current proposal is awaiting the client's response", apperr.ErrInvalidTransition)
	default:
		return fmt.Errorf("%w: quote is %s", apperr.ErrInvalidTransition, q.Status)
	}
}

type RespondInput struct {
	Answer     models.ClientResponse
	ProposedAt time.Time
	DealValue  *decimal.Decimal
}

// Respond records the client's single answer to the proposal identified by
// ProposedAt. Acceptance completes the quote and closes the deal on the
// vendor's lead access in the same transaction. The vendor always gets a
// message row; the email copy is best-effort.
func (s *Service) Respond(ctx context.Context, clientID, quoteID uuid.UUID, in RespondInput) (*models.Quote, error) {
	if in.Answer != models.ResponseAccepted && in.Answer != models.ResponseRejected {
		return nil, fmt.Errorf("%w: response must be accepted or rejected", apperr.ErrValidation)
	}
	if in.DealValue != nil && !in.DealValue.IsPositive() {
		return nil, fmt.Errorf("%w: deal value must be positive", apperr.ErrValidation)
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	q, err := s.store.Respond(ctx, tx, Response{
		QuoteID:    quoteID,
		ClientID:   clientID,
		ProposedAt: in.ProposedAt.UTC().Truncate(time.Microsecond),
		Answer:     in.Answer,
		DealValue:  in.DealValue,
		At:         s.now(),
	})
	if err != nil {
		return nil, err
	}
	if q == nil {
		_ = tx.Rollback(ctx)
		return nil, s.explainRespondMiss(ctx, clientID, quoteID, in.ProposedAt)
	}

	msg := &models.Message{
		RecipientID: q.VendorID,
		SenderID:    &clientID,
		QuoteID:     &q.ID,
	}
	if in.Answer == models.ResponseAccepted {
		value := q.ProposedValue.Decimal
		if in.DealValue != nil {
			value = *in.DealValue
		}
		if err := s.leads.StampDealTx(ctx, tx, q.ID, q.VendorID, value); err != nil {
			return nil, err
		}
		msg.Kind = models.MessageProposalAccepted
		msg.Subject = "Your proposal was accepted"
		msg.Body = fmt.Sprintf("The client accepted your proposal of %s. Deal closed.", value.StringFixed(2))
	} else {
		msg.Kind = models.MessageProposalRejected
		msg.Subject = "Your proposal was declined"
		msg.Body = "The client declined your proposal. You may send a new one."
	}
	if err := s.notify.RecordTx(ctx, tx, msg); err != nil {
		return nil, err
	}
	s.notify.EmailAccountTx(ctx, tx, q.VendorID, msg.Subject, msg.Body)
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	s.log.Info("proposal answered", "quote_id", q.ID, "vendor_id", q.VendorID, "answer", in.Answer)
	return q, nil
}

func (s *Service) explainRespondMiss(ctx context.Context, clientID, quoteID uuid.UUID, proposedAt time.Time) error {
	q, err := s.store.Get(ctx, quoteID)
	if err != nil {
		return err
	}
	switch {
	case q.ClientID != clientID:
		return apperr.ErrForbidden
	case q.Status == models.QuoteCompleted:
		return fmt.Errorf("%w: proposal already accepted", apperr.ErrInvalidTransition)
	case q.Status != models.QuoteProposed:
		return fmt.Errorf("%w: quote is %s, no proposal to answer", apperr.ErrInvalidTransition, q.Status)
	case q.ProposedAt == nil || !q.ProposedAt.Equal(proposedAt.UTC().Truncate(time.Microsecond)):
		return fmt.Errorf("%w: the proposal has changed, reload before answering", apperr.ErrConflict)
	default:
		return fmt.Errorf("%w: proposal already answered", apperr.ErrInvalidTransition)
	}
}

// Cancel withdraws the quote. The client, the vendor or an admin may cancel
// until the quote is completed.
func (s *Service) Cancel(ctx context.Context, p middleware.Principal, quoteID uuid.UUID) (*models.Quote, error) {
	current, err := s.store.Get(ctx, quoteID)
	if err != nil {
		return nil, err
	}
	if err := authorizeParty(p, current); err != nil {
		return nil, err
	}
	q, err := s.store.Cancel(ctx, quoteID)
	if err != nil {
		return nil, err
	}
	if q == nil {
		return nil, fmt.Errorf("%w: quote is %s", apperr.ErrInvalidTransition, current.Status)
	}
	s.log.Info("quote cancelled", "quote_id", quoteID, "by", p.AccountID)
	other := q.VendorID
	if p.AccountID == q.VendorID {
		other = q.ClientID
	}
	s.notify.EmailAccount(ctx, other, "Quote cancelled",
		fmt.Sprintf("The quote for the event on %s was cancelled.", q.EventDate.Format("2006-01-02")))
	if err := s.redact(ctx, p, q); err != nil {
		return nil, err
	}
	return q, nil
}

func authorizeParty(p middleware.Principal, q *models.Quote) error {
	if p.IsAdmin() || p.AccountID == q.ClientID || p.AccountID == q.VendorID {
		return nil
	}
	return apperr.ErrForbidden
}
