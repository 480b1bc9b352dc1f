// Package payments turns provider checkout sessions into ledger credits, lead
// access and subscription time. Applying a session is idempotent on its id.
package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/festalink/backend/internal/apperr"
	"github.com/festalink/backend/internal/config"
	"github.com/festalink/backend/internal/ledger"
	"github.com/festalink/backend/internal/metrics"
	"github.com/festalink/backend/internal/models"
)

type Ledger interface {
	Append(ctx context.Context, e ledger.Entry) (int, error)
}

type Leads interface {
	PrepareCheckout(ctx context.Context, vendorID, quoteID uuid.UUID) error
	UnlockViaPayment(ctx context.Context, vendorID, quoteID uuid.UUID) (bool, error)
}

type Vendors interface {
	ApplySubscription(ctx context.Context, vendorID uuid.UUID, sessionID string) (bool, error)
}

// CheckoutInput is the discriminated checkout request. PriceID applies to
// credit purchases and QuoteID to lead unlocks.
type CheckoutInput struct {
	Purpose Purpose
	PriceID string
	QuoteID uuid.UUID
}

// Result is what verify reports to the vendor. Replays look like success.
type Result struct {
	Success        bool    `json:"success"`
	Message        string  `json:"message"`
	Purpose        Purpose `json:"purpose"`
	AlreadyApplied bool    `json:"already_applied"`
	Balance        *int    `json:"balance,omitempty"`
}

type Service struct {
	provider Provider
	ledger   Ledger
	leads    Leads
	vendors  Vendors
	cache    AppliedCache
	cfg      config.StripeConfig
	log      *slog.Logger
}

func NewService(provider Provider, l Ledger, leads Leads, vendors Vendors, cache AppliedCache, cfg config.StripeConfig, log *slog.Logger) *Service {
	if cache == nil {
		cache = NoCache{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Service{provider: provider, ledger: l, leads: leads, vendors: vendors, cache: cache, cfg: cfg, log: log}
}

// CreateCheckout opens a hosted checkout for the vendor.
func (s *Service) CreateCheckout(ctx context.Context, vendorID uuid.UUID, in CheckoutInput) (*Checkout, error) {
	md := map[string]string{
		metaPurpose: string(in.Purpose),
		metaVendor:  vendorID.String(),
	}
	req := CheckoutRequest{VendorID: vendorID, Mode: ModePayment, Metadata: md}
	switch in.Purpose {
	case PurposeCreditPurchase:
		credits, ok := s.cfg.CreditsForPrice(in.PriceID)
		if !ok {
			return nil, fmt.Errorf("%w: unknown credit package %q", apperr.ErrValidation, in.PriceID)
		}
		req.PriceID = in.PriceID
		md[metaCredits] = strconv.Itoa(credits)
	case PurposeLeadUnlock:
		if s.cfg.LeadUnlockPriceID == "" {
			return nil, fmt.Errorf("%w: paying for a single lead is not available", apperr.ErrValidation)
		}
		if err := s.leads.PrepareCheckout(ctx, vendorID, in.QuoteID); err != nil {
			return nil, err
		}
		req.PriceID = s.cfg.LeadUnlockPriceID
		md[metaQuote] = in.QuoteID.String()
	case PurposeSubscription:
		if s.cfg.SubscriptionPriceID == "" {
			return nil, fmt.Errorf("%w: subscriptions are not available", apperr.ErrValidation)
		}
		req.PriceID = s.cfg.SubscriptionPriceID
		req.Mode = ModeSubscription
	default:
		return nil, fmt.Errorf("%w: unknown checkout type %q", apperr.ErrValidation, in.Purpose)
	}
	co, err := s.provider.CreateCheckout(ctx, req)
	if err != nil {
		return nil, err
	}
	s.log.Info("checkout created", "vendor_id", vendorID, "purpose", in.Purpose, "session_id", co.SessionID)
	return co, nil
}

// VerifyAndApply confirms the vendor's session with the provider and applies it.
// An unpaid session is reported with Success=false and changes nothing.
func (s *Service) VerifyAndApply(ctx context.Context, vendorID uuid.UUID, sessionID string, expected Purpose) (*Result, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("%w: session_id is required", apperr.ErrValidation)
	}
	if !expected.Valid() {
		return nil, fmt.Errorf("%w: unknown payment type %q", apperr.ErrValidation, expected)
	}
	if hit, ok := s.cache.AppliedBy(ctx, sessionID); ok && hit.VendorID == vendorID {
		if hit.Purpose != expected {
			return nil, fmt.Errorf("%w: session is a %s payment, not %s", apperr.ErrValidation, hit.Purpose, expected)
		}
		metrics.PaymentReconciliations.WithLabelValues(string(expected), "cached").Inc()
		return &Result{Success: true, AlreadyApplied: true, Purpose: expected, Message: "payment already applied"}, nil
	}
	sess, err := s.provider.RetrieveSession(ctx, sessionID)
	if err != nil {
		metrics.PaymentReconciliations.WithLabelValues(string(expected), "error").Inc()
		return nil, err
	}
	if sess.VendorID != vendorID {
		return nil, fmt.Errorf("%w: session belongs to another vendor", apperr.ErrForbidden)
	}
	if sess.Purpose != expected {
		return nil, fmt.Errorf("%w: session is a %s payment, not %s", apperr.ErrValidation, sess.Purpose, expected)
	}
	return s.ApplySession(ctx, sess)
}

// ApplySession applies a paid session. Verify and the webhook both end here.
func (s *Service) ApplySession(ctx context.Context, sess *Session) (*Result, error) {
	res := &Result{Purpose: sess.Purpose}
	if !sess.Paid {
		metrics.PaymentReconciliations.WithLabelValues(string(sess.Purpose), "unpaid").Inc()
		res.Message = "payment not completed"
		return res, nil
	}
	var err error
	switch sess.Purpose {
	case PurposeCreditPurchase:
		var balance int
		balance, err = s.ledger.Append(ctx, ledger.Entry{
			VendorID:    sess.VendorID,
			Amount:      sess.Credits,
			Type:        models.TxPurchase,
			Description: fmt.Sprintf("Purchased %d credits", sess.Credits),
			ExternalRef: sess.ID,
		})
		res.Balance = &balance
		res.Message = fmt.Sprintf("%d credits added", sess.Credits)
	case PurposeLeadUnlock:
		res.AlreadyApplied, err = s.leads.UnlockViaPayment(ctx, sess.VendorID, sess.QuoteID)
		res.Message = "lead unlocked"
	case PurposeSubscription:
		var applied bool
		applied, err = s.vendors.ApplySubscription(ctx, sess.VendorID, sess.ID)
		res.AlreadyApplied = !applied
		res.Message = "subscription active"
	}
	if err != nil {
		metrics.PaymentReconciliations.WithLabelValues(string(sess.Purpose), "error").Inc()
		return nil, fmt.Errorf("apply session %s: %w", sess.ID, err)
	}
	res.Success = true
	s.cache.MarkApplied(ctx, sess.ID, Applied{VendorID: sess.VendorID, Purpose: sess.Purpose})
	metrics.PaymentReconciliations.WithLabelValues(string(sess.Purpose), "applied").Inc()
	s.log.Info("payment applied", "session_id", sess.ID, "vendor_id", sess.VendorID, "purpose", sess.Purpose,
		"already_applied", res.AlreadyApplied)
	return res, nil
}

// HandleWebhook verifies the event signature and applies completed checkouts
// and subscription renewals. Events for sessions this service did not create
// are acknowledged and ignored.
func (s *Service) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	event, err := webhook.ConstructEventWithOptions(payload, signature, s.cfg.WebhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return fmt.Errorf("%w: invalid webhook signature", apperr.ErrValidation)
	}
	var sess *Session
	switch event.Type {
	case "checkout.session.completed", "checkout.session.async_payment_succeeded":
		var cs stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &cs); err != nil {
			return fmt.Errorf("%w: malformed checkout session", apperr.ErrValidation)
		}
		sess, err = sessionFromStripe(&cs)
	case "invoice.paid":
		var inv stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			return fmt.Errorf("%w: malformed invoice", apperr.ErrValidation)
		}
		// The first invoice is paid through the checkout session that created the subscription.
		if inv.BillingReason == stripe.InvoiceBillingReasonSubscriptionCreate {
			return nil
		}
		sess, err = renewalFromStripe(&inv)
	default:
		return nil
	}
	if errors.Is(err, apperr.ErrNotFound) {
		s.log.Info("webhook ignored", "event_id", event.ID, "type", event.Type, "reason", err)
		return nil
	}
	if err != nil {
		return err
	}
	_, err = s.ApplySession(ctx, sess)
	return err
}
