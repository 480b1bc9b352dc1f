package payments

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/stripe/stripe-go/v82"

	"github.com/festalink/backend/internal/apperr"
)

type StripeProvider struct {
	sc         *stripe.Client
	successURL string
	cancelURL  string
}

func NewStripeProvider(sc *stripe.Client, successURL, cancelURL string) *StripeProvider {
	return &StripeProvider{sc: sc, successURL: successURL, cancelURL: cancelURL}
}

var _ Provider = (*StripeProvider)(nil)

func (p *StripeProvider) CreateCheckout(ctx context.Context, req CheckoutRequest) (*Checkout, error) {
	params := &stripe.CheckoutSessionCreateParams{
		Mode:              stripe.String(string(req.Mode)),
		SuccessURL:        stripe.String(p.successURL),
		CancelURL:         stripe.String(p.cancelURL),
		ClientReferenceID: stripe.String(req.VendorID.String()),
		LineItems: []*stripe.CheckoutSessionCreateLineItemParams{
			{Price: stripe.String(req.PriceID), Quantity: stripe.Int64(1)},
		},
		Metadata: req.Metadata,
	}
	if req.Mode == ModeSubscription {
		params.SubscriptionData = &stripe.CheckoutSessionCreateSubscriptionDataParams{Metadata: req.Metadata}
	}
	cs, err := p.sc.V1CheckoutSessions.Create(ctx, params)
	if err != nil {
		return nil, classifyStripeErr("create checkout", err)
	}
	return &Checkout{SessionID: cs.ID, URL: cs.URL}, nil
}

func (p *StripeProvider) RetrieveSession(ctx context.Context, sessionID string) (*Session, error) {
	cs, err := p.sc.V1CheckoutSessions.Retrieve(ctx, sessionID, &stripe.CheckoutSessionRetrieveParams{})
	if err != nil {
		return nil, classifyStripeErr("retrieve session "+sessionID, err)
	}
	return sessionFromStripe(cs)
}

func sessionFromStripe(cs *stripe.CheckoutSession) (*Session, error) {
	s := &Session{
		ID: cs.ID,
		Paid: cs.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid ||
			cs.PaymentStatus == stripe.CheckoutSessionPaymentStatusNoPaymentRequired,
	}
	if err := parseMetadata(s, cs.Metadata); err != nil {
		return nil, err
	}
	return s, nil
}

// renewalFromStripe reads a paid renewal invoice as a subscription payment keyed
// by the invoice id. The metadata is the one the checkout copied onto the subscription.
func renewalFromStripe(inv *stripe.Invoice) (*Session, error) {
	s := &Session{ID: inv.ID, Paid: inv.Status == stripe.InvoiceStatusPaid}
	var md map[string]string
	if inv.Parent != nil && inv.Parent.SubscriptionDetails != nil {
		md = inv.Parent.SubscriptionDetails.Metadata
	}
	if err := parseMetadata(s, md); err != nil {
		return nil, err
	}
	if s.Purpose != PurposeSubscription {
		return nil, fmt.Errorf("invoice %s: not a subscription renewal: %w", inv.ID, apperr.ErrNotFound)
	}
	return s, nil
}

// classifyStripeErr maps provider failures onto the error taxonomy. Anything
// that never produced a Stripe API response is a transport failure.
func classifyStripeErr(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("stripe %s: %w: %v", op, apperr.ErrUpstreamUnavailable, err)
	}
	var se *stripe.Error
	if !errors.As(err, &se) {
		return fmt.Errorf("stripe %s: %w: %v", op, apperr.ErrUpstreamUnavailable, err)
	}
	switch {
	case se.HTTPStatusCode == http.StatusNotFound || se.Code == stripe.ErrorCodeResourceMissing:
		return fmt.Errorf("stripe %s: %w", op, apperr.ErrNotFound)
	case se.HTTPStatusCode == http.StatusTooManyRequests || se.HTTPStatusCode >= 500:
		return fmt.Errorf("stripe %s: %w: %s", op, apperr.ErrUpstreamUnavailable, se.Msg)
	case se.HTTPStatusCode == http.StatusBadRequest:
		return fmt.Errorf("%w: %s", apperr.ErrValidation, se.Msg)
	default:
		return fmt.Errorf("stripe %s: %w", op, err)
	}
}
