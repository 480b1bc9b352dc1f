package payments

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82"

	"github.com/festalink/backend/internal/apperr"
)

func newStripeProvider(t *testing.T, h http.HandlerFunc) *StripeProvider {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	backends := stripe.NewBackendsWithConfig(&stripe.BackendConfig{
		URL:               stripe.String(srv.URL),
		HTTPClient:        srv.Client(),
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelNull},
	})
	sc := stripe.NewClient("sk_test_123", stripe.WithBackends(backends))
	return NewStripeProvider(sc, "https://app.test/success", "https://app.test/cancel")
}

func TestStripeRetrieveSession(t *testing.T) {
	vendor := uuid.New()
	p := newStripeProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/checkout/sessions/cs_test_1", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"id":"cs_test_1","object":"checkout.session","payment_status":"paid",
			"metadata":{"purpose":"credit_purchase","vendor_id":"`+vendor.String()+`","credits":"50"}}`)
	})

	s, err := p.RetrieveSession(context.Background(), "cs_test_1")
	require.NoError(t, err)
	assert.True(t, s.Paid)
	assert.Equal(t, PurposeCreditPurchase, s.Purpose)
	assert.Equal(t, vendor, s.VendorID)
	assert.Equal(t, 50, s.Credits)
}

func TestStripeErrorsAreClassified(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"missing", http.StatusNotFound, `{"error":{"type":"invalid_request_error","code":"resource_missing","message":"No such checkout.session"}}`, apperr.ErrNotFound},
		{"outage", http.StatusServiceUnavailable, `{"error":{"type":"api_error","message":"try again"}}`, apperr.ErrUpstreamUnavailable},
		{"rate limited", http.StatusTooManyRequests, `{"error":{"type":"invalid_request_error","code":"rate_limit","message":"slow down"}}`, apperr.ErrUpstreamUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := newStripeProvider(t, func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tc.status)
				io.WriteString(w, tc.body)
			})
			_, err := p.RetrieveSession(context.Background(), "cs_test_1")
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestStripeUnreachableIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()
	backends := stripe.NewBackendsWithConfig(&stripe.BackendConfig{
		URL:               stripe.String(srv.URL),
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelNull},
	})
	p := NewStripeProvider(stripe.NewClient("sk_test_123", stripe.WithBackends(backends)), "", "")

	_, err := p.RetrieveSession(context.Background(), "cs_test_1")
	require.ErrorIs(t, err, apperr.ErrUpstreamUnavailable)
	assert.True(t, apperr.Retryable(err))
}

func TestStripeSessionWithoutMarketplaceMetadata(t *testing.T) {
	p := newStripeProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"id":"cs_test_2","object":"checkout.session","payment_status":"paid","metadata":{}}`)
	})
	_, err := p.RetrieveSession(context.Background(), "cs_test_2")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestStripeCreateCheckout(t *testing.T) {
	var form url.Values
	p := newStripeProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/checkout/sessions", r.URL.Path)
		require.NoError(t, r.ParseForm())
		form = r.PostForm
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"id":"cs_test_9","object":"checkout.session","url":"https://checkout.stripe.com/c/cs_test_9"}`)
	})
	vendor := uuid.New()

	co, err := p.CreateCheckout(context.Background(), CheckoutRequest{
		VendorID: vendor,
		PriceID:  "price_sub",
		Mode:     ModeSubscription,
		Metadata: map[string]string{"purpose": "subscription", "vendor_id": vendor.String()},
	})
	require.NoError(t, err)
	assert.Equal(t, "cs_test_9", co.SessionID)
	assert.Equal(t, "https://checkout.stripe.com/c/cs_test_9", co.URL)
	assert.Equal(t, "subscription", form.Get("mode"))
	assert.Equal(t, "price_sub", form.Get("line_items[0][price]"))
	assert.Equal(t, "subscription", form.Get("metadata[purpose]"))
	assert.Equal(t, vendor.String(), form.Get("subscription_data[metadata][vendor_id]"))
	assert.Equal(t, vendor.String(), form.Get("client_reference_id"))
}
