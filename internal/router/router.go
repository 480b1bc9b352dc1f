// Package router mounts every handler under /api/v1 with its role guard.
package router

import (
	"net/http"
	"strings"

	"github.com/festalink/backend/internal/admin"
	"github.com/festalink/backend/internal/auth"
	"github.com/festalink/backend/internal/coupons"
	"github.com/festalink/backend/internal/leads"
	"github.com/festalink/backend/internal/ledger"
	"github.com/festalink/backend/internal/middleware"
	"github.com/festalink/backend/internal/models"
	"github.com/festalink/backend/internal/notify"
	"github.com/festalink/backend/internal/payments"
	"github.com/festalink/backend/internal/quotes"
	"github.com/festalink/backend/internal/reviews"
	"github.com/festalink/backend/internal/vendors"
)

const base = "/api/v1"

type Handlers struct {
	Auth     *auth.Handler
	Vendors  *vendors.Handler
	Ledger   *ledger.Handler
	Quotes   *quotes.Handler
	Leads    *leads.Handler
	Payments *payments.Handler
	Coupons  *coupons.Handler
	Reviews  *reviews.Handler
	Admin    *admin.Handler
	Messages *notify.Handler
}

type guard func(http.Handler) http.Handler

// New returns an http.Handler that serves the API under /api/v1.
func New(h Handlers, tokens middleware.TokenValidator) http.Handler {
	mux := http.NewServeMux()
	authn := middleware.Authenticate(tokens)
	public := func(next http.Handler) http.Handler { return next }
	anyone := authn
	role := func(roles ...models.Role) guard {
		rr := middleware.RequireRole(roles...)
		return func(next http.Handler) http.Handler { return authn(rr(next)) }
	}
	client := role(models.RoleClient)
	vendor := role(models.RoleVendor)
	parties := role(models.RoleClient, models.RoleVendor)
	adminOnly := role(models.RoleAdmin)

	handle := func(pattern string, g guard, fn http.HandlerFunc) {
		method, path, _ := strings.Cut(pattern, " ")
		mux.Handle(method+" "+base+path, middleware.Instrument(method+" "+path, g(fn)))
	}

	handle("POST /auth/register", public, h.Auth.Register)
	handle("POST /auth/login", public, h.Auth.Login)

	handle("GET /vendors/me", vendor, h.Vendors.Me)
	handle("GET /vendors/{id}/reviews", anyone, h.Reviews.ForVendor)
	handle("GET /credits/balance", vendor, h.Ledger.Balance)
	handle("GET /credits/ledger", vendor, h.Ledger.History)

	handle("POST /quotes", client, h.Quotes.Create)
	handle("GET /quotes", anyone, h.Quotes.List)
	handle("GET /quotes/{id}", anyone, h.Quotes.Get)
	handle("POST /quotes/{id}/unlock", vendor, h.Leads.Unlock)
	handle("POST /quotes/{id}/proposal", vendor, h.Quotes.Propose)
	handle("POST /quotes/{id}/response", client, h.Quotes.Respond)
	handle("POST /quotes/{id}/cancel", parties, h.Quotes.Cancel)
	handle("POST /quotes/{id}/reviews", parties, h.Reviews.Create)

	handle("POST /payments/checkout", vendor, h.Payments.Checkout)
	handle("POST /payments/verify", vendor, h.Payments.Verify)
	handle("POST /webhooks/stripe", public, h.Payments.Webhook)

	handle("POST /coupons", vendor, h.Coupons.Create)
	handle("GET /coupons", vendor, h.Coupons.List)
	handle("DELETE /coupons/{id}", vendor, h.Coupons.Deactivate)
	handle("POST /coupons/redeem", client, h.Coupons.Redeem)

	handle("GET /messages", anyone, h.Messages.Inbox)

	handle("POST /admin/bonus/bulk", adminOnly, h.Admin.BulkBonus)
	handle("POST /admin/messages/bulk", adminOnly, h.Admin.BulkMessage)
	handle("POST /admin/vendors/{id}/approval", adminOnly, h.Vendors.Approval)
	handle("GET /admin/reports/deals", adminOnly, h.Admin.Deals)

	return mux
}
