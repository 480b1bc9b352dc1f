package payments

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/festalink/backend/internal/httpx"
	"github.com/festalink/backend/internal/middleware"
)

const maxWebhookBytes = 64 << 10

type CheckoutBody struct {
	Type    string    `json:"type" validate:"required,oneof=credit_purchase lead_unlock subscription"`
	PriceID string    `json:"price_id" validate:"required_if=Type credit_purchase"`
	QuoteID uuid.UUID `json:"quote_id" validate:"required_if=Type lead_unlock"`
}

type VerifyBody struct {
	SessionID string `json:"session_id" validate:"required"`
	Type      string `json:"type" validate:"required,oneof=credit_purchase lead_unlock subscription"`
}

type Handler struct {
	svc *Service
	log *slog.Logger
}

func NewHandler(svc *Service, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{svc: svc, log: log}
}

// Checkout handles POST /payments/checkout.
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.PrincipalFromCtx(r.Context())
	var req CheckoutBody
	if err := httpx.Decode(r, &req); err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	co, err := h.svc.CreateCheckout(r.Context(), p.AccountID, CheckoutInput{
		Purpose: Purpose(req.Type),
		PriceID: req.PriceID,
		QuoteID: req.QuoteID,
	})
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, co)
}

// Verify handles POST /payments/verify, called when the vendor returns from checkout.
func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.PrincipalFromCtx(r.Context())
	var req VerifyBody
	if err := httpx.Decode(r, &req); err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	res, err := h.svc.VerifyAndApply(r.Context(), p.AccountID, req.SessionID, Purpose(req.Type))
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, res)
}

// Webhook handles POST /webhooks/stripe.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBytes))
	if err != nil {
		h.log.Warn("webhook body unreadable", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	if err := h.svc.HandleWebhook(r.Context(), payload, r.Header.Get("Stripe-Signature")); err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
