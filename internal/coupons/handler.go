package coupons

import (
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/festalink/backend/internal/httpx"
	"github.com/festalink/backend/internal/middleware"
)

type CreateCouponRequest struct {
	Code            string          `json:"code" validate:"required,min=3,max=32"`
	DiscountPercent decimal.Decimal `json:"discount_percent"`
	MaxUses         *int            `json:"max_uses" validate:"omitempty,gt=0"`
}

type RedeemRequest struct {
	VendorID uuid.UUID `json:"vendor_id" validate:"required"`
	Code     string    `json:"code" validate:"required"`
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

// Create handles POST /coupons.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.PrincipalFromCtx(r.Context())
	var req CreateCouponRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	c, err := h.svc.Create(r.Context(), p.AccountID, CreateInput{Code: req.Code, DiscountPercent: req.DiscountPercent, MaxUses: req.MaxUses})
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, c)
}

// List handles GET /coupons.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.PrincipalFromCtx(r.Context())
	list, err := h.svc.List(r.Context(), p.AccountID)
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, list)
}

// Deactivate handles DELETE /coupons/{id}.
func (h *Handler) Deactivate(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.PrincipalFromCtx(r.Context())
	id, err := httpx.PathUUID(r, "id")
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	c, err := h.svc.Deactivate(r.Context(), p.AccountID, id)
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, c)
}

// Redeem handles POST /coupons/redeem.
func (h *Handler) Redeem(w http.ResponseWriter, r *http.Request) {
	var req RedeemRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	c, err := h.svc.Redeem(r.Context(), req.VendorID, req.Code)
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, c)
}
