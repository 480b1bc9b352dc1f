package admin

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/festalink/backend/internal/apperr"
	"github.com/festalink/backend/internal/httpx"
	"github.com/festalink/backend/internal/middleware"
)

type BonusBody struct {
	BatchID   uuid.UUID   `json:"batch_id"`
	VendorIDs []uuid.UUID `json:"vendor_ids" validate:"required,min=1,max=1000"`
	Amount    int         `json:"amount" validate:"required,gt=0,lte=10000"`
	Reason    string      `json:"reason" validate:"max=500"`
	ExpiresAt *time.Time  `json:"expires_at" validate:"omitempty,future"`
}

type MessageBody struct {
	BatchID   uuid.UUID   `json:"batch_id"`
	VendorIDs []uuid.UUID `json:"vendor_ids" validate:"required,min=1,max=1000"`
	Subject   string      `json:"subject" validate:"required,max=200"`
	Body      string      `json:"body" validate:"required,max=10000"`
	Email     bool        `json:"email"`
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

// BulkBonus handles POST /admin/bonus/bulk.
func (h *Handler) BulkBonus(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.PrincipalFromCtx(r.Context())
	var req BonusBody
	if err := httpx.Decode(r, &req); err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	res, err := h.svc.ApplyBonusToMany(r.Context(), p.AccountID, BonusInput{
		BatchID:        req.BatchID,
		VendorIDs:      req.VendorIDs,
		Amount:         req.Amount,
		ReasonTemplate: req.Reason,
		ExpiresAt:      req.ExpiresAt,
	})
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, res)
}

// BulkMessage handles POST /admin/messages/bulk.
func (h *Handler) BulkMessage(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.PrincipalFromCtx(r.Context())
	var req MessageBody
	if err := httpx.Decode(r, &req); err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	res, err := h.svc.SendMessageToMany(r.Context(), p.AccountID, MessageInput{
		BatchID:   req.BatchID,
		VendorIDs: req.VendorIDs,
		Subject:   req.Subject,
		Body:      req.Body,
		Email:     req.Email,
	})
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, res)
}

// Deals handles GET /admin/reports/deals?from=&to= (RFC 3339).
func (h *Handler) Deals(w http.ResponseWriter, r *http.Request) {
	from, err := queryTime(r, "from")
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	to, err := queryTime(r, "to")
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	rep, err := h.svc.DealReport(r.Context(), from, to)
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, rep)
}

func queryTime(r *http.Request, name string) (*time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s must be an RFC 3339 time", apperr.ErrValidation, name)
	}
	return &t, nil
}
