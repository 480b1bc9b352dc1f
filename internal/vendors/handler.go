package vendors

import (
	"log/slog"
	"net/http"

	"github.com/festalink/backend/internal/httpx"
	"github.com/festalink/backend/internal/middleware"
	"github.com/festalink/backend/internal/models"
)

type ApprovalRequest struct {
	Decision string `json:"decision" validate:"required,oneof=approved rejected deleted"`
	Note     string `json:"note" validate:"max=2000"`
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

// Me handles GET /vendors/me.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.PrincipalFromCtx(r.Context())
	v, err := h.svc.Profile(r.Context(), p.AccountID)
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, v)
}

// Approval handles POST /admin/vendors/{id}/approval.
func (h *Handler) Approval(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.PrincipalFromCtx(r.Context())
	id, err := httpx.PathUUID(r, "id")
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	var req ApprovalRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	v, err := h.svc.Decide(r.Context(), p.AccountID, id, models.ApprovalStatus(req.Decision), req.Note)
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, v)
}
