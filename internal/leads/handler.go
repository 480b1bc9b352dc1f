package leads

import (
	"log/slog"
	"net/http"

	"github.com/festalink/backend/internal/httpx"
	"github.com/festalink/backend/internal/middleware"
)

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

// Unlock handles POST /quotes/{id}/unlock. A repeat call answers 200 with already_unlocked set.
func (h *Handler) Unlock(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.PrincipalFromCtx(r.Context())
	quoteID, err := httpx.PathUUID(r, "id")
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	res, err := h.svc.UnlockLead(r.Context(), p.AccountID, quoteID)
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, res)
}
