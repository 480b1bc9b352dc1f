package notify

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/festalink/backend/internal/httpx"
	"github.com/festalink/backend/internal/middleware"
)

type Handler struct {
	n   *Notifier
	log *slog.Logger
}

func NewHandler(n *Notifier, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{n: n, log: log}
}

// Inbox handles GET /messages.
func (h *Handler) Inbox(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.PrincipalFromCtx(r.Context())
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	msgs, err := h.n.Inbox(r.Context(), p.AccountID, limit)
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, msgs)
}
