package ledger

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/festalink/backend/internal/httpx"
	"github.com/festalink/backend/internal/middleware"
)

type Handler struct {
	svc          *Service
	historyLimit int
	log          *slog.Logger
}

func NewHandler(svc *Service, historyLimit int, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{svc: svc, historyLimit: historyLimit, log: log}
}

type balanceResponse struct {
	Balance int `json:"balance"`
}

// Balance handles GET /credits/balance.
func (h *Handler) Balance(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.PrincipalFromCtx(r.Context())
	bal, err := h.svc.Balance(r.Context(), p.AccountID)
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, balanceResponse{Balance: bal})
}

// History handles GET /credits/ledger. ?limit is capped at the configured history limit.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.PrincipalFromCtx(r.Context())
	limit := h.historyLimit
	if n, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && n > 0 && (limit <= 0 || n < limit) {
		limit = n
	}
	entries, err := h.svc.History(r.Context(), p.AccountID, limit)
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, entries)
}
