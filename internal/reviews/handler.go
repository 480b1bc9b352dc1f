package reviews

import (
	"log/slog"
	"net/http"

	"github.com/festalink/backend/internal/httpx"
	"github.com/festalink/backend/internal/middleware"
)

type CreateReviewRequest struct {
	Rating  int    `json:"rating" validate:"required,gte=1,lte=5"`
	Comment string `json:"comment" validate:"max=2000"`
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

// Create handles POST /quotes/{id}/reviews.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.PrincipalFromCtx(r.Context())
	quoteID, err := httpx.PathUUID(r, "id")
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	var req CreateReviewRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	rv, err := h.svc.Create(r.Context(), p, quoteID, req.Rating, req.Comment)
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, rv)
}

// ForVendor handles GET /vendors/{id}/reviews.
func (h *Handler) ForVendor(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathUUID(r, "id")
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	list, err := h.svc.ForReviewee(r.Context(), id)
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, list)
}
