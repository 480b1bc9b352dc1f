package quotes

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/festalink/backend/internal/httpx"
	"github.com/festalink/backend/internal/middleware"
	"github.com/festalink/backend/internal/models"
)

type CreateQuoteRequest struct {
	VendorID     uuid.UUID `json:"vendor_id" validate:"required"`
	EventDate    time.Time `json:"event_date" validate:"required,future"`
	PaxCount     int       `json:"pax_count" validate:"gt=0"`
	Description  string    `json:"description" validate:"max=4000"`
	ContactName  string    `json:"contact_name" validate:"required,max=200"`
	ContactEmail string    `json:"contact_email" validate:"required,email"`
	ContactPhone string    `json:"contact_phone" validate:"max=50"`
}

type ProposeRequest struct {
	ProposedValue decimal.Decimal `json:"proposed_value"`
	Message       string          `json:"message" validate:"max=4000"`
	ContractURL   *string         `json:"contract_url" validate:"omitempty,url"`
}

type RespondRequest struct {
	Response   string           `json:"response" validate:"required,oneof=accepted rejected"`
	ProposedAt time.Time        `json:"proposed_at" validate:"required"`
	DealValue  *decimal.Decimal `json:"deal_value,omitempty"`
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

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.PrincipalFromCtx(r.Context())
	var req CreateQuoteRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	q, err := h.svc.Create(r.Context(), p.AccountID, CreateInput{
		VendorID:     req.VendorID,
		EventDate:    req.EventDate,
		PaxCount:     req.PaxCount,
		Description:  req.Description,
		ContactName:  req.ContactName,
		ContactEmail: req.ContactEmail,
		ContactPhone: req.ContactPhone,
	})
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, q)
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.PrincipalFromCtx(r.Context())
	var status *models.QuoteStatus
	if s := r.URL.Query().Get("status"); s != "" {
		st := models.QuoteStatus(s)
		status = &st
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	list, err := h.svc.List(r.Context(), p, status, limit)
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	if list == nil {
		list = []*models.Quote{}
	}
	httpx.WriteJSON(w, http.StatusOK, list)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.PrincipalFromCtx(r.Context())
	id, err := httpx.PathUUID(r, "id")
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	q, err := h.svc.Get(r.Context(), p, id)
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, q)
}

func (h *Handler) Propose(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.PrincipalFromCtx(r.Context())
	id, err := httpx.PathUUID(r, "id")
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	var req ProposeRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	q, err := h.svc.Propose(r.Context(), p.AccountID, id, ProposeInput{
		Value:       req.ProposedValue,
		Message:     req.Message,
		ContractURL: req.ContractURL,
	})
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, q)
}

func (h *Handler) Respond(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.PrincipalFromCtx(r.Context())
	id, err := httpx.PathUUID(r, "id")
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	var req RespondRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	q, err := h.svc.Respond(r.Context(), p.AccountID, id, RespondInput{
		Answer:     models.ClientResponse(req.Response),
		ProposedAt: req.ProposedAt,
		DealValue:  req.DealValue,
	})
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, q)
}

func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.PrincipalFromCtx(r.Context())
	id, err := httpx.PathUUID(r, "id")
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	q, err := h.svc.Cancel(r.Context(), p, id)
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, q)
}
