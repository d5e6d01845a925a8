package subject

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/hillsclinic/clinic-portal/internal/access"
	"github.com/hillsclinic/clinic-portal/internal/platform/httpx"
	"github.com/hillsclinic/clinic-portal/internal/shared"
)

// Handler wires HTTP endpoints for subject profiles.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	gate     *access.Gate
	validate *validator.Validate
}

// NewHandler constructs the subject handler.
func NewHandler(logger *slog.Logger, service *Service, gate *access.Gate) *Handler {
	return &Handler{logger: logger, service: service, gate: gate, validate: validator.New()}
}

// MountPortalRoutes registers the patient-facing profile routes.
func (h *Handler) MountPortalRoutes(r chi.Router) {
	r.Get("/", h.handleOwnProfile)
	r.Patch("/", h.handleOwnUpdate)
}

// MountStaffRoutes registers staff subject administration routes.
func (h *Handler) MountStaffRoutes(r chi.Router) {
	r.Get("/", h.handleList)
	r.Post("/", h.handleCreate)
	r.Get("/{subjectID}", h.handleGet)
	r.Patch("/{subjectID}", h.handleUpdate)
}

type createRequest struct {
	FullName string `json:"full_name" validate:"required"`
	Email    string `json:"email" validate:"omitempty,email"`
	Phone    string `json:"phone"`
	Country  string `json:"country"`
	City     string `json:"city"`
	Timezone string `json:"timezone"`
	Locale   string `json:"locale"`
	UserID   *int64 `json:"user_id"`
}

type updateRequest struct {
	FullName *string `json:"full_name"`
	Phone    *string `json:"phone"`
	Country  *string `json:"country"`
	City     *string `json:"city"`
	Timezone *string `json:"timezone"`
	Locale   *string `json:"locale"`
}

type subjectResponse struct {
	ID        string    `json:"id"`
	FullName  string    `json:"full_name"`
	Email     string    `json:"email,omitempty"`
	Phone     string    `json:"phone,omitempty"`
	Country   string    `json:"country,omitempty"`
	City      string    `json:"city,omitempty"`
	Timezone  string    `json:"timezone"`
	Locale    string    `json:"locale"`
	CreatedAt time.Time `json:"created_at"`
}

func toSubjectResponse(s *Subject) subjectResponse {
	return subjectResponse{
		ID:        s.ID.String(),
		FullName:  s.FullName,
		Email:     s.Email,
		Phone:     s.Phone,
		Country:   s.Country,
		City:      s.City,
		Timezone:  s.Timezone,
		Locale:    s.Locale,
		CreatedAt: s.CreatedAt,
	}
}

func (h *Handler) handleOwnProfile(w http.ResponseWriter, r *http.Request) {
	actor := shared.ActorFromContext(r.Context())
	h.respondGet(w, r, actor, actor.SubjectID)
}

func (h *Handler) handleOwnUpdate(w http.ResponseWriter, r *http.Request) {
	actor := shared.ActorFromContext(r.Context())
	h.update(w, r, actor, actor.SubjectID)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	actor := shared.ActorFromContext(r.Context())
	subjectID, ok := h.subjectParam(w, r)
	if !ok {
		return
	}
	h.respondGet(w, r, actor, subjectID)
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	actor := shared.ActorFromContext(r.Context())
	subjectID, ok := h.subjectParam(w, r)
	if !ok {
		return
	}
	h.update(w, r, actor, subjectID)
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	actor := shared.ActorFromContext(r.Context())

	var req createRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	target := access.Target{Kind: "subject"}
	var sub *Subject
	err := h.gate.Guard(r.Context(), actor, access.ActionWrite, target, shared.PermSubjectsEdit, func(ctx context.Context) error {
		var err error
		sub, err = h.service.Create(ctx, actor, &Subject{
			UserID:   req.UserID,
			FullName: req.FullName,
			Email:    req.Email,
			Phone:    req.Phone,
			Country:  req.Country,
			City:     req.City,
			Timezone: req.Timezone,
			Locale:   req.Locale,
		})
		return err
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toSubjectResponse(sub))
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	actor := shared.ActorFromContext(r.Context())
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	perPage, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	pagination := shared.NewPagination(page, perPage, 0)

	target := access.Target{Kind: "subject"}
	err := h.gate.Guard(r.Context(), actor, access.ActionRead, target, shared.PermSubjectsView, func(ctx context.Context) error {
		subjects, total, err := h.service.List(ctx, pagination)
		if err != nil {
			return err
		}
		items := make([]subjectResponse, 0, len(subjects))
		for i := range subjects {
			items = append(items, toSubjectResponse(&subjects[i]))
		}
		httpx.JSON(w, http.StatusOK, map[string]any{
			"items":      items,
			"pagination": shared.NewPagination(pagination.Page, pagination.PerPage, total),
		})
		return nil
	})
	if err != nil {
		httpx.RespondError(w, err)
	}
}

func (h *Handler) respondGet(w http.ResponseWriter, r *http.Request, actor shared.Actor, subjectID uuid.UUID) {
	target := access.Target{Kind: "subject", ID: subjectID.String(), OwnerSubjectID: subjectID}
	err := h.gate.Guard(r.Context(), actor, access.ActionRead, target, shared.PermSubjectsView, func(ctx context.Context) error {
		sub, err := h.service.Get(ctx, subjectID)
		if err != nil {
			return err
		}
		httpx.JSON(w, http.StatusOK, toSubjectResponse(sub))
		return nil
	})
	if err != nil {
		httpx.RespondError(w, err)
	}
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request, actor shared.Actor, subjectID uuid.UUID) {
	var req updateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}

	target := access.Target{Kind: "subject", ID: subjectID.String(), OwnerSubjectID: subjectID}
	var sub *Subject
	err := h.gate.Guard(r.Context(), actor, access.ActionWrite, target, shared.PermSubjectsEdit, func(ctx context.Context) error {
		var err error
		sub, err = h.service.UpdateProfile(ctx, actor, subjectID, Update{
			FullName: req.FullName,
			Phone:    req.Phone,
			Country:  req.Country,
			City:     req.City,
			Timezone: req.Timezone,
			Locale:   req.Locale,
		})
		return err
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toSubjectResponse(sub))
}

func (h *Handler) subjectParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "subjectID"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "subjectID must be a UUID")
		return uuid.Nil, false
	}
	return id, true
}
