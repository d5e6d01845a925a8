package consent

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/hillsclinic/clinic-portal/internal/access"
	"github.com/hillsclinic/clinic-portal/internal/platform/httpx"
	"github.com/hillsclinic/clinic-portal/internal/shared"
)

// Handler wires HTTP endpoints for consent management.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	gate     *access.Gate
	validate *validator.Validate
}

// NewHandler constructs the consent handler.
func NewHandler(logger *slog.Logger, service *Service, gate *access.Gate) *Handler {
	return &Handler{logger: logger, service: service, gate: gate, validate: validator.New()}
}

// MountPortalRoutes registers the patient-facing consent routes.
func (h *Handler) MountPortalRoutes(r chi.Router) {
	r.Get("/", h.handleOwnStatus)
	r.Get("/history", h.handleOwnHistory)
	r.Post("/", h.handleOwnRecord)
	r.Post("/revoke", h.handleOwnRevoke)
}

// MountStaffRoutes registers staff consent routes under /staff/subjects/{subjectID}.
func (h *Handler) MountStaffRoutes(r chi.Router) {
	r.Get("/consents", h.handleStaffStatus)
	r.Get("/consents/history", h.handleStaffHistory)
	r.Post("/consents", h.handleStaffRecord)
	r.Post("/consents/revoke", h.handleStaffRevoke)
}

type recordRequest struct {
	Category    string `json:"category" validate:"required"`
	Granted     *bool  `json:"granted" validate:"required"`
	ConsentText string `json:"consent_text" validate:"required"`
	Signature   string `json:"signature"`
}

type revokeRequest struct {
	Category string `json:"category" validate:"required"`
	Reason   string `json:"reason"`
}

type recordResponse struct {
	ID        string     `json:"id"`
	SubjectID string     `json:"subject_id"`
	Category  string     `json:"category"`
	Granted   bool       `json:"granted"`
	GrantedAt time.Time  `json:"granted_at"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
}

type statusResponse struct {
	Category string          `json:"category"`
	Active   bool            `json:"active"`
	Latest   *recordResponse `json:"latest,omitempty"`
}

func toRecordResponse(rec *Record) *recordResponse {
	if rec == nil {
		return nil
	}
	return &recordResponse{
		ID:        rec.ID.String(),
		SubjectID: rec.SubjectID.String(),
		Category:  string(rec.Category),
		Granted:   rec.Granted,
		GrantedAt: rec.GrantedAt,
		RevokedAt: rec.RevokedAt,
	}
}

// Portal handlers operate on the session actor's own subject.

func (h *Handler) handleOwnStatus(w http.ResponseWriter, r *http.Request) {
	actor := shared.ActorFromContext(r.Context())
	h.respondStatus(w, r, actor, actor.SubjectID)
}

func (h *Handler) handleOwnHistory(w http.ResponseWriter, r *http.Request) {
	actor := shared.ActorFromContext(r.Context())
	h.respondHistory(w, r, actor, actor.SubjectID)
}

func (h *Handler) handleOwnRecord(w http.ResponseWriter, r *http.Request) {
	actor := shared.ActorFromContext(r.Context())
	h.record(w, r, actor, actor.SubjectID)
}

func (h *Handler) handleOwnRevoke(w http.ResponseWriter, r *http.Request) {
	actor := shared.ActorFromContext(r.Context())
	h.revoke(w, r, actor, actor.SubjectID)
}

// Staff handlers take the subject from the URL.

func (h *Handler) handleStaffStatus(w http.ResponseWriter, r *http.Request) {
	actor := shared.ActorFromContext(r.Context())
	subjectID, ok := h.subjectParam(w, r)
	if !ok {
		return
	}
	h.respondStatus(w, r, actor, subjectID)
}

func (h *Handler) handleStaffHistory(w http.ResponseWriter, r *http.Request) {
	actor := shared.ActorFromContext(r.Context())
	subjectID, ok := h.subjectParam(w, r)
	if !ok {
		return
	}
	h.respondHistory(w, r, actor, subjectID)
}

func (h *Handler) handleStaffRecord(w http.ResponseWriter, r *http.Request) {
	actor := shared.ActorFromContext(r.Context())
	subjectID, ok := h.subjectParam(w, r)
	if !ok {
		return
	}
	h.record(w, r, actor, subjectID)
}

func (h *Handler) handleStaffRevoke(w http.ResponseWriter, r *http.Request) {
	actor := shared.ActorFromContext(r.Context())
	subjectID, ok := h.subjectParam(w, r)
	if !ok {
		return
	}
	h.revoke(w, r, actor, subjectID)
}

func (h *Handler) subjectParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "subjectID"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "subjectID must be a UUID")
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) respondStatus(w http.ResponseWriter, r *http.Request, actor shared.Actor, subjectID uuid.UUID) {
	target := access.Target{Kind: "consent_record", ID: subjectID.String(), OwnerSubjectID: subjectID}
	err := h.gate.Guard(r.Context(), actor, access.ActionRead, target, shared.PermConsentView, func(ctx context.Context) error {
		statuses, err := h.service.Status(ctx, subjectID)
		if err != nil {
			return err
		}
		resp := make([]statusResponse, 0, len(statuses))
		for _, st := range statuses {
			resp = append(resp, statusResponse{
				Category: string(st.Category),
				Active:   st.Active,
				Latest:   toRecordResponse(st.Latest),
			})
		}
		httpx.JSON(w, http.StatusOK, resp)
		return nil
	})
	if err != nil {
		httpx.RespondError(w, err)
	}
}

func (h *Handler) respondHistory(w http.ResponseWriter, r *http.Request, actor shared.Actor, subjectID uuid.UUID) {
	category := Category(r.URL.Query().Get("category"))
	target := access.Target{Kind: "consent_record", ID: subjectID.String(), OwnerSubjectID: subjectID}
	err := h.gate.Guard(r.Context(), actor, access.ActionRead, target, shared.PermConsentView, func(ctx context.Context) error {
		records, err := h.service.History(ctx, subjectID, category)
		if err != nil {
			return err
		}
		resp := make([]*recordResponse, 0, len(records))
		for i := range records {
			resp = append(resp, toRecordResponse(&records[i]))
		}
		httpx.JSON(w, http.StatusOK, resp)
		return nil
	})
	if err != nil {
		httpx.RespondError(w, err)
	}
}

func (h *Handler) record(w http.ResponseWriter, r *http.Request, actor shared.Actor, subjectID uuid.UUID) {
	var req recordRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	target := access.Target{Kind: "consent_record", ID: subjectID.String(), OwnerSubjectID: subjectID}
	var rec *Record
	err := h.gate.Guard(r.Context(), actor, access.ActionWrite, target, shared.PermConsentManage, func(ctx context.Context) error {
		var err error
		rec, err = h.service.RecordConsent(ctx, actor, subjectID, Category(req.Category), *req.Granted, Capture{
			ConsentText: req.ConsentText,
			Signature:   req.Signature,
			IP:          actor.IP,
		})
		return err
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toRecordResponse(rec))
}

func (h *Handler) revoke(w http.ResponseWriter, r *http.Request, actor shared.Actor, subjectID uuid.UUID) {
	var req revokeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	target := access.Target{Kind: "consent_record", ID: subjectID.String(), OwnerSubjectID: subjectID}
	err := h.gate.Guard(r.Context(), actor, access.ActionWrite, target, shared.PermConsentManage, func(ctx context.Context) error {
		return h.service.Revoke(ctx, actor, subjectID, Category(req.Category), req.Reason)
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
