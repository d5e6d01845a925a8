package media

import (
	"context"
	"errors"
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

// Handler wires HTTP endpoints for the media registry.
type Handler struct {
	logger      *slog.Logger
	service     *Service
	gate        *access.Gate
	idempotency *shared.IdempotencyStore
	validate    *validator.Validate
}

// NewHandler constructs the media handler.
func NewHandler(logger *slog.Logger, service *Service, gate *access.Gate, idem *shared.IdempotencyStore) *Handler {
	return &Handler{logger: logger, service: service, gate: gate, idempotency: idem, validate: validator.New()}
}

// MountPipelineRoutes registers the upload pipeline routes.
func (h *Handler) MountPipelineRoutes(r chi.Router) {
	r.Post("/assets", h.handleRegister)
	r.Post("/assets/{assetID}/variants", h.handleAttachVariant)
}

// MountPortalRoutes registers the patient-facing media routes.
func (h *Handler) MountPortalRoutes(r chi.Router) {
	r.Get("/", h.handleOwnList)
}

// MountStaffSubjectRoutes registers staff routes under /staff/subjects/{subjectID}.
func (h *Handler) MountStaffSubjectRoutes(r chi.Router) {
	r.Get("/media", h.handleStaffList)
}

// MountStaffAssetRoutes registers staff routes under /staff/media/{assetID}.
func (h *Handler) MountStaffAssetRoutes(r chi.Router) {
	r.Get("/", h.handleStaffGet)
	r.Post("/verify", h.transition(shared.PermMediaVerify, (*Service).Verify))
	r.Post("/submit", h.transition(shared.PermMediaPublish, (*Service).SubmitForReview))
	r.Post("/approve", h.transition(shared.PermMediaPublish, (*Service).Approve))
	r.Post("/unpublish", h.transition(shared.PermMediaPublish, (*Service).Unpublish))
}

// MountPublicRoutes registers the unauthenticated marketing routes.
func (h *Handler) MountPublicRoutes(r chi.Router) {
	r.Get("/subjects/{subjectID}/media", h.handlePublicList)
}

type registerRequest struct {
	SubjectID       string `json:"subject_id" validate:"required,uuid"`
	Kind            string `json:"kind" validate:"required"`
	OriginalLocator string `json:"original_locator" validate:"required"`
	MimeType        string `json:"mime_type" validate:"required"`
	ByteSize        int64  `json:"byte_size" validate:"gte=0"`
	Testimonial     bool   `json:"testimonial"`
}

type attachVariantRequest struct {
	Name    string `json:"name" validate:"required"`
	Locator string `json:"locator" validate:"required"`
}

type assetResponse struct {
	ID          string            `json:"id"`
	SubjectID   string            `json:"subject_id"`
	Kind        string            `json:"kind"`
	State       string            `json:"state,omitempty"`
	MimeType    string            `json:"mime_type"`
	ByteSize    int64             `json:"byte_size"`
	Testimonial bool              `json:"testimonial"`
	Variants    map[string]string `json:"variants"`
	VerifiedAt  *time.Time        `json:"verified_at,omitempty"`
	SubmittedAt *time.Time        `json:"submitted_at,omitempty"`
	ApprovedAt  *time.Time        `json:"approved_at,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

func toAssetResponse(a *Asset, state State) assetResponse {
	return assetResponse{
		ID:          a.ID.String(),
		SubjectID:   a.SubjectID.String(),
		Kind:        string(a.Kind),
		State:       string(state),
		MimeType:    a.MimeType,
		ByteSize:    a.ByteSize,
		Testimonial: a.Testimonial,
		Variants:    a.Variants,
		VerifiedAt:  a.VerifiedAt,
		SubmittedAt: a.SubmittedAt,
		ApprovedAt:  a.ApprovedAt,
		CreatedAt:   a.CreatedAt,
	}
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	actor := shared.ActorFromContext(r.Context())

	if key := r.Header.Get("Idempotency-Key"); key != "" {
		if err := h.idempotency.CheckAndInsert(r.Context(), key, "media"); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				httpx.Problem(w, http.StatusConflict, "Duplicate Request", "this upload was already registered")
				return
			}
			httpx.RespondError(w, err)
			return
		}
	}

	var req registerRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	subjectID, err := uuid.Parse(req.SubjectID)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "subject_id must be a UUID")
		return
	}

	target := access.Target{Kind: "media_asset", OwnerSubjectID: subjectID}
	var asset *Asset
	err = h.gate.Guard(r.Context(), actor, access.ActionWrite, target, shared.PermMediaVerify, func(ctx context.Context) error {
		var err error
		asset, err = h.service.RegisterUpload(ctx, actor, subjectID, Kind(req.Kind), req.OriginalLocator, UploadMeta{
			MimeType:    req.MimeType,
			ByteSize:    req.ByteSize,
			Testimonial: req.Testimonial,
		})
		return err
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toAssetResponse(asset, StatePrivate))
}

func (h *Handler) handleAttachVariant(w http.ResponseWriter, r *http.Request) {
	actor := shared.ActorFromContext(r.Context())
	assetID, ok := h.assetParam(w, r)
	if !ok {
		return
	}

	var req attachVariantRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	target := access.Target{Kind: "media_asset", ID: assetID.String()}
	err := h.gate.Guard(r.Context(), actor, access.ActionWrite, target, shared.PermMediaVerify, func(ctx context.Context) error {
		return h.service.AttachVariant(ctx, actor, assetID, req.Name, req.Locator)
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleOwnList(w http.ResponseWriter, r *http.Request) {
	actor := shared.ActorFromContext(r.Context())
	h.respondList(w, r, actor, actor.SubjectID)
}

func (h *Handler) handleStaffList(w http.ResponseWriter, r *http.Request) {
	actor := shared.ActorFromContext(r.Context())
	subjectID, err := uuid.Parse(chi.URLParam(r, "subjectID"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "subjectID must be a UUID")
		return
	}
	h.respondList(w, r, actor, subjectID)
}

func (h *Handler) respondList(w http.ResponseWriter, r *http.Request, actor shared.Actor, subjectID uuid.UUID) {
	target := access.Target{Kind: "media_asset", ID: subjectID.String(), OwnerSubjectID: subjectID}
	err := h.gate.Guard(r.Context(), actor, access.ActionRead, target, shared.PermMediaView, func(ctx context.Context) error {
		assets, err := h.service.ListForSubject(ctx, subjectID)
		if err != nil {
			return err
		}
		resp := make([]assetResponse, 0, len(assets))
		for i := range assets {
			resp = append(resp, toAssetResponse(&assets[i].Asset, assets[i].State))
		}
		httpx.JSON(w, http.StatusOK, resp)
		return nil
	})
	if err != nil {
		httpx.RespondError(w, err)
	}
}

func (h *Handler) handleStaffGet(w http.ResponseWriter, r *http.Request) {
	actor := shared.ActorFromContext(r.Context())
	assetID, ok := h.assetParam(w, r)
	if !ok {
		return
	}

	target := access.Target{Kind: "media_asset", ID: assetID.String()}
	err := h.gate.Guard(r.Context(), actor, access.ActionRead, target, shared.PermMediaView, func(ctx context.Context) error {
		asset, state, err := h.service.Get(ctx, assetID)
		if err != nil {
			return err
		}
		httpx.JSON(w, http.StatusOK, toAssetResponse(asset, state))
		return nil
	})
	if err != nil {
		httpx.RespondError(w, err)
	}
}

// transition builds a handler for one staff publication transition.
func (h *Handler) transition(perm string, op func(*Service, context.Context, shared.Actor, uuid.UUID) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor := shared.ActorFromContext(r.Context())
		assetID, ok := h.assetParam(w, r)
		if !ok {
			return
		}
		target := access.Target{Kind: "media_asset", ID: assetID.String()}
		err := h.gate.Guard(r.Context(), actor, access.ActionTransition, target, perm, func(ctx context.Context) error {
			return op(h.service, ctx, actor, assetID)
		})
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

type publicVariantResponse struct {
	AssetID string `json:"asset_id"`
	Kind    string `json:"kind"`
	Variant string `json:"variant"`
	URL     string `json:"url"`
}

func (h *Handler) handlePublicList(w http.ResponseWriter, r *http.Request) {
	subjectID, err := uuid.Parse(chi.URLParam(r, "subjectID"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "subjectID must be a UUID")
		return
	}

	variants, err := h.service.PublicMediaFor(r.Context(), subjectID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	resp := make([]publicVariantResponse, 0, len(variants))
	for _, v := range variants {
		resp = append(resp, publicVariantResponse{
			AssetID: v.AssetID.String(),
			Kind:    string(v.Kind),
			Variant: v.Variant,
			URL:     v.URL,
		})
	}
	httpx.JSON(w, http.StatusOK, resp)
}

func (h *Handler) assetParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "assetID"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "assetID must be a UUID")
		return uuid.Nil, false
	}
	return id, true
}
