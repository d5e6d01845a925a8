package auth

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/hillsclinic/clinic-portal/internal/audit"
	"github.com/hillsclinic/clinic-portal/internal/platform/httpx"
	"github.com/hillsclinic/clinic-portal/internal/shared"
)

// SubjectResolver links a patient account to its subject record.
type SubjectResolver interface {
	SubjectIDForUser(ctx context.Context, userID int64) (uuid.UUID, error)
}

// Handler wires HTTP endpoints for authentication flows.
type Handler struct {
	logger         *slog.Logger
	service        *Service
	sessionManager *shared.SessionManager
	csrfManager    *shared.CSRFManager
	subjects       SubjectResolver
	audit          *audit.Service
	validator      *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, sessions *shared.SessionManager, csrf *shared.CSRFManager, subjects SubjectResolver, auditSvc *audit.Service) *Handler {
	return &Handler{
		logger:         logger,
		service:        service,
		sessionManager: sessions,
		csrfManager:    csrf,
		subjects:       subjects,
		audit:          auditSvc,
		validator:      validator.New(),
	}
}

// MountRoutes registers auth routes on provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/login", h.handleLogin)
	r.Post("/logout", h.handleLogout)
	r.Get("/csrf", h.handleCSRF)
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
}

type loginResponse struct {
	UserID    int64  `json:"user_id"`
	Kind      string `json:"kind"`
	SubjectID string `json:"subject_id,omitempty"`
	CSRFToken string `json:"csrf_token"`
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	user, err := h.service.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		h.appendAudit(r, audit.ActionLoginFailed, 0, "", uuid.Nil, map[string]any{"email": req.Email})
		httpx.RespondError(w, shared.ErrInvalidCredentials)
		return
	}

	sess := shared.SessionFromContext(r.Context())
	if sess == nil {
		h.logger.Error("session missing during login")
		httpx.Problem(w, http.StatusInternalServerError, "Internal Server Error", "session unavailable")
		return
	}
	sess.SetUser(strconv.FormatInt(user.ID, 10), user.Kind)

	var subjectID uuid.UUID
	if user.Kind == shared.ActorSubject && h.subjects != nil {
		subjectID, err = h.subjects.SubjectIDForUser(r.Context(), user.ID)
		if err != nil {
			h.logger.Error("resolve subject for user", slog.Int64("user_id", user.ID), slog.Any("error", err))
			httpx.RespondError(w, shared.ErrInvalidCredentials)
			return
		}
		sess.SetSubject(subjectID)
	}

	if err := h.sessionManager.Commit(r.Context(), w, r, sess); err != nil {
		h.logger.Error("commit session", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Server Error", "session unavailable")
		return
	}

	expiresAt := time.Now().Add(h.sessionManager.TTL())
	if err := h.service.RegisterSession(r.Context(), sess.ID, user.ID, expiresAt, r.RemoteAddr, r.UserAgent()); err != nil {
		h.logger.Warn("register session", slog.Any("error", err))
	}

	h.appendAudit(r, audit.ActionLogin, user.ID, string(user.Kind), subjectID, nil)

	csrfToken, _ := h.csrfManager.EnsureToken(r.Context(), sess)
	httpx.JSON(w, http.StatusOK, loginResponse{
		UserID:    user.ID,
		Kind:      string(user.Kind),
		SubjectID: subjectIDString(subjectID),
		CSRFToken: csrfToken,
	})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	if sess != nil {
		actor := shared.ActorFromContext(r.Context())
		if err := h.service.RemoveSession(r.Context(), sess.ID); err != nil {
			h.logger.Warn("remove session", slog.Any("error", err))
		}
		h.sessionManager.Destroy(sess)
		h.appendAudit(r, audit.ActionLogout, actor.UserID, string(actor.Kind), actor.SubjectID, nil)
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleCSRF hands the SPA a token bound to the current session.
func (h *Handler) handleCSRF(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	token, err := h.csrfManager.EnsureToken(r.Context(), sess)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"csrf_token": token})
}

func (h *Handler) appendAudit(r *http.Request, action string, userID int64, kind string, subjectID uuid.UUID, detail map[string]any) {
	_, err := h.audit.Append(r.Context(), audit.Entry{
		ActorID:    userID,
		ActorKind:  shared.ActorKind(kind),
		SubjectID:  subjectID,
		Action:     action,
		TargetKind: "session",
		Outcome:    audit.OutcomeOK,
		IP:         r.RemoteAddr,
		UserAgent:  r.UserAgent(),
		Detail:     detail,
	})
	if err != nil {
		h.logger.Error("append auth audit entry", slog.Any("error", err))
	}
}

func subjectIDString(id uuid.UUID) string {
	if id == uuid.Nil {
		return ""
	}
	return id.String()
}
