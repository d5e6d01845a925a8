package audit

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hillsclinic/clinic-portal/internal/platform/httpx"
	"github.com/hillsclinic/clinic-portal/internal/rbac"
	"github.com/hillsclinic/clinic-portal/internal/shared"
)

// Handler exposes the compliance timeline to staff.
type Handler struct {
	logger  *slog.Logger
	service *Service
	rbac    rbac.Middleware
}

// NewHandler constructs the audit handler.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbac}
}

// MountRoutes registers audit routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermAuditView))
		r.Get("/timeline", h.handleTimeline)
	})
}

type timelineEntry struct {
	ID         string         `json:"id"`
	Seq        int64          `json:"seq"`
	ActorID    int64          `json:"actor_id"`
	ActorKind  string         `json:"actor_kind"`
	SubjectID  string         `json:"subject_id,omitempty"`
	Action     string         `json:"action"`
	TargetKind string         `json:"target_kind"`
	TargetID   string         `json:"target_id"`
	Outcome    string         `json:"outcome"`
	Detail     map[string]any `json:"detail,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

type timelineResponse struct {
	Entries  []timelineEntry `json:"entries"`
	Page     int             `json:"page"`
	PageSize int             `json:"page_size"`
	Total    int             `json:"total"`
	HasNext  bool            `json:"has_next"`
}

func (h *Handler) handleTimeline(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := Filter{Action: q.Get("action")}

	if raw := q.Get("subject_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "subject_id must be a UUID")
			return
		}
		f.SubjectID = id
	}
	if raw := q.Get("actor_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "actor_id must be numeric")
			return
		}
		f.ActorID = id
	}
	for param, dst := range map[string]*time.Time{"from": &f.From, "to": &f.To} {
		if raw := q.Get(param); raw != "" {
			t, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				httpx.Problem(w, http.StatusBadRequest, "Validation Failed", param+" must be RFC3339")
				return
			}
			*dst = t
		}
	}
	f.Page, _ = strconv.Atoi(q.Get("page"))
	f.PageSize, _ = strconv.Atoi(q.Get("page_size"))

	result, err := h.service.Timeline(r.Context(), f)
	if err != nil {
		h.logger.Error("audit timeline", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}

	resp := timelineResponse{
		Entries:  make([]timelineEntry, 0, len(result.Entries)),
		Page:     result.Page,
		PageSize: result.PageSize,
		Total:    result.Total,
		HasNext:  result.HasNext,
	}
	for _, e := range result.Entries {
		row := timelineEntry{
			ID:         e.ID.String(),
			Seq:        e.Seq,
			ActorID:    e.ActorID,
			ActorKind:  string(e.ActorKind),
			Action:     e.Action,
			TargetKind: e.TargetKind,
			TargetID:   e.TargetID,
			Outcome:    string(e.Outcome),
			Detail:     e.Detail,
			OccurredAt: e.OccurredAt,
		}
		if e.SubjectID != uuid.Nil {
			row.SubjectID = e.SubjectID.String()
		}
		resp.Entries = append(resp.Entries, row)
	}
	httpx.JSON(w, http.StatusOK, resp)
}
