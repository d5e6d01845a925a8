package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hillsclinic/clinic-portal/internal/audit"
	"github.com/hillsclinic/clinic-portal/internal/auth"
	"github.com/hillsclinic/clinic-portal/internal/consent"
	"github.com/hillsclinic/clinic-portal/internal/media"
	"github.com/hillsclinic/clinic-portal/internal/notify"
	"github.com/hillsclinic/clinic-portal/internal/observability"
	"github.com/hillsclinic/clinic-portal/internal/rbac"
	"github.com/hillsclinic/clinic-portal/internal/shared"
	"github.com/hillsclinic/clinic-portal/internal/subject"
	"github.com/hillsclinic/clinic-portal/internal/users"
	"github.com/hillsclinic/clinic-portal/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger         *slog.Logger
	Config         *Config
	SessionManager *shared.SessionManager
	CSRFManager    *shared.CSRFManager
	TokenManager   *auth.TokenManager

	AuthHandler    *auth.Handler
	SubjectHandler *subject.Handler
	ConsentHandler *consent.Handler
	MediaHandler   *media.Handler
	AuditHandler   *audit.Handler
	NotifyHandler  *notify.Handler
	UsersHandler   *users.Handler
	RBACHandler    *rbac.Handler
	JobHandler     *jobs.Handler

	RBACMiddleware rbac.Middleware
	Metrics        *observability.Metrics
}

// NewRouter constructs the chi.Router for the portal.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	mwCfg := MiddlewareConfig{
		Logger:         params.Logger,
		Config:         params.Config,
		SessionManager: params.SessionManager,
		CSRFManager:    params.CSRFManager,
		Metrics:        params.Metrics,
	}
	for _, mw := range MiddlewareStack(mwCfg) {
		r.Use(mw)
	}
	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	// Marketing site quota: published media only, no auth.
	r.Route("/public", params.MediaHandler.MountPublicRoutes)

	// Upload pipeline: bearer token auth, no cookies or CSRF.
	r.Group(func(r chi.Router) {
		r.Use(params.TokenManager.PipelineAuth)
		r.Route("/pipeline", params.MediaHandler.MountPipelineRoutes)
	})

	// Everything below runs on cookie sessions.
	r.Group(func(r chi.Router) {
		for _, mw := range SessionStack(mwCfg) {
			r.Use(mw)
		}

		r.Route("/auth", params.AuthHandler.MountRoutes)

		// Patient portal: actor must be a subject; every route operates on
		// the session's own subject.
		r.Route("/portal", func(r chi.Router) {
			r.Use(RequireSession)
			r.Use(RequireKind(shared.ActorSubject))
			r.Route("/profile", params.SubjectHandler.MountPortalRoutes)
			r.Route("/consents", params.ConsentHandler.MountPortalRoutes)
			r.Route("/media", params.MediaHandler.MountPortalRoutes)
			r.Route("/notifications", params.NotifyHandler.MountRoutes)
		})

		// Staff surface: scope checks via rbac middleware and the access gate.
		r.Route("/staff", func(r chi.Router) {
			r.Use(RequireSession)
			r.Use(RequireKind(shared.ActorStaff))

			r.Route("/subjects", func(r chi.Router) {
				params.SubjectHandler.MountStaffRoutes(r)
				r.Route("/{subjectID}", func(r chi.Router) {
					params.ConsentHandler.MountStaffRoutes(r)
					params.MediaHandler.MountStaffSubjectRoutes(r)
				})
			})
			r.Route("/media/{assetID}", params.MediaHandler.MountStaffAssetRoutes)
			r.Route("/audit", params.AuditHandler.MountRoutes)
			r.Route("/notifications", params.NotifyHandler.MountRoutes)
			r.Route("/users", params.UsersHandler.MountRoutes)
			r.Route("/rbac", params.RBACHandler.MountRoutes)
			r.Route("/jobs", params.JobHandler.MountRoutes)
		})
	})

	return r
}
