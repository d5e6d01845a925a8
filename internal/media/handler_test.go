package media

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/hillsclinic/clinic-portal/internal/access"
	"github.com/hillsclinic/clinic-portal/internal/audit"
	"github.com/hillsclinic/clinic-portal/internal/consent"
	"github.com/hillsclinic/clinic-portal/internal/shared"
)

type allowAllPerms struct{}

func (allowAllPerms) EffectivePermissions(ctx context.Context, userID int64) ([]string, error) {
	return shared.PortalScopes(), nil
}

func newTestRouter(t *testing.T, actor shared.Actor) (*chi.Mux, *Service, *memConsents) {
	t.Helper()
	svc, _, consents, _ := newTestService(t)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	gate := access.NewGate(allowAllPerms{}, audit.NewService(&memAuditStore{}), logger)
	h := NewHandler(logger, svc, gate, nil)

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(shared.ContextWithActor(req.Context(), actor)))
		})
	})
	r.Route("/pipeline", h.MountPipelineRoutes)
	r.Route("/staff/media/{assetID}", h.MountStaffAssetRoutes)
	r.Route("/public", h.MountPublicRoutes)
	return r, svc, consents
}

func TestPipelineRegisterEndpoint(t *testing.T) {
	router, _, _ := newTestRouter(t, pipelineActor())
	subjectID := uuid.New()

	body := `{"subject_id":"` + subjectID.String() + `","kind":"progress_photo","original_locator":"uploads/a.jpg","mime_type":"image/jpeg","byte_size":1024}`
	req := httptest.NewRequest(http.MethodPost, "/pipeline/assets", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusCreated, w.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, "private", resp["state"])
	require.Equal(t, subjectID.String(), resp["subject_id"])
}

func TestPipelineRegisterRejectsBadBody(t *testing.T) {
	router, _, _ := newTestRouter(t, pipelineActor())

	req := httptest.NewRequest(http.MethodPost, "/pipeline/assets", strings.NewReader(`{"kind":"progress_photo"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPipelineCannotTransition(t *testing.T) {
	router, svc, _ := newTestRouter(t, pipelineActor())
	a := register(t, svc, uuid.New())

	req := httptest.NewRequest(http.MethodPost, "/staff/media/"+a.ID.String()+"/approve", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusForbidden, w.Code)
}

func TestPublicEndpointServesEligibleVariantsOnly(t *testing.T) {
	router, svc, consents := newTestRouter(t, staffActor())
	subjectID := uuid.New()
	a := register(t, svc, subjectID)
	ctx := context.Background()

	require.NoError(t, svc.AttachVariant(ctx, pipelineActor(), a.ID, VariantFaceBlurred, "uploads/blur.jpg"))
	require.NoError(t, svc.SubmitForReview(ctx, staffActor(), a.ID))
	require.NoError(t, svc.Approve(ctx, staffActor(), a.ID))

	get := func() []map[string]any {
		req := httptest.NewRequest(http.MethodGet, "/public/subjects/"+subjectID.String()+"/media", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		require.Equal(t, http.StatusOK, w.Code)
		var out []map[string]any
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
		return out
	}

	require.Len(t, get(), 2)

	consents.active[consent.CategoryFaceVisible] = false
	narrowed := get()
	require.Len(t, narrowed, 1)
	require.Equal(t, VariantFaceBlurred, narrowed[0]["variant"])

	consents.active[consent.CategoryMediaUse] = false
	require.Empty(t, get())
}

func TestStaffTransitionEndpoints(t *testing.T) {
	router, svc, _ := newTestRouter(t, staffActor())
	a := register(t, svc, uuid.New())

	post := func(path string) int {
		req := httptest.NewRequest(http.MethodPost, path, nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w.Code
	}

	base := "/staff/media/" + a.ID.String()
	require.Equal(t, http.StatusNoContent, post(base+"/verify"))
	require.Equal(t, http.StatusConflict, post(base+"/verify"))
	require.Equal(t, http.StatusNoContent, post(base+"/submit"))
	require.Equal(t, http.StatusNoContent, post(base+"/approve"))
	require.Equal(t, http.StatusNoContent, post(base+"/unpublish"))
	require.Equal(t, http.StatusConflict, post(base+"/unpublish"))
}
