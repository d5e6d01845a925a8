package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hillsclinic/clinic-portal/internal/shared"
)

func TestPipelineTokenRoundTrip(t *testing.T) {
	m := NewTokenManager("secret", "clinic-portal", time.Minute)

	token, err := m.IssuePipelineToken("media-processor")
	require.NoError(t, err)

	claims, err := m.VerifyPipelineToken(token)
	require.NoError(t, err)
	require.Equal(t, "media-processor", claims.Service)
	require.Equal(t, "pipeline:media-processor", claims.Subject)
}

func TestVerifyRejectsForeignToken(t *testing.T) {
	m := NewTokenManager("secret", "clinic-portal", time.Minute)
	other := NewTokenManager("other-secret", "clinic-portal", time.Minute)

	token, err := other.IssuePipelineToken("media-processor")
	require.NoError(t, err)

	_, err = m.VerifyPipelineToken(token)
	require.ErrorIs(t, err, shared.ErrInvalidCredentials)
}

func TestVerifyRejectsWrongIssuer(t *testing.T) {
	m := NewTokenManager("secret", "clinic-portal", time.Minute)
	other := NewTokenManager("secret", "someone-else", time.Minute)

	token, err := other.IssuePipelineToken("media-processor")
	require.NoError(t, err)

	_, err = m.VerifyPipelineToken(token)
	require.ErrorIs(t, err, shared.ErrInvalidCredentials)
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	m := NewTokenManager("secret", "clinic-portal", -time.Minute)

	token, err := m.IssuePipelineToken("media-processor")
	require.NoError(t, err)

	_, err = m.VerifyPipelineToken(token)
	require.ErrorIs(t, err, shared.ErrInvalidCredentials)
}

func TestPipelineAuthMiddleware(t *testing.T) {
	m := NewTokenManager("secret", "clinic-portal", time.Minute)

	var captured shared.Actor
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = shared.ActorFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
	handler := m.PipelineAuth(next)

	r := httptest.NewRequest(http.MethodPost, "/pipeline/assets", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	token, err := m.IssuePipelineToken("media-processor")
	require.NoError(t, err)
	r = httptest.NewRequest(http.MethodPost, "/pipeline/assets", nil)
	r.Header.Set("Authorization", "Bearer "+token)
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, r)
	require.Equal(t, http.StatusNoContent, w.Code)
	require.Equal(t, shared.ActorPipeline, captured.Kind)
	require.Equal(t, "media-processor", captured.UserAgent)
}
