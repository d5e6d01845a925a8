package shared

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) *SessionManager {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewSessionManager(client, "portal_session", "test-secret", time.Hour, false)
}

func TestSessionRoundTrip(t *testing.T) {
	sm := newTestManager(t)
	ctx := context.Background()

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	sess, err := sm.Load(ctx, r)
	require.NoError(t, err)

	subjectID := uuid.New()
	sess.SetUser("42", ActorSubject)
	sess.SetSubject(subjectID)

	w := httptest.NewRecorder()
	require.NoError(t, sm.Commit(ctx, w, r, sess))

	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	require.Equal(t, "portal_session", cookies[0].Name)
	require.True(t, cookies[0].HttpOnly)

	r2 := httptest.NewRequest(http.MethodGet, "/", nil)
	r2.AddCookie(cookies[0])
	loaded, err := sm.Load(ctx, r2)
	require.NoError(t, err)
	require.Equal(t, "42", loaded.User())
	require.Equal(t, ActorSubject, loaded.ActorKind())
	require.Equal(t, subjectID, loaded.Subject())
}

func TestSessionDestroy(t *testing.T) {
	sm := newTestManager(t)
	ctx := context.Background()

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	sess, err := sm.Load(ctx, r)
	require.NoError(t, err)
	sess.SetUser("42", ActorStaff)

	w := httptest.NewRecorder()
	require.NoError(t, sm.Commit(ctx, w, r, sess))
	cookie := w.Result().Cookies()[0]

	r2 := httptest.NewRequest(http.MethodGet, "/", nil)
	r2.AddCookie(cookie)
	sess2, err := sm.Load(ctx, r2)
	require.NoError(t, err)
	sm.Destroy(sess2)

	w2 := httptest.NewRecorder()
	require.NoError(t, sm.Commit(ctx, w2, r2, sess2))
	cleared := w2.Result().Cookies()
	require.Len(t, cleared, 1)
	require.Equal(t, -1, cleared[0].MaxAge)

	r3 := httptest.NewRequest(http.MethodGet, "/", nil)
	r3.AddCookie(cookie)
	sess3, err := sm.Load(ctx, r3)
	require.NoError(t, err)
	require.Empty(t, sess3.User())
}

func TestSessionUnknownCookieStartsFresh(t *testing.T) {
	sm := newTestManager(t)

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.AddCookie(&http.Cookie{Name: "portal_session", Value: "expired-or-forged"})
	sess, err := sm.Load(context.Background(), r)
	require.NoError(t, err)
	require.Empty(t, sess.User())
	require.Equal(t, uuid.Nil, sess.Subject())
}
