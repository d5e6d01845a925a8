package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hillsclinic/clinic-portal/internal/shared"
)

type memRepo struct {
	users    map[string]*User
	sessions map[string]int64
}

func newMemRepo() *memRepo {
	return &memRepo{users: map[string]*User{}, sessions: map[string]int64{}}
}

func (m *memRepo) FindByEmail(ctx context.Context, email string) (*User, error) {
	u, ok := m.users[email]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return u, nil
}

func (m *memRepo) CreateSession(ctx context.Context, id string, userID int64, expiresAt time.Time, ip, ua string) error {
	m.sessions[id] = userID
	return nil
}

func (m *memRepo) DeleteSession(ctx context.Context, id string) error {
	delete(m.sessions, id)
	return nil
}

func (m *memRepo) addUser(t *testing.T, email, password string, active bool) {
	t.Helper()
	hash, err := HashPassword(password)
	require.NoError(t, err)
	m.users[email] = &User{
		ID:           int64(len(m.users) + 1),
		Email:        email,
		PasswordHash: hash,
		Kind:         shared.ActorStaff,
		IsActive:     active,
	}
}

func TestAuthenticate(t *testing.T) {
	repo := newMemRepo()
	repo.addUser(t, "nurse@clinic.example", "correct horse", true)
	svc := NewService(repo)
	ctx := context.Background()

	user, err := svc.Authenticate(ctx, "nurse@clinic.example", "correct horse")
	require.NoError(t, err)
	require.Equal(t, "nurse@clinic.example", user.Email)

	_, err = svc.Authenticate(ctx, "nurse@clinic.example", "wrong")
	require.ErrorIs(t, err, shared.ErrInvalidCredentials)

	_, err = svc.Authenticate(ctx, "ghost@clinic.example", "correct horse")
	require.ErrorIs(t, err, shared.ErrInvalidCredentials)
}

func TestAuthenticateInactiveAccount(t *testing.T) {
	repo := newMemRepo()
	repo.addUser(t, "former@clinic.example", "correct horse", false)
	svc := NewService(repo)

	_, err := svc.Authenticate(context.Background(), "former@clinic.example", "correct horse")
	require.ErrorIs(t, err, shared.ErrInvalidCredentials)
}

func TestSessionRegistration(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(repo)
	ctx := context.Background()

	require.NoError(t, svc.RegisterSession(ctx, "sess-1", 7, time.Now().Add(time.Hour), "10.0.0.1", "test"))
	require.Contains(t, repo.sessions, "sess-1")
	require.NoError(t, svc.RemoveSession(ctx, "sess-1"))
	require.NotContains(t, repo.sessions, "sess-1")
}
