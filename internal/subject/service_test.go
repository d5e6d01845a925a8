package subject

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"

	"github.com/hillsclinic/clinic-portal/internal/audit"
	"github.com/hillsclinic/clinic-portal/internal/shared"
)

type memStore struct {
	subjects map[uuid.UUID]*Subject
}

func newMemStore() *memStore {
	return &memStore{subjects: make(map[uuid.UUID]*Subject)}
}

func (m *memStore) Insert(ctx context.Context, s *Subject) error {
	cp := *s
	m.subjects[s.ID] = &cp
	return nil
}

func (m *memStore) Get(ctx context.Context, id uuid.UUID) (*Subject, error) {
	s, ok := m.subjects[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *memStore) GetByUser(ctx context.Context, userID int64) (*Subject, error) {
	for _, s := range m.subjects {
		if s.UserID != nil && *s.UserID == userID {
			cp := *s
			return &cp, nil
		}
	}
	return nil, shared.ErrNotFound
}

func (m *memStore) Update(ctx context.Context, id uuid.UUID, u Update) error {
	s, ok := m.subjects[id]
	if !ok {
		return shared.ErrNotFound
	}
	if u.FullName != nil {
		s.FullName = *u.FullName
	}
	if u.Phone != nil {
		s.Phone = *u.Phone
	}
	if u.Locale != nil {
		s.Locale = *u.Locale
	}
	if u.Timezone != nil {
		s.Timezone = *u.Timezone
	}
	return nil
}

func (m *memStore) List(ctx context.Context, limit, offset int) ([]Subject, int, error) {
	var out []Subject
	for _, s := range m.subjects {
		out = append(out, *s)
	}
	return out, len(out), nil
}

type memAuditStore struct {
	entries []audit.Entry
}

func (m *memAuditStore) Insert(ctx context.Context, e *audit.Entry) error {
	m.entries = append(m.entries, *e)
	return nil
}

func (m *memAuditStore) InsertTx(ctx context.Context, _ pgx.Tx, e *audit.Entry) error {
	return m.Insert(ctx, e)
}

func (m *memAuditStore) Query(ctx context.Context, f audit.Filter, limit, offset int) ([]audit.Entry, int, error) {
	return m.entries, len(m.entries), nil
}

func newTestService(t *testing.T) (*Service, *memStore, *memAuditStore) {
	t.Helper()
	store := newMemStore()
	auditStore := &memAuditStore{}
	svc := NewService(store, audit.NewService(auditStore), slog.New(slog.NewTextHandler(io.Discard, nil)))
	return svc, store, auditStore
}

func TestCreateDefaultsAndAudit(t *testing.T) {
	svc, _, auditStore := newTestService(t)
	actor := shared.Actor{UserID: 5, Kind: shared.ActorStaff}

	sub, err := svc.Create(context.Background(), actor, &Subject{FullName: "  Ahmed Hassan  ", Locale: "AR"})
	require.NoError(t, err)
	require.Equal(t, "Ahmed Hassan", sub.FullName)
	require.Equal(t, "ar", sub.Locale)
	require.Equal(t, "UTC", sub.Timezone)
	require.NotEqual(t, uuid.Nil, sub.ID)

	require.Len(t, auditStore.entries, 1)
	require.Equal(t, "subject.create", auditStore.entries[0].Action)
	require.Equal(t, sub.ID, auditStore.entries[0].SubjectID)
}

func TestCreateRejectsBlankName(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.Create(context.Background(), shared.Actor{UserID: 5, Kind: shared.ActorStaff}, &Subject{FullName: "   "})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestUpdateProfileNormalizesLocale(t *testing.T) {
	svc, _, auditStore := newTestService(t)
	actor := shared.Actor{UserID: 5, Kind: shared.ActorStaff}

	sub, err := svc.Create(context.Background(), actor, &Subject{FullName: "Lina Park"})
	require.NoError(t, err)

	locale := "KO-kr"
	updated, err := svc.UpdateProfile(context.Background(), actor, sub.ID, Update{Locale: &locale})
	require.NoError(t, err)
	require.Equal(t, "ko-KR", updated.Locale)

	blank := " "
	_, err = svc.UpdateProfile(context.Background(), actor, sub.ID, Update{FullName: &blank})
	require.ErrorIs(t, err, shared.ErrValidation)

	require.Equal(t, "subject.update", auditStore.entries[len(auditStore.entries)-1].Action)
}

func TestUpdateMissingSubject(t *testing.T) {
	svc, _, _ := newTestService(t)

	name := "Nobody"
	_, err := svc.UpdateProfile(context.Background(), shared.Actor{UserID: 5, Kind: shared.ActorStaff}, uuid.New(), Update{FullName: &name})
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestNormalizeLocale(t *testing.T) {
	require.Equal(t, "en", NormalizeLocale(""))
	require.Equal(t, "en", NormalizeLocale("not-a-tag!!"))
	require.Equal(t, "pt-BR", NormalizeLocale("pt-br"))
}
