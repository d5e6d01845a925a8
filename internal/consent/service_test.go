package consent

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/hillsclinic/clinic-portal/internal/audit"
	"github.com/hillsclinic/clinic-portal/internal/observability"
	"github.com/hillsclinic/clinic-portal/internal/shared"
)

type fakeTx struct{}

func (fakeTx) WithTx(ctx context.Context, fn func(pgx.Tx) error) error {
	return fn(nil)
}

type memStore struct {
	records []Record
}

func (m *memStore) InsertTx(ctx context.Context, _ pgx.Tx, rec *Record) error {
	m.records = append(m.records, *rec)
	return nil
}

func (m *memStore) SupersedeActiveTx(ctx context.Context, _ pgx.Tx, subjectID uuid.UUID, category Category, at time.Time) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	for i := range m.records {
		rec := &m.records[i]
		if rec.SubjectID != subjectID || rec.Category != category || !rec.Granted || rec.RevokedAt != nil {
			continue
		}
		stamp := at
		rec.RevokedAt = &stamp
		rec.RevocationReason = "superseded"
		ids = append(ids, rec.ID)
	}
	return ids, nil
}

func (m *memStore) LatestGrantTx(ctx context.Context, _ pgx.Tx, subjectID uuid.UUID, category Category) (*Record, error) {
	var latest *Record
	for i := range m.records {
		rec := &m.records[i]
		if rec.SubjectID != subjectID || rec.Category != category || !rec.Granted {
			continue
		}
		if latest == nil {
			latest = rec
			continue
		}
		// The active grant governs; among revoked rows the newest wins.
		if rec.RevokedAt == nil && latest.RevokedAt != nil {
			latest = rec
		} else if (rec.RevokedAt == nil) == (latest.RevokedAt == nil) && !rec.GrantedAt.Before(latest.GrantedAt) {
			latest = rec
		}
	}
	if latest == nil {
		return nil, shared.ErrNotFound
	}
	out := *latest
	return &out, nil
}

func (m *memStore) RevokeTx(ctx context.Context, _ pgx.Tx, id uuid.UUID, at time.Time, reason string) error {
	for i := range m.records {
		if m.records[i].ID != id {
			continue
		}
		if m.records[i].RevokedAt != nil {
			return shared.ErrAlreadyRevoked
		}
		stamp := at
		m.records[i].RevokedAt = &stamp
		m.records[i].RevocationReason = reason
		return nil
	}
	return shared.ErrNotFound
}

func (m *memStore) Active(ctx context.Context, subjectID uuid.UUID, category Category) (bool, error) {
	var latest *Record
	for i := range m.records {
		rec := &m.records[i]
		if rec.SubjectID != subjectID || rec.Category != category {
			continue
		}
		if latest == nil || !rec.GrantedAt.Before(latest.GrantedAt) {
			latest = rec
		}
	}
	if latest == nil {
		return false, nil
	}
	return latest.Active(), nil
}

func (m *memStore) History(ctx context.Context, subjectID uuid.UUID, category Category) ([]Record, error) {
	var out []Record
	for _, rec := range m.records {
		if rec.SubjectID != subjectID {
			continue
		}
		if category != "" && rec.Category != category {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GrantedAt.After(out[j].GrantedAt) })
	return out, nil
}

type memAuditStore struct {
	entries []audit.Entry
}

func (m *memAuditStore) Insert(ctx context.Context, e *audit.Entry) error {
	m.entries = append(m.entries, *e)
	return nil
}

func (m *memAuditStore) InsertTx(ctx context.Context, _ pgx.Tx, e *audit.Entry) error {
	m.entries = append(m.entries, *e)
	return nil
}

func (m *memAuditStore) Query(ctx context.Context, f audit.Filter, limit, offset int) ([]audit.Entry, int, error) {
	return m.entries, len(m.entries), nil
}

func (m *memAuditStore) actions() []string {
	out := make([]string, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e.Action)
	}
	return out
}

type stubUnpublisher struct {
	assetIDs []uuid.UUID
	category string
}

func (s *stubUnpublisher) RevokeApprovalsTx(ctx context.Context, _ pgx.Tx, subjectID uuid.UUID, category string) ([]uuid.UUID, error) {
	s.category = category
	return s.assetIDs, nil
}

type captureDispatcher struct {
	events []RevokedEvent
}

func (c *captureDispatcher) ConsentRevoked(ctx context.Context, ev RevokedEvent) error {
	c.events = append(c.events, ev)
	return nil
}

func newTestService(t *testing.T) (*Service, *memStore, *memAuditStore, *stubUnpublisher) {
	t.Helper()
	store := &memStore{}
	auditStore := &memAuditStore{}
	unpub := &stubUnpublisher{}
	svc := NewService(fakeTx{}, store, audit.NewService(auditStore), unpub, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return svc, store, auditStore, unpub
}

func staffActor() shared.Actor {
	return shared.Actor{UserID: 7, Kind: shared.ActorStaff, IP: "10.0.0.1"}
}

func TestRecordConsentWritesAudit(t *testing.T) {
	svc, store, auditStore, _ := newTestService(t)
	subjectID := uuid.New()

	rec, err := svc.RecordConsent(context.Background(), staffActor(), subjectID, CategoryMediaUse, true, Capture{ConsentText: "v3", Signature: "sig"})
	require.NoError(t, err)
	require.True(t, rec.Active())
	require.Len(t, store.records, 1)

	require.Equal(t, []string{audit.ActionConsentGrant}, auditStore.actions())
	require.Equal(t, subjectID, auditStore.entries[0].SubjectID)
}

func TestRecordDenialAuditedAsDeny(t *testing.T) {
	svc, _, auditStore, _ := newTestService(t)

	rec, err := svc.RecordConsent(context.Background(), staffActor(), uuid.New(), CategoryFaceVisible, false, Capture{})
	require.NoError(t, err)
	require.False(t, rec.Active())
	require.Equal(t, []string{audit.ActionConsentDeny}, auditStore.actions())
}

func TestRepeatedGrantSupersedesAndSingleRevokeSticks(t *testing.T) {
	svc, store, auditStore, _ := newTestService(t)
	subjectID := uuid.New()

	// A patient re-signing an updated form leaves only one active record.
	first, err := svc.RecordConsent(context.Background(), staffActor(), subjectID, CategoryFaceVisible, true, Capture{ConsentText: "v1"})
	require.NoError(t, err)
	_, err = svc.RecordConsent(context.Background(), staffActor(), subjectID, CategoryFaceVisible, true, Capture{ConsentText: "v2"})
	require.NoError(t, err)

	require.NotNil(t, store.records[0].RevokedAt)
	require.Equal(t, "superseded", store.records[0].RevocationReason)
	require.Equal(t, []string{first.ID.String()}, auditStore.entries[1].Detail["superseded"])

	require.NoError(t, svc.Revoke(context.Background(), staffActor(), subjectID, CategoryFaceVisible, "patient request"))

	active, err := svc.ActiveConsent(context.Background(), subjectID, CategoryFaceVisible)
	require.NoError(t, err)
	require.False(t, active)

	statuses, err := svc.Status(context.Background(), subjectID)
	require.NoError(t, err)
	for _, s := range statuses {
		if s.Category == CategoryFaceVisible {
			require.False(t, s.Active)
		}
	}
}

func TestDenialSupersedesActiveGrant(t *testing.T) {
	svc, _, auditStore, unpub := newTestService(t)
	subjectID := uuid.New()
	assetID := uuid.New()
	unpub.assetIDs = []uuid.UUID{assetID}

	_, err := svc.RecordConsent(context.Background(), staffActor(), subjectID, CategoryMediaUse, true, Capture{})
	require.NoError(t, err)
	_, err = svc.RecordConsent(context.Background(), staffActor(), subjectID, CategoryMediaUse, false, Capture{})
	require.NoError(t, err)

	active, err := svc.ActiveConsent(context.Background(), subjectID, CategoryMediaUse)
	require.NoError(t, err)
	require.False(t, active)

	// The denial withdraws publication approval like an explicit revocation.
	require.Equal(t, string(CategoryMediaUse), unpub.category)
	require.Equal(t, []string{
		audit.ActionConsentGrant,
		audit.ActionConsentDeny,
		audit.ActionUnpublish,
	}, auditStore.actions())
	require.Equal(t, assetID.String(), auditStore.entries[2].TargetID)
}

func TestRecordConsentRejectsUnknownCategory(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	_, err := svc.RecordConsent(context.Background(), staffActor(), uuid.New(), Category("marketing_calls"), true, Capture{})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestRevokeCascadesUnpublish(t *testing.T) {
	svc, _, auditStore, unpub := newTestService(t)
	dispatcher := &captureDispatcher{}
	svc.SetDispatcher(dispatcher)

	assetA, assetB := uuid.New(), uuid.New()
	unpub.assetIDs = []uuid.UUID{assetA, assetB}
	subjectID := uuid.New()

	_, err := svc.RecordConsent(context.Background(), staffActor(), subjectID, CategoryFaceVisible, true, Capture{})
	require.NoError(t, err)

	err = svc.Revoke(context.Background(), staffActor(), subjectID, CategoryFaceVisible, "patient request")
	require.NoError(t, err)

	require.Equal(t, string(CategoryFaceVisible), unpub.category)
	require.Equal(t, []string{
		audit.ActionConsentGrant,
		audit.ActionConsentRevoke,
		audit.ActionUnpublish,
		audit.ActionUnpublish,
	}, auditStore.actions())
	require.Equal(t, assetA.String(), auditStore.entries[2].TargetID)
	require.Equal(t, assetB.String(), auditStore.entries[3].TargetID)

	require.Len(t, dispatcher.events, 1)
	require.Equal(t, subjectID, dispatcher.events[0].SubjectID)
	require.Equal(t, CategoryFaceVisible, dispatcher.events[0].Category)

	active, err := svc.ActiveConsent(context.Background(), subjectID, CategoryFaceVisible)
	require.NoError(t, err)
	require.False(t, active)
}

func TestRevokeFeedsMetrics(t *testing.T) {
	svc, _, _, unpub := newTestService(t)
	metrics := observability.NewMetrics()
	svc.SetMetrics(metrics)
	subjectID := uuid.New()
	unpub.assetIDs = []uuid.UUID{uuid.New(), uuid.New()}

	_, err := svc.RecordConsent(context.Background(), staffActor(), subjectID, CategoryMediaUse, true, Capture{})
	require.NoError(t, err)
	require.NoError(t, svc.Revoke(context.Background(), staffActor(), subjectID, CategoryMediaUse, ""))

	require.Equal(t, 1.0, testutil.ToFloat64(metrics.ConsentRevocations.WithLabelValues(string(CategoryMediaUse))))
	require.Equal(t, 2.0, testutil.ToFloat64(metrics.UnpublishedAssets))
}

func TestRevokeTwiceFails(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	subjectID := uuid.New()

	_, err := svc.RecordConsent(context.Background(), staffActor(), subjectID, CategoryMediaUse, true, Capture{})
	require.NoError(t, err)

	require.NoError(t, svc.Revoke(context.Background(), staffActor(), subjectID, CategoryMediaUse, ""))
	err = svc.Revoke(context.Background(), staffActor(), subjectID, CategoryMediaUse, "")
	require.ErrorIs(t, err, shared.ErrAlreadyRevoked)
}

func TestRevokeWithoutGrant(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	err := svc.Revoke(context.Background(), staffActor(), uuid.New(), CategoryTestimonial, "")
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestRegrantAfterRevocation(t *testing.T) {
	svc, store, _, _ := newTestService(t)
	subjectID := uuid.New()

	_, err := svc.RecordConsent(context.Background(), staffActor(), subjectID, CategoryMediaUse, true, Capture{})
	require.NoError(t, err)
	require.NoError(t, svc.Revoke(context.Background(), staffActor(), subjectID, CategoryMediaUse, ""))

	// Re-granting appends a fresh record; the revoked one keeps its stamp.
	store.records[0].GrantedAt = store.records[0].GrantedAt.Add(-time.Minute)
	_, err = svc.RecordConsent(context.Background(), staffActor(), subjectID, CategoryMediaUse, true, Capture{})
	require.NoError(t, err)

	active, err := svc.ActiveConsent(context.Background(), subjectID, CategoryMediaUse)
	require.NoError(t, err)
	require.True(t, active)
	require.Len(t, store.records, 2)
	require.NotNil(t, store.records[0].RevokedAt)
}

func TestStatusCoversEveryCategory(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	subjectID := uuid.New()

	_, err := svc.RecordConsent(context.Background(), staffActor(), subjectID, CategoryMediaUse, true, Capture{})
	require.NoError(t, err)
	_, err = svc.RecordConsent(context.Background(), staffActor(), subjectID, CategoryFaceVisible, true, Capture{})
	require.NoError(t, err)
	require.NoError(t, svc.Revoke(context.Background(), staffActor(), subjectID, CategoryFaceVisible, ""))

	statuses, err := svc.Status(context.Background(), subjectID)
	require.NoError(t, err)
	require.Len(t, statuses, 3)

	byCategory := make(map[Category]CategoryStatus, len(statuses))
	for _, s := range statuses {
		byCategory[s.Category] = s
	}
	require.True(t, byCategory[CategoryMediaUse].Active)
	require.False(t, byCategory[CategoryFaceVisible].Active)
	require.False(t, byCategory[CategoryTestimonial].Active)
	require.Nil(t, byCategory[CategoryTestimonial].Latest)
}
