package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/hillsclinic/clinic-portal/internal/observability"
)

type memStore struct {
	entries []Entry
	failing bool
}

func (m *memStore) Insert(ctx context.Context, e *Entry) error {
	if m.failing {
		return errors.New("audit storage down")
	}
	m.entries = append(m.entries, *e)
	return nil
}

func (m *memStore) InsertTx(ctx context.Context, _ pgx.Tx, e *Entry) error {
	return m.Insert(ctx, e)
}

func (m *memStore) Query(ctx context.Context, f Filter, limit, offset int) ([]Entry, int, error) {
	var matched []Entry
	for _, e := range m.entries {
		if f.SubjectID != uuid.Nil && e.SubjectID != f.SubjectID {
			continue
		}
		if f.Action != "" && e.Action != f.Action {
			continue
		}
		matched = append(matched, e)
	}
	total := len(matched)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return matched[offset:end], total, nil
}

func TestAppendFillsDefaults(t *testing.T) {
	store := &memStore{}
	svc := NewService(store)

	id, err := svc.Append(context.Background(), Entry{
		Action:     ActionConsentGrant,
		TargetKind: "consent_record",
	})
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, id)

	e := store.entries[0]
	require.Equal(t, OutcomeOK, e.Outcome)
	require.False(t, e.OccurredAt.IsZero())
}

func TestAppendAllowsEntriesWithoutSubject(t *testing.T) {
	store := &memStore{}
	svc := NewService(store)

	// Logins and staff asset lookups have no owning subject.
	id, err := svc.Append(context.Background(), Entry{
		ActorID:    7,
		Action:     ActionAccessCheck,
		TargetKind: "media_asset",
		TargetID:   uuid.NewString(),
	})
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, id)
	require.Equal(t, uuid.Nil, store.entries[0].SubjectID)

	// Subject-filtered timelines skip ownerless entries.
	res, err := svc.Timeline(context.Background(), Filter{SubjectID: uuid.New()})
	require.NoError(t, err)
	require.Empty(t, res.Entries)
}

func TestAppendFailureCountsMetric(t *testing.T) {
	store := &memStore{failing: true}
	svc := NewService(store)
	metrics := observability.NewMetrics()
	svc.SetMetrics(metrics)

	_, err := svc.Append(context.Background(), Entry{Action: ActionConsentGrant, TargetKind: "consent_record"})
	require.Error(t, err)
	_, err = svc.AppendTx(context.Background(), nil, Entry{Action: ActionConsentGrant, TargetKind: "consent_record"})
	require.Error(t, err)

	require.Equal(t, 2.0, testutil.ToFloat64(metrics.AuditAppendErrors))
}

func TestAppendRequiresActionAndTarget(t *testing.T) {
	svc := NewService(&memStore{})

	_, err := svc.Append(context.Background(), Entry{TargetKind: "media_asset"})
	require.Error(t, err)
	_, err = svc.Append(context.Background(), Entry{Action: ActionMediaVerify})
	require.Error(t, err)
}

func TestTimelinePaging(t *testing.T) {
	store := &memStore{}
	svc := NewService(store)
	subjectID := uuid.New()

	for i := 0; i < 25; i++ {
		_, err := svc.Append(context.Background(), Entry{
			SubjectID:  subjectID,
			Action:     ActionAccessCheck,
			TargetKind: "subject",
			OccurredAt: time.Now().UTC(),
		})
		require.NoError(t, err)
	}

	res, err := svc.Timeline(context.Background(), Filter{SubjectID: subjectID, Page: 1, PageSize: 10})
	require.NoError(t, err)
	require.Len(t, res.Entries, 10)
	require.Equal(t, 25, res.Total)
	require.True(t, res.HasNext)

	res, err = svc.Timeline(context.Background(), Filter{SubjectID: subjectID, Page: 3, PageSize: 10})
	require.NoError(t, err)
	require.Len(t, res.Entries, 5)
	require.False(t, res.HasNext)
}

func TestTimelineClampsPageSize(t *testing.T) {
	store := &memStore{}
	svc := NewService(store)

	res, err := svc.Timeline(context.Background(), Filter{PageSize: 1000})
	require.NoError(t, err)
	require.Equal(t, 100, res.PageSize)

	res, err = svc.Timeline(context.Background(), Filter{Page: -4})
	require.NoError(t, err)
	require.Equal(t, 1, res.Page)
	require.Equal(t, 20, res.PageSize)
}
