package media

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"

	"github.com/hillsclinic/clinic-portal/internal/audit"
	"github.com/hillsclinic/clinic-portal/internal/consent"
	"github.com/hillsclinic/clinic-portal/internal/shared"
)

type fakeTx struct{}

func (fakeTx) WithTx(ctx context.Context, fn func(pgx.Tx) error) error {
	return fn(nil)
}

type memStore struct {
	assets map[uuid.UUID]*Asset
}

func newMemStore() *memStore {
	return &memStore{assets: make(map[uuid.UUID]*Asset)}
}

func (m *memStore) InsertTx(ctx context.Context, _ pgx.Tx, a *Asset) error {
	cp := *a
	cp.Variants = make(map[string]string)
	m.assets[a.ID] = &cp
	return nil
}

func (m *memStore) AttachVariantTx(ctx context.Context, _ pgx.Tx, assetID uuid.UUID, name, locator string) error {
	a, ok := m.assets[assetID]
	if !ok {
		return shared.ErrNotFound
	}
	if _, exists := a.Variants[name]; exists {
		return shared.ErrConflict
	}
	a.Variants[name] = locator
	return nil
}

func (m *memStore) Get(ctx context.Context, id uuid.UUID) (*Asset, error) {
	a, ok := m.assets[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *memStore) GetTx(ctx context.Context, _ pgx.Tx, id uuid.UUID) (*Asset, error) {
	return m.Get(ctx, id)
}

func (m *memStore) SubmitTx(ctx context.Context, _ pgx.Tx, id uuid.UUID, actorID int64, at time.Time) error {
	a := m.assets[id]
	a.SubmittedBy, a.SubmittedAt = &actorID, &at
	a.ApprovedBy, a.ApprovedAt, a.ApprovalRevokedAt = nil, nil, nil
	return nil
}

func (m *memStore) ApproveTx(ctx context.Context, _ pgx.Tx, id uuid.UUID, actorID int64, at time.Time) error {
	a := m.assets[id]
	a.ApprovedBy, a.ApprovedAt = &actorID, &at
	return nil
}

func (m *memStore) UnpublishTx(ctx context.Context, _ pgx.Tx, id uuid.UUID, at time.Time) error {
	a := m.assets[id]
	a.ApprovalRevokedAt = &at
	return nil
}

func (m *memStore) VerifyTx(ctx context.Context, _ pgx.Tx, id uuid.UUID, actorID int64, at time.Time) error {
	a := m.assets[id]
	a.VerifiedBy, a.VerifiedAt = &actorID, &at
	return nil
}

func (m *memStore) ListBySubject(ctx context.Context, subjectID uuid.UUID) ([]Asset, error) {
	var out []Asset
	for _, a := range m.assets {
		if a.SubjectID == subjectID {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (m *memStore) ApprovedBySubject(ctx context.Context, subjectID uuid.UUID) ([]Asset, error) {
	var out []Asset
	for _, a := range m.assets {
		if a.SubjectID == subjectID && a.ApprovedAt != nil && a.ApprovalRevokedAt == nil {
			out = append(out, *a)
		}
	}
	return out, nil
}

type memConsents struct {
	active map[consent.Category]bool
	// txActive, when set, answers the transactional variant instead of
	// active, standing in for a revocation that committed after the
	// caller's snapshot read.
	txActive map[consent.Category]bool
}

func (m *memConsents) Active(ctx context.Context, _ uuid.UUID, category consent.Category) (bool, error) {
	return m.active[category], nil
}

func (m *memConsents) ActiveTx(ctx context.Context, _ pgx.Tx, subjectID uuid.UUID, category consent.Category) (bool, error) {
	if m.txActive != nil {
		return m.txActive[category], nil
	}
	return m.Active(ctx, subjectID, category)
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

type prefixResolver struct{}

func (prefixResolver) ResolveURL(ctx context.Context, locator string) (string, error) {
	return "https://cdn.example.com/" + locator, nil
}

type captureDispatcher struct {
	events []UploadedEvent
}

func (c *captureDispatcher) DocumentUploaded(ctx context.Context, ev UploadedEvent) error {
	c.events = append(c.events, ev)
	return nil
}

func newTestService(t *testing.T) (*Service, *memStore, *memConsents, *memAuditStore) {
	t.Helper()
	store := newMemStore()
	consents := &memConsents{active: map[consent.Category]bool{
		consent.CategoryMediaUse:    true,
		consent.CategoryFaceVisible: true,
		consent.CategoryTestimonial: true,
	}}
	auditStore := &memAuditStore{}
	svc := NewService(fakeTx{}, store, consents, audit.NewService(auditStore), slog.New(slog.NewTextHandler(io.Discard, nil)))
	return svc, store, consents, auditStore
}

func pipelineActor() shared.Actor {
	return shared.Actor{Kind: shared.ActorPipeline, UserAgent: "media-processor"}
}

func staffActor() shared.Actor {
	return shared.Actor{UserID: 3, Kind: shared.ActorStaff}
}

func register(t *testing.T, svc *Service, subjectID uuid.UUID) *Asset {
	t.Helper()
	a, err := svc.RegisterUpload(context.Background(), pipelineActor(), subjectID, KindProgressPhoto, "uploads/orig.jpg", UploadMeta{MimeType: "image/jpeg", ByteSize: 2048})
	require.NoError(t, err)
	return a
}

func TestRegisterUploadStartsPrivate(t *testing.T) {
	svc, _, _, auditStore := newTestService(t)
	dispatcher := &captureDispatcher{}
	svc.SetDispatcher(dispatcher)
	subjectID := uuid.New()

	a := register(t, svc, subjectID)

	_, state, err := svc.Get(context.Background(), a.ID)
	require.NoError(t, err)
	require.Equal(t, StatePrivate, state)

	require.Len(t, auditStore.entries, 1)
	require.Equal(t, audit.ActionMediaRegister, auditStore.entries[0].Action)
	require.Len(t, dispatcher.events, 1)
	require.Equal(t, a.ID, dispatcher.events[0].AssetID)
}

func TestRegisterUploadValidation(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	_, err := svc.RegisterUpload(context.Background(), pipelineActor(), uuid.New(), Kind("selfie"), "uploads/x.jpg", UploadMeta{})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.RegisterUpload(context.Background(), pipelineActor(), uuid.New(), KindXRay, "", UploadMeta{})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestAttachDuplicateVariant(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	a := register(t, svc, uuid.New())

	require.NoError(t, svc.AttachVariant(context.Background(), pipelineActor(), a.ID, VariantFaceBlurred, "uploads/blur.jpg"))
	err := svc.AttachVariant(context.Background(), pipelineActor(), a.ID, VariantFaceBlurred, "uploads/blur2.jpg")
	require.ErrorIs(t, err, shared.ErrConflict)
}

func TestPublicationLifecycle(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	subjectID := uuid.New()
	a := register(t, svc, subjectID)
	ctx := context.Background()

	// Approving before submission is a sequencing error.
	err := svc.Approve(ctx, staffActor(), a.ID)
	require.ErrorIs(t, err, shared.ErrConflict)

	require.NoError(t, svc.SubmitForReview(ctx, staffActor(), a.ID))
	_, state, err := svc.Get(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, StatePendingReview, state)

	require.NoError(t, svc.Approve(ctx, staffActor(), a.ID))
	_, state, err = svc.Get(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, StatePublic, state)

	require.NoError(t, svc.Unpublish(ctx, staffActor(), a.ID))
	_, state, err = svc.Get(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, StateUnpublished, state)

	// Unpublishing again has nothing to withdraw.
	require.ErrorIs(t, svc.Unpublish(ctx, staffActor(), a.ID), shared.ErrConflict)

	// A fresh cycle restores visibility.
	require.NoError(t, svc.SubmitForReview(ctx, staffActor(), a.ID))
	require.NoError(t, svc.Approve(ctx, staffActor(), a.ID))
	_, state, err = svc.Get(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, StatePublic, state)
}

func TestSubmitRequiresMediaUseConsent(t *testing.T) {
	svc, _, consents, _ := newTestService(t)
	a := register(t, svc, uuid.New())

	consents.active[consent.CategoryMediaUse] = false
	err := svc.SubmitForReview(context.Background(), staffActor(), a.ID)
	require.ErrorIs(t, err, shared.ErrConsentMissing)
}

func TestApproveRechecksConsent(t *testing.T) {
	svc, _, consents, _ := newTestService(t)
	a := register(t, svc, uuid.New())
	ctx := context.Background()

	require.NoError(t, svc.SubmitForReview(ctx, staffActor(), a.ID))

	// Consent revoked between submission and the approval click.
	consents.active[consent.CategoryMediaUse] = false
	err := svc.Approve(ctx, staffActor(), a.ID)
	require.ErrorIs(t, err, shared.ErrConsentMissing)
}

func TestApproveSeesRevocationCommittedMidFlight(t *testing.T) {
	svc, store, consents, _ := newTestService(t)
	a := register(t, svc, uuid.New())
	ctx := context.Background()

	require.NoError(t, svc.SubmitForReview(ctx, staffActor(), a.ID))

	// A revocation lands after the review page loaded: the stale read
	// still says active, the locked transactional read does not.
	consents.txActive = map[consent.Category]bool{
		consent.CategoryMediaUse:    false,
		consent.CategoryFaceVisible: true,
		consent.CategoryTestimonial: true,
	}
	err := svc.Approve(ctx, staffActor(), a.ID)
	require.ErrorIs(t, err, shared.ErrConsentMissing)
	require.Nil(t, store.assets[a.ID].ApprovedAt)
}

func TestApproveTestimonialNeedsTestimonialConsent(t *testing.T) {
	svc, store, consents, _ := newTestService(t)
	subjectID := uuid.New()
	a, err := svc.RegisterUpload(context.Background(), pipelineActor(), subjectID, KindBeforeAfter, "uploads/ba.jpg", UploadMeta{Testimonial: true})
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, svc.SubmitForReview(ctx, staffActor(), a.ID))
	consents.active[consent.CategoryTestimonial] = false
	require.ErrorIs(t, svc.Approve(ctx, staffActor(), a.ID), shared.ErrConsentMissing)
	require.Nil(t, store.assets[a.ID].ApprovedAt)
}

func TestVerifyOnce(t *testing.T) {
	svc, _, _, auditStore := newTestService(t)
	a := register(t, svc, uuid.New())
	ctx := context.Background()

	require.NoError(t, svc.Verify(ctx, staffActor(), a.ID))
	require.ErrorIs(t, svc.Verify(ctx, staffActor(), a.ID), shared.ErrConflict)
	require.Equal(t, audit.ActionMediaVerify, auditStore.entries[len(auditStore.entries)-1].Action)
}

func TestPublicMediaNarrowsWithConsent(t *testing.T) {
	svc, _, consents, _ := newTestService(t)
	svc.SetResolver(prefixResolver{})
	subjectID := uuid.New()
	a := register(t, svc, subjectID)
	ctx := context.Background()

	require.NoError(t, svc.AttachVariant(ctx, pipelineActor(), a.ID, VariantFaceBlurred, "uploads/blur.jpg"))
	require.NoError(t, svc.SubmitForReview(ctx, staffActor(), a.ID))
	require.NoError(t, svc.Approve(ctx, staffActor(), a.ID))

	variants, err := svc.PublicMediaFor(ctx, subjectID)
	require.NoError(t, err)
	require.Len(t, variants, 2)
	require.Equal(t, "https://cdn.example.com/uploads/orig.jpg", variants[0].URL)

	// Dropping face_visible leaves only the blurred rendition, with no change
	// to the stored asset.
	consents.active[consent.CategoryFaceVisible] = false
	variants, err = svc.PublicMediaFor(ctx, subjectID)
	require.NoError(t, err)
	require.Len(t, variants, 1)
	require.Equal(t, VariantFaceBlurred, variants[0].Variant)

	consents.active[consent.CategoryMediaUse] = false
	variants, err = svc.PublicMediaFor(ctx, subjectID)
	require.NoError(t, err)
	require.Empty(t, variants)
}
