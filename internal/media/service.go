package media

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/hillsclinic/clinic-portal/internal/audit"
	"github.com/hillsclinic/clinic-portal/internal/consent"
	"github.com/hillsclinic/clinic-portal/internal/observability"
	"github.com/hillsclinic/clinic-portal/internal/shared"
)

// Store abstracts media persistence.
type Store interface {
	InsertTx(ctx context.Context, tx pgx.Tx, a *Asset) error
	AttachVariantTx(ctx context.Context, tx pgx.Tx, assetID uuid.UUID, name, locator string) error
	Get(ctx context.Context, id uuid.UUID) (*Asset, error)
	GetTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*Asset, error)
	SubmitTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, actorID int64, at time.Time) error
	ApproveTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, actorID int64, at time.Time) error
	UnpublishTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, at time.Time) error
	VerifyTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, actorID int64, at time.Time) error
	ListBySubject(ctx context.Context, subjectID uuid.UUID) ([]Asset, error)
	ApprovedBySubject(ctx context.Context, subjectID uuid.UUID) ([]Asset, error)
}

// ConsentSource reads the subject's current consent status. The Tx variant
// runs inside transition transactions so approval re-checks consent at commit
// time.
type ConsentSource interface {
	Active(ctx context.Context, subjectID uuid.UUID, category consent.Category) (bool, error)
	ActiveTx(ctx context.Context, tx pgx.Tx, subjectID uuid.UUID, category consent.Category) (bool, error)
}

// LocatorResolver turns opaque storage locators into servable URLs.
type LocatorResolver interface {
	ResolveURL(ctx context.Context, locator string) (string, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(pgx.Tx) error) error
}

// Service implements the media asset registry and publication transitions.
type Service struct {
	tx         txRunner
	store      Store
	consents   ConsentSource
	audit      *audit.Service
	resolver   LocatorResolver
	dispatcher Dispatcher
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// NewService constructs the media service.
func NewService(tx txRunner, store Store, consents ConsentSource, auditSvc *audit.Service, logger *slog.Logger) *Service {
	return &Service{tx: tx, store: store, consents: consents, audit: auditSvc, logger: logger}
}

// SetResolver wires the storage resolver used for public URLs.
func (s *Service) SetResolver(r LocatorResolver) {
	s.resolver = r
}

// SetDispatcher wires the notification dispatcher for upload events.
func (s *Service) SetDispatcher(d Dispatcher) {
	s.dispatcher = d
}

// SetMetrics wires the unpublish counter.
func (s *Service) SetMetrics(m *observability.Metrics) {
	s.metrics = m
}

// RegisterUpload creates an asset holding only the original variant. The new
// asset is private; nothing becomes public as a side effect of uploading.
func (s *Service) RegisterUpload(ctx context.Context, actor shared.Actor, subjectID uuid.UUID, kind Kind, originalLocator string, meta UploadMeta) (*Asset, error) {
	if !kind.IsValid() {
		return nil, fmt.Errorf("%w: unknown asset kind %q", shared.ErrValidation, kind)
	}
	if originalLocator == "" {
		return nil, fmt.Errorf("%w: original locator required", shared.ErrValidation)
	}
	if subjectID == uuid.Nil {
		return nil, fmt.Errorf("%w: subject id required", shared.ErrValidation)
	}

	now := time.Now().UTC()
	a := &Asset{
		ID:          uuid.New(),
		SubjectID:   subjectID,
		Kind:        kind,
		MimeType:    meta.MimeType,
		ByteSize:    meta.ByteSize,
		Testimonial: meta.Testimonial,
		Variants:    map[string]string{VariantOriginal: originalLocator},
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err := s.tx.WithTx(ctx, func(tx pgx.Tx) error {
		if err := s.store.InsertTx(ctx, tx, a); err != nil {
			return err
		}
		if err := s.store.AttachVariantTx(ctx, tx, a.ID, VariantOriginal, originalLocator); err != nil {
			return err
		}
		_, err := s.audit.AppendTx(ctx, tx, audit.Entry{
			ActorID:    actor.UserID,
			ActorKind:  actor.Kind,
			SubjectID:  subjectID,
			Action:     audit.ActionMediaRegister,
			TargetKind: "media_asset",
			TargetID:   a.ID.String(),
			IP:         actor.IP,
			Detail:     map[string]any{"kind": string(kind), "mime_type": meta.MimeType},
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	if s.dispatcher != nil {
		ev := UploadedEvent{AssetID: a.ID, SubjectID: subjectID, Kind: kind, OccurredAt: now}
		if err := s.dispatcher.DocumentUploaded(ctx, ev); err != nil {
			s.logger.Error("dispatch document uploaded", slog.Any("error", err))
		}
	}
	return a, nil
}

// AttachVariant adds a derived variant. A duplicate name fails with
// ErrConflict; reprocessing must register a new asset instead of overwriting.
// Attaching never alters publication state.
func (s *Service) AttachVariant(ctx context.Context, actor shared.Actor, assetID uuid.UUID, name, locator string) error {
	if name == "" || locator == "" {
		return fmt.Errorf("%w: variant name and locator required", shared.ErrValidation)
	}
	return s.tx.WithTx(ctx, func(tx pgx.Tx) error {
		a, err := s.store.GetTx(ctx, tx, assetID)
		if err != nil {
			return err
		}
		if err := s.store.AttachVariantTx(ctx, tx, a.ID, name, locator); err != nil {
			return err
		}
		_, err = s.audit.AppendTx(ctx, tx, audit.Entry{
			ActorID:    actor.UserID,
			ActorKind:  actor.Kind,
			SubjectID:  a.SubjectID,
			Action:     audit.ActionVariantAttach,
			TargetKind: "media_asset",
			TargetID:   a.ID.String(),
			Detail:     map[string]any{"variant": name},
		})
		return err
	})
}

// SubmitForReview moves Private (or Unpublished, starting a fresh cycle) to
// PendingReview. Requires active media_use consent.
func (s *Service) SubmitForReview(ctx context.Context, actor shared.Actor, assetID uuid.UUID) error {
	now := time.Now().UTC()
	return s.tx.WithTx(ctx, func(tx pgx.Tx) error {
		a, err := s.store.GetTx(ctx, tx, assetID)
		if err != nil {
			return err
		}
		facts, err := s.factsTx(ctx, tx, a.SubjectID)
		if err != nil {
			return err
		}
		switch state := ComputeState(a, facts); state {
		case StatePrivate, StateUnpublished:
			// submit allowed
		default:
			return fmt.Errorf("%w: cannot submit asset in state %s", shared.ErrConflict, state)
		}
		if !facts.MediaUse {
			return fmt.Errorf("%w: media_use", shared.ErrConsentMissing)
		}
		if err := s.store.SubmitTx(ctx, tx, a.ID, actor.UserID, now); err != nil {
			return err
		}
		_, err = s.audit.AppendTx(ctx, tx, audit.Entry{
			ActorID:    actor.UserID,
			ActorKind:  actor.Kind,
			SubjectID:  a.SubjectID,
			Action:     audit.ActionSubmitReview,
			TargetKind: "media_asset",
			TargetID:   a.ID.String(),
		})
		return err
	})
}

// Approve moves PendingReview to Public. Consent is re-read inside the
// transaction, so a revocation racing the approval click loses: the approval
// fails with ErrConsentMissing instead of silently succeeding.
func (s *Service) Approve(ctx context.Context, actor shared.Actor, assetID uuid.UUID) error {
	now := time.Now().UTC()
	return s.tx.WithTx(ctx, func(tx pgx.Tx) error {
		a, err := s.store.GetTx(ctx, tx, assetID)
		if err != nil {
			return err
		}
		facts, err := s.factsTx(ctx, tx, a.SubjectID)
		if err != nil {
			return err
		}
		if state := ComputeState(a, facts); state != StatePendingReview {
			return fmt.Errorf("%w: cannot approve asset in state %s", shared.ErrConflict, state)
		}
		if !facts.MediaUse {
			return fmt.Errorf("%w: media_use", shared.ErrConsentMissing)
		}
		if a.Testimonial && !facts.Testimonial {
			return fmt.Errorf("%w: testimonial_published", shared.ErrConsentMissing)
		}
		if err := s.store.ApproveTx(ctx, tx, a.ID, actor.UserID, now); err != nil {
			return err
		}
		_, err = s.audit.AppendTx(ctx, tx, audit.Entry{
			ActorID:    actor.UserID,
			ActorKind:  actor.Kind,
			SubjectID:  a.SubjectID,
			Action:     audit.ActionApprovePublish,
			TargetKind: "media_asset",
			TargetID:   a.ID.String(),
		})
		return err
	})
}

// Unpublish manually withdraws approval. Variants and the asset itself are
// retained; only public servability ends.
func (s *Service) Unpublish(ctx context.Context, actor shared.Actor, assetID uuid.UUID) error {
	now := time.Now().UTC()
	err := s.tx.WithTx(ctx, func(tx pgx.Tx) error {
		a, err := s.store.GetTx(ctx, tx, assetID)
		if err != nil {
			return err
		}
		if a.ApprovedAt == nil || a.ApprovalRevokedAt != nil {
			return fmt.Errorf("%w: asset is not published", shared.ErrConflict)
		}
		if err := s.store.UnpublishTx(ctx, tx, a.ID, now); err != nil {
			return err
		}
		_, err = s.audit.AppendTx(ctx, tx, audit.Entry{
			ActorID:    actor.UserID,
			ActorKind:  actor.Kind,
			SubjectID:  a.SubjectID,
			Action:     audit.ActionUnpublish,
			TargetKind: "media_asset",
			TargetID:   a.ID.String(),
			Detail:     map[string]any{"cause": "manual"},
		})
		return err
	})
	if err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.UnpublishedAssets.Inc()
	}
	return nil
}

// Verify records staff verification of the underlying document.
func (s *Service) Verify(ctx context.Context, actor shared.Actor, assetID uuid.UUID) error {
	now := time.Now().UTC()
	return s.tx.WithTx(ctx, func(tx pgx.Tx) error {
		a, err := s.store.GetTx(ctx, tx, assetID)
		if err != nil {
			return err
		}
		if a.VerifiedAt != nil {
			return fmt.Errorf("%w: asset already verified", shared.ErrConflict)
		}
		if err := s.store.VerifyTx(ctx, tx, a.ID, actor.UserID, now); err != nil {
			return err
		}
		_, err = s.audit.AppendTx(ctx, tx, audit.Entry{
			ActorID:    actor.UserID,
			ActorKind:  actor.Kind,
			SubjectID:  a.SubjectID,
			Action:     audit.ActionMediaVerify,
			TargetKind: "media_asset",
			TargetID:   a.ID.String(),
		})
		return err
	})
}

// Get returns the asset with its state computed from current facts.
func (s *Service) Get(ctx context.Context, assetID uuid.UUID) (*Asset, State, error) {
	a, err := s.store.Get(ctx, assetID)
	if err != nil {
		return nil, "", err
	}
	facts, err := s.facts(ctx, a.SubjectID)
	if err != nil {
		return nil, "", err
	}
	return a, ComputeState(a, facts), nil
}

// AssetWithState pairs an asset with its derived state for listings.
type AssetWithState struct {
	Asset
	State State
}

// ListForSubject returns all of a subject's assets with derived states.
func (s *Service) ListForSubject(ctx context.Context, subjectID uuid.UUID) ([]AssetWithState, error) {
	assets, err := s.store.ListBySubject(ctx, subjectID)
	if err != nil {
		return nil, err
	}
	facts, err := s.facts(ctx, subjectID)
	if err != nil {
		return nil, err
	}
	out := make([]AssetWithState, 0, len(assets))
	for i := range assets {
		out = append(out, AssetWithState{Asset: assets[i], State: ComputeState(&assets[i], facts)})
	}
	return out, nil
}

// PublicVariant is one publicly servable rendition with a resolved URL.
type PublicVariant struct {
	AssetID uuid.UUID
	Kind    Kind
	Variant string
	URL     string
}

// PublicMediaFor returns the variants currently eligible for public serving.
// Eligibility is recomputed from live consent on every call; a revoked
// face_visible immediately drops the unblurred original from the result.
func (s *Service) PublicMediaFor(ctx context.Context, subjectID uuid.UUID) ([]PublicVariant, error) {
	assets, err := s.store.ApprovedBySubject(ctx, subjectID)
	if err != nil {
		return nil, err
	}
	facts, err := s.facts(ctx, subjectID)
	if err != nil {
		return nil, err
	}

	var out []PublicVariant
	for i := range assets {
		for _, ref := range EligibleVariants(&assets[i], facts) {
			url := ref.Locator
			if s.resolver != nil {
				resolved, err := s.resolver.ResolveURL(ctx, ref.Locator)
				if err != nil {
					return nil, fmt.Errorf("resolve variant url: %w", err)
				}
				url = resolved
			}
			out = append(out, PublicVariant{AssetID: ref.AssetID, Kind: ref.Kind, Variant: ref.Name, URL: url})
		}
	}
	return out, nil
}

func (s *Service) facts(ctx context.Context, subjectID uuid.UUID) (ConsentFacts, error) {
	var facts ConsentFacts
	var err error
	if facts.MediaUse, err = s.consents.Active(ctx, subjectID, consent.CategoryMediaUse); err != nil {
		return facts, err
	}
	if facts.FaceVisible, err = s.consents.Active(ctx, subjectID, consent.CategoryFaceVisible); err != nil {
		return facts, err
	}
	if facts.Testimonial, err = s.consents.Active(ctx, subjectID, consent.CategoryTestimonial); err != nil {
		return facts, err
	}
	return facts, nil
}

func (s *Service) factsTx(ctx context.Context, tx pgx.Tx, subjectID uuid.UUID) (ConsentFacts, error) {
	var facts ConsentFacts
	var err error
	if facts.MediaUse, err = s.consents.ActiveTx(ctx, tx, subjectID, consent.CategoryMediaUse); err != nil {
		return facts, err
	}
	if facts.FaceVisible, err = s.consents.ActiveTx(ctx, tx, subjectID, consent.CategoryFaceVisible); err != nil {
		return facts, err
	}
	if facts.Testimonial, err = s.consents.ActiveTx(ctx, tx, subjectID, consent.CategoryTestimonial); err != nil {
		return facts, err
	}
	return facts, nil
}
