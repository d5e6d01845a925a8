package consent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/hillsclinic/clinic-portal/internal/audit"
	"github.com/hillsclinic/clinic-portal/internal/observability"
	"github.com/hillsclinic/clinic-portal/internal/shared"
)

// Store abstracts consent persistence.
type Store interface {
	InsertTx(ctx context.Context, tx pgx.Tx, rec *Record) error
	SupersedeActiveTx(ctx context.Context, tx pgx.Tx, subjectID uuid.UUID, category Category, at time.Time) ([]uuid.UUID, error)
	LatestGrantTx(ctx context.Context, tx pgx.Tx, subjectID uuid.UUID, category Category) (*Record, error)
	RevokeTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, at time.Time, reason string) error
	Active(ctx context.Context, subjectID uuid.UUID, category Category) (bool, error)
	History(ctx context.Context, subjectID uuid.UUID, category Category) ([]Record, error)
}

// Unpublisher withdraws publication approval from a subject's assets whose
// visibility depended on the revoked category. Implemented by the media
// repository; the call runs inside the revocation transaction so no read can
// observe a servable asset with revoked consent.
type Unpublisher interface {
	RevokeApprovalsTx(ctx context.Context, tx pgx.Tx, subjectID uuid.UUID, category string) ([]uuid.UUID, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(pgx.Tx) error) error
}

// Service implements the consent record store contract.
type Service struct {
	tx         txRunner
	store      Store
	audit      *audit.Service
	media      Unpublisher
	dispatcher Dispatcher
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// NewService constructs the consent service.
func NewService(tx txRunner, store Store, auditSvc *audit.Service, media Unpublisher, logger *slog.Logger) *Service {
	return &Service{tx: tx, store: store, audit: auditSvc, media: media, logger: logger}
}

// SetDispatcher wires the notification dispatcher for revocation events.
func (s *Service) SetDispatcher(d Dispatcher) {
	s.dispatcher = d
}

// SetMetrics wires the revocation and unpublish counters.
func (s *Service) SetMetrics(m *observability.Metrics) {
	s.metrics = m
}

// RecordConsent appends a new grant or denial record. Any still-active grant
// for the category is superseded in the same transaction, keeping at most one
// active record per category; a denial additionally withdraws publication
// approval the way an explicit revocation does. The record and its audit
// entry commit atomically.
func (s *Service) RecordConsent(ctx context.Context, actor shared.Actor, subjectID uuid.UUID, category Category, granted bool, cap Capture) (*Record, error) {
	if !category.IsValid() {
		return nil, fmt.Errorf("%w: unknown consent category %q", shared.ErrValidation, category)
	}
	if subjectID == uuid.Nil {
		return nil, fmt.Errorf("%w: subject id required", shared.ErrValidation)
	}

	rec := &Record{
		ID:          uuid.New(),
		SubjectID:   subjectID,
		Category:    category,
		Granted:     granted,
		ConsentText: cap.ConsentText,
		Signature:   cap.Signature,
		CaptureIP:   cap.IP,
		GrantedAt:   time.Now().UTC(),
	}

	action := audit.ActionConsentGrant
	if !granted {
		action = audit.ActionConsentDeny
	}

	var unpublishedCount int
	err := s.tx.WithTx(ctx, func(tx pgx.Tx) error {
		superseded, err := s.store.SupersedeActiveTx(ctx, tx, subjectID, category, rec.GrantedAt)
		if err != nil {
			return err
		}
		if err := s.store.InsertTx(ctx, tx, rec); err != nil {
			return err
		}

		detail := map[string]any{"category": string(category)}
		if len(superseded) > 0 {
			ids := make([]string, len(superseded))
			for i, id := range superseded {
				ids[i] = id.String()
			}
			detail["superseded"] = ids
		}
		if _, err := s.audit.AppendTx(ctx, tx, audit.Entry{
			ActorID:    actor.UserID,
			ActorKind:  actor.Kind,
			SubjectID:  subjectID,
			Action:     action,
			TargetKind: "consent_record",
			TargetID:   rec.ID.String(),
			IP:         actor.IP,
			UserAgent:  actor.UserAgent,
			Detail:     detail,
		}); err != nil {
			return err
		}

		if granted {
			return nil
		}
		unpublished, err := s.media.RevokeApprovalsTx(ctx, tx, subjectID, string(category))
		if err != nil {
			return err
		}
		unpublishedCount = len(unpublished)
		for _, assetID := range unpublished {
			if _, err := s.audit.AppendTx(ctx, tx, audit.Entry{
				ActorID:    actor.UserID,
				ActorKind:  actor.Kind,
				SubjectID:  subjectID,
				Action:     audit.ActionUnpublish,
				TargetKind: "media_asset",
				TargetID:   assetID.String(),
				Detail:     map[string]any{"cause": "consent_denied", "category": string(category)},
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if s.metrics != nil && unpublishedCount > 0 {
		s.metrics.UnpublishedAssets.Add(float64(unpublishedCount))
	}
	return rec, nil
}

// Revoke stamps a revocation on the most recent active grant and, in the same
// transaction, withdraws approval from every published asset that depended on
// the category. A second revoke fails with ErrAlreadyRevoked so callers can
// tell programmer error from expected state.
func (s *Service) Revoke(ctx context.Context, actor shared.Actor, subjectID uuid.UUID, category Category, reason string) error {
	if !category.IsValid() {
		return fmt.Errorf("%w: unknown consent category %q", shared.ErrValidation, category)
	}

	now := time.Now().UTC()
	var unpublishedCount int
	err := s.tx.WithTx(ctx, func(tx pgx.Tx) error {
		rec, err := s.store.LatestGrantTx(ctx, tx, subjectID, category)
		if err != nil {
			return err
		}
		if rec.RevokedAt != nil {
			return shared.ErrAlreadyRevoked
		}
		if err := s.store.RevokeTx(ctx, tx, rec.ID, now, reason); err != nil {
			return err
		}
		if _, err := s.audit.AppendTx(ctx, tx, audit.Entry{
			ActorID:    actor.UserID,
			ActorKind:  actor.Kind,
			SubjectID:  subjectID,
			Action:     audit.ActionConsentRevoke,
			TargetKind: "consent_record",
			TargetID:   rec.ID.String(),
			IP:         actor.IP,
			UserAgent:  actor.UserAgent,
			Detail:     map[string]any{"category": string(category), "reason": reason},
		}); err != nil {
			return err
		}

		unpublished, err := s.media.RevokeApprovalsTx(ctx, tx, subjectID, string(category))
		if err != nil {
			return err
		}
		unpublishedCount = len(unpublished)
		for _, assetID := range unpublished {
			if _, err := s.audit.AppendTx(ctx, tx, audit.Entry{
				ActorID:    actor.UserID,
				ActorKind:  actor.Kind,
				SubjectID:  subjectID,
				Action:     audit.ActionUnpublish,
				TargetKind: "media_asset",
				TargetID:   assetID.String(),
				Detail:     map[string]any{"cause": "consent_revoked", "category": string(category)},
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	if s.metrics != nil {
		s.metrics.ConsentRevocations.WithLabelValues(string(category)).Inc()
		s.metrics.UnpublishedAssets.Add(float64(unpublishedCount))
	}

	if s.dispatcher != nil {
		ev := RevokedEvent{SubjectID: subjectID, Category: category, OccurredAt: now}
		if err := s.dispatcher.ConsentRevoked(ctx, ev); err != nil {
			// Delivery is best effort; the revocation itself already committed.
			s.logger.Error("dispatch consent revoked", slog.Any("error", err))
		}
	}
	return nil
}

// ActiveConsent reports whether the subject currently holds an active grant.
func (s *Service) ActiveConsent(ctx context.Context, subjectID uuid.UUID, category Category) (bool, error) {
	if !category.IsValid() {
		return false, fmt.Errorf("%w: unknown consent category %q", shared.ErrValidation, category)
	}
	return s.store.Active(ctx, subjectID, category)
}

// History returns the subject's consent history, newest first.
func (s *Service) History(ctx context.Context, subjectID uuid.UUID, category Category) ([]Record, error) {
	if category != "" && !category.IsValid() {
		return nil, fmt.Errorf("%w: unknown consent category %q", shared.ErrValidation, category)
	}
	return s.store.History(ctx, subjectID, category)
}

// Status summarizes the latest record per category for a subject.
func (s *Service) Status(ctx context.Context, subjectID uuid.UUID) ([]CategoryStatus, error) {
	records, err := s.store.History(ctx, subjectID, "")
	if err != nil {
		return nil, err
	}
	latest := make(map[Category]*Record, len(Categories()))
	for i := range records {
		rec := &records[i]
		if _, seen := latest[rec.Category]; !seen {
			latest[rec.Category] = rec
		}
	}
	statuses := make([]CategoryStatus, 0, len(Categories()))
	for _, c := range Categories() {
		statuses = append(statuses, CategoryStatus{
			Category: c,
			Active:   latest[c].Active(),
			Latest:   latest[c],
		})
	}
	return statuses, nil
}
