package subject

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hillsclinic/clinic-portal/internal/audit"
	"github.com/hillsclinic/clinic-portal/internal/shared"
)

// Store abstracts subject persistence.
type Store interface {
	Insert(ctx context.Context, s *Subject) error
	Get(ctx context.Context, id uuid.UUID) (*Subject, error)
	GetByUser(ctx context.Context, userID int64) (*Subject, error)
	Update(ctx context.Context, id uuid.UUID, u Update) error
	List(ctx context.Context, limit, offset int) ([]Subject, int, error)
}

// Service manages subject profiles.
type Service struct {
	store  Store
	audit  *audit.Service
	logger *slog.Logger
}

// NewService constructs the subject service.
func NewService(store Store, auditSvc *audit.Service, logger *slog.Logger) *Service {
	return &Service{store: store, audit: auditSvc, logger: logger}
}

// Create registers a new subject.
func (s *Service) Create(ctx context.Context, actor shared.Actor, sub *Subject) (*Subject, error) {
	sub.FullName = strings.TrimSpace(sub.FullName)
	if sub.FullName == "" {
		return nil, fmt.Errorf("%w: full name required", shared.ErrValidation)
	}
	now := time.Now().UTC()
	sub.ID = uuid.New()
	sub.Locale = NormalizeLocale(sub.Locale)
	if sub.Timezone == "" {
		sub.Timezone = "UTC"
	}
	sub.CreatedAt = now
	sub.UpdatedAt = now

	if err := s.store.Insert(ctx, sub); err != nil {
		return nil, err
	}
	s.appendAudit(ctx, actor, sub.ID, "subject.create", nil)
	return sub, nil
}

// Get returns a subject by id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Subject, error) {
	return s.store.Get(ctx, id)
}

// GetByUser returns the subject linked to a portal account.
func (s *Service) GetByUser(ctx context.Context, userID int64) (*Subject, error) {
	return s.store.GetByUser(ctx, userID)
}

// UpdateProfile applies profile edits.
func (s *Service) UpdateProfile(ctx context.Context, actor shared.Actor, id uuid.UUID, u Update) (*Subject, error) {
	if u.Locale != nil {
		norm := NormalizeLocale(*u.Locale)
		u.Locale = &norm
	}
	if u.FullName != nil && strings.TrimSpace(*u.FullName) == "" {
		return nil, fmt.Errorf("%w: full name cannot be blank", shared.ErrValidation)
	}
	if err := s.store.Update(ctx, id, u); err != nil {
		return nil, err
	}
	s.appendAudit(ctx, actor, id, "subject.update", nil)
	return s.store.Get(ctx, id)
}

// List returns a page of subjects.
func (s *Service) List(ctx context.Context, page shared.Pagination) ([]Subject, int, error) {
	return s.store.List(ctx, page.PerPage, page.Offset())
}

func (s *Service) appendAudit(ctx context.Context, actor shared.Actor, subjectID uuid.UUID, action string, detail map[string]any) {
	_, err := s.audit.Append(ctx, audit.Entry{
		ActorID:    actor.UserID,
		ActorKind:  actor.Kind,
		SubjectID:  subjectID,
		Action:     action,
		TargetKind: "subject",
		TargetID:   subjectID.String(),
		IP:         actor.IP,
		Detail:     detail,
	})
	if err != nil {
		s.logger.Error("append subject audit entry", slog.Any("error", err))
	}
}
