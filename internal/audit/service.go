package audit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/hillsclinic/clinic-portal/internal/observability"
)

// Store abstracts persistence so services and tests can swap backends.
// Deliberately append-only.
type Store interface {
	Insert(ctx context.Context, e *Entry) error
	InsertTx(ctx context.Context, tx pgx.Tx, e *Entry) error
	Query(ctx context.Context, f Filter, limit, offset int) ([]Entry, int, error)
}

// Result wraps timeline rows with paging information.
type Result struct {
	Entries  []Entry
	Page     int
	PageSize int
	Total    int
	HasNext  bool
}

// Service coordinates audit writes and compliance reads.
type Service struct {
	store   Store
	metrics *observability.Metrics
}

// NewService constructs the audit service.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// SetMetrics wires the append-failure counter.
func (s *Service) SetMetrics(m *observability.Metrics) {
	s.metrics = m
}

// Append persists one entry and returns its id. Storage failures surface to
// the caller; audit completeness is never silently degraded.
func (s *Service) Append(ctx context.Context, e Entry) (uuid.UUID, error) {
	if err := s.prepare(&e); err != nil {
		return uuid.Nil, err
	}
	if err := s.store.Insert(ctx, &e); err != nil {
		s.countAppendError()
		return uuid.Nil, err
	}
	return e.ID, nil
}

// AppendTx persists one entry inside the caller's transaction. Mutation and
// audit entry commit together or not at all.
func (s *Service) AppendTx(ctx context.Context, tx pgx.Tx, e Entry) (uuid.UUID, error) {
	if err := s.prepare(&e); err != nil {
		return uuid.Nil, err
	}
	if err := s.store.InsertTx(ctx, tx, &e); err != nil {
		s.countAppendError()
		return uuid.Nil, err
	}
	return e.ID, nil
}

func (s *Service) countAppendError() {
	if s.metrics != nil {
		s.metrics.AuditAppendErrors.Inc()
	}
}

func (s *Service) prepare(e *Entry) error {
	if e.Action == "" || e.TargetKind == "" {
		return errors.New("audit: entry requires action and target kind")
	}
	if e.Outcome == "" {
		e.Outcome = OutcomeOK
	}
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	return nil
}

// Timeline retrieves entries matching the filter, timestamp ascending.
// Identical arguments with no intervening writes return identical results.
func (s *Service) Timeline(ctx context.Context, f Filter) (Result, error) {
	pageSize := f.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	page := f.Page
	if page <= 0 {
		page = 1
	}
	offset := (page - 1) * pageSize

	entries, total, err := s.store.Query(ctx, f, pageSize, offset)
	if err != nil {
		return Result{}, err
	}
	return Result{
		Entries:  entries,
		Page:     page,
		PageSize: pageSize,
		Total:    total,
		HasNext:  offset+len(entries) < total,
	}, nil
}
