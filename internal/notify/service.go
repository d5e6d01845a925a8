package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hillsclinic/clinic-portal/internal/shared"
)

// Store abstracts notification persistence.
type Store interface {
	Insert(ctx context.Context, n *Notification) error
	ListForUser(ctx context.Context, userID int64, unreadOnly bool, limit, offset int) ([]Notification, error)
	MarkRead(ctx context.Context, userID, id int64, at time.Time) error
	MarkAllRead(ctx context.Context, userID int64, at time.Time) (int64, error)
	UnreadCount(ctx context.Context, userID int64) (int, error)
}

// StaffDirectory lists the staff accounts that receive broadcasts.
type StaffDirectory interface {
	StaffUserIDs(ctx context.Context) ([]int64, error)
}

// Service creates and serves in-app notifications.
type Service struct {
	store  Store
	staff  StaffDirectory
	logger *slog.Logger
}

// NewService constructs the notify service.
func NewService(store Store, staff StaffDirectory, logger *slog.Logger) *Service {
	return &Service{store: store, staff: staff, logger: logger}
}

// Notify creates a notification for one user.
func (s *Service) Notify(ctx context.Context, userID int64, typ, title, message string, subjectID uuid.UUID, actionURL string) error {
	if title == "" {
		return fmt.Errorf("%w: notification title required", shared.ErrValidation)
	}
	n := &Notification{
		UserID:    userID,
		Type:      typ,
		Title:     title,
		Message:   message,
		SubjectID: subjectID,
		ActionURL: actionURL,
		CreatedAt: time.Now().UTC(),
	}
	return s.store.Insert(ctx, n)
}

// NotifyStaff broadcasts to every staff account. A failure for one recipient
// does not abort the rest.
func (s *Service) NotifyStaff(ctx context.Context, typ, title, message string, subjectID uuid.UUID, actionURL string) error {
	ids, err := s.staff.StaffUserIDs(ctx)
	if err != nil {
		return fmt.Errorf("list staff recipients: %w", err)
	}
	var failed int
	for _, id := range ids {
		if err := s.Notify(ctx, id, typ, title, message, subjectID, actionURL); err != nil {
			failed++
			s.logger.Error("notify staff user", slog.Int64("user_id", id), slog.Any("error", err))
		}
	}
	if failed == len(ids) && len(ids) > 0 {
		return fmt.Errorf("all %d staff notifications failed", failed)
	}
	return nil
}

// List returns the user's notifications.
func (s *Service) List(ctx context.Context, userID int64, unreadOnly bool, page shared.Pagination) ([]Notification, error) {
	return s.store.ListForUser(ctx, userID, unreadOnly, page.PerPage, page.Offset())
}

// MarkRead marks one of the user's notifications read.
func (s *Service) MarkRead(ctx context.Context, userID, id int64) error {
	return s.store.MarkRead(ctx, userID, id, time.Now().UTC())
}

// MarkAllRead marks everything read and returns the count affected.
func (s *Service) MarkAllRead(ctx context.Context, userID int64) (int64, error) {
	return s.store.MarkAllRead(ctx, userID, time.Now().UTC())
}

// UnreadCount returns the unread badge count.
func (s *Service) UnreadCount(ctx context.Context, userID int64) (int, error) {
	return s.store.UnreadCount(ctx, userID)
}
