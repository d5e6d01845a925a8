package consent

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// RevokedEvent notifies collaborators that a consent grant ended. The core
// emits the event after the revocation transaction commits; sending email or
// SMS is the dispatcher's business, not ours.
type RevokedEvent struct {
	SubjectID  uuid.UUID
	Category   Category
	OccurredAt time.Time
}

// Dispatcher delivers consent lifecycle events to the notification layer.
type Dispatcher interface {
	ConsentRevoked(ctx context.Context, ev RevokedEvent) error
}
