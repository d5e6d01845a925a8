package media

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// UploadedEvent is emitted after a new asset is registered so staff can be
// notified of documents awaiting verification.
type UploadedEvent struct {
	AssetID    uuid.UUID
	SubjectID  uuid.UUID
	Kind       Kind
	OccurredAt time.Time
}

// Dispatcher delivers media lifecycle events to the notification layer.
type Dispatcher interface {
	DocumentUploaded(ctx context.Context, ev UploadedEvent) error
}
