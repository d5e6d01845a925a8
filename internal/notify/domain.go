package notify

import (
	"time"

	"github.com/google/uuid"
)

// Notification types shown in the in-app inbox.
const (
	TypeConsentGranted   = "consent_granted"
	TypeConsentRevoked   = "consent_revoked"
	TypeDocumentUploaded = "document_uploaded"
	TypeDocumentVerified = "document_verified"
	TypeMediaPublished   = "media_published"
	TypeMediaUnpublished = "media_unpublished"
)

// Notification is one in-app inbox entry for a user.
type Notification struct {
	ID        int64
	UserID    int64
	Type      string
	Title     string
	Message   string
	SubjectID uuid.UUID
	ActionURL string
	Read      bool
	ReadAt    *time.Time
	CreatedAt time.Time
}
