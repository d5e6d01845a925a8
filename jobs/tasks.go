package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"

	// TaskTypeSendEmail sends one transactional email.
	TaskTypeSendEmail = "mail:send"
	// TaskTypeConsentRevoked fans out staff alerts after a consent revocation.
	TaskTypeConsentRevoked = "consent:revoked"
	// TaskTypeDocumentUploaded alerts staff that a document awaits verification.
	TaskTypeDocumentUploaded = "media:uploaded"
	// TaskTypeIdempotencyCleanup prunes old idempotency keys on a schedule.
	TaskTypeIdempotencyCleanup = "maintenance:idempotency-cleanup"
)

// SendEmailPayload describes the information required to send an email.
type SendEmailPayload struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// ConsentRevokedPayload carries a consent revocation into the worker.
type ConsentRevokedPayload struct {
	SubjectID  string    `json:"subject_id"`
	Category   string    `json:"category"`
	OccurredAt time.Time `json:"occurred_at"`
}

// DocumentUploadedPayload carries a fresh upload into the worker.
type DocumentUploadedPayload struct {
	AssetID    string    `json:"asset_id"`
	SubjectID  string    `json:"subject_id"`
	Kind       string    `json:"kind"`
	OccurredAt time.Time `json:"occurred_at"`
}

// NewSendEmailTask constructs an Asynq task.
func NewSendEmailTask(payload SendEmailPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeSendEmail, data), nil
}

// NewConsentRevokedTask constructs an Asynq task.
func NewConsentRevokedTask(payload ConsentRevokedPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeConsentRevoked, data), nil
}

// NewDocumentUploadedTask constructs an Asynq task.
func NewDocumentUploadedTask(payload DocumentUploadedPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeDocumentUploaded, data), nil
}

// NewIdempotencyCleanupTask constructs the scheduled cleanup task.
func NewIdempotencyCleanupTask() *asynq.Task {
	return asynq.NewTask(TaskTypeIdempotencyCleanup, nil)
}
