package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/hillsclinic/clinic-portal/internal/notify"
	"github.com/hillsclinic/clinic-portal/internal/shared"
)

// NewSendEmailHandler processes TaskTypeSendEmail tasks.
func NewSendEmailHandler(mailer *notify.Mailer) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload SendEmailPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		return mailer.Send(ctx, payload.To, payload.Subject, payload.Body)
	}
}

// NewConsentRevokedHandler alerts staff that a consent grant ended. Staff get
// an in-app notification each; the clinic alert inbox gets one email.
func NewConsentRevokedHandler(notifier *notify.Service, mailer *notify.Mailer, alertEmail string, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload ConsentRevokedPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		subjectID, err := uuid.Parse(payload.SubjectID)
		if err != nil {
			return asynq.SkipRetry
		}

		title := "Consent revoked"
		message := fmt.Sprintf("A patient revoked %s consent on %s. Affected media was unpublished automatically; please review the subject's record.",
			payload.Category, payload.OccurredAt.Format(time.RFC3339))
		actionURL := "/staff/subjects/" + payload.SubjectID + "/consents"

		if err := notifier.NotifyStaff(ctx, notify.TypeConsentRevoked, title, message, subjectID, actionURL); err != nil {
			return err
		}
		if alertEmail != "" {
			if err := mailer.Send(ctx, alertEmail, title, message); err != nil {
				// Email is best effort; the in-app alert already landed.
				logger.Error("send consent revocation email", slog.Any("error", err))
			}
		}
		return nil
	}
}

// NewDocumentUploadedHandler alerts staff that a document awaits verification.
func NewDocumentUploadedHandler(notifier *notify.Service, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload DocumentUploadedPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		subjectID, err := uuid.Parse(payload.SubjectID)
		if err != nil {
			return asynq.SkipRetry
		}

		title := "Document uploaded"
		message := fmt.Sprintf("A new %s was uploaded and awaits verification.", payload.Kind)
		actionURL := "/staff/media/" + payload.AssetID

		return notifier.NotifyStaff(ctx, notify.TypeDocumentUploaded, title, message, subjectID, actionURL)
	}
}

// NewIdempotencyCleanupHandler prunes idempotency keys older than the
// retention window.
func NewIdempotencyCleanupHandler(store *shared.IdempotencyStore, retention time.Duration, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		if err := store.Cleanup(ctx, retention); err != nil {
			return err
		}
		logger.Info("idempotency keys pruned", slog.Duration("retention", retention))
		return nil
	}
}
