package audit

import (
	"time"

	"github.com/google/uuid"

	"github.com/hillsclinic/clinic-portal/internal/shared"
)

// Audit actions. One constant per operation that touches consent or media.
const (
	ActionConsentGrant  = "consent.grant"
	ActionConsentDeny   = "consent.deny"
	ActionConsentRevoke = "consent.revoke"

	ActionMediaRegister  = "media.register"
	ActionVariantAttach  = "media.variant_attach"
	ActionMediaVerify    = "media.verify"
	ActionSubmitReview   = "media.submit_review"
	ActionApprovePublish = "media.approve"
	ActionUnpublish      = "media.unpublish"
	ActionMediaView      = "media.view"
	ActionMediaDownload  = "media.download"

	ActionAccessCheck = "access.check"
	ActionLogin       = "auth.login"
	ActionLoginFailed = "auth.login_failed"
	ActionLogout      = "auth.logout"
)

// Outcome records how the audited operation ended.
type Outcome string

const (
	OutcomeOK      Outcome = "ok"
	OutcomeError   Outcome = "error"
	OutcomeGranted Outcome = "granted"
	OutcomeDenied  Outcome = "denied"
)

// Entry is a single immutable audit record. Entries are totally ordered by
// occurred_at with seq as the insertion tiebreak.
type Entry struct {
	ID         uuid.UUID
	Seq        int64
	ActorID    int64
	ActorKind  shared.ActorKind
	SubjectID  uuid.UUID // subject whose data was touched; uuid.Nil when none
	Action     string
	TargetKind string
	TargetID   string
	Outcome    Outcome
	IP         string
	UserAgent  string
	Detail     map[string]any
	OccurredAt time.Time
}

// Filter narrows a compliance query.
type Filter struct {
	SubjectID uuid.UUID
	ActorID   int64
	Action    string
	From      time.Time
	To        time.Time
	Page      int
	PageSize  int
}
