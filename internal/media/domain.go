package media

import (
	"time"

	"github.com/google/uuid"
)

// Kind classifies an uploaded asset.
type Kind string

const (
	KindXRay          Kind = "xray"
	KindProgressPhoto Kind = "progress_photo"
	KindBeforeAfter   Kind = "before_after"
)

// IsValid reports whether the kind is recognized.
func (k Kind) IsValid() bool {
	switch k {
	case KindXRay, KindProgressPhoto, KindBeforeAfter:
		return true
	default:
		return false
	}
}

// Variant names. Original is always present; face_blurred is produced by the
// processing pipeline when the subject's face appears in frame.
const (
	VariantOriginal    = "original"
	VariantFaceBlurred = "face_blurred"
)

// State is the derived publication state of an asset. It is computed from
// current facts on every read and never stored, so it cannot drift from
// consent.
type State string

const (
	StatePrivate       State = "private"
	StatePendingReview State = "pending_review"
	StatePublic        State = "public"
	StateUnpublished   State = "unpublished"
)

// Asset is a registered upload and its processed variants. Variants are
// immutable once attached; reprocessing produces a new asset.
type Asset struct {
	ID          uuid.UUID
	SubjectID   uuid.UUID
	Kind        Kind
	Variants    map[string]string // variant name -> storage locator
	MimeType    string
	ByteSize    int64
	Testimonial bool // attached to a published testimonial

	VerifiedBy *int64
	VerifiedAt *time.Time

	SubmittedBy *int64
	SubmittedAt *time.Time
	ApprovedBy  *int64
	ApprovedAt  *time.Time
	// ApprovalRevokedAt is stamped by the revocation cascade or a manual
	// unpublish. Once set, only a fresh submit/approve cycle restores public
	// visibility; re-granting consent alone never does.
	ApprovalRevokedAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// ConsentFacts carries the subject's current consent status, read at the same
// moment the state is computed.
type ConsentFacts struct {
	MediaUse    bool
	FaceVisible bool
	Testimonial bool
}

// ComputeState derives the publication state from current facts. Pure
// function; the single place visibility rules live.
func ComputeState(a *Asset, f ConsentFacts) State {
	if a.ApprovalRevokedAt != nil {
		return StateUnpublished
	}
	if a.ApprovedAt != nil {
		if !f.MediaUse {
			return StateUnpublished
		}
		if a.Testimonial && !f.Testimonial {
			return StateUnpublished
		}
		return StatePublic
	}
	if a.SubmittedAt != nil {
		return StatePendingReview
	}
	return StatePrivate
}

// VariantRef names one publicly servable rendition.
type VariantRef struct {
	AssetID uuid.UUID
	Kind    Kind
	Name    string
	Locator string
}

// EligibleVariants returns the variants servable to the public under current
// facts. The unblurred original is eligible only while face_visible consent
// is active; the blurred variant is eligible whenever the asset is Public.
func EligibleVariants(a *Asset, f ConsentFacts) []VariantRef {
	if ComputeState(a, f) != StatePublic {
		return nil
	}
	var refs []VariantRef
	if f.FaceVisible {
		if locator, ok := a.Variants[VariantOriginal]; ok {
			refs = append(refs, VariantRef{AssetID: a.ID, Kind: a.Kind, Name: VariantOriginal, Locator: locator})
		}
	}
	if locator, ok := a.Variants[VariantFaceBlurred]; ok {
		refs = append(refs, VariantRef{AssetID: a.ID, Kind: a.Kind, Name: VariantFaceBlurred, Locator: locator})
	}
	return refs
}

// UploadMeta carries pipeline-reported metadata for a new asset.
type UploadMeta struct {
	MimeType    string
	ByteSize    int64
	Testimonial bool
}
