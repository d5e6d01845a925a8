package consent

import (
	"time"

	"github.com/google/uuid"
)

// Category identifies an independently grantable consent.
type Category string

const (
	// CategoryMediaUse permits clinical media to be used at all.
	CategoryMediaUse Category = "media_use"
	// CategoryFaceVisible permits serving unblurred variants publicly.
	CategoryFaceVisible Category = "face_visible"
	// CategoryTestimonial permits publishing testimonial-attached media.
	CategoryTestimonial Category = "testimonial_published"
)

// Categories lists the recognized consent categories.
func Categories() []Category {
	return []Category{CategoryMediaUse, CategoryFaceVisible, CategoryTestimonial}
}

// IsValid reports whether the category is recognized.
func (c Category) IsValid() bool {
	switch c {
	case CategoryMediaUse, CategoryFaceVisible, CategoryTestimonial:
		return true
	default:
		return false
	}
}

// Record is one entry in a subject's consent history. History is append-only:
// a revocation stamps RevokedAt exactly once, and re-granting after a
// revocation inserts a new record rather than clearing the old one.
type Record struct {
	ID               uuid.UUID
	SubjectID        uuid.UUID
	Category         Category
	Granted          bool
	ConsentText      string
	Signature        string
	CaptureIP        string
	GrantedAt        time.Time
	RevokedAt        *time.Time
	RevocationReason string
}

// Active reports whether the record currently authorizes its category.
func (r *Record) Active() bool {
	return r != nil && r.Granted && r.RevokedAt == nil
}

// Capture carries the evidence recorded alongside a grant or denial.
type Capture struct {
	ConsentText string
	Signature   string
	IP          string
}

// CategoryStatus summarizes the latest record for one category.
type CategoryStatus struct {
	Category Category
	Active   bool
	Latest   *Record
}
