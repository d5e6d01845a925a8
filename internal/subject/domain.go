package subject

import (
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/language"
)

// Subject is a patient whose consents and media the portal manages.
type Subject struct {
	ID          uuid.UUID
	UserID      *int64
	FullName    string
	Email       string
	Phone       string
	DateOfBirth *time.Time
	Country     string
	City        string
	Timezone    string
	Locale      string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// NormalizeLocale canonicalises a BCP 47 tag, falling back to English.
func NormalizeLocale(raw string) string {
	tag, err := language.Parse(raw)
	if err != nil {
		return language.English.String()
	}
	return tag.String()
}

// Update carries mutable profile fields. Nil pointers leave the field as is.
type Update struct {
	FullName *string
	Phone    *string
	Country  *string
	City     *string
	Timezone *string
	Locale   *string
}
