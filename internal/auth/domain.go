package auth

import (
	"time"

	"github.com/hillsclinic/clinic-portal/internal/shared"
)

// User represents an authenticated account. Staff and patients share the
// users table; Kind decides which surface the session unlocks.
type User struct {
	ID           int64
	Email        string
	PasswordHash string
	Kind         shared.ActorKind
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
