package users

import (
	"time"

	"github.com/hillsclinic/clinic-portal/internal/shared"
)

// User represents a user account for management.
type User struct {
	ID        int64
	Email     string
	Name      string
	Kind      shared.ActorKind
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}
