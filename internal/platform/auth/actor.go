package auth

import (
	"fmt"

	"github.com/google/uuid"
)

// Role is the closed set of identities the portal recognizes. Anything
// outside the set is rejected at the door, never defaulted.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleDoctor  Role = "doctor"
	RolePatient Role = "patient"
)

// ParseRole maps a raw string onto a known role.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleAdmin, RoleDoctor, RolePatient:
		return Role(s), nil
	default:
		return "", fmt.Errorf("unknown role %q", s)
	}
}

// Actor is the authenticated identity a request acts as. It is built by
// the auth middleware from the verified token and carried on the request
// context; services receive it explicitly on every guarded operation.
type Actor struct {
	ID       uuid.UUID `json:"id"`
	Role     Role      `json:"role"`
	FullName string    `json:"full_name,omitempty"`
}

// IsZero reports whether the actor carries no identity.
func (a Actor) IsZero() bool {
	return a.ID == uuid.Nil && a.Role == ""
}
