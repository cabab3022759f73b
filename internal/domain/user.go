package domain

import "time"

// Role represents a user's administrative role.
type Role string

const (
	RoleAgent     Role = "agent"
	RoleSecretary Role = "secretary"
	RoleAdmin     Role = "admin"
)

// User represents a user of the territorial administration.
type User struct {
	ID           int64     `json:"id" db:"id"`
	Email        string    `json:"email" db:"email"`
	PasswordHash string    `json:"-" db:"password_hash"`
	DisplayName  string    `json:"display_name" db:"display_name"`
	Role         Role      `json:"role" db:"role"`
	HomeZoneID   *int64    `json:"home_zone_id,omitempty" db:"home_zone_id"`
	Active       bool      `json:"active" db:"active"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// IsReviewer reports whether the user's role allows reviewing submissions.
func (u User) IsReviewer() bool {
	return u.Role == RoleSecretary || u.Role == RoleAdmin
}

// CanReview reports whether the user may review a submission whose submitter
// belongs to the given zone. Admins review everywhere; secretaries only
// within their home zone. Both list scoping and decision authorization go
// through this predicate so the two cannot drift apart.
func (u User) CanReview(submitterZoneID *int64) bool {
	switch u.Role {
	case RoleAdmin:
		return true
	case RoleSecretary:
		return u.HomeZoneID != nil && submitterZoneID != nil && *u.HomeZoneID == *submitterZoneID
	default:
		return false
	}
}
