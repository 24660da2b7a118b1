package models

import "time"

// UserRole represents the roles a viewer can hold.
type UserRole string

const (
	RoleInstructor UserRole = "INSTRUCTOR"
	RoleStudent    UserRole = "STUDENT"
)

// Valid reports whether the role is one of the known roles.
func (r UserRole) Valid() bool {
	return r == RoleInstructor || r == RoleStudent
}

// User represents an application user stored in the users table.
type User struct {
	ID           string    `db:"id" json:"id"`
	Email        string    `db:"email" json:"email"`
	PasswordHash string    `db:"password_hash" json:"-"`
	DisplayName  string    `db:"display_name" json:"displayName"`
	Role         UserRole  `db:"role" json:"role"`
	AvatarURL    *string   `db:"avatar_url" json:"avatarUrl,omitempty"`
	Active       bool      `db:"active" json:"active"`
	CreatedAt    time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt    time.Time `db:"updated_at" json:"updatedAt"`
}

// Identity is who is viewing: the read-only projection of a user used by the feed.
type Identity struct {
	ID          string   `json:"id"`
	DisplayName string   `json:"displayName"`
	Role        UserRole `json:"role"`
	AvatarURL   string   `json:"avatarUrl,omitempty"`
}

// IsZero reports whether no viewer is set.
func (i Identity) IsZero() bool {
	return i.ID == ""
}

// Identity projects the user into a viewer identity.
func (u User) Identity() Identity {
	id := Identity{ID: u.ID, DisplayName: u.DisplayName, Role: u.Role}
	if u.AvatarURL != nil {
		id.AvatarURL = *u.AvatarURL
	}
	return id
}
