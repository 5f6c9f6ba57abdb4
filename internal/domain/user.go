package domain

import "time"

// MetadataRole is the user metadata key holding the coarse authorization role.
const MetadataRole = "role"

// User is an account able to open sessions.
type User struct {
	ID           string
	Email        string
	PasswordHash string
	Metadata     map[string]any
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Role returns the role claim from the user metadata, or "" when absent.
func (u *User) Role() string {
	if u == nil || u.Metadata == nil {
		return ""
	}
	role, _ := u.Metadata[MetadataRole].(string)
	return role
}

// HasPassword reports whether the user can sign in with a password.
func (u *User) HasPassword() bool {
	return u != nil && u.PasswordHash != ""
}

// Identity links a user to an external OAuth account.
type Identity struct {
	UserID         string
	Provider       AuthProvider
	ProviderUserID string
	Email          string
	CreatedAt      time.Time
}
