package domain

import "time"

// User is an account that can sign in and hold roles.
type User struct {
	ID        string    `json:"id"`
	Login     string    `json:"login"`
	Email     string    `json:"email"`
	Password  string    `json:"-"`
	Roles     []Role    `json:"roles"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RoleNames returns the names of roles assigned to the user.
func (u *User) RoleNames() []RoleName {
	names := make([]RoleName, 0, len(u.Roles))
	for _, r := range u.Roles {
		names = append(names, r.Name)
	}
	return names
}

// RefreshToken is an opaque credential exchanged for new access tokens.
// A user owns at most one refresh token.
type RefreshToken struct {
	UserID    string
	Token     string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Expired reports whether the token expiry is before now.
func (t *RefreshToken) Expired(now time.Time) bool {
	return t.ExpiresAt.Before(now)
}

// Principal is the identity resolved for a single request.
type Principal struct {
	UserID string
	Login  string
	Roles  []RoleName
}

// NewPrincipal builds a principal from a user record.
func NewPrincipal(u *User) *Principal {
	return &Principal{
		UserID: u.ID,
		Login:  u.Login,
		Roles:  u.RoleNames(),
	}
}

// HasRole reports whether the user holds the named role.
func (u *User) HasRole(name RoleName) bool {
	for _, r := range u.Roles {
		if r.Name == name {
			return true
		}
	}
	return false
}
