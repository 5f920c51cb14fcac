package model

import "time"

// Role is a profile's permission class.
type Role string

const (
	RoleStudent    Role = "student"
	RoleInstructor Role = "instructor"
	RoleAdmin      Role = "admin"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleStudent, RoleInstructor, RoleAdmin:
		return true
	}
	return false
}

// SelectableRoles are the roles a user may pick for themselves.
var SelectableRoles = []Role{RoleStudent, RoleInstructor}

// Profile is one-to-one with Account; ID always equals the account id.
type Profile struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email,omitempty"`
	Role      Role      `json:"role"`
	Bio       string    `json:"bio"`
	AvatarURL string    `json:"avatarUrl,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (p *Profile) IsInstructor() bool {
	return p != nil && p.Role == RoleInstructor
}

// DisplayName falls back to the e-mail when no name was set.
func (p *Profile) DisplayName() string {
	if p == nil {
		return ""
	}
	if p.Name != "" {
		return p.Name
	}
	return p.Email
}
