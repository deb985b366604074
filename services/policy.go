package services

import "github.com/cppla/agribbs/models"

// Caller is the authenticated identity an operation runs on behalf of.
// The zero value is an anonymous caller.
type Caller struct {
	ID        uint
	Name      string
	AvatarURL string
	Role      models.Role
}

// Authenticated reports whether the caller carries an identity.
func (c Caller) Authenticated() bool { return c.ID != 0 }

// IsAdmin reports whether the caller holds the admin role.
func (c Caller) IsAdmin() bool { return c.Authenticated() && c.Role == models.RoleAdmin }

// Capabilities is what a caller may do to one post or comment.
type Capabilities struct {
	Edit     bool
	Delete   bool
	Moderate bool
}

// CanModify evaluates the caller's capabilities over content owned by ownerID.
// Only the owner edits; the owner or an admin deletes; only an admin moderates.
func CanModify(caller Caller, ownerID uint) Capabilities {
	if !caller.Authenticated() {
		return Capabilities{}
	}
	owner := caller.ID == ownerID
	admin := caller.IsAdmin()
	return Capabilities{
		Edit:     owner,
		Delete:   owner || admin,
		Moderate: admin,
	}
}
