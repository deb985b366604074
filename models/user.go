package models

import (
	"time"

	"gorm.io/gorm"
)

// Role is the account role held by a community member.
type Role string

const (
	RoleFarmer Role = "farmer"
	RoleAdmin  Role = "admin"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleFarmer || r == RoleAdmin
}

// User is the identity record the community subsystem reads for authors and likers.
// Credentials and profile details live with the account service and are not mapped here.
type User struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"size:128;not null" json:"name"`
	Email     string    `gorm:"size:255;index" json:"-"`
	AvatarURL string    `gorm:"size:512" json:"avatarUrl"`
	Role      Role      `gorm:"size:16;not null;default:'farmer'" json:"role"`
	IsActive  bool      `gorm:"not null" json:"isActive"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// BeforeCreate fills the role when the caller left it empty.
func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.Role == "" {
		u.Role = RoleFarmer
	}
	return nil
}
