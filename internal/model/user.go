package model

import (
	"time"

	"github.com/google/uuid"
)

const (
	RoleSuperadmin = "superadmin"
	RoleAdmin      = "admin"
	RoleSecurity   = "security"
	RoleUser       = "user"
)

const (
	UserStatusActive   = "active"
	UserStatusPending  = "pending"
	UserStatusInactive = "inactive"
)

// Roles lists every role a user account can hold
var Roles = []string{RoleSuperadmin, RoleAdmin, RoleSecurity, RoleUser}

// User represents the central user entity for logic and database structure.
// Users are hard-deleted; see UserService.DeleteUser for the cascade.
type User struct {
	ID        uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	Username  string    `gorm:"type:varchar(255);uniqueIndex;not null" json:"username"`
	Email     string    `gorm:"type:varchar(255);uniqueIndex;not null" json:"email"`
	Phone     string    `gorm:"type:varchar(20);not null;default:''" json:"phone"`
	Password  string    `gorm:"type:varchar(255);not null" json:"-"`
	Role      string    `gorm:"type:varchar(20);not null;index" json:"role"`
	Status    string    `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (u *User) IsActive() bool {
	return u.Status == UserStatusActive
}

func IsValidRole(role string) bool {
	for _, r := range Roles {
		if r == role {
			return true
		}
	}
	return false
}

func IsValidUserStatus(status string) bool {
	return status == UserStatusActive || status == UserStatusPending || status == UserStatusInactive
}
