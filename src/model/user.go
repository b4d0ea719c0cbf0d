package model

import "time"

const (
	RoleAdministrator = "administrator"
	RoleOperator      = "operator"
)

// User is the admin-side identity used for ticket assignment, alert
// recipients and the resolve audit trail.
type User struct {
	ID uint `gorm:"primaryKey" json:"id"`

	UserName  string `gorm:"size:100;uniqueIndex" json:"user_name"`
	FirstName string `gorm:"size:100" json:"first_name"`
	LastName  string `gorm:"size:100" json:"last_name"`
	Email     string `gorm:"size:255;index" json:"email"`
	Role      string `gorm:"size:30;index" json:"role"`

	// bcrypt hash of the user's API key, never exposed.
	APIKeyHash string `gorm:"size:100" json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// UpdateUserPayload holds the optional profile fields an admin may change
// about themselves. Nil means "leave as is".
type UpdateUserPayload struct {
	Email     *string `json:"email"`
	FirstName *string `json:"first_name"`
	LastName  *string `json:"last_name"`
}

// DisplayName is what tickets and notification emails call the user.
func (u *User) DisplayName() string {
	if u.FirstName == "" && u.LastName == "" {
		return u.UserName
	}
	if u.LastName == "" {
		return u.FirstName
	}
	return u.FirstName + " " + u.LastName
}
