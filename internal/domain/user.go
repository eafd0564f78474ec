package domain

import "time"

// Role is the access level of a store account.
type Role string

const (
	RoleCashier Role = "cashier"
	RoleManager Role = "manager"
	RoleAdmin   Role = "admin"
)

var roleLevels = map[Role]int{
	RoleCashier: 1,
	RoleManager: 2,
	RoleAdmin:   3,
}

// IsValid checks if the role is known.
func (r Role) IsValid() bool {
	_, ok := roleLevels[r]
	return ok
}

// HasPermission reports whether r grants at least the access of required.
func (r Role) HasPermission(required Role) bool {
	level, ok := roleLevels[r]
	if !ok {
		return false
	}
	return level >= roleLevels[required]
}

type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	FullName     string    `json:"full_name"`
	Role         Role      `json:"role"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
