package models

import "time"

// Role is a named permission grouping assignable to users.
type Role struct {
	ID        int64     `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Active    bool      `db:"active" json:"active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// UserRole associates a user with a role. A user may hold many roles.
type UserRole struct {
	UserID    int64     `db:"user_id" json:"user_id"`
	RoleID    int64     `db:"role_id" json:"role_id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Well-known role names seeded by the migrations.
const (
	RoleNameAdmin = "Admin"
	RoleNameUser  = "User"
)
