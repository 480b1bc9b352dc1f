package models

import (
	"time"

	"github.com/google/uuid"
)

// Role is carried in the JWT and decides which operations a principal may call.
type Role string

const (
	RoleClient Role = "client"
	RoleVendor Role = "vendor"
	RoleAdmin  Role = "admin"
)

func (r Role) Valid() bool {
	switch r {
	case RoleClient, RoleVendor, RoleAdmin:
		return true
	}
	return false
}

type Account struct {
	ID           uuid.UUID `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	DisplayName  string    `json:"display_name"`
	Phone        string    `json:"phone,omitempty"`
	Role         Role      `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
}
