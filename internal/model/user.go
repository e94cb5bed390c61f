package model

import (
	"strings"
	"time"
)

// User is the identity an API key belongs to.
type User struct {
	ID        string    `json:"id" db:"id"`
	Email     string    `json:"email" db:"email"`
	FirstName string    `json:"first_name,omitempty" db:"first_name"`
	LastName  string    `json:"last_name,omitempty" db:"last_name"`
	Username  string    `json:"username,omitempty" db:"username"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// DisplayName returns the username when set, falling back to the email.
func (u *User) DisplayName() string {
	if strings.TrimSpace(u.Username) != "" {
		return u.Username
	}
	return u.Email
}
