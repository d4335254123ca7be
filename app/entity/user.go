package entity

import (
	"database/sql"
	"time"
)

type User struct {
	ID                  uint64
	Name                string
	Email               string
	CanonicalEmail      string
	PasswordHash        string
	IsEmailVerified     bool
	ResetTokenHash      sql.NullString
	ResetTokenExpiresAt sql.NullTime
	Roles               []string
	LastLogin           sql.NullTime
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// HasPendingReset reports whether an unexpired reset token is stored.
func (u *User) HasPendingReset(now time.Time) bool {
	return u.ResetTokenHash.Valid && u.ResetTokenExpiresAt.Valid && u.ResetTokenExpiresAt.Time.After(now)
}
