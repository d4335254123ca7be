package entity

import (
	"database/sql"
	"time"
)

// Session is a persisted refresh token record. Only the SHA-256 hash of the
// raw refresh token is stored; the raw value lives solely on the client.
type Session struct {
	ID         uint64
	UserID     uint64
	TokenHash  string
	DeviceInfo sql.NullString
	IssuedAt   time.Time
	ExpiresAt  time.Time
	Revoked    bool
	RevokedAt  sql.NullTime
}

func (s *Session) Expired(now time.Time) bool {
	return s.ExpiresAt.Before(now)
}
