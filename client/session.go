package client

import "time"

// User mirrors the profile data the server returns alongside tokens.
type User struct {
	ID              uint64    `json:"id"`
	Name            string    `json:"name"`
	Email           string    `json:"email"`
	Roles           []string  `json:"roles"`
	IsEmailVerified bool      `json:"isEmailVerified"`
	CreatedAt       time.Time `json:"createdAt"`
}

// Session is the locally cached token pair. The access token is attached to
// outgoing requests; the refresh token is only ever sent to the refresh and
// logout endpoints.
type Session struct {
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken"`
	ExpiresAt    time.Time `json:"expiresAt"`
	User         *User     `json:"user,omitempty"`
}

// Usable reports whether the access token can still be attached to a request.
// The lead duration treats tokens about to expire as already unusable so that
// in-flight requests do not race the expiry.
func (s *Session) Usable(now time.Time, lead time.Duration) bool {
	if s == nil || s.AccessToken == "" {
		return false
	}
	return now.Add(lead).Before(s.ExpiresAt)
}

// Refreshable reports whether a refresh attempt is worth making at all.
func (s *Session) Refreshable() bool {
	return s != nil && s.RefreshToken != ""
}
