package models

import "time"

// Session is the authenticated-user context held from login until logout or
// timeout. Owned exclusively by the session manager; only the access token
// and profile are persisted.
type Session struct {
	AccessToken  string      `json:"access_token"`
	RefreshToken string      `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time   `json:"expires_at"`
	User         UserProfile `json:"user"`
}

// Valid reports whether the session has a token that is not yet expired
func (s *Session) Valid(now time.Time) bool {
	if s == nil || s.AccessToken == "" {
		return false
	}
	return s.ExpiresAt.IsZero() || now.Before(s.ExpiresAt)
}
