package models

import "time"

// Session binds a refresh token identity to a user. A session whose ExpiresAt
// is not after now is treated as absent even while the row still exists.
type Session struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	UserAgent string    `json:"userAgent"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func (s Session) ExpiredAt(now time.Time) bool {
	return !s.ExpiresAt.After(now)
}

// SessionView is what GET /sessions returns for each active session.
type SessionView struct {
	ID        string    `json:"id"`
	UserAgent string    `json:"userAgent"`
	CreatedAt time.Time `json:"createdAt"`
	IsCurrent bool      `json:"isCurrent,omitempty"`
}
