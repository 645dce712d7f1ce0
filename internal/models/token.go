package models

//nolint:gosec //file not handles sensitive data
const (
	MwUserIDKey    = "userId"
	MwSessionIDKey = "sessionId"
	MwRoleKey      = "role"
	MwTokenKey     = "token"
)

// AccessTokenPayload is the wire contract of the access token.
type AccessTokenPayload struct {
	UserID    string `json:"userId"`
	SessionID string `json:"sessionId"`
	Role      Role   `json:"role"`
}

// RefreshTokenPayload is the wire contract of the refresh token.
type RefreshTokenPayload struct {
	SessionID string `json:"sessionId"`
}
