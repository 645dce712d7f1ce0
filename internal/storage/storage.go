package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/rryowa/schoolhub/internal/models"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrUserNotFound    = errors.New("user not found")
	ErrEmailTaken      = errors.New("email already in use")
)

// DBTX is satisfied by both *sql.DB and *sql.Tx so repositories can run inside
// or outside a transaction.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Storage interface {
	UserRepository
	SessionRepository

	// RegisterUserTx creates the user and its first session atomically.
	RegisterUserTx(ctx context.Context, user models.User, session models.Session) error
	// DeleteUserTx removes every session of the user, then the user.
	DeleteUserTx(ctx context.Context, userID string) error
}

type UserRepository interface {
	CreateUser(ctx context.Context, user models.User) error
	GetUserByID(ctx context.Context, userID string) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	DeleteUser(ctx context.Context, userID string) error
}

// SessionRepository stores raw session rows. It does not apply lazy expiry;
// callers compare ExpiresAt with their own clock.
type SessionRepository interface {
	CreateSession(ctx context.Context, session models.Session) error
	GetSession(ctx context.Context, sessionID string) (*models.Session, error)
	UpdateSessionExpiry(ctx context.Context, sessionID string, expiresAt time.Time) error
	DeleteSession(ctx context.Context, sessionID string) error
	DeleteUserSessions(ctx context.Context, userID string) error
	// ListUserSessions returns sessions expiring after now, newest first.
	ListUserSessions(ctx context.Context, userID string, now time.Time) ([]models.Session, error)
}

// TokenStorage is the access-token denylist used to revoke tokens before
// their natural expiry.
type TokenStorage interface {
	RevokeAccessToken(ctx context.Context, jti string, ttl time.Duration) error
	IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error)
}
