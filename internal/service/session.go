package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/rryowa/schoolhub/internal/models"
	"github.com/rryowa/schoolhub/internal/storage"
	"github.com/rryowa/schoolhub/internal/util"
)

// ErrSessionExpired is returned for a session row that still exists but whose
// expiry has passed.
var ErrSessionExpired = errors.New("session expired")

// SessionStore applies the session lifetime rules on top of a repository:
// every create or touch sets ExpiresAt to now+ttl, and reads treat expired rows
// as absent without deleting them.
type SessionStore struct {
	repo          storage.SessionRepository
	clock         util.Clock
	ttl           time.Duration
	refreshWindow time.Duration
}

func NewSessionStore(repo storage.SessionRepository, cfg *util.TokenConfig, clock util.Clock) *SessionStore {
	return &SessionStore{
		repo:          repo,
		clock:         clock,
		ttl:           cfg.RefreshTTL,
		refreshWindow: cfg.RefreshWindow,
	}
}

// New builds a session without persisting it.
func (s *SessionStore) New(userID, userAgent string) models.Session {
	now := s.clock.Now()
	return models.Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		UserAgent: userAgent,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}
}

func (s *SessionStore) Create(ctx context.Context, userID, userAgent string) (*models.Session, error) {
	session := s.New(userID, userAgent)
	if err := s.repo.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return &session, nil
}

// Get returns storage.ErrSessionNotFound or ErrSessionExpired when the session
// cannot be used.
func (s *SessionStore) Get(ctx context.Context, sessionID string) (*models.Session, error) {
	session, err := s.repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.ExpiredAt(s.clock.Now()) {
		return nil, ErrSessionExpired
	}
	return session, nil
}

// NeedsExtension reports whether the session is within the refresh window of
// its expiry.
func (s *SessionStore) NeedsExtension(session *models.Session) bool {
	return session.ExpiresAt.Sub(s.clock.Now()) <= s.refreshWindow
}

// Touch sets the expiry to now+ttl regardless of its previous value.
func (s *SessionStore) Touch(ctx context.Context, sessionID string) (time.Time, error) {
	expiresAt := s.clock.Now().Add(s.ttl)
	if err := s.repo.UpdateSessionExpiry(ctx, sessionID, expiresAt); err != nil {
		return time.Time{}, fmt.Errorf("touch session: %w", err)
	}
	return expiresAt, nil
}

func (s *SessionStore) Delete(ctx context.Context, sessionID string) error {
	return s.repo.DeleteSession(ctx, sessionID)
}

func (s *SessionStore) ListActive(ctx context.Context, userID string) ([]models.Session, error) {
	sessions, err := s.repo.ListUserSessions(ctx, userID, s.clock.Now())
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return sessions, nil
}
