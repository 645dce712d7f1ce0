package memory

import (
	"context"
	"sort"
	"time"

	"github.com/rryowa/schoolhub/internal/models"
	"github.com/rryowa/schoolhub/internal/storage"
)

func (m *InMemoryStorage) CreateSession(_ context.Context, session models.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sessions[session.ID] = session
	m.log.Debugw("Session created", "sessionID", session.ID, "userID", session.UserID, "expiresAt", session.ExpiresAt)

	return nil
}

func (m *InMemoryStorage) GetSession(_ context.Context, sessionID string) (*models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, ok := m.sessions[sessionID]
	if !ok {
		m.log.Debugw("Session not found", "sessionID", sessionID)
		return nil, storage.ErrSessionNotFound
	}
	return &session, nil
}

func (m *InMemoryStorage) UpdateSessionExpiry(_ context.Context, sessionID string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[sessionID]
	if !ok {
		return storage.ErrSessionNotFound
	}
	session.ExpiresAt = expiresAt
	m.sessions[sessionID] = session
	return nil
}

func (m *InMemoryStorage) DeleteSession(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[sessionID]; !ok {
		return storage.ErrSessionNotFound
	}
	delete(m.sessions, sessionID)
	return nil
}

func (m *InMemoryStorage) DeleteUserSessions(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.deleteUserSessionsLocked(userID)
	return nil
}

func (m *InMemoryStorage) ListUserSessions(_ context.Context, userID string, now time.Time) ([]models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sessions := make([]models.Session, 0)
	for _, s := range m.sessions {
		if s.UserID == userID && s.ExpiresAt.After(now) {
			sessions = append(sessions, s)
		}
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.After(sessions[j].CreatedAt)
	})
	return sessions, nil
}

func (m *InMemoryStorage) deleteUserSessionsLocked(userID string) {
	for id, session := range m.sessions {
		if session.UserID == userID {
			delete(m.sessions, id)
		}
	}
}
