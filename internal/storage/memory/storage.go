package memory

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/rryowa/schoolhub/internal/models"
	"github.com/rryowa/schoolhub/internal/storage"
)

// InMemoryStorage keeps users and sessions in maps behind one lock so the
// *Tx methods are atomic. Used by tests and local runs without Postgres.
type InMemoryStorage struct {
	mu       sync.RWMutex
	users    map[string]models.User
	emails   map[string]string
	sessions map[string]models.Session
	log      *zap.SugaredLogger
}

func NewStorage(log *zap.SugaredLogger) *InMemoryStorage {
	return &InMemoryStorage{
		users:    make(map[string]models.User),
		emails:   make(map[string]string),
		sessions: make(map[string]models.Session),
		log:      log,
	}
}

func (m *InMemoryStorage) RegisterUserTx(_ context.Context, user models.User, session models.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.createUserLocked(user); err != nil {
		return err
	}
	session.UserID = user.ID
	m.sessions[session.ID] = session
	m.log.Debugw("User registered", "userID", user.ID, "sessionID", session.ID)
	return nil
}

func (m *InMemoryStorage) DeleteUserTx(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	user, ok := m.users[userID]
	if !ok {
		return storage.ErrUserNotFound
	}
	m.deleteUserSessionsLocked(userID)
	delete(m.emails, user.Email)
	delete(m.users, userID)
	return nil
}

var _ storage.Storage = (*InMemoryStorage)(nil)
