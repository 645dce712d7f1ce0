package memory

import (
	"context"

	"github.com/rryowa/schoolhub/internal/models"
	"github.com/rryowa/schoolhub/internal/storage"
)

func (m *InMemoryStorage) CreateUser(_ context.Context, user models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.createUserLocked(user)
}

func (m *InMemoryStorage) GetUserByID(_ context.Context, userID string) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	user, ok := m.users[userID]
	if !ok {
		return nil, storage.ErrUserNotFound
	}
	return &user, nil
}

func (m *InMemoryStorage) GetUserByEmail(_ context.Context, email string) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.emails[email]
	if !ok {
		return nil, storage.ErrUserNotFound
	}
	user := m.users[id]
	return &user, nil
}

func (m *InMemoryStorage) DeleteUser(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	user, ok := m.users[userID]
	if !ok {
		return storage.ErrUserNotFound
	}
	delete(m.emails, user.Email)
	delete(m.users, userID)
	return nil
}

func (m *InMemoryStorage) createUserLocked(user models.User) error {
	if _, taken := m.emails[user.Email]; taken {
		return storage.ErrEmailTaken
	}
	m.users[user.ID] = user
	m.emails[user.Email] = user.ID
	return nil
}
