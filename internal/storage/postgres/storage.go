package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/rryowa/schoolhub/internal/models"
	"github.com/rryowa/schoolhub/internal/storage"
)

type Storage struct {
	db *sql.DB
	*UserRepository
	*SessionRepository
}

func NewStorage(db *sql.DB) *Storage {
	return &Storage{
		db:                db,
		UserRepository:    NewUserRepository(db),
		SessionRepository: NewSessionRepository(db),
	}
}

// RegisterUserTx вставляет пользователя и его первую сессию в одной транзакции.
func (s *Storage) RegisterUserTx(ctx context.Context, user models.User, session models.Session) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := NewUserRepository(tx).CreateUser(ctx, user); err != nil {
		return fmt.Errorf("failed to create user in tx: %w", err)
	}

	session.UserID = user.ID
	if err := NewSessionRepository(tx).CreateSession(ctx, session); err != nil {
		return fmt.Errorf("failed to create session in tx: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// DeleteUserTx удаляет все сессии пользователя, затем самого пользователя.
func (s *Storage) DeleteUserTx(ctx context.Context, userID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := NewSessionRepository(tx).DeleteUserSessions(ctx, userID); err != nil {
		return fmt.Errorf("failed to delete sessions in tx: %w", err)
	}

	if err := NewUserRepository(tx).DeleteUser(ctx, userID); err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			return err
		}
		return fmt.Errorf("failed to delete user in tx: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

var _ storage.Storage = (*Storage)(nil)
