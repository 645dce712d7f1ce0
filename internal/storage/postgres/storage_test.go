package postgres

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rryowa/schoolhub/internal/migrations"
	"github.com/rryowa/schoolhub/internal/models"
	"github.com/rryowa/schoolhub/internal/storage"

	_ "github.com/lib/pq"
)

// openTestDB connects to TEST_DATABASE_URL and migrates it. Tests are skipped
// when the variable is not set.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL is not set")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := migrations.RunMigrations(db, zap.NewNop().Sugar()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func newUser(role models.Role) models.User {
	now := time.Now().UTC().Truncate(time.Microsecond)
	id := uuid.NewString()
	return models.User{
		ID:           id,
		Email:        id + "@school.test",
		PasswordHash: "hash",
		FirstName:    "Ada",
		LastName:     "Lovelace",
		Role:         role,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func newSession(userID string, createdAt time.Time) models.Session {
	return models.Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		UserAgent: "agent/1",
		CreatedAt: createdAt,
		ExpiresAt: createdAt.Add(30 * 24 * time.Hour),
	}
}

func TestStorage_RegisterAndDeleteCascade(t *testing.T) {
	s := NewStorage(openTestDB(t))
	ctx := context.Background()

	user := newUser(models.RoleTeacher)
	first := newSession(user.ID, user.CreatedAt)
	if err := s.RegisterUserTx(ctx, user, first); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := s.RegisterUserTx(ctx, models.User{
		ID: uuid.NewString(), Email: user.Email, PasswordHash: "x", FirstName: "X", LastName: "Y", Role: models.RoleParent,
	}, newSession(user.ID, user.CreatedAt)); !errors.Is(err, storage.ErrEmailTaken) {
		t.Fatalf("duplicate email: %v", err)
	}

	got, err := s.GetUserByEmail(ctx, user.Email)
	if err != nil || got.ID != user.ID || got.Role != models.RoleTeacher {
		t.Fatalf("get by email: %+v %v", got, err)
	}

	second := newSession(user.ID, user.CreatedAt.Add(time.Minute))
	if err := s.CreateSession(ctx, second); err != nil {
		t.Fatalf("create session: %v", err)
	}
	listed, err := s.ListUserSessions(ctx, user.ID, time.Now())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(listed) != 2 || listed[0].ID != second.ID {
		t.Fatalf("expected newest first, got %+v", listed)
	}

	if err := s.DeleteUserTx(ctx, user.ID); err != nil {
		t.Fatalf("delete user: %v", err)
	}
	if _, err := s.GetSession(ctx, first.ID); !errors.Is(err, storage.ErrSessionNotFound) {
		t.Fatalf("session survived user delete: %v", err)
	}
	if err := s.DeleteUserTx(ctx, user.ID); !errors.Is(err, storage.ErrUserNotFound) {
		t.Fatalf("second delete: %v", err)
	}
}

func TestSessionRepository_ExpiryUpdate(t *testing.T) {
	s := NewStorage(openTestDB(t))
	ctx := context.Background()

	user := newUser(models.RoleParent)
	session := newSession(user.ID, user.CreatedAt)
	if err := s.RegisterUserTx(ctx, user, session); err != nil {
		t.Fatalf("register: %v", err)
	}
	t.Cleanup(func() { _ = s.DeleteUserTx(context.Background(), user.ID) })

	extended := session.ExpiresAt.Add(48 * time.Hour)
	if err := s.UpdateSessionExpiry(ctx, session.ID, extended); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, err := s.GetSession(ctx, session.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.ExpiresAt.Equal(extended) {
		t.Fatalf("expiresAt %s, want %s", got.ExpiresAt, extended)
	}

	if err := s.DeleteSession(ctx, session.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := s.DeleteSession(ctx, session.ID); !errors.Is(err, storage.ErrSessionNotFound) {
		t.Fatalf("second delete: %v", err)
	}
	if err := s.UpdateSessionExpiry(ctx, session.ID, extended); !errors.Is(err, storage.ErrSessionNotFound) {
		t.Fatalf("update missing: %v", err)
	}
}
