package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/rryowa/schoolhub/internal/models"
	"github.com/rryowa/schoolhub/internal/storage"
)

func TestInMemoryStorage_SessionsAndCascade(t *testing.T) {
	s := NewStorage(zap.NewNop().Sugar())
	ctx := context.Background()
	now := time.Date(2026, time.March, 2, 8, 0, 0, 0, time.UTC)

	user := models.User{ID: "u-1", Email: "ada@school.test", Role: models.RoleTeacher}
	first := models.Session{ID: "s-1", CreatedAt: now, ExpiresAt: now.Add(time.Hour)}
	if err := s.RegisterUserTx(ctx, user, first); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := s.RegisterUserTx(ctx, models.User{ID: "u-2", Email: "ada@school.test"}, models.Session{ID: "s-x"}); !errors.Is(err, storage.ErrEmailTaken) {
		t.Fatalf("duplicate email: %v", err)
	}
	if _, err := s.GetSession(ctx, "s-x"); !errors.Is(err, storage.ErrSessionNotFound) {
		t.Fatalf("failed registration left a session behind: %v", err)
	}

	if err := s.CreateSession(ctx, models.Session{ID: "s-2", UserID: "u-1", CreatedAt: now.Add(time.Minute), ExpiresAt: now.Add(2 * time.Hour)}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.CreateSession(ctx, models.Session{ID: "s-old", UserID: "u-1", CreatedAt: now.Add(-time.Hour), ExpiresAt: now}); err != nil {
		t.Fatalf("create expired: %v", err)
	}

	listed, err := s.ListUserSessions(ctx, "u-1", now)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(listed) != 2 || listed[0].ID != "s-2" || listed[1].ID != "s-1" {
		t.Fatalf("expected [s-2 s-1], got %+v", listed)
	}

	if err := s.DeleteUserTx(ctx, "u-1"); err != nil {
		t.Fatalf("delete user: %v", err)
	}
	for _, id := range []string{"s-1", "s-2", "s-old"} {
		if _, err := s.GetSession(ctx, id); !errors.Is(err, storage.ErrSessionNotFound) {
			t.Fatalf("session %s survived: %v", id, err)
		}
	}
	if _, err := s.GetUserByEmail(ctx, "ada@school.test"); !errors.Is(err, storage.ErrUserNotFound) {
		t.Fatalf("user survived: %v", err)
	}
}
