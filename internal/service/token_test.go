package service

import (
	"errors"
	"testing"
	"time"

	"github.com/rryowa/schoolhub/internal/models"
	"github.com/rryowa/schoolhub/internal/util"
)

func TestAccessToken_ValidUntilExpiry(t *testing.T) {
	clock := util.NewManualClock(testStart)
	ts := NewTokenService(testTokenConfig(), clock)

	payload := models.AccessTokenPayload{UserID: "u-1", SessionID: "s-1", Role: models.RoleTeacher}
	token, exp, err := ts.IssueAccessToken(payload)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if !exp.Equal(testStart.Add(15 * time.Minute)) {
		t.Fatalf("expiry: got %s", exp)
	}

	clock.Advance(15*time.Minute - time.Second)
	claims, err := ts.VerifyAccessToken(token)
	if err != nil {
		t.Fatalf("verify before expiry: %v", err)
	}
	if claims.AccessTokenPayload != payload {
		t.Fatalf("payload mismatch: %+v", claims.AccessTokenPayload)
	}

	clock.Advance(time.Second)
	if _, err := ts.VerifyAccessToken(token); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("verify at expiry: expected ErrTokenInvalid, got %v", err)
	}
}

func TestRefreshToken_ValidForThirtyDays(t *testing.T) {
	clock := util.NewManualClock(testStart)
	ts := NewTokenService(testTokenConfig(), clock)

	token, _, err := ts.IssueRefreshToken(models.RefreshTokenPayload{SessionID: "s-1"})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	clock.Advance(29 * 24 * time.Hour)
	payload, err := ts.VerifyRefreshToken(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if payload.SessionID != "s-1" {
		t.Fatalf("session id: %q", payload.SessionID)
	}

	clock.Advance(2 * 24 * time.Hour)
	if _, err := ts.VerifyRefreshToken(token); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected expiry, got %v", err)
	}
}

func TestVerify_KindsDoNotCross(t *testing.T) {
	ts := NewTokenService(testTokenConfig(), util.NewManualClock(testStart))

	access, _, err := ts.IssueAccessToken(models.AccessTokenPayload{UserID: "u", SessionID: "s", Role: models.RoleAdmin})
	if err != nil {
		t.Fatalf("issue access: %v", err)
	}
	refresh, _, err := ts.IssueRefreshToken(models.RefreshTokenPayload{SessionID: "s"})
	if err != nil {
		t.Fatalf("issue refresh: %v", err)
	}

	if _, err := ts.VerifyRefreshToken(access); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("access token accepted as refresh: %v", err)
	}
	if _, err := ts.VerifyAccessToken(refresh); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("refresh token accepted as access: %v", err)
	}
}

func TestVerify_RejectsForgedAndGarbage(t *testing.T) {
	clock := util.NewManualClock(testStart)
	ts := NewTokenService(testTokenConfig(), clock)

	otherCfg := testTokenConfig()
	otherCfg.AccessSecret = []byte("someone-else")
	forger := NewTokenService(otherCfg, clock)

	forged, _, err := forger.IssueAccessToken(models.AccessTokenPayload{UserID: "u", SessionID: "s", Role: models.RoleAdmin})
	if err != nil {
		t.Fatalf("issue forged: %v", err)
	}

	for name, token := range map[string]string{
		"forged":  forged,
		"garbage": "not.a.jwt",
		"empty":   "",
	} {
		if _, err := ts.VerifyAccessToken(token); !errors.Is(err, ErrTokenInvalid) {
			t.Fatalf("%s: expected ErrTokenInvalid, got %v", name, err)
		}
	}
}

func TestIssue_UniqueJTI(t *testing.T) {
	ts := NewTokenService(testTokenConfig(), util.NewManualClock(testStart))
	payload := models.AccessTokenPayload{UserID: "u", SessionID: "s", Role: models.RoleParent}

	a, _, _ := ts.IssueAccessToken(payload)
	b, _, _ := ts.IssueAccessToken(payload)
	if a == b {
		t.Fatalf("two tokens issued at the same instant must differ")
	}
	ca, err := ts.VerifyAccessToken(a)
	if err != nil {
		t.Fatalf("verify a: %v", err)
	}
	cb, err := ts.VerifyAccessToken(b)
	if err != nil {
		t.Fatalf("verify b: %v", err)
	}
	if ca.ID == cb.ID {
		t.Fatalf("jti reused: %s", ca.ID)
	}
}
