package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/rryowa/schoolhub/internal/models"
	"github.com/rryowa/schoolhub/internal/util"
)

var (
	// ErrTokenInvalid covers every verification failure: bad signature, wrong
	// kind, malformed payload or expiry. Callers never learn which one.
	ErrTokenInvalid         = errors.New("token invalid or expired")
	ErrTokenRevoked         = errors.New("token revoked")
	ErrInvalidSigningMethod = errors.New("invalid signing method")
)

const tokenAudience = "user"

type TokenKind int

const (
	TokenKindAccess TokenKind = iota
	TokenKindRefresh
)

func (k TokenKind) String() string {
	if k == TokenKindRefresh {
		return "refresh"
	}
	return "access"
}

// AccessClaims is a verified access token.
type AccessClaims struct {
	models.AccessTokenPayload
	jwt.RegisteredClaims
}

type refreshClaims struct {
	models.RefreshTokenPayload
	jwt.RegisteredClaims
}

type TokenService struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
	clock         util.Clock
}

func NewTokenService(cfg *util.TokenConfig, clock util.Clock) *TokenService {
	return &TokenService{
		accessSecret:  cfg.AccessSecret,
		refreshSecret: cfg.RefreshSecret,
		accessTTL:     cfg.AccessTTL,
		refreshTTL:    cfg.RefreshTTL,
		clock:         clock,
	}
}

// IssueAccessToken создает HS512 access токен с новым JTI.
func (ts *TokenService) IssueAccessToken(p models.AccessTokenPayload) (string, time.Time, error) {
	claims := &AccessClaims{AccessTokenPayload: p}
	return ts.issue(claims, &claims.RegisteredClaims, TokenKindAccess)
}

func (ts *TokenService) IssueRefreshToken(p models.RefreshTokenPayload) (string, time.Time, error) {
	claims := &refreshClaims{RefreshTokenPayload: p}
	return ts.issue(claims, &claims.RegisteredClaims, TokenKindRefresh)
}

func (ts *TokenService) VerifyAccessToken(token string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if err := ts.verify(token, claims, TokenKindAccess); err != nil {
		return nil, err
	}
	if claims.UserID == "" || claims.SessionID == "" || claims.ID == "" {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

func (ts *TokenService) VerifyRefreshToken(token string) (*models.RefreshTokenPayload, error) {
	claims := &refreshClaims{}
	if err := ts.verify(token, claims, TokenKindRefresh); err != nil {
		return nil, err
	}
	if claims.SessionID == "" {
		return nil, ErrTokenInvalid
	}
	return &claims.RefreshTokenPayload, nil
}

func (ts *TokenService) issue(claims jwt.Claims, rc *jwt.RegisteredClaims, kind TokenKind) (string, time.Time, error) {
	secret, ttl := ts.keyFor(kind)
	now := ts.clock.Now()
	exp := now.Add(ttl)

	rc.ID = uuid.NewString()
	rc.Audience = jwt.ClaimStrings{tokenAudience}
	rc.IssuedAt = jwt.NewNumericDate(now)
	rc.ExpiresAt = jwt.NewNumericDate(exp)

	token := jwt.NewWithClaims(jwt.SigningMethodHS512, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign %s token: %w", kind, err)
	}
	return signed, exp, nil
}

func (ts *TokenService) verify(token string, claims jwt.Claims, kind TokenKind) error {
	if token == "" {
		return ErrTokenInvalid
	}
	secret, _ := ts.keyFor(kind)

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS512.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithAudience(tokenAudience),
		jwt.WithTimeFunc(ts.clock.Now),
	}

	parsed, err := jwt.ParseWithClaims(
		token,
		claims,
		func(t *jwt.Token) (interface{}, error) {
			if t.Method.Alg() != jwt.SigningMethodHS512.Alg() {
				return nil, ErrInvalidSigningMethod
			}
			return secret, nil
		},
		opts...,
	)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}
	if parsed == nil || !parsed.Valid {
		return ErrTokenInvalid
	}
	return nil
}

func (ts *TokenService) keyFor(kind TokenKind) ([]byte, time.Duration) {
	if kind == TokenKindRefresh {
		return ts.refreshSecret, ts.refreshTTL
	}
	return ts.accessSecret, ts.accessTTL
}
