package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/rryowa/schoolhub/internal/metrics"
	"github.com/rryowa/schoolhub/internal/models"
	"github.com/rryowa/schoolhub/internal/storage"
	"github.com/rryowa/schoolhub/internal/util"
)

var (
	// ErrInvalidCredentials never triggers a client-side refresh.
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrMissingToken       = errors.New("missing token")
	ErrForbidden          = errors.New("access denied")
)

// IsUnauthorized reports whether err must be answered with a generic 401.
func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrMissingToken) ||
		errors.Is(err, ErrTokenInvalid) ||
		errors.Is(err, ErrTokenRevoked) ||
		errors.Is(err, ErrSessionExpired) ||
		errors.Is(err, storage.ErrSessionNotFound)
}

// AuthResult is what login and register hand to the cookie transport.
type AuthResult struct {
	User         *models.User
	Session      *models.Session
	AccessToken  string
	RefreshToken string
}

// RefreshResult carries a new access token. RefreshToken is empty unless the
// session was extended and the refresh token rotated.
type RefreshResult struct {
	AccessToken  string
	RefreshToken string
}

type AuthOption func(*AuthService)

func WithPasswordCost(cost int) AuthOption {
	return func(s *AuthService) { s.passwordCost = cost }
}

type AuthService struct {
	tokens       *TokenService
	sessions     *SessionStore
	storage      storage.Storage
	denylist     storage.TokenStorage
	notifier     LoginNotifier
	metrics      *metrics.Metrics
	log          *zap.SugaredLogger
	passwordCost int
}

func NewAuthService(
	tokens *TokenService,
	sessions *SessionStore,
	store storage.Storage,
	denylist storage.TokenStorage,
	notifier LoginNotifier,
	m *metrics.Metrics,
	log *zap.SugaredLogger,
	opts ...AuthOption,
) *AuthService {
	s := &AuthService{
		tokens:       tokens,
		sessions:     sessions,
		storage:      store,
		denylist:     denylist,
		notifier:     notifier,
		metrics:      m,
		log:          log,
		passwordCost: bcrypt.DefaultCost,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *AuthService) Register(ctx context.Context, req models.RegisterRequest, userAgent string) (*AuthResult, error) {
	if !req.Role.Valid() {
		s.metrics.Registrations.WithLabelValues(metrics.ResultFailure).Inc()
		return nil, util.BadRequest("Invalid role")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.passwordCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	now := s.sessions.clock.Now()
	user := models.User{
		ID:           uuid.NewString(),
		Email:        normalizeEmail(req.Email),
		PasswordHash: string(hash),
		FirstName:    strings.TrimSpace(req.FirstName),
		LastName:     strings.TrimSpace(req.LastName),
		Role:         req.Role,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	session := s.sessions.New(user.ID, userAgent)

	if err := s.storage.RegisterUserTx(ctx, user, session); err != nil {
		s.metrics.Registrations.WithLabelValues(metrics.ResultFailure).Inc()
		if errors.Is(err, storage.ErrEmailTaken) {
			return nil, util.Conflict("Email already in use")
		}
		return nil, fmt.Errorf("register user: %w", err)
	}

	res, err := s.issuePair(&user, &session)
	if err != nil {
		return nil, err
	}
	s.metrics.Registrations.WithLabelValues(metrics.ResultSuccess).Inc()
	s.log.Infow("user registered", "userID", user.ID, "role", user.Role)
	return res, nil
}

func (s *AuthService) Login(ctx context.Context, email, password, userAgent string) (*AuthResult, error) {
	user, err := s.storage.GetUserByEmail(ctx, normalizeEmail(email))
	if err != nil {
		s.metrics.Logins.WithLabelValues(metrics.ResultFailure).Inc()
		if errors.Is(err, storage.ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("login: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		s.metrics.Logins.WithLabelValues(metrics.ResultFailure).Inc()
		return nil, ErrInvalidCredentials
	}

	known, err := s.knownUserAgent(ctx, user.ID, userAgent)
	if err != nil {
		return nil, err
	}

	session, err := s.sessions.Create(ctx, user.ID, userAgent)
	if err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}

	res, err := s.issuePair(user, session)
	if err != nil {
		return nil, err
	}

	if !known && s.notifier != nil {
		s.notifier.NotifyNewDevice(ctx, NewDeviceAlert{
			UserID:    user.ID,
			SessionID: session.ID,
			UserAgent: userAgent,
			LoggedAt:  session.CreatedAt,
		})
	}

	s.metrics.Logins.WithLabelValues(metrics.ResultSuccess).Inc()
	s.log.Infow("user logged in", "userID", user.ID, "sessionID", session.ID)
	return res, nil
}

// Refresh mints a new access token for the session named by refreshToken.
// Sessions within the refresh window of expiry are extended and get a new
// refresh token; others keep theirs.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*RefreshResult, error) {
	res, err := s.refresh(ctx, refreshToken)
	switch {
	case err != nil:
		s.metrics.Refreshes.WithLabelValues(metrics.ResultFailure).Inc()
	case res.RefreshToken != "":
		s.metrics.Refreshes.WithLabelValues(metrics.ResultRotated).Inc()
	default:
		s.metrics.Refreshes.WithLabelValues(metrics.ResultSuccess).Inc()
	}
	return res, err
}

func (s *AuthService) refresh(ctx context.Context, refreshToken string) (*RefreshResult, error) {
	if refreshToken == "" {
		return nil, ErrMissingToken
	}

	payload, err := s.tokens.VerifyRefreshToken(refreshToken)
	if err != nil {
		return nil, err
	}

	session, err := s.sessions.Get(ctx, payload.SessionID)
	if err != nil {
		return nil, err
	}

	res := &RefreshResult{}
	if s.sessions.NeedsExtension(session) {
		if _, err := s.sessions.Touch(ctx, session.ID); err != nil {
			return nil, err
		}
		res.RefreshToken, _, err = s.tokens.IssueRefreshToken(models.RefreshTokenPayload{SessionID: session.ID})
		if err != nil {
			return nil, err
		}
		s.metrics.SessionExtensions.Inc()
		s.log.Debugw("session extended", "sessionID", session.ID)
	}

	user, err := s.storage.GetUserByID(ctx, session.UserID)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			return nil, fmt.Errorf("session owner gone: %w", storage.ErrSessionNotFound)
		}
		return nil, fmt.Errorf("refresh: %w", err)
	}

	res.AccessToken, _, err = s.tokens.IssueAccessToken(models.AccessTokenPayload{
		UserID:    user.ID,
		SessionID: session.ID,
		Role:      user.Role,
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Authenticate verifies an access token and checks the revocation denylist.
func (s *AuthService) Authenticate(ctx context.Context, accessToken string) (*models.AccessTokenPayload, error) {
	if accessToken == "" {
		return nil, ErrMissingToken
	}
	claims, err := s.tokens.VerifyAccessToken(accessToken)
	if err != nil {
		return nil, err
	}
	revoked, err := s.denylist.IsAccessTokenRevoked(ctx, claims.ID)
	if err != nil {
		return nil, fmt.Errorf("authenticate: %w", err)
	}
	if revoked {
		return nil, ErrTokenRevoked
	}
	return &claims.AccessTokenPayload, nil
}

// Logout deletes the session behind accessToken and revokes the token. An
// absent or unusable token is not an error: the caller clears cookies anyway.
func (s *AuthService) Logout(ctx context.Context, accessToken string) error {
	if accessToken == "" {
		return nil
	}
	claims, err := s.tokens.VerifyAccessToken(accessToken)
	if err != nil {
		s.log.Debugw("logout with unusable access token", "error", err)
		return nil
	}

	if err := s.sessions.Delete(ctx, claims.SessionID); err != nil && !errors.Is(err, storage.ErrSessionNotFound) {
		return fmt.Errorf("logout: %w", err)
	}

	ttl := claims.ExpiresAt.Sub(s.sessions.clock.Now())
	if err := s.denylist.RevokeAccessToken(ctx, claims.ID, ttl); err != nil {
		return fmt.Errorf("logout: %w", err)
	}

	s.metrics.Logouts.Inc()
	s.log.Infow("user logged out", "userID", claims.UserID, "sessionID", claims.SessionID)
	return nil
}

// ListSessions returns the user's active sessions, flagging currentSessionID.
func (s *AuthService) ListSessions(ctx context.Context, userID, currentSessionID string) ([]models.SessionView, error) {
	sessions, err := s.sessions.ListActive(ctx, userID)
	if err != nil {
		return nil, err
	}
	views := make([]models.SessionView, 0, len(sessions))
	for _, session := range sessions {
		views = append(views, models.SessionView{
			ID:        session.ID,
			UserAgent: session.UserAgent,
			CreatedAt: session.CreatedAt,
			IsCurrent: session.ID == currentSessionID,
		})
	}
	return views, nil
}

// RevokeSession deletes one of userID's sessions. Sessions owned by someone
// else, and expired ones, look exactly like missing ones.
func (s *AuthService) RevokeSession(ctx context.Context, userID, sessionID string) error {
	if uuid.Validate(sessionID) != nil {
		return util.NotFound("Session not found")
	}
	session, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, storage.ErrSessionNotFound) || errors.Is(err, ErrSessionExpired) {
			return util.NotFound("Session not found")
		}
		return fmt.Errorf("revoke session: %w", err)
	}
	if session.UserID != userID {
		return util.NotFound("Session not found")
	}
	if err := s.sessions.Delete(ctx, sessionID); err != nil {
		if errors.Is(err, storage.ErrSessionNotFound) {
			return util.NotFound("Session not found")
		}
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}

func (s *AuthService) GetUser(ctx context.Context, userID string) (*models.User, error) {
	user, err := s.storage.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			return nil, util.NotFound("User not found")
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}

// DeleteUser removes a teacher or parent account together with all of its
// sessions. Admin accounts cannot be deleted through it.
func (s *AuthService) DeleteUser(ctx context.Context, userID string) error {
	if uuid.Validate(userID) != nil {
		return util.NotFound("User not found")
	}
	user, err := s.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	if user.Role == models.RoleAdmin {
		return util.NewResponseError(http.StatusForbidden, "Admin accounts cannot be deleted")
	}
	if err := s.storage.DeleteUserTx(ctx, userID); err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			return util.NotFound("User not found")
		}
		return fmt.Errorf("delete user: %w", err)
	}
	s.log.Infow("user deleted", "userID", userID)
	return nil
}

func (s *AuthService) issuePair(user *models.User, session *models.Session) (*AuthResult, error) {
	access, _, err := s.tokens.IssueAccessToken(models.AccessTokenPayload{
		UserID:    user.ID,
		SessionID: session.ID,
		Role:      user.Role,
	})
	if err != nil {
		return nil, err
	}
	refresh, _, err := s.tokens.IssueRefreshToken(models.RefreshTokenPayload{SessionID: session.ID})
	if err != nil {
		return nil, err
	}
	return &AuthResult{
		User:         user,
		Session:      session,
		AccessToken:  access,
		RefreshToken: refresh,
	}, nil
}

// knownUserAgent is true when the user has no sessions yet or one of the active
// ones already uses userAgent.
func (s *AuthService) knownUserAgent(ctx context.Context, userID, userAgent string) (bool, error) {
	active, err := s.sessions.ListActive(ctx, userID)
	if err != nil {
		return false, err
	}
	if len(active) == 0 {
		return true, nil
	}
	for _, session := range active {
		if session.UserAgent == userAgent {
			return true, nil
		}
	}
	return false, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
