// Package service implements the credential lifecycle: register, login,
// refresh-token rotation and logout.
package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ismayilysfli/orders-invoice-erp/internal/metrics"
	"github.com/ismayilysfli/orders-invoice-erp/internal/model"
	"github.com/ismayilysfli/orders-invoice-erp/internal/queue"
	"github.com/ismayilysfli/orders-invoice-erp/internal/repository"
	"github.com/ismayilysfli/orders-invoice-erp/internal/token"
)

// RegisteredMessage is returned by a successful Register.
const RegisteredMessage = "User registered successfully"

const (
	minPasswordLen = 6
	// maxPasswordBytes is bcrypt's input limit.
	maxPasswordBytes = 72
)

type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

type UserStore interface {
	Create(ctx context.Context, u repository.NewUser, now time.Time) (uint64, error)
	GetByEmail(ctx context.Context, email string) (model.User, error)
	GetByID(ctx context.Context, id uint64) (model.User, error)
	ExistsByEmail(ctx context.Context, email string) (bool, error)
}

type TokenStore interface {
	Save(ctx context.Context, userID uint64, tokenHash string, createdAt, expiresAt time.Time) (uint64, error)
	FindByDigest(ctx context.Context, tokenHash string) (model.RefreshToken, error)
	Revoke(ctx context.Context, id uint64, at time.Time) error
	RevokeAllForUser(ctx context.Context, userID uint64, at time.Time) (int64, error)
	Rotate(ctx context.Context, oldHash string, now time.Time, next repository.NewRefreshToken) (model.RefreshToken, error)
}

type PasswordHasher interface {
	Hash(plain string) (string, error)
	Verify(hash, plain string) bool
}

type TokenCodec interface {
	Issue(sub token.Subject, typ token.Type, ttl time.Duration) (token.Issued, error)
	Parse(raw string) (*token.Claims, error)
}

type EventPublisher interface {
	Publish(ctx context.Context, ev queue.AuthEvent) error
}

// AuthSettings is fixed at construction.
type AuthSettings struct {
	AccessTTL   time.Duration
	RefreshTTL  time.Duration
	DefaultRole string
	// RevokeAllOnReuse revokes every refresh token of a user when one of
	// their already revoked tokens is presented again.
	RevokeAllOnReuse bool
	// ReuseGrace spares the family when the presented token was rotated
	// this recently; a client racing its own refresh lands here.
	ReuseGrace time.Duration
}

// AuthResult is the token pair handed out by Login and Refresh.
type AuthResult struct {
	AccessToken  string
	RefreshToken string
	Email        string
	FullName     string
	Role         string
}

type AuthService struct {
	users     UserStore
	tokens    TokenStore
	hasher    PasswordHasher
	codec     TokenCodec
	settings  AuthSettings
	clock     Clock
	publisher EventPublisher
	logger    *zap.Logger

	// dummyHash is verified against when the email is unknown so both
	// login failure paths cost one bcrypt comparison.
	dummyHash string
}

type Option func(*AuthService)

func WithClock(c Clock) Option { return func(s *AuthService) { s.clock = c } }

func WithPublisher(p EventPublisher) Option { return func(s *AuthService) { s.publisher = p } }

func NewAuthService(users UserStore, tokens TokenStore, hasher PasswordHasher, codec TokenCodec, settings AuthSettings, logger *zap.Logger, opts ...Option) (*AuthService, error) {
	if settings.AccessTTL <= 0 || settings.RefreshTTL <= 0 {
		return nil, fmt.Errorf("token ttls must be positive")
	}
	if settings.DefaultRole == "" {
		settings.DefaultRole = model.RoleUser
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &AuthService{
		users:     users,
		tokens:    tokens,
		hasher:    hasher,
		codec:     codec,
		settings:  settings,
		clock:     systemClock{},
		publisher: queue.NopPublisher{},
		logger:    logger.Named("auth"),
	}
	for _, opt := range opts {
		opt(s)
	}
	dummy, err := hasher.Hash("timing-equaliser")
	if err != nil {
		return nil, fmt.Errorf("prepare dummy hash: %w", err)
	}
	s.dummyHash = dummy
	return s, nil
}

// Register creates a user with the default role. No tokens are issued.
func (s *AuthService) Register(ctx context.Context, email, password, fullName string) (string, error) {
	email = repository.NormalizeEmail(email)
	if err := validateCredentials(email, password); err != nil {
		return "", err
	}
	if len(password) < minPasswordLen {
		return "", invalid(fmt.Sprintf("password must be at least %d characters", minPasswordLen))
	}
	if len(password) > maxPasswordBytes {
		return "", invalid(fmt.Sprintf("password must be at most %d bytes", maxPasswordBytes))
	}

	exists, err := s.users.ExistsByEmail(ctx, email)
	if err != nil {
		return "", s.fail("register", err)
	}
	if exists {
		metrics.AuthOperations.WithLabelValues("register", "conflict").Inc()
		return "", ErrEmailAlreadyUsed
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return "", s.fail("register", fmt.Errorf("hash password: %w", err))
	}
	now := s.clock.Now()
	id, err := s.users.Create(ctx, repository.NewUser{
		Email:        email,
		FullName:     fullName,
		PasswordHash: hash,
		Role:         s.settings.DefaultRole,
	}, now)
	if errors.Is(err, repository.ErrEmailExists) {
		// lost a race with a concurrent registration
		metrics.AuthOperations.WithLabelValues("register", "conflict").Inc()
		return "", ErrEmailAlreadyUsed
	}
	if err != nil {
		return "", s.fail("register", err)
	}

	metrics.AuthOperations.WithLabelValues("register", "success").Inc()
	s.logger.Info("user registered", zap.Uint64("user_id", id))
	s.publish(ctx, queue.EventUserRegistered, id, email, now)
	return RegisteredMessage, nil
}

// Login verifies credentials and issues a fresh token pair. Unknown
// email, wrong password and inactive account all yield
// ErrInvalidCredentials.
func (s *AuthService) Login(ctx context.Context, email, password string) (AuthResult, error) {
	email = repository.NormalizeEmail(email)
	if err := validateCredentials(email, password); err != nil {
		return AuthResult{}, err
	}

	u, err := s.users.GetByEmail(ctx, email)
	if errors.Is(err, repository.ErrUserNotFound) {
		s.hasher.Verify(s.dummyHash, password)
		metrics.AuthOperations.WithLabelValues("login", "rejected").Inc()
		return AuthResult{}, ErrInvalidCredentials
	}
	if err != nil {
		return AuthResult{}, s.fail("login", err)
	}
	if !s.hasher.Verify(u.PasswordHash, password) || !u.IsActive {
		metrics.AuthOperations.WithLabelValues("login", "rejected").Inc()
		return AuthResult{}, ErrInvalidCredentials
	}

	now := s.clock.Now()
	access, refresh, err := s.issuePair(u)
	if err != nil {
		return AuthResult{}, s.fail("login", err)
	}
	if _, err := s.tokens.Save(ctx, u.ID, token.Digest(refresh.Token), now, refresh.ExpiresAt); err != nil {
		return AuthResult{}, s.fail("login", err)
	}

	metrics.AuthOperations.WithLabelValues("login", "success").Inc()
	s.publish(ctx, queue.EventLoginSucceeded, u.ID, u.Email, now)
	return result(u, access, refresh), nil
}

// Refresh redeems a refresh token exactly once and returns a new pair.
// The consumed record is revoked in the same transaction that stores its
// successor.
func (s *AuthService) Refresh(ctx context.Context, raw string) (AuthResult, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return s.rejectRefresh(ErrInvalidRefreshToken)
	}
	claims, err := s.codec.Parse(raw)
	if err != nil {
		return s.rejectRefresh(fmt.Errorf("%w: %w", ErrInvalidRefreshToken, err))
	}
	if claims.Type != token.TypeRefresh {
		return s.rejectRefresh(fmt.Errorf("%w: token type %q", ErrInvalidRefreshToken, claims.Type))
	}

	digest := token.Digest(raw)
	rec, err := s.tokens.FindByDigest(ctx, digest)
	if errors.Is(err, repository.ErrTokenNotFound) {
		return s.rejectRefresh(ErrInvalidRefreshToken)
	}
	if err != nil {
		return AuthResult{}, s.fail("refresh", err)
	}

	now := s.clock.Now()
	if rec.Revoked {
		s.onReuse(ctx, rec, now)
		return s.rejectRefresh(ErrRefreshTokenRevoked)
	}
	if !rec.Usable(now) {
		return s.rejectRefresh(ErrRefreshTokenExpired)
	}

	u, err := s.users.GetByID(ctx, rec.UserID)
	if errors.Is(err, repository.ErrUserNotFound) {
		return s.rejectRefresh(ErrUserNotFound)
	}
	if err != nil {
		return AuthResult{}, s.fail("refresh", err)
	}
	if !strings.EqualFold(u.Email, claims.Subject) || !u.IsActive {
		return s.rejectRefresh(fmt.Errorf("%w: subject no longer matches", ErrUserNotFound))
	}

	access, refresh, err := s.issuePair(u)
	if err != nil {
		return AuthResult{}, s.fail("refresh", err)
	}
	_, err = s.tokens.Rotate(ctx, digest, now, repository.NewRefreshToken{
		TokenHash: token.Digest(refresh.Token),
		CreatedAt: now,
		ExpiresAt: refresh.ExpiresAt,
	})
	switch {
	case errors.Is(err, repository.ErrTokenRevoked):
		// a concurrent redemption won the compare-and-swap
		return s.rejectRefresh(ErrRefreshTokenRevoked)
	case errors.Is(err, repository.ErrTokenExpired):
		return s.rejectRefresh(ErrRefreshTokenExpired)
	case errors.Is(err, repository.ErrTokenNotFound):
		return s.rejectRefresh(ErrInvalidRefreshToken)
	case err != nil:
		return AuthResult{}, s.fail("refresh", err)
	}

	metrics.AuthOperations.WithLabelValues("refresh", "success").Inc()
	s.publish(ctx, queue.EventRefreshRotated, u.ID, u.Email, now)
	return result(u, access, refresh), nil
}

// Logout revokes the record behind a refresh token. Revoking an already
// revoked token succeeds.
func (s *AuthService) Logout(ctx context.Context, raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ErrInvalidRefreshToken
	}
	rec, err := s.tokens.FindByDigest(ctx, token.Digest(raw))
	if errors.Is(err, repository.ErrTokenNotFound) {
		metrics.AuthOperations.WithLabelValues("logout", "rejected").Inc()
		return ErrInvalidRefreshToken
	}
	if err != nil {
		return s.fail("logout", err)
	}
	now := s.clock.Now()
	if err := s.tokens.Revoke(ctx, rec.ID, now); err != nil {
		return s.fail("logout", err)
	}
	metrics.AuthOperations.WithLabelValues("logout", "success").Inc()
	s.publish(ctx, queue.EventLogout, rec.UserID, "", now)
	return nil
}

func (s *AuthService) issuePair(u model.User) (token.Issued, token.Issued, error) {
	sub := token.Subject{UserID: strconv.FormatUint(u.ID, 10), Email: u.Email, Role: u.Role}
	access, err := s.codec.Issue(sub, token.TypeAccess, s.settings.AccessTTL)
	if err != nil {
		return token.Issued{}, token.Issued{}, err
	}
	refresh, err := s.codec.Issue(sub, token.TypeRefresh, s.settings.RefreshTTL)
	if err != nil {
		return token.Issued{}, token.Issued{}, err
	}
	return access, refresh, nil
}

// onReuse handles presentation of an already revoked refresh token, which
// means it leaked or a client replayed it.
func (s *AuthService) onReuse(ctx context.Context, rec model.RefreshToken, now time.Time) {
	s.logger.Warn("revoked refresh token presented",
		zap.Uint64("user_id", rec.UserID), zap.Uint64("token_id", rec.ID))
	if s.recentlyRotated(rec, now) {
		s.logger.Info("revoked token was rotated within grace, keeping family",
			zap.Uint64("user_id", rec.UserID), zap.Uint64("replaced_by", *rec.ReplacedBy))
	} else if s.settings.RevokeAllOnReuse {
		n, err := s.tokens.RevokeAllForUser(ctx, rec.UserID, now)
		if err != nil {
			s.logger.Error("revoke all after reuse failed", zap.Uint64("user_id", rec.UserID), zap.Error(err))
		} else {
			s.logger.Info("revoked user tokens after reuse", zap.Uint64("user_id", rec.UserID), zap.Int64("count", n))
		}
	}
	s.publish(ctx, queue.EventReuseDetected, rec.UserID, "", now)
}

func (s *AuthService) recentlyRotated(rec model.RefreshToken, now time.Time) bool {
	if s.settings.ReuseGrace <= 0 || rec.ReplacedBy == nil || rec.RevokedAt == nil {
		return false
	}
	return now.Sub(*rec.RevokedAt) <= s.settings.ReuseGrace
}

func (s *AuthService) rejectRefresh(err error) (AuthResult, error) {
	metrics.AuthOperations.WithLabelValues("refresh", "rejected").Inc()
	s.logger.Debug("refresh rejected", zap.Error(err))
	return AuthResult{}, err
}

func (s *AuthService) fail(op string, err error) error {
	metrics.AuthOperations.WithLabelValues(op, "error").Inc()
	return fmt.Errorf("%s: %w", op, err)
}

// publish never fails the caller; audit delivery is best effort.
func (s *AuthService) publish(ctx context.Context, typ queue.EventType, userID uint64, email string, at time.Time) {
	ev := queue.AuthEvent{Type: typ, UserID: userID, Email: email, OccurredAt: at.UTC()}
	if err := s.publisher.Publish(ctx, ev); err != nil {
		s.logger.Warn("audit publish failed", zap.String("event", string(typ)), zap.Error(err))
	}
}

func result(u model.User, access, refresh token.Issued) AuthResult {
	return AuthResult{
		AccessToken:  access.Token,
		RefreshToken: refresh.Token,
		Email:        u.Email,
		FullName:     u.DisplayName(),
		Role:         u.Role,
	}
}

func validateCredentials(email, password string) error {
	if email == "" || password == "" {
		return invalid("email and password are required")
	}
	if at := strings.IndexByte(email, '@'); at <= 0 || at == len(email)-1 {
		return invalid("email is not valid")
	}
	return nil
}
