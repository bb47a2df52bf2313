// Package identity manages accounts and the access/refresh token lifecycle.
package identity

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/bissquit/authkeeper/internal/domain"
	"github.com/bissquit/authkeeper/internal/pkg/ctxlog"
	"github.com/bissquit/authkeeper/internal/pkg/metrics"
	"golang.org/x/text/secure/precis"
)

// Operation names reported to metrics.
const (
	opSignup  = "signup"
	opLogin   = "login"
	opRefresh = "refresh"
	opLogout  = "logout"
)

// TokenCodec issues and checks access tokens.
type TokenCodec interface {
	Issue(subject string, roles []string) (string, error)
	Verify(ctx context.Context, token string) bool
	SubjectOf(token string) (string, error)
}

// PasswordHasher hashes and compares passwords.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Compare(hash, password string) error
}

// Service implements signup, login, token refresh, logout and request authentication.
type Service struct {
	repo    Repository
	codec   TokenCodec
	refresh *RefreshTokenManager
	hasher  PasswordHasher

	dummyOnce sync.Once
	dummyHash string
}

// NewService creates a new identity service.
func NewService(repo Repository, codec TokenCodec, refresh *RefreshTokenManager, hasher PasswordHasher) *Service {
	return &Service{
		repo:    repo,
		codec:   codec,
		refresh: refresh,
		hasher:  hasher,
	}
}

// SignupInput contains data for registering a user.
type SignupInput struct {
	Login    string
	Email    string
	Password string
}

// LoginInput contains credentials for signing in.
type LoginInput struct {
	Login    string
	Password string
}

// Session is the result of a successful login.
type Session struct {
	User         *domain.User
	AccessToken  string
	RefreshToken *domain.RefreshToken
}

// NormalizeLogin applies the PRECIS username profile, preserving case.
func NormalizeLogin(login string) (string, error) {
	normalized, err := precis.UsernameCasePreserved.String(login)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidLogin, err)
	}
	return normalized, nil
}

// Signup registers a user holding the USER role. No tokens are issued.
func (s *Service) Signup(ctx context.Context, input SignupInput) (user *domain.User, err error) {
	defer func() { metrics.RecordOperation(opSignup, err) }()

	login, err := NormalizeLogin(input.Login)
	if err != nil {
		return nil, err
	}

	exists, err := s.repo.ExistsByLogin(ctx, login)
	if err != nil {
		return nil, fmt.Errorf("check login: %w", err)
	}
	if exists {
		return nil, ErrUserExists
	}

	exists, err = s.repo.ExistsByEmail(ctx, input.Email)
	if err != nil {
		return nil, fmt.Errorf("check email: %w", err)
	}
	if exists {
		return nil, ErrUserExists
	}

	hash, err := s.hasher.Hash(input.Password)
	if err != nil {
		return nil, err
	}

	role, err := s.repo.GetRoleByName(ctx, domain.RoleUser)
	if err != nil {
		return nil, fmt.Errorf("get default role: %w", err)
	}

	user = &domain.User{
		Login:    login,
		Email:    input.Email,
		Password: hash,
		Roles:    []domain.Role{*role},
	}
	if err := s.repo.CreateUser(ctx, user); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}

	ctxlog.FromContext(ctx).Info("user registered", "user_id", user.ID, "login", user.Login)
	return user, nil
}

// Login checks credentials and issues an access token and a fresh refresh token.
// Every credential failure is reported as ErrInvalidCredentials.
func (s *Service) Login(ctx context.Context, input LoginInput) (session *Session, err error) {
	defer func() { metrics.RecordOperation(opLogin, err) }()

	login, err := NormalizeLogin(input.Login)
	if err != nil {
		s.burnPasswordCheck(input.Password)
		return nil, ErrInvalidCredentials
	}

	user, err := s.repo.GetUserByLogin(ctx, login)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			s.burnPasswordCheck(input.Password)
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("get user: %w", err)
	}

	if err := s.hasher.Compare(user.Password, input.Password); err != nil {
		ctxlog.FromContext(ctx).Info("login rejected", "login", login)
		return nil, ErrInvalidCredentials
	}

	access, err := s.codec.Issue(user.Login, domain.RoleStrings(user.RoleNames()))
	if err != nil {
		return nil, fmt.Errorf("issue access token: %w", err)
	}

	refresh, err := s.refresh.Create(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("create refresh token: %w", err)
	}

	ctxlog.FromContext(ctx).Info("user logged in", "user_id", user.ID)
	return &Session{User: user, AccessToken: access, RefreshToken: refresh}, nil
}

// RefreshAccessToken exchanges a valid refresh token for a new access token.
// The refresh token itself is not rotated.
func (s *Service) RefreshAccessToken(ctx context.Context, value string) (access string, err error) {
	defer func() { metrics.RecordOperation(opRefresh, err) }()

	token, err := s.refresh.FindByValue(ctx, value)
	if err != nil {
		return "", err
	}

	token, err = s.refresh.VerifyExpiration(ctx, token)
	if err != nil {
		return "", err
	}

	user, err := s.repo.GetUserByID(ctx, token.UserID)
	if err != nil {
		return "", fmt.Errorf("get token owner: %w", err)
	}

	access, err = s.codec.Issue(user.Login, domain.RoleStrings(user.RoleNames()))
	if err != nil {
		return "", fmt.Errorf("issue access token: %w", err)
	}
	return access, nil
}

// Logout deletes the refresh token of the principal. A nil principal is a no-op.
func (s *Service) Logout(ctx context.Context, principal *domain.Principal) (err error) {
	if principal == nil {
		return nil
	}
	defer func() { metrics.RecordOperation(opLogout, err) }()

	return s.refresh.DeleteByUserID(ctx, principal.UserID)
}

// Authenticate resolves an access token to a principal. Roles are read from the
// store, not from the token.
func (s *Service) Authenticate(ctx context.Context, token string) (*domain.Principal, error) {
	if !s.codec.Verify(ctx, token) {
		return nil, ErrInvalidToken
	}

	login, err := s.codec.SubjectOf(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	user, err := s.repo.GetUserByLogin(ctx, login)
	if err != nil {
		return nil, fmt.Errorf("load principal: %w", err)
	}
	return domain.NewPrincipal(user), nil
}

// burnPasswordCheck compares against a fixed hash so that unknown logins take as
// long as wrong passwords.
func (s *Service) burnPasswordCheck(password string) {
	s.dummyOnce.Do(func() {
		hash, err := s.hasher.Hash("authkeeper-dummy-password")
		if err == nil {
			s.dummyHash = hash
		}
	})
	if s.dummyHash != "" {
		_ = s.hasher.Compare(s.dummyHash, password)
	}
}
