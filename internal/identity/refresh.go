package identity

import (
	"context"
	"fmt"
	"time"

	"github.com/bissquit/authkeeper/internal/domain"
	"github.com/bissquit/authkeeper/internal/pkg/ctxlog"
	"github.com/google/uuid"
)

// RefreshTokenManager creates, looks up and expires refresh tokens.
type RefreshTokenManager struct {
	users Repository
	store RefreshTokenStore
	ttl   time.Duration
	now   func() time.Time
}

// NewRefreshTokenManager creates a manager issuing tokens valid for ttl.
func NewRefreshTokenManager(users Repository, store RefreshTokenStore, ttl time.Duration) *RefreshTokenManager {
	return &RefreshTokenManager{
		users: users,
		store: store,
		ttl:   ttl,
		now:   time.Now,
	}
}

// Create issues a new refresh token for userID, replacing the user's previous one.
func (m *RefreshTokenManager) Create(ctx context.Context, userID string) (*domain.RefreshToken, error) {
	if _, err := m.users.GetUserByID(ctx, userID); err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}

	now := m.now()
	token := &domain.RefreshToken{
		UserID:    userID,
		Token:     uuid.NewString(),
		ExpiresAt: now.Add(m.ttl),
		CreatedAt: now,
	}
	if err := m.store.SaveRefreshToken(ctx, token); err != nil {
		return nil, fmt.Errorf("save refresh token: %w", err)
	}
	return token, nil
}

// FindByValue returns the stored token with the given value.
func (m *RefreshTokenManager) FindByValue(ctx context.Context, value string) (*domain.RefreshToken, error) {
	return m.store.GetRefreshToken(ctx, value)
}

// VerifyExpiration returns token unchanged while it is valid. An expired token
// is deleted and reported as *ExpiredRefreshTokenError.
func (m *RefreshTokenManager) VerifyExpiration(ctx context.Context, token *domain.RefreshToken) (*domain.RefreshToken, error) {
	if !token.Expired(m.now()) {
		return token, nil
	}

	if err := m.store.DeleteRefreshToken(ctx, token.Token); err != nil {
		return nil, fmt.Errorf("delete expired refresh token: %w", err)
	}
	ctxlog.FromContext(ctx).Info("expired refresh token removed", "user_id", token.UserID)
	return nil, &ExpiredRefreshTokenError{Token: token.Token}
}

// DeleteByUserID removes the user's refresh token, if any.
func (m *RefreshTokenManager) DeleteByUserID(ctx context.Context, userID string) error {
	if err := m.store.DeleteUserRefreshTokens(ctx, userID); err != nil {
		return fmt.Errorf("delete refresh tokens: %w", err)
	}
	return nil
}
