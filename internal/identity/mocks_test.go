package identity

import (
	"context"
	"fmt"
	"sync"

	"github.com/bissquit/authkeeper/internal/domain"
)

// mockRepository implements Repository for testing.
type mockRepository struct {
	mu            sync.Mutex
	users         map[string]*domain.User
	roles         map[domain.RoleName]*domain.Role
	nextID        int
	createUserErr error
	existsErr     error
}

func newMockRepository() *mockRepository {
	m := &mockRepository{
		users: make(map[string]*domain.User),
		roles: make(map[domain.RoleName]*domain.Role),
	}
	for i, name := range domain.AllRoleNames() {
		m.roles[name] = &domain.Role{ID: int64(i + 1), Name: name}
	}
	return m
}

func (m *mockRepository) CreateUser(_ context.Context, user *domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.createUserErr != nil {
		return m.createUserErr
	}
	for _, u := range m.users {
		if u.Login == user.Login || u.Email == user.Email {
			return ErrUserExists
		}
	}
	m.nextID++
	user.ID = fmt.Sprintf("user-%d", m.nextID)
	stored := *user
	m.users[user.ID] = &stored
	return nil
}

func (m *mockRepository) GetUserByID(_ context.Context, id string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if u, ok := m.users[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, ErrUserNotFound
}

func (m *mockRepository) GetUserByLogin(_ context.Context, login string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, u := range m.users {
		if u.Login == login {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrUserNotFound
}

func (m *mockRepository) ExistsByLogin(_ context.Context, login string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.existsErr != nil {
		return false, m.existsErr
	}
	for _, u := range m.users {
		if u.Login == login {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockRepository) ExistsByEmail(_ context.Context, email string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.existsErr != nil {
		return false, m.existsErr
	}
	for _, u := range m.users {
		if u.Email == email {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockRepository) GetRoleByName(_ context.Context, name domain.RoleName) (*domain.Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if r, ok := m.roles[name]; ok {
		cp := *r
		return &cp, nil
	}
	return nil, ErrRoleNotFound
}

// grant adds roles to an existing user, simulating an admin role change.
func (m *mockRepository) grant(login string, names ...domain.RoleName) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, u := range m.users {
		if u.Login != login {
			continue
		}
		for _, n := range names {
			u.Roles = append(u.Roles, *m.roles[n])
		}
	}
}

// mockTokenStore implements RefreshTokenStore for testing.
type mockTokenStore struct {
	mu        sync.Mutex
	tokens    map[string]*domain.RefreshToken
	deleted   []string
	saveErr   error
	deleteErr error
}

func newMockTokenStore() *mockTokenStore {
	return &mockTokenStore{tokens: make(map[string]*domain.RefreshToken)}
}

func (m *mockTokenStore) SaveRefreshToken(_ context.Context, token *domain.RefreshToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.saveErr != nil {
		return m.saveErr
	}
	for v, t := range m.tokens {
		if t.UserID == token.UserID {
			delete(m.tokens, v)
		}
	}
	cp := *token
	m.tokens[token.Token] = &cp
	return nil
}

func (m *mockTokenStore) GetRefreshToken(_ context.Context, value string) (*domain.RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if t, ok := m.tokens[value]; ok {
		cp := *t
		return &cp, nil
	}
	return nil, ErrRefreshTokenNotFound
}

func (m *mockTokenStore) DeleteRefreshToken(_ context.Context, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.deleteErr != nil {
		return m.deleteErr
	}
	m.deleted = append(m.deleted, value)
	delete(m.tokens, value)
	return nil
}

func (m *mockTokenStore) DeleteUserRefreshTokens(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.deleteErr != nil {
		return m.deleteErr
	}
	for v, t := range m.tokens {
		if t.UserID == userID {
			m.deleted = append(m.deleted, v)
			delete(m.tokens, v)
		}
	}
	return nil
}

func (m *mockTokenStore) tokensOf(userID string) []*domain.RefreshToken {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*domain.RefreshToken
	for _, t := range m.tokens {
		if t.UserID == userID {
			out = append(out, t)
		}
	}
	return out
}
