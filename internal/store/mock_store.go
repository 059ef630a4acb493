// ABOUTME: Mock UserStore implementation for testing
// ABOUTME: Allows auth and gateway tests to run without SQLite

package store

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MockStore is an in-memory UserStore for tests.
type MockStore struct {
	mu    sync.RWMutex
	users map[string]*User // keyed by ID
}

var _ UserStore = (*MockStore)(nil)

// NewMockStore creates an empty MockStore.
func NewMockStore() *MockStore {
	return &MockStore{users: make(map[string]*User)}
}

// FindByUsername returns a copy of the user matching username, ignoring case.
func (m *MockStore) FindByUsername(_ context.Context, username string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if strings.EqualFold(u.Username, username) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrUserNotFound
}

// FindByID returns a copy of the user with id.
func (m *MockStore) FindByID(_ context.Context, id string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

// UpdateLastLogin records a login time.
func (m *MockStore) UpdateLastLogin(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return ErrUserNotFound
	}
	t := at.UTC().Truncate(time.Second)
	u.LastLogin = &t
	return nil
}

// CreateUser stores a copy of user.
func (m *MockStore) CreateUser(_ context.Context, user *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if strings.EqualFold(u.Username, user.Username) {
			return ErrUsernameExists
		}
	}
	if user.Role == "" {
		user.Role = RoleOperator
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now()
	}
	cp := *user
	m.users[user.ID] = &cp
	return nil
}

// CountUsers returns the number of users.
func (m *MockStore) CountUsers(context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.users), nil
}

// Close is a no-op.
func (m *MockStore) Close() error {
	return nil
}
