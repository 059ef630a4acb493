// ABOUTME: Operator user types and the UserStore interface
// ABOUTME: Operators authenticate to the dashboard API; agents never do

package store

import (
	"context"
	"errors"
	"time"
)

// ErrUserNotFound is returned when a requested user does not exist.
var ErrUserNotFound = errors.New("user not found")

// ErrUsernameExists is returned when creating a user whose username is taken.
var ErrUsernameExists = errors.New("username already exists")

// Roles an operator may hold.
const (
	RoleAdmin    = "admin"
	RoleOperator = "operator"
)

// User is a dashboard operator.
type User struct {
	ID           string
	Username     string
	FullName     string
	Role         string
	PasswordHash string // bcrypt
	CreatedAt    time.Time
	LastLogin    *time.Time
}

// UserStore is the lookup service used for operator authentication.
type UserStore interface {
	// FindByUsername matches usernames case-insensitively.
	FindByUsername(ctx context.Context, username string) (*User, error)
	FindByID(ctx context.Context, id string) (*User, error)
	UpdateLastLogin(ctx context.Context, id string, at time.Time) error
	CreateUser(ctx context.Context, user *User) error
	CountUsers(ctx context.Context) (int, error)
	Close() error
}
