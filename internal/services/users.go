package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"tally/internal/auth"
	"tally/internal/core"
	"tally/internal/log"
)

// UserStore is the persistence surface for user accounts.
type UserStore interface {
	CreateUser(ctx context.Context, u core.User) error
	GetUserByID(ctx context.Context, id string) (core.User, error)
	GetUserByUsername(ctx context.Context, username string) (core.User, error)
	ListUsers(ctx context.Context) ([]core.User, error)
	SetUserRole(ctx context.Context, id string, role core.Role) error
	DeleteUser(ctx context.Context, id string) error
}

// UserService handles account registration, authentication and the admin
// operations on accounts.
type UserService struct {
	store  UserStore
	logger *log.Logger
}

func NewUserService(store UserStore, logger *log.Logger) *UserService {
	return &UserService{
		store:  store,
		logger: logger.WithComponent(log.ComponentAuth),
	}
}

// Register creates a new account with a zero balance and the user role.
func (s *UserService) Register(ctx context.Context, username, fullName, email, password string) (core.User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return core.User{}, fmt.Errorf("%w: username cannot be empty", core.ErrInvalidRequest)
	}
	if err := auth.ValidatePassword(password); err != nil {
		return core.User{}, fmt.Errorf("%w: %v", core.ErrInvalidRequest, err)
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return core.User{}, err
	}

	u := core.User{
		ID:           uuid.NewString(),
		Username:     username,
		FullName:     strings.TrimSpace(fullName),
		Email:        strings.TrimSpace(email),
		PasswordHash: hash,
		Role:         core.RoleUser,
	}
	if err := s.store.CreateUser(ctx, u); err != nil {
		return core.User{}, err
	}

	s.logger.InfoContext(ctx, "User registered",
		log.FieldUserID, u.ID, log.FieldUsername, u.Username)
	return u, nil
}

// Authenticate verifies the username and password, returning the account
// if valid. Unknown users and wrong passwords are indistinguishable.
func (s *UserService) Authenticate(ctx context.Context, username, password string) (core.User, error) {
	u, err := s.store.GetUserByUsername(ctx, username)
	if err != nil {
		return core.User{}, auth.ErrInvalidCredentials
	}
	if err := auth.CheckPassword(u.PasswordHash, password); err != nil {
		return core.User{}, auth.ErrInvalidCredentials
	}
	return u, nil
}

func (s *UserService) GetByID(ctx context.Context, id string) (core.User, error) {
	return s.store.GetUserByID(ctx, id)
}

func (s *UserService) GetByUsername(ctx context.Context, username string) (core.User, error) {
	return s.store.GetUserByUsername(ctx, username)
}

func (s *UserService) List(ctx context.Context) ([]core.User, error) {
	return s.store.ListUsers(ctx)
}

// SetRole changes the named user's role, promoting or demoting.
func (s *UserService) SetRole(ctx context.Context, username string, role core.Role) (core.User, error) {
	if !role.Valid() {
		return core.User{}, fmt.Errorf("%w: role must be user or admin", core.ErrInvalidRequest)
	}

	u, err := s.store.GetUserByUsername(ctx, username)
	if err != nil {
		return core.User{}, err
	}
	if err := s.store.SetUserRole(ctx, u.ID, role); err != nil {
		return core.User{}, err
	}

	u.Role = role
	s.logger.InfoContext(ctx, "User role changed",
		log.FieldUserID, u.ID, log.FieldUsername, u.Username, "role", string(role))
	return u, nil
}

// Delete removes the named account together with all of its expenses.
func (s *UserService) Delete(ctx context.Context, username string) error {
	u, err := s.store.GetUserByUsername(ctx, username)
	if err != nil {
		return err
	}
	if err := s.store.DeleteUser(ctx, u.ID); err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "User deleted",
		log.FieldUserID, u.ID, log.FieldUsername, u.Username)
	return nil
}
