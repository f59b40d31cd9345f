package user

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"ms-commerce/internal/logger"
	"ms-commerce/internal/models"

	"github.com/google/uuid"
)

var (
	ErrNotFound       = errors.New("user not found")
	ErrInvalidEmail   = errors.New("email is required")
	ErrDuplicateEmail = errors.New("email is already registered")
)

type DBLayer interface {
	CreateUser(ctx context.Context, user models.User) error
	GetUserByID(ctx context.Context, id string) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	UpdateUser(ctx context.Context, user models.User) error
	DeleteUser(ctx context.Context, id string) error
	ListUsers(ctx context.Context) ([]models.User, error)
}

type UserService struct {
	DB  DBLayer
	log *logger.Logger
}

func NewUserService(db DBLayer, log *logger.Logger) *UserService {
	return &UserService{DB: db, log: log}
}

// RegisterUser creates a new user profile.
func (s *UserService) RegisterUser(ctx context.Context, req models.UserRequest) (*models.User, error) {
	if req.Email == "" {
		return nil, ErrInvalidEmail
	}

	existing, err := s.DB.GetUserByEmail(ctx, req.Email)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("check email: %w", err)
	}
	if existing != nil {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateEmail, req.Email)
	}

	now := time.Now()
	user := models.User{
		UserID:    uuid.NewString(),
		Email:     req.Email,
		Name:      req.Name,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.DB.CreateUser(ctx, user); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}

	s.log.Info("USER", fmt.Sprintf("Registered user %s (%s)", user.UserID, user.Email))
	return &user, nil
}

func (s *UserService) GetUser(ctx context.Context, id string) (*models.User, error) {
	user, err := s.DB.GetUserByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("get user %s: %w", id, err)
	}
	return user, nil
}

// UpdateUser merges the non-empty request fields into the profile.
func (s *UserService) UpdateUser(ctx context.Context, id string, req models.UserRequest) (*models.User, error) {
	user, err := s.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.Email != "" && req.Email != user.Email {
		existing, err := s.DB.GetUserByEmail(ctx, req.Email)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("check email: %w", err)
		}
		if existing != nil && existing.UserID != id {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateEmail, req.Email)
		}
		user.Email = req.Email
	}
	if req.Name != "" {
		user.Name = req.Name
	}
	user.UpdatedAt = time.Now()

	if err := s.DB.UpdateUser(ctx, *user); err != nil {
		return nil, fmt.Errorf("update user %s: %w", id, err)
	}

	s.log.Info("USER", fmt.Sprintf("Updated user %s", id))
	return user, nil
}

func (s *UserService) DeleteUser(ctx context.Context, id string) error {
	if _, err := s.GetUser(ctx, id); err != nil {
		return err
	}

	if err := s.DB.DeleteUser(ctx, id); err != nil {
		return fmt.Errorf("delete user %s: %w", id, err)
	}

	s.log.Info("USER", fmt.Sprintf("Deleted user %s", id))
	return nil
}

func (s *UserService) ListUsers(ctx context.Context) ([]models.User, error) {
	users, err := s.DB.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}
