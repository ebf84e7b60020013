package services

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"collab-board/backend/internal/models"
	"collab-board/backend/internal/repositories"

	"github.com/gofrs/uuid"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrUsernameTaken   = errors.New("username already exists")
	ErrInvalidUsername = errors.New("username must be 3 to 50 characters")
)

const (
	minUsernameLen = 3
	maxUsernameLen = 50
)

type RegistrationRequest struct {
	Username string `json:"username" binding:"required,min=3,max=50"`
	Password string `json:"password" binding:"required,min=8"`
}

type RegisterService interface {
	RegisterUser(ctx context.Context, req RegistrationRequest) (models.User, error)
}

type RegisterServiceImpl struct {
	users repositories.UserStore
}

func NewRegisterService(users repositories.UserStore) *RegisterServiceImpl {
	return &RegisterServiceImpl{users: users}
}

func (s *RegisterServiceImpl) RegisterUser(ctx context.Context, req RegistrationRequest) (models.User, error) {
	// Binding checks the raw input; the stored name is the trimmed one.
	username := strings.TrimSpace(req.Username)
	if n := utf8.RuneCountInString(username); n < minUsernameLen || n > maxUsernameLen {
		return models.User{}, ErrInvalidUsername
	}

	_, err := s.users.FindUserByUsername(ctx, username)
	if err == nil {
		return models.User{}, ErrUsernameTaken
	} else if !errors.Is(err, repositories.ErrNotFound) {
		return models.User{}, err
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return models.User{}, err
	}

	user := models.User{
		ID:        uuid.Must(uuid.NewV4()),
		Username:  username,
		Password:  string(hashedPassword),
		CreatedAt: time.Now().UTC(),
	}

	// The unique index still wins a race between two registrations.
	if err := s.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, repositories.ErrDuplicate) {
			return models.User{}, ErrUsernameTaken
		}
		return models.User{}, err
	}
	return user, nil
}
