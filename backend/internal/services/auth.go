package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"collab-board/backend/internal/config"
	"collab-board/backend/internal/models"
	"collab-board/backend/internal/repositories"
	"collab-board/backend/internal/utils"

	"github.com/gofrs/uuid"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrInvalidToken       = errors.New("invalid or expired token")
)

type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

type AuthStore interface {
	repositories.UserStore
	repositories.TokenStore
}

type AuthService interface {
	LoginUser(ctx context.Context, username, password string) (models.User, error)
	GenerateToken(ctx context.Context, userID uuid.UUID) (TokenPair, error)
	RefreshToken(ctx context.Context, refreshToken string) (TokenPair, error)
	RevokeToken(ctx context.Context, refreshToken string) error
}

type AuthServiceImpl struct {
	store AuthStore
	cfg   config.AuthConfig
	now   func() time.Time
}

func NewAuthService(store AuthStore, cfg config.AuthConfig) *AuthServiceImpl {
	return &AuthServiceImpl{store: store, cfg: cfg, now: time.Now}
}

func VerifyPassword(hashedPassword, plainPassword string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(plainPassword))
	return err == nil
}

func (s *AuthServiceImpl) LoginUser(ctx context.Context, username, password string) (models.User, error) {
	user, err := s.store.FindUserByUsername(ctx, strings.TrimSpace(username))
	if errors.Is(err, repositories.ErrNotFound) {
		return models.User{}, ErrInvalidCredentials
	}
	if err != nil {
		return models.User{}, err
	}
	if !VerifyPassword(user.Password, password) {
		return models.User{}, ErrInvalidCredentials
	}
	return user, nil
}

// GenerateToken issues an access token and a refresh token whose jti is
// recorded so it can be rotated exactly once.
func (s *AuthServiceImpl) GenerateToken(ctx context.Context, userID uuid.UUID) (TokenPair, error) {
	now := s.now()

	accessClaims := jwt.MapClaims{
		"user_id": userID.String(),
		"type":    TokenTypeAccess,
		"iat":     now.Unix(),
		"exp":     now.Add(s.cfg.AccessTTL).Unix(),
		"iss":     s.cfg.Issuer,
	}
	accessToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, accessClaims).SignedString([]byte(s.cfg.JWTSecret))
	if err != nil {
		return TokenPair{}, fmt.Errorf("failed to sign access token: %w", err)
	}

	jti, err := uuid.NewV4()
	if err != nil {
		return TokenPair{}, fmt.Errorf("failed to generate jti: %w", err)
	}

	refreshExpiry := now.Add(s.cfg.RefreshTTL)
	refreshClaims := jwt.MapClaims{
		"user_id": userID.String(),
		"type":    TokenTypeRefresh,
		"jti":     jti.String(),
		"iat":     now.Unix(),
		"exp":     refreshExpiry.Unix(),
		"iss":     s.cfg.Issuer,
	}
	refreshToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, refreshClaims).SignedString([]byte(s.cfg.JWTSecret))
	if err != nil {
		return TokenPair{}, fmt.Errorf("failed to sign refresh token: %w", err)
	}

	record := models.Token{
		ID:           uuid.Must(uuid.NewV4()),
		UserID:       userID,
		JTI:          jti,
		RefreshToken: refreshToken,
		ExpiresAt:    refreshExpiry,
		CreatedAt:    now,
	}
	if err := s.store.SaveToken(ctx, record); err != nil {
		return TokenPair{}, fmt.Errorf("failed to create token record: %w", err)
	}

	return TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    int64(s.cfg.AccessTTL.Seconds()),
	}, nil
}

// RefreshToken consumes a live refresh token and issues a new pair. A
// refresh token can be used once.
func (s *AuthServiceImpl) RefreshToken(ctx context.Context, refreshToken string) (TokenPair, error) {
	jti, userID, err := s.parseRefresh(refreshToken)
	if err != nil {
		return TokenPair{}, err
	}

	if _, err := s.store.ConsumeToken(ctx, jti, userID, s.now()); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return TokenPair{}, ErrInvalidToken
		}
		return TokenPair{}, fmt.Errorf("database error: %w", err)
	}

	return s.GenerateToken(ctx, userID)
}

func (s *AuthServiceImpl) RevokeToken(ctx context.Context, refreshToken string) error {
	jti, _, err := s.parseRefresh(refreshToken)
	if err != nil {
		return err
	}
	return s.store.DeleteToken(ctx, jti)
}

func (s *AuthServiceImpl) parseRefresh(refreshToken string) (uuid.UUID, uuid.UUID, error) {
	claims, err := utils.ParseJWT(refreshToken, s.cfg.JWTSecret)
	if err != nil {
		return uuid.Nil, uuid.Nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if tokenType, _ := claims["type"].(string); tokenType != TokenTypeRefresh {
		return uuid.Nil, uuid.Nil, fmt.Errorf("%w: wrong token type", ErrInvalidToken)
	}
	jti, err := utils.ClaimUUID(claims, "jti")
	if err != nil {
		return uuid.Nil, uuid.Nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	userID, err := utils.ClaimUUID(claims, "user_id")
	if err != nil {
		return uuid.Nil, uuid.Nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return jti, userID, nil
}
