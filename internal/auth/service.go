package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"

	"aggreader/internal/database"
)

var (
	// ErrInvalidCredentials covers both unknown users and wrong
	// passwords; callers must not distinguish the two.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrInvalidToken means the presented token is unknown or expired.
	ErrInvalidToken = errors.New("invalid or expired token")
)

// Service validates credentials and manages bearer tokens.
type Service struct {
	db            database.Database
	tokenLifetime time.Duration
}

func NewService(db database.Database, tokenLifetime time.Duration) *Service {
	if tokenLifetime <= 0 {
		tokenLifetime = 7 * 24 * time.Hour
	}
	return &Service{db: db, tokenLifetime: tokenLifetime}
}

// Register creates a user with a bcrypt password hash.
func (s *Service) Register(email, name, password string) (*database.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &database.User{
		Email:        email,
		Name:         name,
		PasswordHash: string(hash),
	}
	if err := s.db.CreateUser(user); err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return user, nil
}

// Login checks a credential pair and returns the matching user.
func (s *Service) Login(email, password string) (*database.User, error) {
	user, err := s.db.GetUserByEmail(email)
	if err != nil {
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}
	if user == nil {
		return nil, ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return user, nil
}

// IssueToken mints a 64-hex bearer token for the user.
func (s *Service) IssueToken(userID int) (*database.AuthToken, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}

	token := &database.AuthToken{
		Token:     hex.EncodeToString(raw),
		UserID:    userID,
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(s.tokenLifetime),
	}
	if err := s.db.CreateAuthToken(token); err != nil {
		return nil, fmt.Errorf("failed to store token: %w", err)
	}
	return token, nil
}

// ValidateToken resolves a bearer token to its user. A token with a
// zero expiry never expires.
func (s *Service) ValidateToken(token string) (*database.User, error) {
	if token == "" {
		return nil, ErrInvalidToken
	}

	stored, err := s.db.GetAuthToken(token)
	if err != nil {
		return nil, fmt.Errorf("failed to look up token: %w", err)
	}
	if stored == nil {
		return nil, ErrInvalidToken
	}
	if !stored.ExpiresAt.IsZero() && !stored.ExpiresAt.After(time.Now()) {
		return nil, ErrInvalidToken
	}

	user, err := s.db.GetUserByID(stored.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to load token user: %w", err)
	}
	if user == nil {
		return nil, ErrInvalidToken
	}
	return user, nil
}

// CleanupExpiredTokens removes tokens past their expiry.
func (s *Service) CleanupExpiredTokens() error {
	return s.db.DeleteExpiredTokens()
}
