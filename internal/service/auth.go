package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/medgate/medgate-go/internal/crypto"
	"github.com/medgate/medgate-go/internal/metrics"
	"github.com/medgate/medgate-go/internal/model"
	"github.com/medgate/medgate-go/internal/repository"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrEmailRequired      = errors.New("email is required")
	ErrPasswordRequired   = errors.New("password is required")
	ErrEmailTaken         = errors.New("email already taken")
	ErrInvalidRole        = errors.New("role must be USER or ADMIN")
	ErrUserNotFound       = errors.New("user not found")
)

// Token sources, as reported in metrics.
const (
	SourcePassword = "password"
	SourceRegister = "register"
	SourceGoogle   = "google"
)

// UserStore is the persistence the auth flows need. Create must refuse a
// second user with the same email (repository.ErrDuplicateEmail) rather than
// overwrite the first.
type UserStore interface {
	Create(ctx context.Context, user *model.User) error
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	UpdatePasswordHash(ctx context.Context, email, hash string) error
	UpdateRole(ctx context.Context, email, role string) error
}

// AuthService handles password authentication and token validation.
type AuthService struct {
	users   UserStore
	tokens  *crypto.TokenService
	hasher  *crypto.PasswordHasher
	metrics *metrics.Auth
}

// NewAuthService creates a new AuthService. m may be nil.
func NewAuthService(users UserStore, tokens *crypto.TokenService, hasher *crypto.PasswordHasher, m *metrics.Auth) *AuthService {
	return &AuthService{
		users:   users,
		tokens:  tokens,
		hasher:  hasher,
		metrics: m,
	}
}

// Register creates a USER account and returns a token for it.
func (s *AuthService) Register(ctx context.Context, req model.RegisterRequest) (model.TokenResponse, error) {
	if req.Email == "" {
		return model.TokenResponse{}, ErrEmailRequired
	}
	if req.Password == "" {
		return model.TokenResponse{}, ErrPasswordRequired
	}

	hash, err := s.hasher.Hash(req.Password)
	if err != nil {
		return model.TokenResponse{}, err
	}

	username := req.Username
	if username == "" {
		username = req.Email
	}

	user := &model.User{
		ID:           uuid.NewString(),
		Email:        req.Email,
		Username:     username,
		PasswordHash: hash,
		Role:         model.RoleUser,
	}

	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			return model.TokenResponse{}, ErrEmailTaken
		}
		return model.TokenResponse{}, err
	}

	return issueToken(s.tokens, s.metrics, user.Email, user.Role, SourceRegister)
}

// Login checks email and password and returns a token.
func (s *AuthService) Login(ctx context.Context, req model.LoginRequest) (model.TokenResponse, error) {
	user, err := s.users.GetByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return model.TokenResponse{}, ErrInvalidCredentials
		}
		return model.TokenResponse{}, err
	}

	match, err := s.hasher.Verify(req.Password, user.PasswordHash)
	if err != nil {
		return model.TokenResponse{}, err
	}
	if !match {
		return model.TokenResponse{}, ErrInvalidCredentials
	}

	return issueToken(s.tokens, s.metrics, user.Email, user.Role, SourcePassword)
}

// Validate verifies a token. Errors are the crypto package's
// ErrMalformed, ErrInvalidSignature and ErrExpired.
func (s *AuthService) Validate(token string) (crypto.Identity, error) {
	id, err := s.tokens.Verify(token)
	s.metrics.Verified(verificationOutcome(err))
	return id, err
}

// SetRole replaces the role of the user with the given email.
func (s *AuthService) SetRole(ctx context.Context, email, role string) error {
	if !model.ValidRole(role) {
		return ErrInvalidRole
	}

	err := s.users.UpdateRole(ctx, email, role)
	if errors.Is(err, repository.ErrUserNotFound) {
		return ErrUserNotFound
	}
	return err
}

// ChangePassword replaces the password of the user with the given email.
func (s *AuthService) ChangePassword(ctx context.Context, email, password string) error {
	if password == "" {
		return ErrPasswordRequired
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return err
	}

	err = s.users.UpdatePasswordHash(ctx, email, hash)
	if errors.Is(err, repository.ErrUserNotFound) {
		return ErrUserNotFound
	}
	return err
}

func issueToken(tokens *crypto.TokenService, m *metrics.Auth, email, role, source string) (model.TokenResponse, error) {
	tok, err := tokens.Issue(email, role)
	if err != nil {
		return model.TokenResponse{}, fmt.Errorf("issuing token: %w", err)
	}
	m.TokenIssued(source)
	return model.TokenResponse{Token: tok.Value}, nil
}

func verificationOutcome(err error) string {
	switch {
	case err == nil:
		return "valid"
	case errors.Is(err, crypto.ErrExpired):
		return "expired"
	case errors.Is(err, crypto.ErrInvalidSignature):
		return "invalid_signature"
	default:
		return "malformed"
	}
}
