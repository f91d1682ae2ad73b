package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/medgate/medgate-go/internal/crypto"
	"github.com/medgate/medgate-go/internal/identity"
	"github.com/medgate/medgate-go/internal/metrics"
	"github.com/medgate/medgate-go/internal/model"
	"github.com/medgate/medgate-go/internal/repository"
)

var (
	ErrCodeRequired        = errors.New("authorization code is required")
	ErrIdentityUnverified  = errors.New("third-party identity not verified")
	ErrUpstreamUnavailable = errors.New("identity provider unavailable")
	ErrProvisioningFailed  = errors.New("user provisioning failed")
)

// Policy decides what a third-party login does when the user store fails.
type Policy string

const (
	// PolicyBestEffort logs the failure and issues a token for an unsaved USER.
	PolicyBestEffort Policy = "best-effort"
	// PolicyStrict fails the login.
	PolicyStrict Policy = "strict"
)

// ParsePolicy validates a configured policy name.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(s); p {
	case PolicyBestEffort, PolicyStrict:
		return p, nil
	default:
		return "", fmt.Errorf("unknown provisioning policy %q", s)
	}
}

// Provisioning outcomes, as reported in logs and metrics.
const (
	outcomeExisting    = "existing"
	outcomeCreated     = "created"
	outcomeUnpersisted = "unpersisted"
	outcomeFailed      = "failed"
)

// IdentityProvider is a third-party login: code → ID token → verified email.
type IdentityProvider interface {
	Exchange(ctx context.Context, code string) (string, error)
	Email(ctx context.Context, idToken string) (string, error)
}

// ProvisioningService signs in users through a third-party identity provider,
// creating the local user on first login.
type ProvisioningService struct {
	idp     IdentityProvider
	users   UserStore
	tokens  *crypto.TokenService
	hasher  *crypto.PasswordHasher
	policy  Policy
	logger  *slog.Logger
	metrics *metrics.Auth
}

// NewProvisioningService creates a ProvisioningService. m may be nil.
func NewProvisioningService(
	idp IdentityProvider,
	users UserStore,
	tokens *crypto.TokenService,
	hasher *crypto.PasswordHasher,
	policy Policy,
	logger *slog.Logger,
	m *metrics.Auth,
) *ProvisioningService {
	return &ProvisioningService{
		idp:     idp,
		users:   users,
		tokens:  tokens,
		hasher:  hasher,
		policy:  policy,
		logger:  logger,
		metrics: m,
	}
}

// LoginWithGoogle runs the callback flow for an authorization code and returns
// a token for the verified email. No token is returned on any failure.
func (s *ProvisioningService) LoginWithGoogle(ctx context.Context, code string) (model.TokenResponse, error) {
	if code == "" {
		return model.TokenResponse{}, ErrCodeRequired
	}

	idToken, err := s.idp.Exchange(ctx, code)
	if err != nil {
		return model.TokenResponse{}, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}

	email, err := s.idp.Email(ctx, idToken)
	if err != nil {
		if errors.Is(err, identity.ErrUnauthorized) {
			return model.TokenResponse{}, fmt.Errorf("%w: %v", ErrIdentityUnverified, err)
		}
		return model.TokenResponse{}, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}

	user, outcome, err := s.findOrCreate(ctx, email)
	if err != nil {
		return model.TokenResponse{}, err
	}
	s.metrics.Provisioned(outcome)

	return issueToken(s.tokens, s.metrics, user.Email, user.Role, SourceGoogle)
}

func (s *ProvisioningService) findOrCreate(ctx context.Context, email string) (*model.User, string, error) {
	user, err := s.users.GetByEmail(ctx, email)
	if err == nil {
		return user, outcomeExisting, nil
	}
	if !errors.Is(err, repository.ErrUserNotFound) {
		return s.unpersisted(ctx, email, "lookup", err)
	}

	hash, err := s.hasher.RandomHash()
	if err != nil {
		return nil, "", fmt.Errorf("hashing placeholder password: %w", err)
	}

	user = &model.User{
		ID:           uuid.NewString(),
		Email:        email,
		Username:     email,
		PasswordHash: hash,
		Role:         model.RoleUser,
	}

	err = s.users.Create(ctx, user)
	switch {
	case err == nil:
		s.logger.InfoContext(ctx, "user provisioned", "user_id", user.ID, "email", email, "outcome", outcomeCreated)
		return user, outcomeCreated, nil
	case errors.Is(err, repository.ErrDuplicateEmail):
		// A concurrent login created the user first; use its record.
		existing, gerr := s.users.GetByEmail(ctx, email)
		if gerr != nil {
			return s.unpersisted(ctx, email, "reload", gerr)
		}
		return existing, outcomeExisting, nil
	default:
		return s.unpersisted(ctx, email, "create", err)
	}
}

// unpersisted applies the policy to a user store failure.
func (s *ProvisioningService) unpersisted(ctx context.Context, email, step string, cause error) (*model.User, string, error) {
	if s.policy == PolicyStrict {
		s.logger.ErrorContext(ctx, "user provisioning failed", "email", email, "step", step, "outcome", outcomeFailed, "error", cause)
		s.metrics.Provisioned(outcomeFailed)
		return nil, "", fmt.Errorf("%w: %s: %v", ErrProvisioningFailed, step, cause)
	}

	s.logger.WarnContext(ctx, "user provisioning not persisted", "email", email, "step", step, "outcome", outcomeUnpersisted, "error", cause)
	return &model.User{Email: email, Username: email, Role: model.RoleUser}, outcomeUnpersisted, nil
}
