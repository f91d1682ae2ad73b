package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medgate/medgate-go/internal/crypto"
	"github.com/medgate/medgate-go/internal/identity"
	"github.com/medgate/medgate-go/internal/model"
	"github.com/medgate/medgate-go/internal/repository"
)

// fakeIdP maps codes to ID tokens and ID tokens to emails.
type fakeIdP struct {
	codes       map[string]string
	emails      map[string]string
	exchangeErr error
	emailErr    error
}

func (f *fakeIdP) Exchange(_ context.Context, code string) (string, error) {
	if f.exchangeErr != nil {
		return "", f.exchangeErr
	}
	tok, ok := f.codes[code]
	if !ok {
		return "", fmt.Errorf("%w: invalid_grant", identity.ErrUpstreamUnavailable)
	}
	return tok, nil
}

func (f *fakeIdP) Email(_ context.Context, idToken string) (string, error) {
	if f.emailErr != nil {
		return "", f.emailErr
	}
	email, ok := f.emails[idToken]
	if !ok {
		return "", fmt.Errorf("%w: tokeninfo status 400", identity.ErrUnauthorized)
	}
	return email, nil
}

func newValidIdP() *fakeIdP {
	return &fakeIdP{
		codes:  map[string]string{"VALID_CODE": "id-token-1", "OTHER_CODE": "id-token-1"},
		emails: map[string]string{"id-token-1": "a@b.com"},
	}
}

func newTestProvisioning(t *testing.T, idp IdentityProvider, users UserStore, policy Policy) (*ProvisioningService, *crypto.TokenService, *bytes.Buffer) {
	t.Helper()
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	tokens := newTestTokens(t)
	return NewProvisioningService(idp, users, tokens, newTestHasher(), policy, logger, nil), tokens, &logs
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("strict")
	require.NoError(t, err)
	assert.Equal(t, PolicyStrict, p)

	p, err = ParsePolicy("best-effort")
	require.NoError(t, err)
	assert.Equal(t, PolicyBestEffort, p)

	_, err = ParsePolicy("lenient")
	assert.Error(t, err)
}

func TestLoginWithGoogle_NewUser(t *testing.T) {
	users := repository.NewMemoryUserRepository()
	svc, tokens, logs := newTestProvisioning(t, newValidIdP(), users, PolicyBestEffort)

	resp, err := svc.LoginWithGoogle(context.Background(), "VALID_CODE")
	require.NoError(t, err)

	id, err := tokens.Verify(resp.Token)
	require.NoError(t, err)
	assert.Equal(t, crypto.Identity{Subject: "a@b.com", Role: model.RoleUser}, id)

	u, err := users.GetByEmail(context.Background(), "a@b.com")
	require.NoError(t, err)
	assert.Equal(t, "a@b.com", u.Username)
	assert.Equal(t, model.RoleUser, u.Role)
	assert.NotEmpty(t, u.PasswordHash)
	assert.Contains(t, logs.String(), "user provisioned")
}

func TestLoginWithGoogle_IdempotentProvisioning(t *testing.T) {
	users := repository.NewMemoryUserRepository()
	svc, tokens, _ := newTestProvisioning(t, newValidIdP(), users, PolicyBestEffort)
	ctx := context.Background()

	_, err := svc.LoginWithGoogle(ctx, "VALID_CODE")
	require.NoError(t, err)
	require.NoError(t, users.UpdateRole(ctx, "a@b.com", model.RoleAdmin))

	resp, err := svc.LoginWithGoogle(ctx, "OTHER_CODE")
	require.NoError(t, err)

	assert.Equal(t, 1, users.Len())
	id, err := tokens.Verify(resp.Token)
	require.NoError(t, err)
	assert.Equal(t, model.RoleAdmin, id.Role, "second login reuses the stored role")
}

func TestLoginWithGoogle_ConcurrentFirstLogins(t *testing.T) {
	users := repository.NewMemoryUserRepository()
	svc, _, _ := newTestProvisioning(t, newValidIdP(), users, PolicyStrict)

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.LoginWithGoogle(context.Background(), "VALID_CODE")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, 1, users.Len())
}

func TestLoginWithGoogle_Failures(t *testing.T) {
	tests := []struct {
		name string
		idp  *fakeIdP
		code string
		want error
	}{
		{"missing code", newValidIdP(), "", ErrCodeRequired},
		{"exchange rejected", newValidIdP(), "BAD_CODE", ErrUpstreamUnavailable},
		{"exchange unreachable", &fakeIdP{exchangeErr: identity.ErrUpstreamUnavailable}, "VALID_CODE", ErrUpstreamUnavailable},
		{"tokeninfo refuses", &fakeIdP{codes: map[string]string{"VALID_CODE": "unknown"}}, "VALID_CODE", ErrIdentityUnverified},
		{"tokeninfo unreachable", &fakeIdP{codes: map[string]string{"VALID_CODE": "t"}, emailErr: identity.ErrUpstreamUnavailable}, "VALID_CODE", ErrUpstreamUnavailable},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			users := repository.NewMemoryUserRepository()
			svc, _, _ := newTestProvisioning(t, tc.idp, users, PolicyBestEffort)

			resp, err := svc.LoginWithGoogle(context.Background(), tc.code)
			assert.ErrorIs(t, err, tc.want)
			assert.Empty(t, resp.Token)
			assert.Equal(t, 0, users.Len())
		})
	}
}

func TestLoginWithGoogle_BestEffortOnStoreOutage(t *testing.T) {
	svc, tokens, logs := newTestProvisioning(t, newValidIdP(), failingStore{err: errors.New("db down")}, PolicyBestEffort)

	resp, err := svc.LoginWithGoogle(context.Background(), "VALID_CODE")
	require.NoError(t, err)

	id, err := tokens.Verify(resp.Token)
	require.NoError(t, err)
	assert.Equal(t, crypto.Identity{Subject: "a@b.com", Role: model.RoleUser}, id)

	out := logs.String()
	assert.Contains(t, out, "level=WARN")
	assert.Contains(t, out, "user provisioning not persisted")
	assert.Contains(t, out, "outcome=unpersisted")
	assert.NotContains(t, out, "user provisioned")
}

func TestLoginWithGoogle_StrictOnStoreOutage(t *testing.T) {
	svc, _, logs := newTestProvisioning(t, newValidIdP(), failingStore{err: errors.New("db down")}, PolicyStrict)

	resp, err := svc.LoginWithGoogle(context.Background(), "VALID_CODE")
	assert.ErrorIs(t, err, ErrProvisioningFailed)
	assert.Empty(t, resp.Token)
	assert.Contains(t, logs.String(), "user provisioning failed")
}

// createFailsStore finds nobody and cannot insert.
type createFailsStore struct {
	*repository.MemoryUserRepository
}

func (createFailsStore) Create(context.Context, *model.User) error { return errors.New("disk full") }

func TestLoginWithGoogle_CreateFailurePolicies(t *testing.T) {
	store := createFailsStore{repository.NewMemoryUserRepository()}

	svc, _, _ := newTestProvisioning(t, newValidIdP(), store, PolicyBestEffort)
	_, err := svc.LoginWithGoogle(context.Background(), "VALID_CODE")
	assert.NoError(t, err)

	svc, _, _ = newTestProvisioning(t, newValidIdP(), store, PolicyStrict)
	_, err = svc.LoginWithGoogle(context.Background(), "VALID_CODE")
	assert.ErrorIs(t, err, ErrProvisioningFailed)
}
