// Package gateway decides whether a request may pass the gateway and
// forwards the ones that may to their backend service.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/medgate/medgate-go/internal/crypto"
)

var (
	ErrUnauthorized        = errors.New("token rejected")
	ErrUpstreamUnavailable = errors.New("token verification unavailable")
)

// TokenVerifier checks a bearer token. Verify returns nil, ErrUnauthorized
// or ErrUpstreamUnavailable.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) error
}

// RemoteVerifier asks the auth service's /validate endpoint.
type RemoteVerifier struct {
	url    string
	client *http.Client
}

// NewRemoteVerifier creates a verifier calling {authURL}/validate with the
// given timeout per call.
func NewRemoteVerifier(authURL string, timeout time.Duration) *RemoteVerifier {
	return &RemoteVerifier{
		url:    strings.TrimRight(authURL, "/") + "/validate",
		client: &http.Client{
			Timeout: timeout,
			// A redirect is answered as-is and fails closed.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// Verify forwards the token as a bodiless GET. The call ends with ctx, so a
// caller that goes away abandons it.
func (v *RemoteVerifier) Verify(ctx context.Context, token string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.url, nil)
	if err != nil {
		return fmt.Errorf("%w: building request: %v", ErrUpstreamUnavailable, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := v.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return ErrUnauthorized
	default:
		return fmt.Errorf("%w: status %d", ErrUpstreamUnavailable, resp.StatusCode)
	}
}

// LocalVerifier checks tokens in-process with a shared signing key.
type LocalVerifier struct {
	tokens *crypto.TokenService
}

func NewLocalVerifier(tokens *crypto.TokenService) *LocalVerifier {
	return &LocalVerifier{tokens: tokens}
}

func (v *LocalVerifier) Verify(_ context.Context, token string) error {
	if _, err := v.tokens.Verify(token); err != nil {
		return fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	return nil
}
