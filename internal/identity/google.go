// Package identity talks to third-party identity providers.
package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

var (
	// ErrUpstreamUnavailable means the provider could not be reached or answered garbage.
	ErrUpstreamUnavailable = errors.New("identity provider unavailable")
	// ErrUnauthorized means the provider refused to vouch for the identity.
	ErrUnauthorized = errors.New("identity not verified")
)

const (
	DefaultGoogleTokenInfoURL = "https://oauth2.googleapis.com/tokeninfo"

	maxTokenInfoBody = 1 << 20
)

// GoogleConfig holds the OAuth client registration.
type GoogleConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	// TokenURL and TokenInfoURL default to Google's endpoints.
	TokenURL     string
	TokenInfoURL string
	Timeout      time.Duration
}

// GoogleClient exchanges authorization codes and resolves the verified email.
type GoogleClient struct {
	oauth        *oauth2.Config
	tokenInfoURL string
	httpClient   *http.Client
}

// NewGoogleClient creates a client for cfg. The client credentials are sent in
// the form body of the token request.
func NewGoogleClient(cfg GoogleConfig) *GoogleClient {
	endpoint := google.Endpoint
	if cfg.TokenURL != "" {
		endpoint.TokenURL = cfg.TokenURL
	}
	endpoint.AuthStyle = oauth2.AuthStyleInParams

	tokenInfoURL := cfg.TokenInfoURL
	if tokenInfoURL == "" {
		tokenInfoURL = DefaultGoogleTokenInfoURL
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	return &GoogleClient{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     endpoint,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       []string{"openid", "email", "profile"},
		},
		tokenInfoURL: tokenInfoURL,
		httpClient:   &http.Client{Timeout: timeout},
	}
}

// Exchange trades an authorization code for the provider's ID token.
func (c *GoogleClient) Exchange(ctx context.Context, code string) (string, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)

	tok, err := c.oauth.Exchange(ctx, code)
	if err != nil {
		return "", fmt.Errorf("%w: code exchange: %v", ErrUpstreamUnavailable, err)
	}

	idToken, _ := tok.Extra("id_token").(string)
	if idToken == "" {
		return "", fmt.Errorf("%w: token response has no id_token", ErrUpstreamUnavailable)
	}

	return idToken, nil
}

type tokenInfo struct {
	Email         string `json:"email"`
	EmailVerified string `json:"email_verified"`
	Audience      string `json:"aud"`
}

// Email asks the tokeninfo endpoint to introspect idToken and returns its
// verified email claim.
func (c *GoogleClient) Email(ctx context.Context, idToken string) (string, error) {
	u, err := url.Parse(c.tokenInfoURL)
	if err != nil {
		return "", fmt.Errorf("%w: tokeninfo url: %v", ErrUpstreamUnavailable, err)
	}
	q := u.Query()
	q.Set("id_token", idToken)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: tokeninfo: %v", ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: tokeninfo status %d", ErrUnauthorized, resp.StatusCode)
	}

	var info tokenInfo
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxTokenInfoBody)).Decode(&info); err != nil {
		return "", fmt.Errorf("%w: decoding tokeninfo: %v", ErrUpstreamUnavailable, err)
	}

	switch {
	case info.Email == "":
		return "", fmt.Errorf("%w: no email claim", ErrUnauthorized)
	case info.EmailVerified == "false":
		return "", fmt.Errorf("%w: email not verified", ErrUnauthorized)
	case info.Audience != "" && info.Audience != c.oauth.ClientID:
		return "", fmt.Errorf("%w: token issued to another client", ErrUnauthorized)
	}

	return info.Email, nil
}
