package identity

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGoogle struct {
	mu          sync.Mutex
	tokenStatus int
	tokenBody   map[string]any
	infoStatus  int
	infoBody    map[string]any

	gotForm  map[string]string
	gotToken string
}

func (f *fakeGoogle) server(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		f.mu.Lock()
		f.gotForm = map[string]string{}
		for k := range r.PostForm {
			f.gotForm[k] = r.PostForm.Get(k)
		}
		f.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(f.tokenStatus)
		json.NewEncoder(w).Encode(f.tokenBody)
	})
	mux.HandleFunc("/tokeninfo", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.gotToken = r.URL.Query().Get("id_token")
		f.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(f.infoStatus)
		json.NewEncoder(w).Encode(f.infoBody)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(srv *httptest.Server) *GoogleClient {
	return NewGoogleClient(GoogleConfig{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		RedirectURL:  "https://developers.google.com/oauthplayground",
		TokenURL:     srv.URL + "/token",
		TokenInfoURL: srv.URL + "/tokeninfo",
		Timeout:      2 * time.Second,
	})
}

func TestExchangeSendsCodeAndCredentials(t *testing.T) {
	fake := &fakeGoogle{
		tokenStatus: http.StatusOK,
		tokenBody:   map[string]any{"access_token": "at", "token_type": "Bearer", "id_token": "the-id-token"},
	}
	c := newTestClient(fake.server(t))

	idToken, err := c.Exchange(context.Background(), "VALID_CODE")
	require.NoError(t, err)
	assert.Equal(t, "the-id-token", idToken)

	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.Equal(t, "VALID_CODE", fake.gotForm["code"])
	assert.Equal(t, "client-id", fake.gotForm["client_id"])
	assert.Equal(t, "client-secret", fake.gotForm["client_secret"])
	assert.Equal(t, "authorization_code", fake.gotForm["grant_type"])
	assert.Equal(t, "https://developers.google.com/oauthplayground", fake.gotForm["redirect_uri"])
}

func TestExchangeFailures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   map[string]any
	}{
		{"rejected code", http.StatusBadRequest, map[string]any{"error": "invalid_grant"}},
		{"server error", http.StatusInternalServerError, map[string]any{}},
		{"no id_token", http.StatusOK, map[string]any{"access_token": "at", "token_type": "Bearer"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			fake := &fakeGoogle{tokenStatus: tc.status, tokenBody: tc.body}
			c := newTestClient(fake.server(t))

			_, err := c.Exchange(context.Background(), "code")
			assert.ErrorIs(t, err, ErrUpstreamUnavailable)
		})
	}
}

func TestExchangeUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	c := newTestClient(srv)
	srv.Close()

	_, err := c.Exchange(context.Background(), "code")
	assert.ErrorIs(t, err, ErrUpstreamUnavailable)
}

func TestEmail(t *testing.T) {
	fake := &fakeGoogle{
		infoStatus: http.StatusOK,
		infoBody:   map[string]any{"email": "a@b.com", "email_verified": "true", "aud": "client-id"},
	}
	c := newTestClient(fake.server(t))

	email, err := c.Email(context.Background(), "tok+with/special=chars")
	require.NoError(t, err)
	assert.Equal(t, "a@b.com", email)
	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.Equal(t, "tok+with/special=chars", fake.gotToken)
}

func TestEmailRejections(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   map[string]any
	}{
		{"invalid token", http.StatusBadRequest, map[string]any{"error_description": "Invalid Value"}},
		{"no email", http.StatusOK, map[string]any{"sub": "123"}},
		{"unverified email", http.StatusOK, map[string]any{"email": "a@b.com", "email_verified": "false"}},
		{"foreign audience", http.StatusOK, map[string]any{"email": "a@b.com", "aud": "someone-else"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			fake := &fakeGoogle{infoStatus: tc.status, infoBody: tc.body}
			c := newTestClient(fake.server(t))

			_, err := c.Email(context.Background(), "tok")
			assert.ErrorIs(t, err, ErrUnauthorized)
		})
	}
}
