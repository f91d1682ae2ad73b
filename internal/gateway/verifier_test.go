package gateway

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medgate/medgate-go/internal/crypto"
)

func TestRemoteVerifier(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   error
	}{
		{"valid", http.StatusOK, nil},
		{"no content", http.StatusNoContent, nil},
		{"rejected", http.StatusUnauthorized, ErrUnauthorized},
		{"forbidden", http.StatusForbidden, ErrUnauthorized},
		{"server error", http.StatusInternalServerError, ErrUpstreamUnavailable},
		{"unavailable", http.StatusServiceUnavailable, ErrUpstreamUnavailable},
		{"not found", http.StatusNotFound, ErrUpstreamUnavailable},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var gotAuth, gotPath, gotMethod atomic.Value
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotAuth.Store(r.Header.Get("Authorization"))
				gotPath.Store(r.URL.Path)
				gotMethod.Store(r.Method)
				w.WriteHeader(tc.status)
			}))
			defer srv.Close()

			err := NewRemoteVerifier(srv.URL+"/", time.Second).Verify(context.Background(), "tok")
			if tc.want == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tc.want)
			}
			assert.Equal(t, "Bearer tok", gotAuth.Load())
			assert.Equal(t, "/validate", gotPath.Load())
			assert.Equal(t, http.MethodGet, gotMethod.Load())
		})
	}
}

func TestRemoteVerifier_RedirectFailsClosed(t *testing.T) {
	var okCalls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/validate", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/ok", http.StatusFound)
	})
	mux.HandleFunc("/ok", func(w http.ResponseWriter, r *http.Request) {
		okCalls.Add(1)
		w.WriteHeader(http.StatusOK)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	err := NewRemoteVerifier(srv.URL, time.Second).Verify(context.Background(), "tok")
	assert.ErrorIs(t, err, ErrUpstreamUnavailable)
	assert.Equal(t, int32(0), okCalls.Load(), "redirect not followed")
}

func TestRemoteVerifier_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	start := time.Now()
	err := NewRemoteVerifier(srv.URL, 50*time.Millisecond).Verify(context.Background(), "tok")
	assert.ErrorIs(t, err, ErrUpstreamUnavailable)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestRemoteVerifier_CallerCancel(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := NewRemoteVerifier(srv.URL, 5*time.Second).Verify(ctx, "tok")
	assert.ErrorIs(t, err, ErrUpstreamUnavailable)
}

func TestRemoteVerifier_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	err := NewRemoteVerifier(url, time.Second).Verify(context.Background(), "tok")
	assert.ErrorIs(t, err, ErrUpstreamUnavailable)
}

func TestLocalVerifier(t *testing.T) {
	secret := base64.StdEncoding.EncodeToString([]byte("0123456789abcdef0123456789abcdef"))
	tokens, err := crypto.NewTokenService(secret)
	require.NoError(t, err)
	tok, err := tokens.Issue("a@b.com", "USER")
	require.NoError(t, err)

	v := NewLocalVerifier(tokens)
	assert.NoError(t, v.Verify(context.Background(), tok.Value))
	assert.ErrorIs(t, v.Verify(context.Background(), "not.a.token"), ErrUnauthorized)
	assert.ErrorIs(t, v.Verify(context.Background(), tok.Value+"x"), ErrUnauthorized)
}
