package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/medgate/medgate-go/internal/gateway"
	"github.com/medgate/medgate-go/internal/metrics"
)

// Gateway decisions, as reported in metrics.
const (
	decisionAllow           = "allow"
	decisionMissingToken    = "missing_token"
	decisionDeny            = "deny"
	decisionUpstreamFailure = "upstream_failure"
)

// Authorize returns the gateway filter. A request without a Bearer token is
// rejected before v is consulted. Everything v does not accept, including a
// verification outage, is a bodiless 401; accepted requests pass unmodified.
func Authorize(v gateway.TokenVerifier, m *metrics.Gateway, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := BearerToken(r)
			if !ok {
				m.Decision(decisionMissingToken)
				w.WriteHeader(http.StatusUnauthorized)
				return
			}

			start := time.Now()
			err := v.Verify(r.Context(), token)
			m.ObserveVerify(time.Since(start))

			switch {
			case err == nil:
				m.Decision(decisionAllow)
				next.ServeHTTP(w, r)
			case errors.Is(err, gateway.ErrUpstreamUnavailable):
				logger.WarnContext(r.Context(), "token verification upstream failure",
					"path", r.URL.Path, "error", err)
				m.Decision(decisionUpstreamFailure)
				w.WriteHeader(http.StatusUnauthorized)
			default:
				m.Decision(decisionDeny)
				w.WriteHeader(http.StatusUnauthorized)
			}
		})
	}
}
