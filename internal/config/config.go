// Package config loads the auth service and gateway settings from the
// environment. Both are read once at startup and passed down explicitly.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	VerifierRemote = "remote"
	VerifierLocal  = "local"
)

// AuthConfig configures cmd/auth.
type AuthConfig struct {
	Port     string `env:"PORT" envDefault:"4005"`
	Env      string `env:"ENV" envDefault:"development"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// DatabaseDSN is a go-sql-driver/mysql DSN. Empty keeps users in memory.
	DatabaseDSN string `env:"DATABASE_DSN"`

	// JWTSecret is the base64 HMAC key, at least 32 bytes once decoded.
	JWTSecret string `env:"JWT_SECRET,required"`

	GoogleClientID     string `env:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret string `env:"GOOGLE_CLIENT_SECRET"`
	GoogleRedirectURL  string `env:"GOOGLE_REDIRECT_URL" envDefault:"https://developers.google.com/oauthplayground"`
	GoogleTokenURL     string `env:"GOOGLE_TOKEN_URL"`
	GoogleTokenInfoURL string `env:"GOOGLE_TOKENINFO_URL"`

	UpstreamTimeout    time.Duration `env:"UPSTREAM_TIMEOUT" envDefault:"5s"`
	ProvisioningPolicy string        `env:"PROVISIONING_POLICY" envDefault:"best-effort"`
}

// GatewayConfig configures cmd/gateway.
type GatewayConfig struct {
	Port     string `env:"PORT" envDefault:"4004"`
	Env      string `env:"ENV" envDefault:"development"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	AuthServiceURL string        `env:"AUTH_SERVICE_URL,required"`
	VerifyTimeout  time.Duration `env:"VERIFY_TIMEOUT" envDefault:"3s"`
	Verifier       string        `env:"GATEWAY_VERIFIER" envDefault:"remote"`
	// JWTSecret is only read by the local verifier.
	JWTSecret string `env:"JWT_SECRET"`

	// Routes maps protected path prefixes to backend base URLs,
	// e.g. "/patients=http://patient:4001,/billing=http://billing:4002".
	Routes map[string]string `env:"GATEWAY_ROUTES" envSeparator:"," envKeyValSeparator:"="`
}

// LoadDotEnv loads an optional .env file into the environment. Variables
// already set win.
func LoadDotEnv(files ...string) error {
	return godotenv.Load(files...)
}

// LoadAuth parses and validates the auth service configuration.
func LoadAuth() (AuthConfig, error) {
	cfg, err := env.ParseAs[AuthConfig]()
	if err != nil {
		return AuthConfig{}, fmt.Errorf("config: %w", err)
	}
	return cfg, cfg.Validate()
}

// LoadGateway parses and validates the gateway configuration.
func LoadGateway() (GatewayConfig, error) {
	cfg, err := env.ParseAs[GatewayConfig]()
	if err != nil {
		return GatewayConfig{}, fmt.Errorf("config: %w", err)
	}
	return cfg, cfg.Validate()
}

func (c AuthConfig) Validate() error {
	var errs []error
	if c.UpstreamTimeout <= 0 {
		errs = append(errs, errors.New("UPSTREAM_TIMEOUT must be positive"))
	}
	switch c.ProvisioningPolicy {
	case "best-effort", "strict":
	default:
		errs = append(errs, fmt.Errorf("PROVISIONING_POLICY %q must be best-effort or strict", c.ProvisioningPolicy))
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	return joinConfigErrors(errs)
}

func (c GatewayConfig) Validate() error {
	var errs []error
	if !strings.HasPrefix(c.AuthServiceURL, "http://") && !strings.HasPrefix(c.AuthServiceURL, "https://") {
		errs = append(errs, fmt.Errorf("AUTH_SERVICE_URL %q must be an http(s) url", c.AuthServiceURL))
	}
	if c.VerifyTimeout <= 0 {
		errs = append(errs, errors.New("VERIFY_TIMEOUT must be positive"))
	}
	switch c.Verifier {
	case VerifierRemote:
	case VerifierLocal:
		if c.JWTSecret == "" {
			errs = append(errs, errors.New("JWT_SECRET is required with GATEWAY_VERIFIER=local"))
		}
	default:
		errs = append(errs, fmt.Errorf("GATEWAY_VERIFIER %q must be remote or local", c.Verifier))
	}
	for prefix := range c.Routes {
		if prefix == "/auth" || strings.HasPrefix(prefix, "/auth/") {
			errs = append(errs, fmt.Errorf("GATEWAY_ROUTES: %s is reserved for the auth service", prefix))
		}
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	return joinConfigErrors(errs)
}

func joinConfigErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("config: %w", errors.Join(errs...))
}

// NewLogger builds the process logger: JSON in production, text elsewhere.
func NewLogger(w io.Writer, environment, level string) (*slog.Logger, error) {
	lvl, err := parseLevel(level)
	if err != nil {
		return nil, err
	}

	opts := &slog.HandlerOptions{Level: lvl}
	if environment == "production" {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

func parseLevel(s string) (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("LOG_LEVEL %q: %w", s, err)
	}
	return lvl, nil
}
