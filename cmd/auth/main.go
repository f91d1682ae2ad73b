package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/medgate/medgate-go/internal/config"
	"github.com/medgate/medgate-go/internal/crypto"
	"github.com/medgate/medgate-go/internal/handler"
	"github.com/medgate/medgate-go/internal/identity"
	"github.com/medgate/medgate-go/internal/metrics"
	"github.com/medgate/medgate-go/internal/middleware"
	"github.com/medgate/medgate-go/internal/model"
	"github.com/medgate/medgate-go/internal/repository"
	"github.com/medgate/medgate-go/internal/service"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		slog.Warn("no .env file found, using environment variables")
	}

	cfg, err := config.LoadAuth()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	logger, err := config.NewLogger(os.Stdout, cfg.Env, cfg.LogLevel)
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(logger)

	tokens, err := crypto.NewTokenService(cfg.JWTSecret)
	if err != nil {
		logger.Error("signing key rejected", "error", err)
		os.Exit(1)
	}

	policy, err := service.ParsePolicy(cfg.ProvisioningPolicy)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	users, closeStore, err := openUserStore(ctx, cfg.DatabaseDSN, logger)
	if err != nil {
		logger.Error("user store unavailable", "error", err)
		os.Exit(1)
	}
	defer closeStore()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewAuth(reg)

	hasher := crypto.NewPasswordHasher(crypto.DefaultHashParams())
	google := identity.NewGoogleClient(identity.GoogleConfig{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.GoogleRedirectURL,
		TokenURL:     cfg.GoogleTokenURL,
		TokenInfoURL: cfg.GoogleTokenInfoURL,
		Timeout:      cfg.UpstreamTimeout,
	})

	authService := service.NewAuthService(users, tokens, hasher, m)
	provisioning := service.NewProvisioningService(google, users, tokens, hasher, policy, logger, m)
	authHandler := handler.NewAuthHandler(authService, provisioning, logger)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           newRouter(authHandler, tokens, reg, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("auth service starting", "port", cfg.Port, "env", cfg.Env, "provisioning_policy", policy)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}

// openUserStore returns the MySQL store when dsn is set, migrated to the
// latest schema, and an in-memory store otherwise.
func openUserStore(ctx context.Context, dsn string, logger *slog.Logger) (service.UserStore, func(), error) {
	if dsn == "" {
		logger.Warn("DATABASE_DSN not set, users are kept in memory")
		return repository.NewMemoryUserRepository(), func() {}, nil
	}

	db, err := repository.NewDB(ctx, dsn, logger)
	if err != nil {
		return nil, nil, err
	}
	if err := repository.Migrate(ctx, db, logger); err != nil {
		db.Close()
		return nil, nil, err
	}
	return repository.NewUserRepository(db), func() { db.Close() }, nil
}

func newRouter(h *handler.AuthHandler, tokens *crypto.TokenService, gatherer prometheus.Gatherer, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(middleware.Logger(logger))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", metrics.Handler(gatherer))

	r.Get("/validate", h.HandleValidate)
	r.Post("/auth/login", h.HandleLogin)
	r.Post("/auth/register", h.HandleRegister)
	r.Get("/auth/google/callback", h.HandleGoogleCallback)

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireToken(tokens))
		r.Put("/auth/password", h.HandleChangePassword)
		r.With(middleware.RequireRole(model.RoleAdmin)).Put("/auth/users/role", h.HandleSetRole)
	})

	return r
}
