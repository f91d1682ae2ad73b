package main

import (
	"context"
	"fmt"
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
	"github.com/medgate/medgate-go/internal/gateway"
	"github.com/medgate/medgate-go/internal/metrics"
	"github.com/medgate/medgate-go/internal/middleware"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		slog.Warn("no .env file found, using environment variables")
	}

	cfg, err := config.LoadGateway()
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

	verifier, err := newVerifier(cfg)
	if err != nil {
		logger.Error("token verifier unavailable", "error", err)
		os.Exit(1)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	router, err := newRouter(cfg, verifier, metrics.NewGateway(reg), reg, logger)
	if err != nil {
		logger.Error("invalid routes", "error", err)
		os.Exit(1)
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("gateway starting", "port", cfg.Port, "env", cfg.Env, "verifier", cfg.Verifier, "routes", len(cfg.Routes))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server forced shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}

func newVerifier(cfg config.GatewayConfig) (gateway.TokenVerifier, error) {
	switch cfg.Verifier {
	case config.VerifierLocal:
		tokens, err := crypto.NewTokenService(cfg.JWTSecret)
		if err != nil {
			return nil, err
		}
		return gateway.NewLocalVerifier(tokens), nil
	case config.VerifierRemote:
		return gateway.NewRemoteVerifier(cfg.AuthServiceURL, cfg.VerifyTimeout), nil
	default:
		return nil, fmt.Errorf("unknown verifier %q", cfg.Verifier)
	}
}

// newRouter sends /auth/* straight to the auth service and every configured
// backend prefix through the authorization filter.
func newRouter(cfg config.GatewayConfig, v gateway.TokenVerifier, m *metrics.Gateway, gatherer prometheus.Gatherer, logger *slog.Logger) (http.Handler, error) {
	authProxy, err := gateway.NewProxy(map[string]string{"/auth": cfg.AuthServiceURL}, logger)
	if err != nil {
		return nil, err
	}
	backends, err := gateway.NewProxy(cfg.Routes, logger)
	if err != nil {
		return nil, err
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(middleware.Logger(logger))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", metrics.Handler(gatherer))

	authProxy.Mount(r)
	r.Group(func(r chi.Router) {
		r.Use(middleware.Authorize(v, m, logger))
		backends.Mount(r)
	})

	return r, nil
}
