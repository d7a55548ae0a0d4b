// Package mockapi собирает локальный бэкенд: in-memory сервис, маршруты и HTTP-сервер.
package mockapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/time/rate"

	"github.com/magabrotheeeer/scoutcard/internal/config"
	backend "github.com/magabrotheeeer/scoutcard/internal/mockapi"
)

type App struct {
	server  *http.Server
	logger  *slog.Logger
	service *backend.Service
}

// New собирает приложение. Пользователи из Seed создаются только в окружении local.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...backend.Option) *App {
	service := backend.New(cfg.MockAPI, cfg.Plans, logger, opts...)
	if cfg.Env == "local" {
		service.Seed(ctx)
	}

	burst := cfg.LoginRateBurst
	if burst < 1 {
		burst = 1
	}
	limit := rate.Limit(cfg.LoginRateLimit)
	if cfg.LoginRateLimit <= 0 {
		limit = rate.Inf
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())

	router := chi.NewRouter()
	RegisterRoutes(router, logger, service, rate.NewLimiter(limit, burst), reg)

	srv := &http.Server{
		Addr:         cfg.MockAPI.Address,
		Handler:      router,
		ReadTimeout:  cfg.TimeoutHTTP,
		WriteTimeout: cfg.TimeoutHTTP,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return &App{
		server:  srv,
		logger:  logger,
		service: service,
	}
}

// Handler корневой обработчик, для запуска в httptest.
func (a *App) Handler() http.Handler {
	return a.server.Handler
}

// Service состояние бэкенда.
func (a *App) Service() *backend.Service {
	return a.service
}

func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("HTTP server starting on", slog.String("address", a.server.Addr))
		err := a.server.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			errCh <- nil
		} else {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		timeoutCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		a.logger.Info("shutting down HTTP server gracefully")
		return a.server.Shutdown(timeoutCtx)
	}
}
