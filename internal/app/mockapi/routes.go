package mockapi

import (
	"log/slog"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/magabrotheeeer/scoutcard/internal/http/handlers/auth"
	"github.com/magabrotheeeer/scoutcard/internal/http/handlers/device"
	"github.com/magabrotheeeer/scoutcard/internal/http/handlers/subscription"
	"github.com/magabrotheeeer/scoutcard/internal/http/middlewarectx"
	backend "github.com/magabrotheeeer/scoutcard/internal/mockapi"
)

// RegisterRoutes регистрирует все маршруты бэкенда.
func RegisterRoutes(r chi.Router, logger *slog.Logger, service *backend.Service, loginLimiter *rate.Limiter, reg *prometheus.Registry) {
	metrics := middlewarectx.NewMetrics(reg)

	// Глобальные middleware
	r.Use(
		middleware.RequestID,
		middleware.Logger,
		middleware.Recoverer,
		metrics.Middleware,
	)

	authHandler := auth.New(logger, service)
	subHandler := subscription.New(logger, service)
	deviceHandler := device.New(logger, service)

	r.Route("/api/v1", func(r chi.Router) {
		// Открытые конечные точки
		r.Group(func(r chi.Router) {
			r.Use(middlewarectx.RateLimitMiddleware(loginLimiter, logger))
			r.Post("/auth/mobile/login", authHandler.Login)
			r.Post("/auth/register", authHandler.Register)
		})
		r.Post("/auth/refresh", authHandler.Refresh)
		r.Delete("/notifications/devices/{token}", deviceHandler.Unregister)

		// Группа с JWT аутентификацией
		r.Group(func(r chi.Router) {
			r.Use(middlewarectx.JWTMiddleware(service, logger))
			r.Get("/auth/me", authHandler.Me)
			r.Post("/auth/logout", authHandler.Logout)

			r.Get("/subscription-plans", subHandler.Plans)
			r.Get("/subscriptions/me", subHandler.Current)
			r.Post("/subscriptions", subHandler.Create)
			r.Patch("/subscriptions/me", subHandler.Update)
			r.Post("/subscriptions/me/reactivate", subHandler.Reactivate)
			r.Post("/subscriptions/me/renew", subHandler.Renew)

			r.Post("/notifications/devices", deviceHandler.Register)
		})
	})

	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
}
