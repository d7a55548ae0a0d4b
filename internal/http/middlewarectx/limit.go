package middlewarectx

import (
	"log/slog"
	"net/http"

	"golang.org/x/time/rate"

	"github.com/magabrotheeeer/scoutcard/internal/http/response"
)

// RateLimitMiddleware ограничивает частоту запросов общим для всех клиентов limiter'ом.
func RateLimitMiddleware(limiter *rate.Limiter, log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				log.Warn("too many requests", slog.String("path", r.URL.Path))
				response.Fail(w, r, http.StatusTooManyRequests, "too many requests", response.CodeTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
