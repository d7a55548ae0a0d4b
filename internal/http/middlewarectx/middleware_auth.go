// Package middlewarectx содержит HTTP middleware локального бэкенда.
//
// JWTMiddleware проверяет access token в заголовке Authorization и в случае
// успеха кладёт в контекст запроса ID пользователя, его роль и ID токена.
// В случае ошибки проверки возвращает HTTP 401 Unauthorized.
package middlewarectx

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/middleware"

	"github.com/magabrotheeeer/scoutcard/internal/http/response"
	"github.com/magabrotheeeer/scoutcard/internal/lib/jwt"
	"github.com/magabrotheeeer/scoutcard/internal/lib/sl"
)

// Key тип для ключей контекста HTTP-запроса.
type Key string

const (
	// UserID ключ для ID пользователя в контексте
	UserID Key = "user_id"
	// Role ключ для роли пользователя в контексте
	Role Key = "role"
	// TokenID ключ для ID access token'а в контексте
	TokenID Key = "token_id"
)

// TokenValidator проверяет access token.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (*jwt.Claims, error)
}

// JWTMiddleware возвращает HTTP middleware, который проверяет JWT в заголовке Authorization.
func JWTMiddleware(validator TokenValidator, log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			const op = "middlewarectx.JWTMiddleware"

			log := log.With(
				slog.String("op", op),
				slog.String("request_id", middleware.GetReqID(r.Context())),
			)

			authHeader := r.Header.Get("Authorization")
			if !strings.HasPrefix(authHeader, "Bearer ") {
				log.Warn("missing or invalid authorization header")
				response.Fail(w, r, http.StatusUnauthorized, "missing or invalid authorization header", response.CodeUnauthorized)
				return
			}
			tokenStr := strings.TrimPrefix(authHeader, "Bearer ")

			claims, err := validator.ValidateToken(r.Context(), tokenStr)
			if err != nil {
				log.Warn("invalid or expired token", sl.Err(err))
				response.Fail(w, r, http.StatusUnauthorized, "invalid or expired token", response.CodeUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), UserID, claims.Subject)
			ctx = context.WithValue(ctx, Role, claims.Role)
			ctx = context.WithValue(ctx, TokenID, claims.ID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// UserIDFrom достаёт ID пользователя, положенный JWTMiddleware.
func UserIDFrom(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(UserID).(string)
	return id, ok && id != ""
}
