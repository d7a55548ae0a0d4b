package jwt

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ExpiresAt читает exp из токена без проверки подписи.
// ok=false, если токен не разбирается или exp отсутствует.
func ExpiresAt(tokenStr string) (time.Time, bool) {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(tokenStr, &claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}

// Expired сообщает, что токен истёк к моменту now с запасом leeway.
// Токен без читаемого exp истёкшим не считается: это решит сервер.
func Expired(tokenStr string, now time.Time, leeway time.Duration) bool {
	exp, ok := ExpiresAt(tokenStr)
	if !ok {
		return false
	}
	return !now.Add(leeway).Before(exp)
}
