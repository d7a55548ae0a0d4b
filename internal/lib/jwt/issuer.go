// Package jwt выпускает и разбирает access token'ы.
//
// Issuer подписывает токены на стороне локального бэкенда, а ExpiresAt и
// Expired читают срок жизни без проверки подписи на стороне клиента.
package jwt

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ErrInvalidToken токен не прошёл проверку подписи или срока.
var ErrInvalidToken = errors.New("invalid token")

// Claims данные пользователя внутри access token.
type Claims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// Issuer подписывает access token'ы HMAC-ключом.
type Issuer struct {
	secretKey []byte
	tokenTTL  time.Duration
	now       func() time.Time
}

// NewIssuer создаёт Issuer с ключом и временем жизни токена.
func NewIssuer(secretKey string, ttl time.Duration) *Issuer {
	return &Issuer{
		secretKey: []byte(secretKey),
		tokenTTL:  ttl,
		now:       time.Now,
	}
}

// TTL время жизни выпускаемых токенов.
func (i *Issuer) TTL() time.Duration {
	return i.tokenTTL
}

// Issue выпускает токен для пользователя userID.
func (i *Issuer) Issue(userID, email, role string) (string, error) {
	const op = "jwt.Issue"
	now := i.now()
	claims := Claims{
		Email: email,
		Role:  role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.tokenTTL)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secretKey)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return token, nil
}

// Parse проверяет подпись и срок токена и возвращает его claims.
func (i *Issuer) Parse(tokenStr string) (*Claims, error) {
	const op = "jwt.Parse"
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return i.secretKey, nil
	}, jwt.WithTimeFunc(i.now))
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrInvalidToken, err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Subject == "" || claims.ID == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidToken)
	}
	return claims, nil
}
