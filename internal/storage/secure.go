// Package storage реализует двухуровневое локальное хранилище сессии:
// защищённый уровень для токенов и общий уровень для профиля пользователя.
//
// Уровни — разные типы с разными контрактами, поэтому токен физически
// не может попасть в хранилище профиля. Ошибки хранилища логируются и
// трактуются как отсутствие значения, наружу они не пробрасываются.
package storage

import (
	"context"
	"log/slog"

	"github.com/magabrotheeeer/scoutcard/internal/lib/sl"
	"github.com/magabrotheeeer/scoutcard/internal/models"
)

// Ключи защищённого уровня.
const (
	KeyAccessToken  = "accessToken"
	KeyRefreshToken = "refreshToken"
)

// KV описывает key-value бэкенд уровня хранилища.
type KV interface {
	Get(ctx context.Context, key string, result any) (bool, error)
	Set(ctx context.Context, key string, value any) error
	Invalidate(ctx context.Context, key string) error
}

// Sealer шифрует значения защищённого уровня.
type Sealer interface {
	Seal(label, plaintext string) (string, error)
	Open(label, sealed string) (string, error)
}

// SecureStore защищённый уровень: значения шифруются перед записью в бэкенд.
type SecureStore struct {
	kv     KV
	sealer Sealer
	log    *slog.Logger
}

// NewSecureStore создаёт защищённое хранилище поверх kv.
func NewSecureStore(kv KV, sealer Sealer, log *slog.Logger) *SecureStore {
	return &SecureStore{kv: kv, sealer: sealer, log: log}
}

// SetItem шифрует и сохраняет значение. Возвращает false, если запись не удалась.
func (s *SecureStore) SetItem(ctx context.Context, key, value string) bool {
	const op = "storage.SecureStore.SetItem"
	log := s.log.With(sl.Op(op), slog.String("key", key))

	sealed, err := s.sealer.Seal(key, value)
	if err != nil {
		log.Error("failed to seal secure item", sl.Err(err))
		return false
	}
	if err := s.kv.Set(ctx, key, sealed); err != nil {
		log.Error("failed to write secure item", sl.Err(err))
		return false
	}
	return true
}

// GetItem читает и расшифровывает значение. Любая ошибка означает отсутствие значения.
func (s *SecureStore) GetItem(ctx context.Context, key string) (string, bool) {
	const op = "storage.SecureStore.GetItem"
	log := s.log.With(sl.Op(op), slog.String("key", key))

	var sealed string
	found, err := s.kv.Get(ctx, key, &sealed)
	if err != nil {
		log.Error("failed to read secure item, treating as absent", sl.Err(err))
		return "", false
	}
	if !found || sealed == "" {
		return "", false
	}
	value, err := s.sealer.Open(key, sealed)
	if err != nil {
		log.Error("failed to open secure item, treating as absent", sl.Err(err))
		return "", false
	}
	return value, true
}

// DeleteItem удаляет значение. Возвращает false, если удаление не удалось.
func (s *SecureStore) DeleteItem(ctx context.Context, key string) bool {
	const op = "storage.SecureStore.DeleteItem"
	if err := s.kv.Invalidate(ctx, key); err != nil {
		s.log.Error("failed to delete secure item", sl.Op(op), slog.String("key", key), sl.Err(err))
		return false
	}
	return true
}

// Tokens читает оба токена, вместо отсутствующего токена пустая строка.
func (s *SecureStore) Tokens(ctx context.Context) models.Tokens {
	access, _ := s.GetItem(ctx, KeyAccessToken)
	refresh, _ := s.GetItem(ctx, KeyRefreshToken)
	return models.Tokens{AccessToken: access, RefreshToken: refresh}
}

// SaveTokens сохраняет оба токена.
func (s *SecureStore) SaveTokens(ctx context.Context, t models.Tokens) bool {
	okAccess := s.SetItem(ctx, KeyAccessToken, t.AccessToken)
	okRefresh := s.SetItem(ctx, KeyRefreshToken, t.RefreshToken)
	return okAccess && okRefresh
}
