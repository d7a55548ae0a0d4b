package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/magabrotheeeer/scoutcard/internal/lib/sl"
	"github.com/magabrotheeeer/scoutcard/internal/models"
)

// Vault объединяет оба уровня хранилища сессии.
type Vault struct {
	Secure  *SecureStore
	Profile *ProfileStore
	log     *slog.Logger
}

// NewVault создаёт Vault из двух уровней.
func NewVault(secure *SecureStore, profile *ProfileStore, log *slog.Logger) *Vault {
	return &Vault{Secure: secure, Profile: profile, log: log}
}

// ClearResult показывает, какие шаги очистки прошли успешно.
type ClearResult struct {
	AccessToken  bool
	RefreshToken bool
	Profile      bool
}

// OK сообщает, что все три шага прошли.
func (r ClearResult) OK() bool {
	return r.AccessToken && r.RefreshToken && r.Profile
}

// Clear удаляет оба токена и профиль одной операцией.
// Каждый шаг выполняется независимо от успеха остальных; профиль очищается
// в defer, поэтому он будет удалён даже при панике бэкенда защищённого уровня.
func (v *Vault) Clear(ctx context.Context) (res ClearResult) {
	const op = "storage.Vault.Clear"
	log := v.log.With(sl.Op(op))

	defer func() {
		res.Profile = v.clearProfileSafe(ctx, log)
		if !res.OK() {
			log.Warn("session storage cleared partially",
				slog.Bool("access_token", res.AccessToken),
				slog.Bool("refresh_token", res.RefreshToken),
				slog.Bool("profile", res.Profile),
			)
		}
	}()

	res.AccessToken = v.deleteSafe(ctx, KeyAccessToken, log)
	res.RefreshToken = v.deleteSafe(ctx, KeyRefreshToken, log)
	return res
}

func (v *Vault) deleteSafe(ctx context.Context, key string, log *slog.Logger) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("secure delete panicked", slog.String("key", key), sl.Err(fmt.Errorf("%v", r)))
			ok = false
		}
	}()
	return v.Secure.DeleteItem(ctx, key)
}

func (v *Vault) clearProfileSafe(ctx context.Context, log *slog.Logger) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("profile clear panicked", sl.Err(fmt.Errorf("%v", r)))
			ok = false
		}
	}()
	return v.Profile.ClearProfile(ctx)
}

// Save сохраняет токены в защищённый уровень и профиль в общий.
func (v *Vault) Save(ctx context.Context, tokens models.Tokens, user models.User) {
	v.Secure.SaveTokens(ctx, tokens)
	v.Profile.SetProfile(ctx, user)
}

// Tokens читает пару токенов из защищённого уровня.
func (v *Vault) Tokens(ctx context.Context) models.Tokens {
	return v.Secure.Tokens(ctx)
}

// SetAccessToken заменяет только access token, refresh token не трогается.
func (v *Vault) SetAccessToken(ctx context.Context, token string) bool {
	return v.Secure.SetItem(ctx, KeyAccessToken, token)
}

// LoadProfile возвращает последний сохранённый профиль или nil.
func (v *Vault) LoadProfile(ctx context.Context) *models.User {
	return v.Profile.GetProfile(ctx)
}

// SaveProfile сохраняет профиль пользователя.
func (v *Vault) SaveProfile(ctx context.Context, user models.User) bool {
	return v.Profile.SetProfile(ctx, user)
}
