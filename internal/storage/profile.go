package storage

import (
	"context"
	"log/slog"

	"github.com/magabrotheeeer/scoutcard/internal/lib/sl"
	"github.com/magabrotheeeer/scoutcard/internal/models"
)

// KeyProfile ключ общего уровня, под которым хранится последний профиль.
const KeyProfile = "auth-storage"

// persistedProfile единственная форма документа в общем уровне: только {user}.
type persistedProfile struct {
	User *models.User `json:"user"`
}

// ProfileStore общий уровень: последний известный профиль для быстрой отрисовки при старте.
type ProfileStore struct {
	kv  KV
	log *slog.Logger
}

// NewProfileStore создаёт хранилище профиля поверх kv.
func NewProfileStore(kv KV, log *slog.Logger) *ProfileStore {
	return &ProfileStore{kv: kv, log: log}
}

// SetProfile сохраняет профиль пользователя.
func (p *ProfileStore) SetProfile(ctx context.Context, user models.User) bool {
	const op = "storage.ProfileStore.SetProfile"
	if err := p.kv.Set(ctx, KeyProfile, persistedProfile{User: &user}); err != nil {
		p.log.Error("failed to write profile", sl.Op(op), sl.Err(err))
		return false
	}
	return true
}

// GetProfile возвращает сохранённый профиль или nil.
func (p *ProfileStore) GetProfile(ctx context.Context) *models.User {
	const op = "storage.ProfileStore.GetProfile"
	var doc persistedProfile
	found, err := p.kv.Get(ctx, KeyProfile, &doc)
	if err != nil {
		p.log.Error("failed to read profile, treating as absent", sl.Op(op), sl.Err(err))
		return nil
	}
	if !found {
		return nil
	}
	return doc.User
}

// ClearProfile удаляет сохранённый профиль.
func (p *ProfileStore) ClearProfile(ctx context.Context) bool {
	const op = "storage.ProfileStore.ClearProfile"
	if err := p.kv.Invalidate(ctx, KeyProfile); err != nil {
		p.log.Error("failed to clear profile", sl.Op(op), sl.Err(err))
		return false
	}
	return true
}
