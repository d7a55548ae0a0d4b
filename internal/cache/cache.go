// Package cache содержит key-value хранилища, на которых строятся оба уровня
// локального хранилища сессии: память, файл на диске и redis.
// Значения сериализуются в JSON.
package cache

import "context"

// Store описывает методы key-value хранилища.
type Store interface {
	// Get пытается получить значение по ключу, found=false если ключа нет.
	Get(ctx context.Context, key string, result any) (bool, error)
	// Set сохраняет значение без срока жизни.
	Set(ctx context.Context, key string, value any) error
	// Invalidate удаляет значение по ключу, отсутствие ключа не ошибка.
	Invalidate(ctx context.Context, key string) error
}
