package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Memory хранилище в памяти процесса.
type Memory struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemory создаёт пустое хранилище в памяти.
func NewMemory() *Memory {
	return &Memory{data: make(map[string][]byte)}
}

func (m *Memory) Get(_ context.Context, key string, result any) (bool, error) {
	const op = "cache.Memory.Get"
	m.mu.RLock()
	raw, ok := m.data[key]
	m.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, result); err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return true, nil
}

func (m *Memory) Set(_ context.Context, key string, value any) error {
	const op = "cache.Memory.Set"
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	m.mu.Lock()
	m.data[key] = raw
	m.mu.Unlock()
	return nil
}

func (m *Memory) Invalidate(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.data, key)
	m.mu.Unlock()
	return nil
}

// Raw возвращает сериализованное значение ключа как есть.
func (m *Memory) Raw(key string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	raw, ok := m.data[key]
	return raw, ok
}
