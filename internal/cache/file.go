package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// File хранит все ключи одним JSON-документом в файле с правами 0600.
// Каждая запись переписывает файл целиком через временный файл и rename.
type File struct {
	mu   sync.Mutex
	path string
}

// NewFile создаёт хранилище в файле path, каталог создаётся при необходимости.
func NewFile(path string) (*File, error) {
	const op = "cache.NewFile"
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &File{path: path}, nil
}

// Path возвращает путь к файлу хранилища.
func (f *File) Path() string {
	return f.path
}

func (f *File) Get(_ context.Context, key string, result any) (bool, error) {
	const op = "cache.File.Get"
	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.load()
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	raw, ok := doc[key]
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, result); err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return true, nil
}

func (f *File) Set(_ context.Context, key string, value any) error {
	const op = "cache.File.Set"
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.load()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	doc[key] = raw
	if err := f.store(doc); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (f *File) Invalidate(_ context.Context, key string) error {
	const op = "cache.File.Invalidate"
	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.load()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if _, ok := doc[key]; !ok {
		return nil
	}
	delete(doc, key)
	if err := f.store(doc); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (f *File) load() (map[string]json.RawMessage, error) {
	doc := make(map[string]json.RawMessage)
	b, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return doc, nil
	}
	if err != nil {
		return nil, err
	}
	if len(b) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func (f *File) store(doc map[string]json.RawMessage) error {
	b, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".tmp-*")
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return err
	}
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), f.path)
}
