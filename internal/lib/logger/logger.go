// Package logger настраивает slog-логгер в зависимости от окружения.
package logger

import (
	"io"
	"log/slog"
	"os"
)

const (
	envLocal = "local"
	envDev   = "dev"
	envProd  = "prod"
)

// Setup возвращает логгер, пишущий в stdout.
func Setup(env string) *slog.Logger {
	return SetupWithWriter(env, os.Stdout)
}

// SetupWithWriter возвращает логгер для окружения env, пишущий в w.
// local — текстовый вывод с уровнем debug, dev — json с debug, остальное — json с info.
func SetupWithWriter(env string, w io.Writer) *slog.Logger {
	switch env {
	case envLocal:
		return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug}))
	case envDev:
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug}))
	case envProd:
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelInfo}))
	default:
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
}

// Noop возвращает логгер, который ничего не пишет.
func Noop() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
}
